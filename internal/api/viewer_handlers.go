package api

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/metrics"
	"github.com/Rosersn/rose-vanblog/internal/paths"
)

type viewerResponse struct {
	Pathname string `json:"pathname"`
	Viewer   int64  `json:"viewer"`
	Visited  int64  `json:"visited"`
}

// getPublicViewer returns the latest counters for a path; unknown paths read
// as zero rather than erroring, matching what the public site renders.
func (s *Server) getPublicViewer(w http.ResponseWriter, r *http.Request) {
	pathname := r.URL.Query().Get("pathname")
	if !validPathname(pathname) {
		writeError(w, http.StatusBadRequest, "pathname is required and must start with /")
		return
	}
	counter, err := s.visits.LatestForPath(r.Context(), pathname)
	if errors.Is(err, blog.ErrNoCounter) {
		writeJSON(w, http.StatusOK, viewerResponse{Pathname: pathname})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "counter store read failed")
		return
	}
	writeJSON(w, http.StatusOK, viewerResponse{
		Pathname: pathname,
		Viewer:   counter.Viewer,
		Visited:  counter.Visited,
	})
}

// postPublicViewer records one visit. isNewByPath marks a browser's first
// ever visit to this particular path; the site falls back to the site-wide
// isNew flag for older clients.
func (s *Server) postPublicViewer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pathname := q.Get("pathname")
	if !validPathname(pathname) {
		writeError(w, http.StatusBadRequest, "pathname is required and must start with /")
		return
	}
	isNew := q.Get("isNewByPath") == "true"
	if q.Get("isNewByPath") == "" {
		isNew = q.Get("isNew") == "true"
	}

	counter, err := s.visits.RecordVisit(r.Context(), pathname, isNew)
	if err != nil {
		s.logger.Error("record visit failed", zap.String("url", pathname), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record visit")
		return
	}
	metrics.ObserveVisit()
	writeJSON(w, http.StatusOK, viewerResponse{
		Pathname: counter.Pathname,
		Viewer:   counter.Viewer,
		Visited:  counter.Visited,
	})
}

type adminViewerSummary struct {
	Site  viewerResponse   `json:"site"`
	Paths []viewerResponse `json:"paths"`
}

// adminGetViewer lists the latest counters per path, with the site totals
// (recorded under "/") called out separately.
func (s *Server) adminGetViewer(w http.ResponseWriter, r *http.Request) {
	rows, err := s.visits.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "counter store read failed")
		return
	}
	// Rows arrive date-ascending, so the last row per path wins.
	latest := make(map[string]blog.ViewCounter)
	var order []string
	for _, row := range rows {
		if _, ok := latest[row.Pathname]; !ok {
			order = append(order, row.Pathname)
		}
		latest[row.Pathname] = row
	}

	out := adminViewerSummary{}
	for _, pathname := range order {
		row := latest[pathname]
		entry := viewerResponse{Pathname: pathname, Viewer: row.Viewer, Visited: row.Visited}
		if pathname == "/" {
			out.Site = entry
			continue
		}
		out.Paths = append(out.Paths, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

type articleViewerUpdate struct {
	ID      int   `json:"id"`
	Viewer  int64 `json:"viewer"`
	Visited int64 `json:"visited"`
}

// adminUpdateArticleViewer rewrites both alias paths of one article,
// reconciles them, and re-triggers revalidation so the new numbers appear on
// the rendered page.
func (s *Server) adminUpdateArticleViewer(w http.ResponseWriter, r *http.Request) {
	var req articleViewerUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateCounts(req.Viewer, req.Visited); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	article, err := s.content.ArticleByID(r.Context(), req.ID)
	if errors.Is(err, blog.ErrArticleNotFound) {
		writeError(w, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "content lookup failed")
		return
	}

	if !s.rewriteArticleCounters(r, article, req.Viewer, req.Visited) {
		writeError(w, http.StatusInternalServerError, "counter rewrite failed")
		return
	}

	// A stale count is less harmful than a stale page: revalidation still
	// runs even when reconciliation above logged an error.
	if err := s.isr.TriggerArticle(article.ID, blog.EventUpdate, &article); err != nil {
		s.logger.Error("revalidation trigger failed", zap.Int("article_id", article.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type batchViewerUpdate struct {
	Site     *articleViewerUpdate  `json:"site,omitempty"`
	Articles []articleViewerUpdate `json:"articles"`
}

// adminBatchUpdateViewer applies many article rewrites plus optional site
// totals, then requests one full-site refresh.
func (s *Server) adminBatchUpdateViewer(w http.ResponseWriter, r *http.Request) {
	var req batchViewerUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Site != nil {
		if err := validateCounts(req.Site.Viewer, req.Site.Visited); err != nil {
			writeError(w, http.StatusBadRequest, "site: "+err.Error())
			return
		}
		if err := s.visits.RewriteToday(r.Context(), "/", req.Site.Viewer, req.Site.Visited); err != nil {
			s.logger.Error("site counter rewrite failed", zap.Error(err))
		}
	}

	var ids []int
	updated := 0
	for _, upd := range req.Articles {
		if validateCounts(upd.Viewer, upd.Visited) != nil {
			continue
		}
		article, err := s.content.ArticleByID(r.Context(), upd.ID)
		if err != nil {
			continue
		}
		if s.rewriteArticleCounters(r, article, upd.Viewer, upd.Visited) {
			ids = append(ids, article.ID)
			updated++
		}
	}

	if err := s.isr.TriggerBatch(ids, true); err != nil {
		s.logger.Error("batch revalidation trigger failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

type autoBoostRequest struct {
	MinIncrease    int64   `json:"min_increase"`
	MaxIncrease    int64   `json:"max_increase"`
	SiteMultiplier float64 `json:"site_multiplier"`
	ArticlesOnly   bool    `json:"articles_only"`
}

// adminAutoBoost raises every public article's counters by a random amount in
// the requested range, keeping unique visitors at 30-70% of the view bump.
func (s *Server) adminAutoBoost(w http.ResponseWriter, r *http.Request) {
	var req autoBoostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MinIncrease < 0 || req.MaxIncrease < req.MinIncrease || req.MaxIncrease == 0 {
		writeError(w, http.StatusBadRequest, "increase range must satisfy 0 <= min <= max, max > 0")
		return
	}

	articles, err := s.content.Articles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "content listing failed")
		return
	}

	var totalViewer, totalVisited int64
	boosted := 0
	for _, article := range articles {
		viewerInc := req.MinIncrease + rand.Int63n(req.MaxIncrease-req.MinIncrease+1)
		visitedInc := int64(float64(viewerInc) * (0.3 + rand.Float64()*0.4))

		base := s.latestOrZero(r, paths.IDPath(article.ID))
		if !s.rewriteArticleCounters(r, article, base.Viewer+viewerInc, base.Visited+visitedInc) {
			continue
		}
		totalViewer += viewerInc
		totalVisited += visitedInc
		boosted++
	}

	if !req.ArticlesOnly && req.SiteMultiplier > 0 {
		site := s.latestOrZero(r, "/")
		siteViewer := site.Viewer + int64(float64(totalViewer)*req.SiteMultiplier)
		siteVisited := site.Visited + int64(float64(totalVisited)*req.SiteMultiplier)
		if err := s.visits.RewriteToday(r.Context(), "/", siteViewer, siteVisited); err != nil {
			s.logger.Error("site counter rewrite failed", zap.Error(err))
		}
	}

	if err := s.isr.TriggerFullSite("viewer auto boost"); err != nil {
		s.logger.Error("revalidation trigger failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"articles_updated":       int64(boosted),
		"total_viewer_increase":  totalViewer,
		"total_visited_increase": totalVisited,
	})
}

// rewriteArticleCounters overwrites today's counters for every alias of the
// article and reconciles the pair. Reconciliation failure is logged, not
// fatal.
func (s *Server) rewriteArticleCounters(r *http.Request, article blog.ArticleRef, viewer, visited int64) bool {
	idPath := paths.IDPath(article.ID)
	if err := s.visits.RewriteToday(r.Context(), idPath, viewer, visited); err != nil {
		s.logger.Error("counter rewrite failed", zap.String("url", idPath), zap.Error(err))
		return false
	}
	if article.Pathname == "" {
		return true
	}
	slugPath := paths.SlugPath(article.Pathname)
	if err := s.visits.RewriteToday(r.Context(), slugPath, viewer, visited); err != nil {
		s.logger.Error("counter rewrite failed", zap.String("url", slugPath), zap.Error(err))
		return false
	}
	if err := s.visits.ReconcileAliases(r.Context(), idPath, slugPath); err != nil {
		s.logger.Error("alias reconciliation failed",
			zap.String("id_path", idPath),
			zap.String("slug_path", slugPath),
			zap.Error(err),
		)
	}
	return true
}

func (s *Server) latestOrZero(r *http.Request, pathname string) blog.ViewCounter {
	counter, err := s.visits.LatestForPath(r.Context(), pathname)
	if err != nil {
		return blog.ViewCounter{Pathname: pathname}
	}
	return counter
}

func validateCounts(viewer, visited int64) error {
	if viewer < 0 || visited < 0 {
		return errors.New("counters must be non-negative")
	}
	if visited > viewer {
		return errors.New("visited cannot exceed viewer")
	}
	return nil
}

func validPathname(pathname string) bool {
	return pathname != "" && strings.HasPrefix(pathname, "/")
}
