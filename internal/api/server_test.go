package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/config"
	contentmemory "github.com/Rosersn/rose-vanblog/internal/content/memory"
	"github.com/Rosersn/rose-vanblog/internal/isr"
	"github.com/Rosersn/rose-vanblog/internal/paths"
	"github.com/Rosersn/rose-vanblog/internal/progress/sinks"
	storememory "github.com/Rosersn/rose-vanblog/internal/storage/memory"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

type stubRenderer struct{}

func (stubRenderer) Probe(context.Context) bool { return true }

func (stubRenderer) Invoke(_ context.Context, path string, _ bool) blog.InvokeResult {
	return blog.InvokeResult{Path: path, Attempts: 1}
}

type testEnv struct {
	server  *Server
	visits  *storememory.VisitStore
	content *contentmemory.Source
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	// Handlers never reach the renderer in these tests.
	cfg.ISR.Disabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	clock := fixedClock{t: time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)}
	visits := storememory.NewVisitStore(clock, time.UTC)
	content := contentmemory.NewSource(cfg.Site.PageSize)
	dispatcher := isr.New(
		paths.NewResolver(content, nil),
		stubRenderer{},
		nil, nil, clock,
		isr.Config{Disabled: cfg.ISR.Disabled, Debounce: time.Millisecond},
		nil,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = dispatcher.Close(ctx)
	})

	srv := NewServer(visits, content, dispatcher, sinks.NewMemorySink(16), clock, cfg, nil)
	return &testEnv{server: srv, visits: visits, content: content}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeViewer(t *testing.T, rec *httptest.ResponseRecorder) viewerResponse {
	t.Helper()
	var out viewerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", nil, nil).Code)
}

func TestPublicViewerRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/public/viewer?pathname=/post/7&isNewByPath=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeViewer(t, rec)
	require.EqualValues(t, 1, got.Viewer)
	require.EqualValues(t, 1, got.Visited)

	rec = env.do(t, http.MethodPost, "/api/public/viewer?pathname=/post/7&isNewByPath=false", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeViewer(t, rec)
	require.EqualValues(t, 2, got.Viewer)
	require.EqualValues(t, 1, got.Visited)

	rec = env.do(t, http.MethodGet, "/api/public/viewer?pathname=/post/7", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeViewer(t, rec)
	require.EqualValues(t, 2, got.Viewer)
	require.EqualValues(t, 1, got.Visited)
}

func TestPublicViewerLegacyIsNewFlag(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/public/viewer?pathname=/post/7&isNew=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeViewer(t, rec).Visited)
}

func TestPublicViewerUnknownPathReadsZero(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/public/viewer?pathname=/post/none", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeViewer(t, rec)
	require.Zero(t, got.Viewer)
	require.Zero(t, got.Visited)
}

func TestPublicViewerValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/public/viewer", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/public/viewer?pathname=oops", nil, nil).Code)
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.APIKey = "secret"
	})

	rec := env.do(t, http.MethodGet, "/api/admin/meta/viewer", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/meta/viewer", nil, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The query-string fallback works for dashboards that cannot set headers.
	rec = env.do(t, http.MethodGet, "/api/admin/meta/viewer?api_key=secret", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Public routes stay open.
	rec = env.do(t, http.MethodGet, "/api/public/viewer?pathname=/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGetViewer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.visits.RewriteToday(ctx, "/", 500, 100))
	require.NoError(t, env.visits.RewriteToday(ctx, "/post/1", 40, 10))

	rec := env.do(t, http.MethodGet, "/api/admin/meta/viewer", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out adminViewerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "/", out.Site.Pathname)
	require.EqualValues(t, 500, out.Site.Viewer)
	require.Len(t, out.Paths, 1)
	require.Equal(t, "/post/1", out.Paths[0].Pathname)
}

func TestAdminUpdateArticleViewer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.content.Put(blog.ArticleRef{ID: 7, Pathname: "intro-go"})

	rec := env.do(t, http.MethodPut, "/api/admin/meta/viewer/article",
		articleViewerUpdate{ID: 7, Viewer: 100, Visited: 25}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Both aliases carry the new numbers.
	ctx := context.Background()
	for _, p := range []string{"/post/7", "/post/intro-go"} {
		row, err := env.visits.LatestForPath(ctx, p)
		require.NoError(t, err)
		require.EqualValues(t, 100, row.Viewer, p)
		require.EqualValues(t, 25, row.Visited, p)
	}
}

func TestAdminUpdateArticleViewerValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.content.Put(blog.ArticleRef{ID: 7})

	rec := env.do(t, http.MethodPut, "/api/admin/meta/viewer/article",
		articleViewerUpdate{ID: 7, Viewer: 10, Visited: 20}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/admin/meta/viewer/article",
		articleViewerUpdate{ID: 99, Viewer: 10, Visited: 5}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminBatchUpdateViewer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.content.Put(blog.ArticleRef{ID: 1})

	rec := env.do(t, http.MethodPut, "/api/admin/meta/viewer/batch", batchViewerUpdate{
		Site: &articleViewerUpdate{Viewer: 1000, Visited: 300},
		Articles: []articleViewerUpdate{
			{ID: 1, Viewer: 50, Visited: 20},
			{ID: 99, Viewer: 10, Visited: 5}, // unknown, skipped
		},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 1, out["updated"])

	ctx := context.Background()
	site, err := env.visits.LatestForPath(ctx, "/")
	require.NoError(t, err)
	require.EqualValues(t, 1000, site.Viewer)

	row, err := env.visits.LatestForPath(ctx, "/post/1")
	require.NoError(t, err)
	require.EqualValues(t, 50, row.Viewer)
}

func TestAdminAutoBoost(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.content.Put(blog.ArticleRef{ID: 1, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})

	rec := env.do(t, http.MethodPut, "/api/admin/meta/viewer/auto-boost",
		autoBoostRequest{MinIncrease: 10, MaxIncrease: 10}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.EqualValues(t, 1, out["articles_updated"])
	require.EqualValues(t, 10, out["total_viewer_increase"])

	row, err := env.visits.LatestForPath(context.Background(), "/post/1")
	require.NoError(t, err)
	require.EqualValues(t, 10, row.Viewer)
	// Unique visitors land at 30-70% of the view bump.
	require.GreaterOrEqual(t, row.Visited, int64(3))
	require.LessOrEqual(t, row.Visited, int64(7))
}

func TestAdminAutoBoostValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPut, "/api/admin/meta/viewer/auto-boost",
		autoBoostRequest{MinIncrease: 20, MaxIncrease: 10}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestISREndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/admin/isr/full", fullSiteRequest{Reason: "import", Force: true}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/isr/article",
		articleTriggerRequest{ID: 1, Event: blog.EventUpdate}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/isr/article",
		articleTriggerRequest{ID: 1, Event: blog.EventKind("rename")}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/isr/article",
		articleTriggerRequest{ID: 1, Event: blog.EventDelete}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "delete without snapshot is rejected")

	rec = env.do(t, http.MethodPost, "/api/admin/isr/batch", batchTriggerRequest{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/isr/batch", batchTriggerRequest{IDs: []int{1, 2}}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/isr/events", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
