package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/isr"
	"github.com/Rosersn/rose-vanblog/internal/progress"
)

type fullSiteRequest struct {
	Reason string `json:"reason"`
	Force  bool   `json:"force"`
}

// isrFull requests a full-site refresh. Force bypasses delay mode, matching
// the admin console's "refresh now" button.
func (s *Server) isrFull(w http.ResponseWriter, r *http.Request) {
	var req fullSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual full refresh"
	}
	var err error
	if req.Force {
		err = s.isr.TriggerFullSiteForced(req.Reason)
	} else {
		err = s.isr.TriggerFullSite(req.Reason)
	}
	if err != nil {
		s.writeTriggerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

type articleTriggerRequest struct {
	ID     int              `json:"id"`
	Event  blog.EventKind   `json:"event"`
	Before *blog.ArticleRef `json:"before,omitempty"`
}

// isrArticle is called by the content-mutation handlers after a write lands.
func (s *Server) isrArticle(w http.ResponseWriter, r *http.Request) {
	var req articleTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	switch req.Event {
	case blog.EventCreate, blog.EventUpdate, blog.EventDelete:
	default:
		writeError(w, http.StatusBadRequest, "event must be create, update or delete")
		return
	}
	if req.Event == blog.EventDelete && req.Before == nil {
		writeError(w, http.StatusBadRequest, "delete events require the pre-deletion snapshot")
		return
	}
	if err := s.isr.TriggerArticle(req.ID, req.Event, req.Before); err != nil {
		s.writeTriggerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

type batchTriggerRequest struct {
	IDs       []int `json:"ids"`
	FullSweep bool  `json:"full_sweep"`
}

func (s *Server) isrBatch(w http.ResponseWriter, r *http.Request) {
	var req batchTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.IDs) == 0 && !req.FullSweep {
		writeError(w, http.StatusBadRequest, "ids or full_sweep required")
		return
	}
	if err := s.isr.TriggerBatch(req.IDs, req.FullSweep); err != nil {
		s.writeTriggerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// isrEvents serves the admin console's revalidation activity feed.
func (s *Server) isrEvents(w http.ResponseWriter, _ *http.Request) {
	var events []progress.Event
	if s.events != nil {
		events = s.events.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) writeTriggerError(w http.ResponseWriter, err error) {
	if errors.Is(err, isr.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "dispatcher is shutting down")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
