// Package blog defines core types shared across subsystems.
package blog

import "time"

// EventKind classifies a content mutation for revalidation purposes.
type EventKind string

// Mutation kinds carried by article events.
const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// ArticleRef is the read-only projection of an article this core needs.
// Pathname, when set, is a custom slug; the CRUD layer guarantees it is
// never purely numeric, so it cannot collide with an ID path.
type ArticleRef struct {
	ID        int       `json:"id"`
	Pathname  string    `json:"pathname,omitempty"`
	Title     string    `json:"title,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Category  string    `json:"category"`
	Hidden    bool      `json:"hidden"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
}

// ArticleEvent describes one article mutation. Before carries the
// pre-mutation snapshot; it is required for delete (the row is gone by the
// time the event is processed) and should be supplied for update so stale
// tag/category/slug pages from the old state get invalidated too.
type ArticleEvent struct {
	Kind   EventKind   `json:"kind"`
	ID     int         `json:"id"`
	Before *ArticleRef `json:"before,omitempty"`
}

// ViewCounter is one per-(date, pathname) row of cumulative counts.
// Viewer is total page views, Visited total unique visitors; each day's row
// stores the running total, not a daily delta.
type ViewCounter struct {
	Date            string     `json:"date"`
	Pathname        string     `json:"pathname"`
	Viewer          int64      `json:"viewer"`
	Visited         int64      `json:"visited"`
	LastVisitedTime *time.Time `json:"last_visited_time,omitempty"`
}

// InvokeResult reports the outcome of revalidating a single path.
type InvokeResult struct {
	Path     string
	Attempts int
	Err      error
}

// Succeeded reports whether the path was revalidated.
func (r InvokeResult) Succeeded() bool {
	return r.Err == nil
}
