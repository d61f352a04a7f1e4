package blog

import (
	"context"
	"errors"
	"time"
)

// ErrArticleNotFound is returned by ContentSource lookups for unknown or
// deleted articles.
var ErrArticleNotFound = errors.New("article not found")

// ErrNoCounter is returned by VisitStore reads when a path has never been
// visited.
var ErrNoCounter = errors.New("no counter recorded for path")

// ContentSource reads article data owned by the external CRUD layer.
type ContentSource interface {
	ArticleByID(ctx context.Context, id int) (ArticleRef, error)
	// Neighbors returns the articles immediately before and after ref in the
	// canonical creation-time ordering. It takes the full ref rather than an
	// ID so neighbors of an already-deleted article can still be resolved
	// from its snapshot.
	Neighbors(ctx context.Context, ref ArticleRef) (prev, next *ArticleRef, err error)
	Articles(ctx context.Context) ([]ArticleRef, error)
	AllPostPaths(ctx context.Context) ([]string, error)
	CategoryPaths(ctx context.Context) ([]string, error)
	TagPaths(ctx context.Context) ([]string, error)
	PagePaths(ctx context.Context) ([]string, error)
}

// Renderer talks to the external static-site renderer.
type Renderer interface {
	// Probe performs a single liveness check with no retries.
	Probe(ctx context.Context) bool
	// Invoke revalidates one path, retrying within its fixed budget. The
	// result is tagged rather than raised: per-path failure is non-fatal to
	// callers. Verbose enables warn-level logs for intermediate attempts.
	Invoke(ctx context.Context, path string, verbose bool) InvokeResult
}

// VisitStore owns per-(date, pathname) view counters.
type VisitStore interface {
	// RecordVisit bumps today's counter for pathname, carrying forward the
	// most recent historical totals when today has no row yet.
	RecordVisit(ctx context.Context, pathname string, newVisitor bool) (ViewCounter, error)
	// RewriteToday overwrites (or creates) today's row. Admin-only; callers
	// are trusted beyond non-negativity.
	RewriteToday(ctx context.Context, pathname string, viewer, visited int64) error
	// ReconcileAliases makes the ID path and slug path of one article report
	// identical counts for today, taking the pairwise max so counts never
	// decrease.
	ReconcileAliases(ctx context.Context, idPath, slugPath string) error
	// LatestForPath returns the most recent row for pathname, or ErrNoCounter.
	LatestForPath(ctx context.Context, pathname string) (ViewCounter, error)
	// All returns every stored counter row.
	All(ctx context.Context) ([]ViewCounter, error)
}

// Regenerator is a one-shot job (RSS feed, sitemap) fired alongside
// full-site revalidation cycles.
type Regenerator interface {
	Regenerate(ctx context.Context, reason string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
