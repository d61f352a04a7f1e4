// Package paths computes which rendered URLs a content mutation staled.
package paths

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/blog"
)

// GlobalPaths are the listing pages invalidated by every article mutation.
var GlobalPaths = []string{"/", "/timeline", "/tag", "/category"}

// IDPath builds the stable numeric path of an article.
func IDPath(id int) string {
	return "/post/" + strconv.Itoa(id)
}

// SlugPath builds the custom-slug path of an article.
func SlugPath(slug string) string {
	return "/post/" + slug
}

// CanonicalURL returns the path the site links to: the slug path when a
// custom pathname is set, the ID path otherwise.
func CanonicalURL(a blog.ArticleRef) string {
	if a.Pathname != "" {
		return SlugPath(a.Pathname)
	}
	return IDPath(a.ID)
}

// ArticleURLs returns every path an article is reachable under, canonical
// first.
func ArticleURLs(a blog.ArticleRef) []string {
	if a.Pathname == "" {
		return []string{IDPath(a.ID)}
	}
	return []string{SlugPath(a.Pathname), IDPath(a.ID)}
}

// TagPath builds a tag listing path.
func TagPath(tag string) string {
	return "/tag/" + tag
}

// CategoryPath builds a category listing path.
func CategoryPath(category string) string {
	return "/category/" + category
}

// Resolver maps mutation events to ordered, de-duplicated URL sets. Given the
// same event and content state it always produces the same set, which keeps
// retried cycles idempotent.
type Resolver struct {
	source blog.ContentSource
	logger *zap.Logger
}

// NewResolver creates a Resolver over the given content source.
func NewResolver(source blog.ContentSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, logger: logger}
}

// ResolveAffected returns the URLs staled by evt, in dispatch priority order:
// the article's own paths (post-mutation, then pre-mutation when the slug
// changed), neighbor paths, tag paths, category paths, global listing paths,
// and finally the paginated listing sweep when pagination boundaries may have
// shifted.
func (r *Resolver) ResolveAffected(ctx context.Context, evt blog.ArticleEvent) ([]string, error) {
	current, err := r.currentState(ctx, evt)
	if err != nil {
		return nil, err
	}

	set := newOrderedSet()
	set.add(ArticleURLs(current)...)

	if evt.Kind == blog.EventUpdate && evt.Before != nil {
		beforePath := CanonicalURL(*evt.Before)
		if beforePath != CanonicalURL(current) {
			r.logger.Info("article path changed",
				zap.String("from", beforePath),
				zap.String("to", CanonicalURL(current)),
			)
		}
		set.add(ArticleURLs(*evt.Before)...)
	}

	// Neighbor list pages carry prev/next links to this article. For delete
	// the lookup runs off the snapshot: the deleted article's former
	// neighbors now point past it and are stale too.
	prev, next, err := r.source.Neighbors(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("resolve neighbors: %w", err)
	}
	if prev != nil {
		set.add(CanonicalURL(*prev))
	}
	if next != nil {
		set.add(CanonicalURL(*next))
	}

	for _, tag := range current.Tags {
		set.add(TagPath(tag))
	}
	if current.Category != "" {
		set.add(CategoryPath(current.Category))
	}
	if (evt.Kind == blog.EventUpdate || evt.Kind == blog.EventDelete) && evt.Before != nil {
		for _, tag := range evt.Before.Tags {
			set.add(TagPath(tag))
		}
		if evt.Before.Category != "" {
			set.add(CategoryPath(evt.Before.Category))
		}
	}

	set.add(GlobalPaths...)

	if r.needsPageSweep(evt, current) {
		pagePaths, err := r.source.PagePaths(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve page paths: %w", err)
		}
		set.add(pagePaths...)
	}

	return set.slice(), nil
}

// ResolveAll returns the full-site URL set: global listing pages, every post,
// every paginated listing page, every category and tag page.
func (r *Resolver) ResolveAll(ctx context.Context) ([]string, error) {
	set := newOrderedSet()
	set.add(GlobalPaths...)

	postPaths, err := r.source.AllPostPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve post paths: %w", err)
	}
	set.add(postPaths...)

	pagePaths, err := r.source.PagePaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve page paths: %w", err)
	}
	set.add(pagePaths...)

	categoryPaths, err := r.source.CategoryPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve category paths: %w", err)
	}
	set.add(categoryPaths...)

	tagPaths, err := r.source.TagPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve tag paths: %w", err)
	}
	set.add(tagPaths...)

	return set.slice(), nil
}

// currentState picks the article state the event's URL set is computed from.
// Delete never queries the content source for the article itself: only the
// snapshot knows the pre-deletion tags and category.
func (r *Resolver) currentState(ctx context.Context, evt blog.ArticleEvent) (blog.ArticleRef, error) {
	if evt.Kind == blog.EventDelete {
		if evt.Before == nil {
			return blog.ArticleRef{}, fmt.Errorf("delete event for article %d is missing its snapshot", evt.ID)
		}
		return *evt.Before, nil
	}
	current, err := r.source.ArticleByID(ctx, evt.ID)
	if err != nil {
		if evt.Before != nil {
			// The article vanished between trigger and dispatch; the old
			// snapshot is still worth invalidating.
			return *evt.Before, nil
		}
		return blog.ArticleRef{}, fmt.Errorf("resolve article %d: %w", evt.ID, err)
	}
	return current, nil
}

// needsPageSweep reports whether the paginated listing pages must all be
// regenerated: creation and deletion shift pagination boundaries, as does a
// visibility flip.
func (r *Resolver) needsPageSweep(evt blog.ArticleEvent, current blog.ArticleRef) bool {
	switch evt.Kind {
	case blog.EventCreate, blog.EventDelete:
		return true
	case blog.EventUpdate:
		return evt.Before != nil && evt.Before.Hidden != current.Hidden
	default:
		return false
	}
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := s.seen[p]; ok {
			continue
		}
		s.seen[p] = struct{}{}
		s.items = append(s.items, p)
	}
}

func (s *orderedSet) slice() []string {
	return s.items
}
