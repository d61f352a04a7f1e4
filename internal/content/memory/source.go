// Package memory provides an in-memory blog.ContentSource for
// development/testing. Production deployments back this interface with the
// CRUD layer's own repository.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/paths"
)

// DefaultPageSize matches the public site's articles-per-page default.
const DefaultPageSize = 5

// Source holds articles in a map and derives the path listings the resolver
// consumes.
type Source struct {
	mu       sync.RWMutex
	articles map[int]blog.ArticleRef
	pageSize int
}

var _ blog.ContentSource = (*Source)(nil)

// NewSource constructs a Source paginating listing pages by pageSize.
func NewSource(pageSize int) *Source {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Source{
		articles: make(map[int]blog.ArticleRef),
		pageSize: pageSize,
	}
}

// Put inserts or replaces an article.
func (s *Source) Put(a blog.ArticleRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = a
}

// Remove deletes an article outright.
func (s *Source) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.articles, id)
}

// ArticleByID returns the article, or blog.ErrArticleNotFound for unknown or
// deleted IDs.
func (s *Source) ArticleByID(_ context.Context, id int) (blog.ArticleRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	if !ok || a.Deleted {
		return blog.ArticleRef{}, blog.ErrArticleNotFound
	}
	return a, nil
}

// Neighbors returns the public articles immediately before and after ref in
// creation order. The ref itself need not exist anymore: position is derived
// from its creation time, so neighbors of a deleted article still resolve.
func (s *Source) Neighbors(_ context.Context, ref blog.ArticleRef) (*blog.ArticleRef, *blog.ArticleRef, error) {
	ordered := s.publicOrdered()

	var prev, next *blog.ArticleRef
	for i := range ordered {
		a := ordered[i]
		if a.ID == ref.ID {
			continue
		}
		if before(a, ref) {
			prev = &ordered[i]
			continue
		}
		next = &ordered[i]
		break
	}
	return prev, next, nil
}

// Articles returns all public articles in creation order.
func (s *Source) Articles(_ context.Context) ([]blog.ArticleRef, error) {
	return s.publicOrdered(), nil
}

// AllPostPaths returns the canonical path of every public article.
func (s *Source) AllPostPaths(_ context.Context) ([]string, error) {
	ordered := s.publicOrdered()
	out := make([]string, 0, len(ordered))
	for _, a := range ordered {
		out = append(out, paths.CanonicalURL(a))
	}
	return out, nil
}

// CategoryPaths returns one listing path per category in use.
func (s *Source) CategoryPaths(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, a := range s.publicOrdered() {
		if a.Category == "" {
			continue
		}
		if _, ok := seen[a.Category]; ok {
			continue
		}
		seen[a.Category] = struct{}{}
		names = append(names, a.Category)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, paths.CategoryPath(name))
	}
	return out, nil
}

// TagPaths returns one listing path per tag in use.
func (s *Source) TagPaths(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var names []string
	for _, a := range s.publicOrdered() {
		for _, tag := range a.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			names = append(names, tag)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, paths.TagPath(name))
	}
	return out, nil
}

// PagePaths returns every paginated home-page listing path, at least /page/1.
func (s *Source) PagePaths(_ context.Context) ([]string, error) {
	count := len(s.publicOrdered())
	pages := (count + s.pageSize - 1) / s.pageSize
	if pages < 1 {
		pages = 1
	}
	out := make([]string, 0, pages)
	for p := 1; p <= pages; p++ {
		out = append(out, "/page/"+strconv.Itoa(p))
	}
	return out, nil
}

// publicOrdered returns non-deleted, non-hidden articles sorted by creation
// time then ID.
func (s *Source) publicOrdered() []blog.ArticleRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]blog.ArticleRef, 0, len(s.articles))
	for _, a := range s.articles {
		if a.Deleted || a.Hidden {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return before(out[i], out[j])
	})
	return out
}

func before(a, b blog.ArticleRef) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
