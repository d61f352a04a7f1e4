// Package memory provides in-memory store implementations for
// development/testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rosersn/rose-vanblog/internal/blog"
)

// DateLayout is the site-local calendar-day key format.
const DateLayout = "2006-01-02"

// VisitStore keeps per-(date, pathname) counters in a map. Semantics mirror
// the Postgres store: cumulative rows with carry-forward initialization and
// never-decreasing alias reconciliation.
type VisitStore struct {
	mu    sync.Mutex
	rows  map[visitKey]blog.ViewCounter
	clock blog.Clock
	loc   *time.Location
}

type visitKey struct {
	date     string
	pathname string
}

var _ blog.VisitStore = (*VisitStore)(nil)

// NewVisitStore constructs a VisitStore using clock and loc for day
// boundaries.
func NewVisitStore(clock blog.Clock, loc *time.Location) *VisitStore {
	if loc == nil {
		loc = time.Local
	}
	return &VisitStore{
		rows:  make(map[visitKey]blog.ViewCounter),
		clock: clock,
		loc:   loc,
	}
}

func (s *VisitStore) today() string {
	return s.clock.Now().In(s.loc).Format(DateLayout)
}

// RecordVisit bumps today's counter for pathname. A missing today row is
// seeded from the most recent historical row so counters stay cumulative
// across days.
func (s *VisitStore) RecordVisit(_ context.Context, pathname string, newVisitor bool) (blog.ViewCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	now := s.clock.Now()
	key := visitKey{date: today, pathname: pathname}

	row, ok := s.rows[key]
	if !ok {
		row = blog.ViewCounter{Date: today, Pathname: pathname}
		if last, found := s.latestLocked(pathname); found {
			row.Viewer = last.Viewer
			row.Visited = last.Visited
		}
	}
	row.Viewer++
	if newVisitor {
		row.Visited++
	}
	row.LastVisitedTime = &now
	s.rows[key] = row
	return row, nil
}

// RewriteToday overwrites (or creates) today's row for pathname.
func (s *VisitStore) RewriteToday(_ context.Context, pathname string, viewer, visited int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	key := visitKey{date: today, pathname: pathname}
	row, ok := s.rows[key]
	if !ok {
		row = blog.ViewCounter{Date: today, Pathname: pathname}
	}
	row.Viewer = viewer
	row.Visited = visited
	s.rows[key] = row
	return nil
}

// ReconcileAliases makes both alias paths report identical counts for today,
// never decreasing either. With no today rows, the most recent historical row
// of each alias seeds the pair; with no history at all there is nothing to
// reconcile.
func (s *VisitStore) ReconcileAliases(_ context.Context, idPath, slugPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	idKey := visitKey{date: today, pathname: idPath}
	slugKey := visitKey{date: today, pathname: slugPath}
	idRow, idOK := s.rows[idKey]
	slugRow, slugOK := s.rows[slugKey]

	var viewer, visited int64
	switch {
	case idOK && slugOK:
		viewer = max64(idRow.Viewer, slugRow.Viewer)
		visited = max64(idRow.Visited, slugRow.Visited)
	case idOK:
		viewer, visited = idRow.Viewer, idRow.Visited
	case slugOK:
		viewer, visited = slugRow.Viewer, slugRow.Visited
	default:
		idLast, idFound := s.latestLocked(idPath)
		slugLast, slugFound := s.latestLocked(slugPath)
		if !idFound && !slugFound {
			return nil
		}
		viewer = max64(idLast.Viewer, slugLast.Viewer)
		visited = max64(idLast.Visited, slugLast.Visited)
	}

	s.writeLocked(today, idPath, viewer, visited)
	s.writeLocked(today, slugPath, viewer, visited)
	return nil
}

// LatestForPath returns the most recent row for pathname.
func (s *VisitStore) LatestForPath(_ context.Context, pathname string) (blog.ViewCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.latestLocked(pathname)
	if !ok {
		return blog.ViewCounter{}, blog.ErrNoCounter
	}
	return row, nil
}

// All returns every stored row ordered by date then pathname.
func (s *VisitStore) All(_ context.Context) ([]blog.ViewCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]blog.ViewCounter, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Pathname < out[j].Pathname
	})
	return out, nil
}

func (s *VisitStore) latestLocked(pathname string) (blog.ViewCounter, bool) {
	var best blog.ViewCounter
	found := false
	for key, row := range s.rows {
		if key.pathname != pathname {
			continue
		}
		if !found || row.Date > best.Date {
			best = row
			found = true
		}
	}
	return best, found
}

func (s *VisitStore) writeLocked(date, pathname string, viewer, visited int64) {
	key := visitKey{date: date, pathname: pathname}
	row, ok := s.rows[key]
	if !ok {
		row = blog.ViewCounter{Date: date, Pathname: pathname}
	}
	row.Viewer = viewer
	row.Visited = visited
	s.rows[key] = row
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
