// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Rosersn/rose-vanblog/internal/blog"
)

// DateLayout is the site-local calendar-day key format.
const DateLayout = "2006-01-02"

// VisitStoreConfig controls the Postgres connection pool used for counter
// rows.
type VisitStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// VisitStore persists per-(date, pathname) view counters in Postgres.
type VisitStore struct {
	pool  dbPool
	clock blog.Clock
	loc   *time.Location
}

var _ blog.VisitStore = (*VisitStore)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS visits (
	date TEXT NOT NULL,
	pathname TEXT NOT NULL,
	viewer BIGINT NOT NULL DEFAULT 0,
	visited BIGINT NOT NULL DEFAULT 0,
	last_visited_time TIMESTAMPTZ,
	PRIMARY KEY (date, pathname)
)`

const indexSQL = `
CREATE INDEX IF NOT EXISTS visits_pathname_date_idx ON visits (pathname, date DESC)`

// recordVisitSQL seeds a missing today row from the most recent historical
// totals (carry-forward) and bumps it, in one atomic upsert so concurrent
// visits to the same path never lose updates.
const recordVisitSQL = `
INSERT INTO visits (date, pathname, viewer, visited, last_visited_time)
SELECT $1, $2,
	COALESCE((SELECT v.viewer FROM visits v WHERE v.pathname = $2 ORDER BY v.date DESC LIMIT 1), 0) + 1,
	COALESCE((SELECT v.visited FROM visits v WHERE v.pathname = $2 ORDER BY v.date DESC LIMIT 1), 0) + $3,
	$4
ON CONFLICT (date, pathname) DO UPDATE
SET viewer = visits.viewer + 1,
	visited = visits.visited + $3,
	last_visited_time = $4
RETURNING date, pathname, viewer, visited, last_visited_time`

const rewriteSQL = `
INSERT INTO visits (date, pathname, viewer, visited)
VALUES ($1, $2, $3, $4)
ON CONFLICT (date, pathname) DO UPDATE
SET viewer = $3, visited = $4`

const selectTodayForUpdateSQL = `
SELECT pathname, viewer, visited FROM visits
WHERE date = $1 AND pathname = ANY($2)
FOR UPDATE`

const latestSQL = `
SELECT date, pathname, viewer, visited, last_visited_time FROM visits
WHERE pathname = $1
ORDER BY date DESC
LIMIT 1`

const allSQL = `
SELECT date, pathname, viewer, visited, last_visited_time FROM visits
ORDER BY date, pathname`

// NewVisitStore creates a Postgres-backed VisitStore using the provided
// config.
func NewVisitStore(ctx context.Context, cfg VisitStoreConfig, clock blog.Clock, loc *time.Location) (*VisitStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newVisitStore(pool, clock, loc)
}

// NewVisitStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewVisitStoreWithPool(pool dbPool, clock blog.Clock, loc *time.Location) (*VisitStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newVisitStore(pool, clock, loc)
}

func newVisitStore(pool dbPool, clock blog.Clock, loc *time.Location) (*VisitStore, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if loc == nil {
		loc = time.Local
	}
	return &VisitStore{pool: pool, clock: clock, loc: loc}, nil
}

// EnsureSchema creates the visits table and its index if missing.
func (s *VisitStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create visits table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, indexSQL); err != nil {
		return fmt.Errorf("create visits index: %w", err)
	}
	return nil
}

// Ping reports store availability.
func (s *VisitStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *VisitStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *VisitStore) today() string {
	return s.clock.Now().In(s.loc).Format(DateLayout)
}

// RecordVisit bumps today's counter for pathname with carry-forward
// initialization.
func (s *VisitStore) RecordVisit(ctx context.Context, pathname string, newVisitor bool) (blog.ViewCounter, error) {
	visitedInc := int64(0)
	if newVisitor {
		visitedInc = 1
	}
	now := s.clock.Now()

	var row blog.ViewCounter
	var lastVisited *time.Time
	err := s.pool.QueryRow(ctx, recordVisitSQL, s.today(), pathname, visitedInc, now).
		Scan(&row.Date, &row.Pathname, &row.Viewer, &row.Visited, &lastVisited)
	if err != nil {
		return blog.ViewCounter{}, fmt.Errorf("record visit for %s: %w", pathname, err)
	}
	row.LastVisitedTime = lastVisited
	return row, nil
}

// RewriteToday overwrites (or creates) today's row for pathname.
func (s *VisitStore) RewriteToday(ctx context.Context, pathname string, viewer, visited int64) error {
	if _, err := s.pool.Exec(ctx, rewriteSQL, s.today(), pathname, viewer, visited); err != nil {
		return fmt.Errorf("rewrite counters for %s: %w", pathname, err)
	}
	return nil
}

// ReconcileAliases makes both alias paths report identical counts for today.
// Both rows are locked for the duration so concurrent visits cannot interleave
// between read and write.
func (s *VisitStore) ReconcileAliases(ctx context.Context, idPath, slugPath string) error {
	today := s.today()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	todayRows, err := s.readTodayLocked(ctx, tx, today, idPath, slugPath)
	if err != nil {
		return err
	}

	var viewer, visited int64
	idRow, idOK := todayRows[idPath]
	slugRow, slugOK := todayRows[slugPath]
	switch {
	case idOK && slugOK:
		viewer = max64(idRow.Viewer, slugRow.Viewer)
		visited = max64(idRow.Visited, slugRow.Visited)
	case idOK:
		viewer, visited = idRow.Viewer, idRow.Visited
	case slugOK:
		viewer, visited = slugRow.Viewer, slugRow.Visited
	default:
		idLast, idFound, err := latestInTx(ctx, tx, idPath)
		if err != nil {
			return err
		}
		slugLast, slugFound, err := latestInTx(ctx, tx, slugPath)
		if err != nil {
			return err
		}
		if !idFound && !slugFound {
			// Nothing recorded under either alias yet; nothing to reconcile.
			return tx.Commit(ctx)
		}
		viewer = max64(idLast.Viewer, slugLast.Viewer)
		visited = max64(idLast.Visited, slugLast.Visited)
	}

	for _, pathname := range []string{idPath, slugPath} {
		if _, err := tx.Exec(ctx, rewriteSQL, today, pathname, viewer, visited); err != nil {
			return fmt.Errorf("reconcile write for %s: %w", pathname, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reconcile tx: %w", err)
	}
	return nil
}

// LatestForPath returns the most recent row for pathname.
func (s *VisitStore) LatestForPath(ctx context.Context, pathname string) (blog.ViewCounter, error) {
	var row blog.ViewCounter
	var lastVisited *time.Time
	err := s.pool.QueryRow(ctx, latestSQL, pathname).
		Scan(&row.Date, &row.Pathname, &row.Viewer, &row.Visited, &lastVisited)
	if errors.Is(err, pgx.ErrNoRows) {
		return blog.ViewCounter{}, blog.ErrNoCounter
	}
	if err != nil {
		return blog.ViewCounter{}, fmt.Errorf("latest counter for %s: %w", pathname, err)
	}
	row.LastVisitedTime = lastVisited
	return row, nil
}

// All returns every stored counter row.
func (s *VisitStore) All(ctx context.Context) ([]blog.ViewCounter, error) {
	rows, err := s.pool.Query(ctx, allSQL)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	var out []blog.ViewCounter
	for rows.Next() {
		var row blog.ViewCounter
		var lastVisited *time.Time
		if err := rows.Scan(&row.Date, &row.Pathname, &row.Viewer, &row.Visited, &lastVisited); err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		row.LastVisitedTime = lastVisited
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counter rows: %w", err)
	}
	return out, nil
}

func (s *VisitStore) readTodayLocked(ctx context.Context, tx pgx.Tx, today, idPath, slugPath string) (map[string]blog.ViewCounter, error) {
	rows, err := tx.Query(ctx, selectTodayForUpdateSQL, today, []string{idPath, slugPath})
	if err != nil {
		return nil, fmt.Errorf("lock today's counter rows: %w", err)
	}
	defer rows.Close()

	out := make(map[string]blog.ViewCounter, 2)
	for rows.Next() {
		var row blog.ViewCounter
		if err := rows.Scan(&row.Pathname, &row.Viewer, &row.Visited); err != nil {
			return nil, fmt.Errorf("scan locked counter row: %w", err)
		}
		row.Date = today
		out[row.Pathname] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked counter rows: %w", err)
	}
	return out, nil
}

func latestInTx(ctx context.Context, tx pgx.Tx, pathname string) (blog.ViewCounter, bool, error) {
	var row blog.ViewCounter
	var lastVisited *time.Time
	err := tx.QueryRow(ctx, latestSQL, pathname).
		Scan(&row.Date, &row.Pathname, &row.Viewer, &row.Visited, &lastVisited)
	if errors.Is(err, pgx.ErrNoRows) {
		return blog.ViewCounter{}, false, nil
	}
	if err != nil {
		return blog.ViewCounter{}, false, fmt.Errorf("historical counter for %s: %w", pathname, err)
	}
	row.LastVisitedTime = lastVisited
	return row, true, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
