// Package isr drives on-demand regeneration of rendered pages. A Dispatcher
// collapses bursts of mutation triggers into single revalidation cycles,
// probes the renderer for availability, and invokes path revalidation
// serially so a modest renderer deployment is never saturated.
package isr

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/metrics"
	"github.com/Rosersn/rose-vanblog/internal/paths"
	"github.com/Rosersn/rose-vanblog/internal/progress"
)

// ErrClosed is returned by triggers once the dispatcher has shut down.
var ErrClosed = errors.New("isr dispatcher is closed")

// Modes controlling when triggers produce cycles.
const (
	// ModeOnDemand revalidates after every trigger (debounced).
	ModeOnDemand = "on-demand"
	// ModeDelay suppresses on-demand triggers; a scheduled job is expected
	// to force full refreshes instead.
	ModeDelay = "delay"
)

// Config controls dispatcher timing and the kill switch.
type Config struct {
	// Disabled makes every trigger a no-op (renderer intentionally off).
	Disabled bool
	Mode     string
	// Debounce is the quiet window after the last trigger before a cycle
	// starts.
	Debounce time.Duration
	// ProbeAttempts and ProbeDelay bound the renderer availability check at
	// the start of each cycle.
	ProbeAttempts int
	ProbeDelay    time.Duration
}

const (
	defaultDebounce      = time.Second
	defaultProbeAttempts = 6
	defaultProbeDelay    = 3 * time.Second
)

// Dispatcher owns no persistent state; it orchestrates the path resolver and
// renderer invoker over externally-owned content. The debounce timer is its
// only shared mutable state and lives behind mu.
type Dispatcher struct {
	resolver *paths.Resolver
	renderer blog.Renderer
	regens   []blog.Regenerator
	emitter  progress.Emitter
	clock    blog.Clock
	logger   *zap.Logger
	cfg      Config

	mu      sync.Mutex
	timer   *time.Timer
	pending *batch
	closed  bool
	cycles  sync.WaitGroup
}

// batch is the union of all triggers seen during one debounce window.
type batch struct {
	fullSweep bool
	forced    bool
	reasons   []string
	events    []blog.ArticleEvent
}

func (b *batch) merge(other batch) {
	b.fullSweep = b.fullSweep || other.fullSweep
	b.forced = b.forced || other.forced
	b.reasons = append(b.reasons, other.reasons...)
	b.events = append(b.events, other.events...)
}

func (b *batch) reason() string {
	if len(b.reasons) == 0 {
		return "content change"
	}
	return strings.Join(b.reasons, "; ")
}

// New constructs a Dispatcher, filling zero config fields with defaults.
func New(
	resolver *paths.Resolver,
	renderer blog.Renderer,
	regens []blog.Regenerator,
	emitter progress.Emitter,
	clock blog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = defaultProbeAttempts
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = defaultProbeDelay
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeOnDemand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		resolver: resolver,
		renderer: renderer,
		regens:   regens,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// TriggerFullSite requests regeneration of every rendered page. Fire and
// forget: the cycle runs in the background after the debounce window.
func (d *Dispatcher) TriggerFullSite(reason string) error {
	return d.enqueue(batch{fullSweep: true, reasons: []string{reason}})
}

// TriggerFullSiteForced is TriggerFullSite but bypasses delay mode. Used by
// the scheduled refresh job and by admin "refresh now" actions.
func (d *Dispatcher) TriggerFullSiteForced(reason string) error {
	return d.enqueue(batch{fullSweep: true, forced: true, reasons: []string{reason}})
}

// TriggerArticle requests revalidation of the pages staled by one article
// mutation. Before must carry the pre-mutation snapshot for update and
// delete events.
func (d *Dispatcher) TriggerArticle(id int, kind blog.EventKind, before *blog.ArticleRef) error {
	return d.enqueue(batch{
		reasons: []string{string(kind) + " article " + strconv.Itoa(id)},
		events:  []blog.ArticleEvent{{Kind: kind, ID: id, Before: before}},
	})
}

// TriggerBatch requests revalidation for several articles at once, optionally
// with a full-site sweep.
func (d *Dispatcher) TriggerBatch(ids []int, fullSweep bool) error {
	b := batch{
		fullSweep: fullSweep,
		reasons:   []string{"batch update of " + strconv.Itoa(len(ids)) + " articles"},
	}
	for _, id := range ids {
		b.events = append(b.events, blog.ArticleEvent{Kind: blog.EventUpdate, ID: id})
	}
	return d.enqueue(b)
}

// Close stops accepting triggers, drops any pending batch, and waits for
// in-flight cycles up to ctx. Running cycles finish their fixed budgets;
// abrupt process exit simply drops them.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(b batch) error {
	if d.cfg.Disabled {
		d.logger.Debug("renderer disabled, ignoring revalidation trigger",
			zap.String("reason", b.reason()))
		return nil
	}
	if d.cfg.Mode == ModeDelay && !b.forced {
		d.logger.Debug("delay mode active, suppressing on-demand revalidation",
			zap.String("reason", b.reason()))
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.pending == nil {
		d.pending = &batch{}
	}
	d.pending.merge(b)
	if d.timer == nil {
		d.timer = time.AfterFunc(d.cfg.Debounce, d.fire)
	} else {
		d.timer.Reset(d.cfg.Debounce)
	}
	return nil
}

// fire moves the debounced batch into a background cycle. At most one timer
// exists at any moment; a trigger arriving after this point arms a fresh one.
func (d *Dispatcher) fire() {
	d.mu.Lock()
	b := d.pending
	d.pending = nil
	d.timer = nil
	if d.closed || b == nil {
		d.mu.Unlock()
		return
	}
	d.cycles.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.cycles.Done()
		d.runCycle(context.Background(), *b)
	}()
}

func (d *Dispatcher) runCycle(ctx context.Context, b batch) {
	start := d.clock.Now()

	// Feed and sitemap are one-shot jobs riding along with full refreshes,
	// independent of renderer availability.
	if b.fullSweep {
		for _, regen := range d.regens {
			if err := regen.Regenerate(ctx, b.reason()); err != nil {
				d.logger.Error("regenerator failed",
					zap.String("reason", b.reason()),
					zap.Error(err),
				)
			}
		}
	}

	if !d.probe(ctx) {
		d.logger.Error("renderer unreachable, aborting revalidation cycle",
			zap.String("reason", b.reason()),
			zap.Int("attempts", d.cfg.ProbeAttempts),
		)
		d.emit(progress.Event{
			Stage:  progress.StageCycleAbort,
			Reason: b.reason(),
			Dur:    d.clock.Now().Sub(start),
			Note:   "probe budget exhausted",
		})
		return
	}

	// The URL set is recomputed now, not at trigger time, so content changes
	// that landed during the debounce window are reflected.
	urls, err := d.collectURLs(ctx, b)
	if err != nil {
		d.logger.Error("failed to resolve affected urls, aborting cycle",
			zap.String("reason", b.reason()),
			zap.Error(err),
		)
		d.emit(progress.Event{
			Stage:  progress.StageCycleAbort,
			Reason: b.reason(),
			Dur:    d.clock.Now().Sub(start),
			Note:   err.Error(),
		})
		return
	}

	d.logger.Info("revalidation cycle started",
		zap.String("reason", b.reason()),
		zap.Int("urls", len(urls)),
	)
	d.emit(progress.Event{
		Stage:    progress.StageCycleStart,
		Reason:   b.reason(),
		URLTotal: len(urls),
	})

	// Strictly serial. Per-path failures are logged and skipped; they never
	// halt the remaining set.
	verbose := !b.fullSweep
	failed := 0
	for _, u := range urls {
		res := d.renderer.Invoke(ctx, u, verbose)
		if res.Succeeded() {
			d.emit(progress.Event{
				Stage:    progress.StagePathDone,
				Path:     u,
				Attempts: res.Attempts,
			})
			continue
		}
		failed++
		d.emit(progress.Event{
			Stage:    progress.StagePathError,
			Path:     u,
			Attempts: res.Attempts,
			Note:     res.Err.Error(),
		})
	}

	dur := d.clock.Now().Sub(start)
	d.logger.Info("revalidation cycle finished",
		zap.String("reason", b.reason()),
		zap.Int("urls", len(urls)),
		zap.Int("failed", failed),
		zap.Duration("dur", dur),
	)
	d.emit(progress.Event{
		Stage:    progress.StageCycleDone,
		Reason:   b.reason(),
		URLTotal: len(urls),
		Failed:   failed,
		Dur:      dur,
	})
}

// probe tests renderer availability with a fixed attempt budget. All
// attempts failing aborts the whole cycle: partial invalidation would leave
// stale pages with no operator signal beyond the log.
func (d *Dispatcher) probe(ctx context.Context) bool {
	for attempt := 1; attempt <= d.cfg.ProbeAttempts; attempt++ {
		if d.renderer.Probe(ctx) {
			return true
		}
		metrics.ObserveProbeFailure()
		d.logger.Warn("renderer probe failed",
			zap.Int("attempt", attempt),
			zap.Int("budget", d.cfg.ProbeAttempts),
		)
		if attempt == d.cfg.ProbeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d.cfg.ProbeDelay):
		}
	}
	return false
}

// collectURLs resolves each event's URL set first (the mutated article's own
// paths lead), then appends the full-site set when a sweep was requested.
// De-duplication preserves first-occurrence priority.
func (d *Dispatcher) collectURLs(ctx context.Context, b batch) ([]string, error) {
	seen := make(map[string]struct{})
	var urls []string
	add := func(paths []string) {
		for _, p := range paths {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			urls = append(urls, p)
		}
	}

	for _, evt := range b.events {
		resolved, err := d.resolver.ResolveAffected(ctx, evt)
		if err != nil {
			// One unresolvable event must not wipe out the rest of the batch.
			d.logger.Error("failed to resolve event urls",
				zap.String("kind", string(evt.Kind)),
				zap.Int("article_id", evt.ID),
				zap.Error(err),
			)
			continue
		}
		add(resolved)
	}

	if b.fullSweep {
		resolved, err := d.resolver.ResolveAll(ctx)
		if err != nil {
			return nil, err
		}
		add(resolved)
	}
	return urls, nil
}

func (d *Dispatcher) emit(evt progress.Event) {
	if d.emitter == nil {
		return
	}
	evt.TS = d.clock.Now()
	d.emitter.Emit(evt)
}
