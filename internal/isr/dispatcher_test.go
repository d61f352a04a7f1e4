package isr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rosersn/rose-vanblog/internal/blog"
	"github.com/Rosersn/rose-vanblog/internal/paths"
	"github.com/Rosersn/rose-vanblog/internal/progress"
)

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Now() }

type fakeRenderer struct {
	mu       sync.Mutex
	probeOK  bool
	probes   int
	invoked  []string
	failures map[string]bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{probeOK: true, failures: make(map[string]bool)}
}

func (f *fakeRenderer) Probe(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.probeOK
}

func (f *fakeRenderer) Invoke(_ context.Context, path string, _ bool) blog.InvokeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoked = append(f.invoked, path)
	if f.failures[path] {
		return blog.InvokeResult{Path: path, Attempts: 3, Err: errors.New("renderer returned status 500")}
	}
	return blog.InvokeResult{Path: path, Attempts: 1}
}

func (f *fakeRenderer) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.invoked))
	copy(out, f.invoked)
	return out
}

func (f *fakeRenderer) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

type fakeSource struct {
	mu       sync.Mutex
	articles map[int]blog.ArticleRef
}

func newFakeSource(refs ...blog.ArticleRef) *fakeSource {
	s := &fakeSource{articles: make(map[int]blog.ArticleRef)}
	for _, a := range refs {
		s.articles[a.ID] = a
	}
	return s
}

func (f *fakeSource) put(a blog.ArticleRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.articles[a.ID] = a
}

func (f *fakeSource) ArticleByID(_ context.Context, id int) (blog.ArticleRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return blog.ArticleRef{}, blog.ErrArticleNotFound
	}
	return a, nil
}

func (f *fakeSource) Neighbors(context.Context, blog.ArticleRef) (*blog.ArticleRef, *blog.ArticleRef, error) {
	return nil, nil, nil
}

func (f *fakeSource) Articles(context.Context) ([]blog.ArticleRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []blog.ArticleRef
	for _, a := range f.articles {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeSource) AllPostPaths(ctx context.Context) ([]string, error) {
	refs, _ := f.Articles(ctx)
	var out []string
	for _, a := range refs {
		out = append(out, paths.ArticleURLs(a)...)
	}
	return out, nil
}

func (f *fakeSource) CategoryPaths(context.Context) ([]string, error) { return nil, nil }
func (f *fakeSource) TagPaths(context.Context) ([]string, error)      { return nil, nil }
func (f *fakeSource) PagePaths(context.Context) ([]string, error) {
	return []string{"/page/1"}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Stage
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func (r *recordingEmitter) hasStage(s progress.Stage) bool {
	for _, got := range r.stages() {
		if got == s {
			return true
		}
	}
	return false
}

func testDispatcher(t *testing.T, src *fakeSource, rend *fakeRenderer, cfg Config) (*Dispatcher, *recordingEmitter) {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	if cfg.ProbeAttempts == 0 {
		cfg.ProbeAttempts = 2
	}
	if cfg.ProbeDelay == 0 {
		cfg.ProbeDelay = time.Millisecond
	}
	emitter := &recordingEmitter{}
	d := New(paths.NewResolver(src, nil), rend, nil, emitter, stubClock{}, cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d, emitter
}

func TestDebounceCollapsesTriggers(t *testing.T) {
	t.Parallel()

	src := newFakeSource(
		blog.ArticleRef{ID: 1, Category: "notes"},
		blog.ArticleRef{ID: 2, Category: "notes"},
	)
	rend := newFakeRenderer()
	d, emitter := testDispatcher(t, src, rend, Config{})

	require.NoError(t, d.TriggerArticle(1, blog.EventUpdate, &blog.ArticleRef{ID: 1, Category: "notes"}))
	require.NoError(t, d.TriggerArticle(2, blog.EventUpdate, &blog.ArticleRef{ID: 2, Category: "notes"}))

	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleDone)
	}, time.Second, 5*time.Millisecond)

	urls := rend.invocations()
	require.Contains(t, urls, "/post/1")
	require.Contains(t, urls, "/post/2")

	// One cycle, so the shared listing pages were invoked exactly once.
	home := 0
	for _, u := range urls {
		if u == "/" {
			home++
		}
	}
	require.Equal(t, 1, home)
}

func TestOwnPathsDispatchFirst(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 7, Pathname: "intro-go"})
	rend := newFakeRenderer()
	d, emitter := testDispatcher(t, src, rend, Config{})

	require.NoError(t, d.TriggerArticle(7, blog.EventUpdate, nil))
	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleDone)
	}, time.Second, 5*time.Millisecond)

	urls := rend.invocations()
	require.GreaterOrEqual(t, len(urls), 2)
	require.Equal(t, "/post/intro-go", urls[0])
	require.Equal(t, "/post/7", urls[1])
}

func TestURLSetRecomputedAtDispatchTime(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 7})
	rend := newFakeRenderer()
	d, emitter := testDispatcher(t, src, rend, Config{Debounce: 50 * time.Millisecond})

	require.NoError(t, d.TriggerArticle(7, blog.EventUpdate, nil))
	// The slug lands while the batch is still debouncing.
	src.put(blog.ArticleRef{ID: 7, Pathname: "intro-go"})

	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleDone)
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, rend.invocations(), "/post/intro-go")
}

func TestProbeExhaustionAbortsCycle(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 1})
	rend := newFakeRenderer()
	rend.probeOK = false
	d, emitter := testDispatcher(t, src, rend, Config{ProbeAttempts: 3})

	require.NoError(t, d.TriggerArticle(1, blog.EventUpdate, nil))

	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleAbort)
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 3, rend.probeCount())
	require.Empty(t, rend.invocations(), "aborted cycle must invoke nothing")
	require.False(t, emitter.hasStage(progress.StageCycleStart))
}

func TestPathFailureDoesNotHaltCycle(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 1})
	rend := newFakeRenderer()
	rend.failures["/post/1"] = true
	d, emitter := testDispatcher(t, src, rend, Config{})

	require.NoError(t, d.TriggerArticle(1, blog.EventUpdate, nil))
	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleDone)
	}, time.Second, 5*time.Millisecond)

	require.True(t, emitter.hasStage(progress.StagePathError))
	// The listing pages behind the failed path were still invoked.
	require.Contains(t, rend.invocations(), "/")
}

func TestKillSwitch(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 1})
	rend := newFakeRenderer()
	d, _ := testDispatcher(t, src, rend, Config{Disabled: true, Debounce: 5 * time.Millisecond})

	require.NoError(t, d.TriggerArticle(1, blog.EventUpdate, nil))
	require.NoError(t, d.TriggerFullSiteForced("manual refresh"))

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, rend.probeCount())
	require.Empty(t, rend.invocations())
}

func TestDelayModeSuppressesOnDemand(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 1})
	rend := newFakeRenderer()
	d, emitter := testDispatcher(t, src, rend, Config{Mode: ModeDelay, Debounce: 5 * time.Millisecond})

	require.NoError(t, d.TriggerArticle(1, blog.EventUpdate, nil))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, rend.invocations())

	// A forced trigger punches through delay mode.
	require.NoError(t, d.TriggerFullSiteForced("scheduled refresh"))
	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleDone)
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, rend.invocations(), "/post/1")
}

func TestFullSweepIncludesEverything(t *testing.T) {
	t.Parallel()

	src := newFakeSource(
		blog.ArticleRef{ID: 1},
		blog.ArticleRef{ID: 2, Pathname: "two"},
	)
	rend := newFakeRenderer()
	d, emitter := testDispatcher(t, src, rend, Config{})

	require.NoError(t, d.TriggerFullSite("content import"))
	require.Eventually(t, func() bool {
		return emitter.hasStage(progress.StageCycleDone)
	}, time.Second, 5*time.Millisecond)

	urls := rend.invocations()
	for _, want := range []string{"/", "/timeline", "/tag", "/category", "/post/1", "/post/two", "/post/2", "/page/1"} {
		require.Contains(t, urls, want)
	}
}

func TestCloseRejectsTriggers(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	d, _ := testDispatcher(t, src, newFakeRenderer(), Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	err := d.TriggerFullSite("too late")
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseDropsPendingBatch(t *testing.T) {
	t.Parallel()

	src := newFakeSource(blog.ArticleRef{ID: 1})
	rend := newFakeRenderer()
	d, _ := testDispatcher(t, src, rend, Config{Debounce: 200 * time.Millisecond})

	require.NoError(t, d.TriggerArticle(1, blog.EventUpdate, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	time.Sleep(300 * time.Millisecond)
	require.Empty(t, rend.invocations())
}
