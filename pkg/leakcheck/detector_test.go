package leakcheck_test

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/leaktest"
	"github.com/go-drift/leakcheck/pkg/lifecycle"
	"github.com/go-drift/leakcheck/pkg/weakref"
)

const grace = time.Second

type env struct {
	hub   *lifecycle.Hub
	sched *leaktest.FakeScheduler
	det   *leakcheck.Detector
	rec   *leaktest.Recorder
}

func newEnv(opts leakcheck.Options) *env {
	e := &env{
		hub:   lifecycle.NewHub(),
		sched: leaktest.NewFakeScheduler(),
		rec:   leaktest.NewRecorder(),
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = grace
	}
	opts.Hub = e.hub
	opts.Scheduler = e.sched
	e.det = leakcheck.New(opts)
	e.det.SetPossiblyLeakedFunc(e.rec.Func())
	e.det.Enable()
	return e
}

// show reports a new screen as visible and returns it.
func (e *env) show(name string) *leaktest.Screen {
	s := leaktest.NewScreen(name)
	e.hub.Appear(s)
	return s
}

// showAndRelease shows a screen, removes it and drops every reference to it.
//
//go:noinline
func (e *env) showAndRelease(name string) weakref.Ref {
	s := e.show(name)
	e.hub.Disappear(s)
	return weakref.Make(s)
}

type handlerFunc struct {
	mu     sync.Mutex
	errs   []*errors.LeakError
	panics []*errors.PanicError
}

func (h *handlerFunc) HandleError(err *errors.LeakError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *handlerFunc) HandlePanic(err *errors.PanicError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, err)
}

func captureErrors(t *testing.T) *handlerFunc {
	t.Helper()
	h := &handlerFunc{}
	old := errors.SetHandler(h)
	t.Cleanup(func() { errors.SetHandler(old) })
	return h
}

func TestLeakedControllerReportedOnce(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	e.hub.Disappear(a)

	e.sched.Advance(grace - time.Millisecond)
	assert.Zero(t, e.rec.Count(), "reported before the grace period elapsed")

	e.sched.Advance(time.Millisecond)
	assert.Equal(t, [][]string{{"A"}}, e.rec.Batches())

	e.sched.Advance(10 * grace)
	assert.Equal(t, 1, e.rec.Occurrences("A"))

	stats := e.det.Stats()
	assert.Equal(t, uint64(1), stats.Tracked)
	assert.Equal(t, uint64(1), stats.Leaked)
	assert.Equal(t, uint64(1), stats.Reports)
	assert.Zero(t, stats.Pending)
	runtime.KeepAlive(a)
}

func TestDeallocatedWithinGraceIsNeverReported(t *testing.T) {
	for _, g := range []time.Duration{time.Millisecond, 100 * time.Millisecond, grace, time.Minute} {
		t.Run(g.String(), func(t *testing.T) {
			e := newEnv(leakcheck.Options{GracePeriod: g})
			ref := e.showAndRelease("D")
			leaktest.Collect(t, ref)

			e.sched.Advance(g)

			assert.Zero(t, e.rec.Count())
			assert.Equal(t, uint64(1), e.det.Stats().Deallocated)
		})
	}
}

func TestLiveVisibleParentExemptsChild(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	c := e.show("C")
	b := e.show("B")
	e.det.SetLifecycleExtendingParent(b, c)
	e.hub.Disappear(b)

	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count())
	assert.Equal(t, uint64(1), e.det.Stats().Exempt)
	runtime.KeepAlive(b)
	runtime.KeepAlive(c)
}

func TestParentWithUnknownPhaseCountsAsVisible(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	parent := leaktest.NewScreen("container")
	child := e.show("child")
	e.det.SetLifecycleExtendingParent(child, parent)
	e.hub.Disappear(child)

	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count())
	runtime.KeepAlive(parent)
	runtime.KeepAlive(child)
}

func TestDisappearedParentDoesNotExempt(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	parent := e.show("parent")
	child := e.show("child")
	e.det.SetLifecycleExtendingParent(child, parent)
	e.hub.Disappear(child)
	e.hub.Disappear(parent)

	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"child", "parent"}}, e.rec.Batches())
	runtime.KeepAlive(parent)
	runtime.KeepAlive(child)
}

func TestCollectedParentDoesNotExempt(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	child := e.show("child")
	parentRef := func() weakref.Ref {
		parent := e.show("parent")
		e.det.SetLifecycleExtendingParent(child, parent)
		got, ok := e.det.LifecycleExtendingParent(child)
		require.True(t, ok)
		require.Same(t, parent, got)
		return weakref.Make(parent)
	}()
	leaktest.Collect(t, parentRef)

	_, ok := e.det.LifecycleExtendingParent(child)
	assert.False(t, ok, "parent link must read as absent after the parent is collected")

	e.hub.Disappear(child)
	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"child"}}, e.rec.Batches())
	runtime.KeepAlive(child)
}

func TestParentChainExemptsLeaf(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	const n = 6
	chain := make([]*leaktest.Screen, n)
	for i := range chain {
		chain[i] = e.show(fmt.Sprintf("s%d", i))
	}
	for i := 0; i < n-1; i++ {
		e.det.SetLifecycleExtendingParent(chain[i], chain[i+1])
	}
	// Every link but the root leaves the hierarchy, leaf first.
	for i := 0; i < n-1; i++ {
		e.hub.Disappear(chain[i])
	}

	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count(), "a live visible root exempts the whole chain")
	assert.Equal(t, uint64(n-1), e.det.Stats().Exempt)
	runtime.KeepAlive(chain)
}

func TestParentChainBeyondDepthLimitIsNotExempt(t *testing.T) {
	e := newEnv(leakcheck.Options{MaxParentDepth: 2})
	leaf := e.show("leaf")
	mid1 := e.show("mid1")
	mid2 := e.show("mid2")
	root := e.show("root")
	e.det.SetLifecycleExtendingParent(leaf, mid1)
	e.det.SetLifecycleExtendingParent(mid1, mid2)
	e.det.SetLifecycleExtendingParent(mid2, root)
	e.hub.Disappear(mid2)
	e.hub.Disappear(mid1)
	e.hub.Disappear(leaf)

	e.sched.Advance(grace)

	// mid2 and mid1 reach root within two hops; leaf needs three.
	assert.Equal(t, [][]string{{"leaf"}}, e.rec.Batches())
	runtime.KeepAlive([]any{leaf, mid1, mid2, root})
}

func TestParentCycleTerminates(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("a")
	b := e.show("b")
	self := e.show("self")
	e.det.SetLifecycleExtendingParent(a, b)
	e.det.SetLifecycleExtendingParent(b, a)
	e.det.SetLifecycleExtendingParent(self, self)
	e.hub.Disappear(a)
	e.hub.Disappear(b)
	e.hub.Disappear(self)

	done := make(chan struct{})
	go func() {
		e.sched.Advance(grace)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("resolution did not terminate on a parent cycle")
	}

	assert.Equal(t, [][]string{{"a", "b", "self"}}, e.rec.Batches())
	runtime.KeepAlive([]any{a, b, self})
}

func TestSameTurnDisappearancesShareOneReport(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	first := e.show("first")
	second := e.show("second")
	e.hub.Disappear(first)
	e.hub.Disappear(second)

	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"first", "second"}}, e.rec.Batches())
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestDifferentTurnsProduceSeparateReports(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	first := e.show("first")
	second := e.show("second")
	e.hub.Disappear(first)
	e.sched.Advance(100 * time.Millisecond)
	e.hub.Disappear(second)

	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"first"}, {"second"}}, e.rec.Batches())
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestBatchWindowGroupsNearbyDisappearances(t *testing.T) {
	e := newEnv(leakcheck.Options{BatchWindow: 16 * time.Millisecond})
	first := e.show("first")
	second := e.show("second")
	e.hub.Disappear(first)
	e.sched.Advance(10 * time.Millisecond)
	e.hub.Disappear(second)

	e.sched.Advance(grace)
	assert.Zero(t, e.rec.Count(), "window delays the check past the first deadline")

	e.sched.Advance(16 * time.Millisecond)
	assert.Equal(t, [][]string{{"first", "second"}}, e.rec.Batches())
	runtime.KeepAlive(first)
	runtime.KeepAlive(second)
}

func TestEnableIsIdempotent(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	e.det.Enable()
	e.det.Enable()
	require.Equal(t, 1, e.hub.Observers())

	a := e.show("A")
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"A"}}, e.rec.Batches())
	assert.Equal(t, uint64(1), e.det.Stats().Tracked)
	runtime.KeepAlive(a)
}

func TestRedisappearanceIsTrackedAgain(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	e.hub.Appear(a)
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"A"}, {"A"}}, e.rec.Batches())
	runtime.KeepAlive(a)
}

func TestDuplicateDisappearanceReportedOncePerBatch(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	e.hub.Disappear(a)
	e.hub.Disappear(a)

	e.sched.Advance(grace)

	assert.Equal(t, [][]string{{"A"}}, e.rec.Batches())
	assert.Equal(t, uint64(2), e.det.Stats().Leaked)
	runtime.KeepAlive(a)
}

func TestReappearedControllerIsExempt(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	e.hub.Disappear(a)
	e.sched.Advance(grace / 2)
	e.hub.Appear(a)

	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count())
	assert.Equal(t, leakcheck.PhaseVisible, e.det.Phase(a))
	runtime.KeepAlive(a)
}

func TestReporterReplacementLastWriteWins(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	second := leaktest.NewRecorder()
	e.det.SetPossiblyLeakedFunc(second.Func())

	a := e.show("A")
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count())
	assert.Equal(t, [][]string{{"A"}}, second.Batches())

	e.det.SetPossiblyLeakedFunc(nil)
	e.hub.Appear(a)
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	assert.Equal(t, 1, second.Count())
	assert.Equal(t, uint64(2), e.det.Stats().Leaked, "resolution still happens without a reporter")
	runtime.KeepAlive(a)
}

func TestReporterPanicIsRecovered(t *testing.T) {
	h := captureErrors(t)
	e := newEnv(leakcheck.Options{})
	e.det.SetPossiblyLeakedFunc(func(*leakcheck.Report) { panic("sink exploded") })

	a := e.show("A")
	e.hub.Disappear(a)
	require.NotPanics(t, func() { e.sched.Advance(grace) })

	h.mu.Lock()
	require.Len(t, h.panics, 1)
	assert.Equal(t, "leakcheck.report", h.panics[0].Op)
	h.mu.Unlock()

	e.det.SetPossiblyLeakedFunc(e.rec.Func())
	e.hub.Appear(a)
	e.hub.Disappear(a)
	e.sched.Advance(grace)
	assert.Equal(t, [][]string{{"A"}}, e.rec.Batches())
	runtime.KeepAlive(a)
}

func TestReportCarriesMetadata(t *testing.T) {
	e := newEnv(leakcheck.Options{CaptureStacks: true})
	var got *leakcheck.Report
	e.det.SetPossiblyLeakedFunc(func(r *leakcheck.Report) { got = r })

	a := e.show("A")
	start := e.sched.Now()
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	require.NotNil(t, got)
	require.Equal(t, 1, got.Len())
	assert.NotEqual(t, [16]byte{}, [16]byte(got.ID))
	assert.Equal(t, start.Add(grace), got.At)
	assert.Equal(t, []string{"*leaktest.Screen"}, got.Types())
	assert.Same(t, a, got.Controllers()[0])

	leak := got.Leaks[0]
	assert.Equal(t, start, leak.DisappearedAt)
	assert.Equal(t, grace, leak.Age)
	assert.Contains(t, leak.Stack, "TestReportCarriesMetadata")
	got = nil
	runtime.KeepAlive(a)
}

func TestDisableStopsIntakeButResolvesPending(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	b := e.show("B")
	e.hub.Disappear(a)
	e.det.Disable()
	e.hub.Disappear(b)

	e.sched.Advance(grace)

	assert.False(t, e.det.Enabled())
	assert.Equal(t, [][]string{{"A"}}, e.rec.Batches())
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestReappearWhileDisabledExempts(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	e.hub.Disappear(a)
	e.det.Disable()
	e.hub.Appear(a)

	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count())
	assert.Equal(t, leakcheck.PhaseVisible, e.det.Phase(a))
	assert.Equal(t, uint64(1), e.det.Stats().Exempt)
	runtime.KeepAlive(a)
}

// panickingHandler is a slog.Handler that panics on every record.
type panickingHandler struct{}

func (panickingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (panickingHandler) Handle(context.Context, slog.Record) error { panic("log sink exploded") }
func (h panickingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h panickingHandler) WithGroup(string) slog.Handler           { return h }

func TestFlushPanicReleasesDetector(t *testing.T) {
	h := captureErrors(t)
	e := newEnv(leakcheck.Options{Logger: slog.New(panickingHandler{})})
	a := e.show("A")
	e.hub.Disappear(a)
	e.sched.Advance(grace)

	h.mu.Lock()
	require.Len(t, h.panics, 1)
	assert.Equal(t, "leakcheck.flush", h.panics[0].Op)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b := e.show("B")
		e.hub.Disappear(b)
		_ = e.det.Stats()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("host blocked after a recovered flush panic")
	}
	assert.Equal(t, 1, e.det.Stats().Pending)
	assert.Equal(t, 1, e.sched.Pending(), "next check is still scheduled")
	runtime.KeepAlive(a)
}

func TestCloseDetachesFromHub(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	e.det.Close()
	assert.Zero(t, e.hub.Observers())

	e.det.Enable()
	assert.Equal(t, 1, e.hub.Observers())
}

func TestSetLifecycleExtendingParentReplacesAndClears(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	child := leaktest.NewScreen("child")
	p1 := leaktest.NewScreen("p1")
	p2 := leaktest.NewScreen("p2")

	_, ok := e.det.LifecycleExtendingParent(child)
	assert.False(t, ok)

	e.det.SetLifecycleExtendingParent(child, p1)
	e.det.SetLifecycleExtendingParent(child, p2)
	got, ok := e.det.LifecycleExtendingParent(child)
	require.True(t, ok)
	assert.Same(t, p2, got)

	var typedNil *leaktest.Screen
	e.det.SetLifecycleExtendingParent(child, typedNil)
	_, ok = e.det.LifecycleExtendingParent(child)
	assert.False(t, ok)

	e.det.SetLifecycleExtendingParent(child, p1)
	e.det.SetLifecycleExtendingParent(child, nil)
	_, ok = e.det.LifecycleExtendingParent(child)
	assert.False(t, ok)
	runtime.KeepAlive([]any{child, p1, p2})
}

func TestParentRelationDoesNotKeepObjectsAlive(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	refs := func() []weakref.Ref {
		a := leaktest.NewScreen("a")
		b := leaktest.NewScreen("b")
		e.det.SetLifecycleExtendingParent(a, b)
		e.det.SetLifecycleExtendingParent(b, a)
		return []weakref.Ref{weakref.Make(a), weakref.Make(b)}
	}()

	leaktest.Collect(t, refs...)
}

func TestEntriesAreDroppedAfterCollection(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	ref := e.showAndRelease("gone")
	leaktest.Collect(t, ref)

	e.sched.Advance(grace)

	assert.Zero(t, e.det.Stats().Entries)
}

func TestUntrackableValuesFailOpen(t *testing.T) {
	h := captureErrors(t)
	e := newEnv(leakcheck.Options{})

	require.NotPanics(t, func() {
		e.hub.Disappear(42)
		e.hub.Disappear(nil)
		e.det.SetLifecycleExtendingParent(struct{}{}, nil)
	})
	e.sched.Advance(grace)

	assert.Zero(t, e.rec.Count())
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.errs, 3)
	for _, err := range h.errs {
		assert.Equal(t, errors.KindInstrument, err.Kind)
	}
}

func TestSetOptionsAppliesToNewCandidates(t *testing.T) {
	e := newEnv(leakcheck.Options{})
	a := e.show("A")
	b := e.show("B")
	e.hub.Disappear(a)
	e.det.SetOptions(leakcheck.Options{GracePeriod: 3 * grace})
	e.hub.Disappear(b)

	e.sched.Advance(grace)
	assert.Equal(t, [][]string{{"A"}}, e.rec.Batches())

	e.sched.Advance(2 * grace)
	assert.Equal(t, [][]string{{"A"}, {"B"}}, e.rec.Batches())
	assert.Equal(t, 3*grace, e.det.Options().GracePeriod)
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestTimerSchedulerUsesDispatch(t *testing.T) {
	dispatched := make(chan struct{}, 1)
	ran := make(chan struct{}, 1)
	s := leakcheck.NewTimerScheduler(func(cb func()) {
		dispatched <- struct{}{}
		cb()
	})
	s.AfterFunc(time.Millisecond, func() { ran <- struct{}{} })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not run")
	}
	assert.Len(t, dispatched, 1)
}
