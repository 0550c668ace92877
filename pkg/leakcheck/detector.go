package leakcheck

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/lifecycle"
	"github.com/go-drift/leakcheck/pkg/weakref"
)

// Stats is a snapshot of detector counters.
type Stats struct {
	// Enabled reports whether disappearances are being tracked.
	Enabled bool `json:"enabled"`
	// Tracked counts candidates ever created.
	Tracked uint64 `json:"tracked"`
	// Pending is the number of candidates awaiting their check.
	Pending int `json:"pending"`
	// Entries is the number of controllers with recorded phase or parent.
	Entries int `json:"entries"`
	// Deallocated, Exempt and Leaked count resolutions by outcome.
	Deallocated uint64 `json:"deallocated"`
	Exempt      uint64 `json:"exempt"`
	Leaked      uint64 `json:"leaked"`
	// Reports counts checks that produced at least one leak.
	Reports uint64 `json:"reports"`
}

// Detector tracks disappeared controllers and reports the ones that
// outlive their grace period. A Detector is safe for concurrent use; all
// tracker and registry state is guarded by one mutex, and the reporter is
// always called without it held.
type Detector struct {
	mu sync.Mutex

	opts   Options
	hub    *lifecycle.Hub
	sched  Scheduler
	logger *slog.Logger

	enabled     bool
	unsubscribe func()
	reporter    func(*Report)

	entries map[weakref.Key]*entry
	pending []*candidate
	// armed is true while a flush is scheduled.
	armed bool

	stats Stats
}

// New creates a detector. It does not observe anything until Enable is
// called.
func New(opts Options) *Detector {
	opts = opts.withDefaults()
	return &Detector{
		opts:    opts,
		hub:     opts.Hub,
		sched:   opts.Scheduler,
		logger:  opts.Logger,
		entries: make(map[weakref.Key]*entry),
	}
}

// Enable starts tracking disappearances. Calling it again is a no-op.
func (d *Detector) Enable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		return
	}
	d.enabled = true
	if d.unsubscribe == nil {
		d.unsubscribe = d.hub.Subscribe(d)
	}
}

// Disable stops tracking new disappearances. Candidates already pending
// are still checked and reported.
func (d *Detector) Disable() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
}

// Enabled reports whether the detector is tracking disappearances.
func (d *Detector) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Close disables the detector and detaches it from its hub. Detectors
// created with New call it when they are no longer needed; the default
// detector lives for the whole process.
func (d *Detector) Close() {
	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.enabled = false
	d.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// SetPossiblyLeakedFunc replaces the reporter. Pass nil to drop reports.
func (d *Detector) SetPossiblyLeakedFunc(fn func(*Report)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporter = fn
}

// SetOptions applies new tuning values. Hub and Scheduler are ignored; use
// SetScheduler to change the scheduler. Candidates already pending keep
// the deadline they were created with.
func (d *Detector) SetOptions(opts Options) {
	opts = opts.withDefaults()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.GracePeriod = opts.GracePeriod
	d.opts.BatchWindow = opts.BatchWindow
	d.opts.MaxParentDepth = opts.MaxParentDepth
	d.opts.CaptureStacks = opts.CaptureStacks
}

// Options returns the detector's current configuration.
func (d *Detector) Options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts
}

// SetScheduler replaces the scheduler used for future checks. A check
// already scheduled still runs on the previous scheduler.
func (d *Detector) SetScheduler(s Scheduler) {
	if s == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched = s
	d.opts.Scheduler = s
}

// Hub returns the event source the detector subscribes to.
func (d *Detector) Hub() *lifecycle.Hub {
	return d.hub
}

// Stats returns a snapshot of the detector's counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Enabled = d.enabled
	s.Pending = len(d.pending)
	s.Entries = len(d.entries)
	return s
}

// HandleLifecycleEvent implements lifecycle.Observer.
func (d *Detector) HandleLifecycleEvent(ev lifecycle.Event) {
	var stack string
	if ev.Kind == lifecycle.KindDisappeared && d.captureStacks() {
		stack = errors.CaptureStack()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := ev.Ref.Key()
	switch ev.Kind {
	case lifecycle.KindAppeared:
		d.entryLocked(key).phase = PhaseVisible
	case lifecycle.KindDisappeared:
		// Phases stay current while disabled so that pending checks see
		// later transitions; only intake stops.
		d.entryLocked(key).phase = PhaseDisappeared
		if d.enabled {
			d.trackLocked(ev.Ref, stack)
		}
	case lifecycle.KindDeallocated:
		delete(d.entries, key)
	}
}

func (d *Detector) captureStacks() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.CaptureStacks
}

// flush runs on the scheduler. It resolves every due candidate and hands
// the leaked ones to the reporter as one report.
func (d *Detector) flush() {
	report, fn := d.resolveDue()
	if report != nil && fn != nil {
		deliver(fn, report)
	}
}

// resolveDue takes and classifies the due candidates under the lock. A
// panic while resolving drops that batch; the lock is always released and
// the next flush is still armed.
func (d *Detector) resolveDue() (report *Report, fn func(*Report)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	now := d.sched.Now()
	defer d.armLocked(now)
	defer errors.Recover("leakcheck.flush")

	due := d.takeDueLocked(now)
	report = d.resolveLocked(due, now)
	d.sweepLocked()
	return report, d.reporter
}

func deliver(fn func(*Report), r *Report) {
	defer errors.Recover("leakcheck.report")
	fn(r)
}

// resolveLocked classifies due candidates in intake order. It returns nil
// when none leaked.
func (d *Detector) resolveLocked(due []*candidate, now time.Time) *Report {
	var (
		leaks []Leak
		seen  map[weakref.Key]struct{}
	)
	for _, c := range due {
		outcome, controller := d.resolveCandidateLocked(c)
		d.logger.Debug("leakcheck resolved",
			slog.String("type", c.ref.TypeName()),
			slog.String("outcome", outcome.String()),
			slog.Duration("age", now.Sub(c.disappearedAt)),
		)
		switch outcome {
		case OutcomeDeallocated:
			d.stats.Deallocated++
		case OutcomeExempt:
			d.stats.Exempt++
		case OutcomeLeaked:
			d.stats.Leaked++
			key := c.ref.Key()
			if seen == nil {
				seen = make(map[weakref.Key]struct{})
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			leaks = append(leaks, Leak{
				Controller:    controller,
				Type:          c.ref.TypeName(),
				DisappearedAt: c.disappearedAt,
				Age:           now.Sub(c.disappearedAt),
				Stack:         c.stack,
			})
		}
	}
	if len(leaks) == 0 {
		return nil
	}
	d.stats.Reports++
	return &Report{ID: uuid.New(), At: now, Leaks: leaks}
}

func (d *Detector) resolveCandidateLocked(c *candidate) (Outcome, any) {
	controller := c.ref.Value()
	if controller == nil {
		return OutcomeDeallocated, nil
	}
	if d.exemptLocked(c.ref.Key()) {
		return OutcomeExempt, nil
	}
	return OutcomeLeaked, controller
}
