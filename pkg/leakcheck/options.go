package leakcheck

import (
	"log/slog"
	"time"

	"github.com/go-drift/leakcheck/pkg/lifecycle"
)

const (
	// DefaultGracePeriod is how long a disappeared controller may stay alive
	// before it is checked.
	DefaultGracePeriod = 2 * time.Second
	// DefaultMaxParentDepth bounds the lifecycle-extending parent walk.
	DefaultMaxParentDepth = 32
)

// Options configures a Detector. Zero fields take their defaults.
type Options struct {
	// GracePeriod is the delay between a disappearance and its check.
	GracePeriod time.Duration
	// BatchWindow delays each check slightly past the earliest due
	// candidate so that disappearances from the same frame resolve in one
	// report. Zero means no extra delay.
	BatchWindow time.Duration
	// MaxParentDepth is the maximum number of lifecycle-extending parents
	// followed from a candidate.
	MaxParentDepth int
	// CaptureStacks records the call stack of each disappearance and
	// attaches it to the resulting Leak.
	CaptureStacks bool

	// Hub is the event source to subscribe to. Defaults to lifecycle.Default().
	Hub *lifecycle.Hub
	// Scheduler runs deferred checks. Defaults to a timer scheduler that
	// runs checks on the timer goroutine.
	Scheduler Scheduler
	// Logger receives debug records for every resolution. Defaults to a
	// discarding logger.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.BatchWindow < 0 {
		o.BatchWindow = 0
	}
	if o.MaxParentDepth <= 0 {
		o.MaxParentDepth = DefaultMaxParentDepth
	}
	if o.Hub == nil {
		o.Hub = lifecycle.Default()
	}
	if o.Scheduler == nil {
		o.Scheduler = NewTimerScheduler(nil)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
