package leakcheck

import "time"

// Scheduler provides time and deferred execution for the detector.
//
// Checks run wherever the scheduler runs its callbacks. Hosts with a UI
// thread pass a dispatch function to NewTimerScheduler so that reports are
// delivered on that thread.
type Scheduler interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc arranges for fn to run once, d from now.
	AfterFunc(d time.Duration, fn func())
}

type timerScheduler struct {
	dispatch func(callback func())
}

// NewTimerScheduler returns a Scheduler backed by time.AfterFunc. When
// dispatch is non-nil each callback is handed to it instead of running on
// the timer goroutine.
func NewTimerScheduler(dispatch func(callback func())) Scheduler {
	return timerScheduler{dispatch: dispatch}
}

func (s timerScheduler) Now() time.Time { return time.Now() }

func (s timerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		if s.dispatch != nil {
			s.dispatch(fn)
			return
		}
		fn()
	})
}
