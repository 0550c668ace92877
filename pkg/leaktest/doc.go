// Package leaktest provides helpers for testing code that uses leakcheck.
//
// # Quick Start
//
// Build an isolated detector on a private hub with a fake scheduler, then
// drive lifecycle events and advance time:
//
//	func TestDetailScreenIsReleased(t *testing.T) {
//	    sched := leaktest.NewFakeScheduler()
//	    hub := lifecycle.NewHub()
//	    det := leakcheck.New(leakcheck.Options{Hub: hub, Scheduler: sched})
//	    rec := leaktest.NewRecorder()
//	    det.SetPossiblyLeakedFunc(rec.Func())
//	    det.Enable()
//
//	    hub.Disappear(screen)
//	    sched.Advance(leakcheck.DefaultGracePeriod)
//
//	    if rec.Count() != 0 {
//	        t.Errorf("unexpected leaks: %v", rec.Batches())
//	    }
//	}
//
// # Garbage Collection
//
// Collect forces collection until a weak reference clears, which is how
// tests simulate a controller being released within its grace period.
// Always drop every strong reference before calling it:
//
//	ref := weakref.Make(screen)
//	hub.Disappear(screen)
//	screen = nil
//	leaktest.Collect(t, ref)
package leaktest
