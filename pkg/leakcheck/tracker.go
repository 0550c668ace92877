package leakcheck

import (
	"time"

	"github.com/go-drift/leakcheck/pkg/weakref"
)

// candidate is one disappearance awaiting its check.
type candidate struct {
	ref           weakref.Ref
	disappearedAt time.Time
	due           time.Time
	stack         string
}

// trackLocked records a disappearance and makes sure a flush is scheduled.
func (d *Detector) trackLocked(ref weakref.Ref, stack string) {
	now := d.sched.Now()
	d.pending = append(d.pending, &candidate{
		ref:           ref,
		disappearedAt: now,
		due:           now.Add(d.opts.GracePeriod),
		stack:         stack,
	})
	d.stats.Tracked++
	d.armLocked(now)
}

// armLocked schedules one flush for the earliest pending deadline, pushed
// back by the batch window. At most one flush is scheduled at a time.
func (d *Detector) armLocked(now time.Time) {
	if d.armed || len(d.pending) == 0 {
		return
	}
	next := d.pending[0].due
	for _, c := range d.pending[1:] {
		if c.due.Before(next) {
			next = c.due
		}
	}
	delay := next.Sub(now) + d.opts.BatchWindow
	if delay < 0 {
		delay = 0
	}
	d.armed = true
	d.sched.AfterFunc(delay, d.flush)
}

// takeDueLocked removes and returns the candidates whose deadline has
// passed, preserving intake order.
func (d *Detector) takeDueLocked(now time.Time) []*candidate {
	var due []*candidate
	rest := d.pending[:0]
	for _, c := range d.pending {
		if c.due.After(now) {
			rest = append(rest, c)
			continue
		}
		due = append(due, c)
	}
	clear(d.pending[len(rest):])
	d.pending = rest
	return due
}
