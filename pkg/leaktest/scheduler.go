package leaktest

import (
	"slices"
	"sync"
	"time"
)

type timer struct {
	at  time.Time
	seq uint64
	fn  func()
}

// FakeScheduler provides controllable time and deferred execution for
// deterministic detector tests. It satisfies leakcheck.Scheduler.
// All methods are safe for concurrent use. Callbacks run only from Advance
// or Set, on the caller's goroutine, never from AfterFunc.
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []timer
}

// NewFakeScheduler returns a FakeScheduler starting at a fixed epoch.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (s *FakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc schedules fn to run once the fake time reaches now+d.
func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.timers = append(s.timers, timer{at: s.now.Add(d), seq: s.seq, fn: fn})
}

// Pending returns the number of scheduled callbacks that have not run.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Advance moves the clock forward by d, running every callback that falls
// due on the way in deadline order. Callbacks scheduled by a callback run in
// the same call if they fall due before the new time.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()
	s.Set(target)
}

// Set moves the clock to t, running due callbacks as Advance does.
func (s *FakeScheduler) Set(t time.Time) {
	for {
		s.mu.Lock()
		idx := s.nextDueLocked(t)
		if idx < 0 {
			s.now = t
			s.mu.Unlock()
			return
		}
		tm := s.timers[idx]
		s.timers = slices.Delete(s.timers, idx, idx+1)
		if tm.at.After(s.now) {
			s.now = tm.at
		}
		s.mu.Unlock()

		tm.fn()
	}
}

// RunDue runs callbacks that are already due without moving the clock.
func (s *FakeScheduler) RunDue() {
	s.Set(s.Now())
}

func (s *FakeScheduler) nextDueLocked(t time.Time) int {
	idx := -1
	for i, tm := range s.timers {
		if tm.at.After(t) {
			continue
		}
		if idx < 0 || tm.at.Before(s.timers[idx].at) ||
			(tm.at.Equal(s.timers[idx].at) && tm.seq < s.timers[idx].seq) {
			idx = i
		}
	}
	return idx
}
