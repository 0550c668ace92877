package leaktest

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/weakref"
)

// Screen is a minimal controller for tests. It is large enough to avoid the
// runtime's tiny allocator, so its lifetime is exactly its reachability.
type Screen struct {
	Name     string
	Children []*Screen
}

// NewScreen allocates a Screen on the heap.
//
//go:noinline
func NewScreen(name string) *Screen {
	return &Screen{Name: name}
}

func (s *Screen) String() string {
	return s.Name
}

// TB is the subset of testing.TB the helpers need. Both *testing.T and
// *rapid.T satisfy it.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Collect runs the garbage collector until every ref stops resolving, and
// fails the test if that does not happen.
func Collect(t TB, refs ...weakref.Ref) {
	t.Helper()
	for i := 0; i < 50; i++ {
		runtime.GC()
		if !anyAlive(refs) {
			return
		}
	}
	for _, r := range refs {
		if r.Alive() {
			t.Fatalf("%s was not collected; a strong reference is still held", r.TypeName())
		}
	}
}

func anyAlive(refs []weakref.Ref) bool {
	for _, r := range refs {
		if r.Alive() {
			return true
		}
	}
	return false
}

// Recorder is a reporter that remembers what it was given. It stores the
// names of leaked controllers, never the controllers themselves, so
// recording does not keep anything alive.
type Recorder struct {
	mu      sync.Mutex
	batches [][]string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Func returns the reporter function to pass to SetPossiblyLeakedFunc.
func (r *Recorder) Func() func(*leakcheck.Report) {
	return func(rep *leakcheck.Report) {
		names := make([]string, 0, rep.Len())
		for _, c := range rep.Controllers() {
			names = append(names, Describe(c))
		}
		r.mu.Lock()
		r.batches = append(r.batches, names)
		r.mu.Unlock()
	}
}

// Batches returns the recorded reports, one slice of names per report.
func (r *Recorder) Batches() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.batches))
	for i, b := range r.batches {
		out[i] = append([]string(nil), b...)
	}
	return out
}

// Count returns the number of reports received.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Occurrences returns how many times name was reported across all reports.
func (r *Recorder) Occurrences(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		for _, got := range b {
			if got == name {
				n++
			}
		}
	}
	return n
}

// Reset forgets all recorded reports.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = nil
}

// Describe names a controller: its String method if it has one, otherwise
// its type.
func Describe(c any) string {
	if s, ok := c.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", c)
}
