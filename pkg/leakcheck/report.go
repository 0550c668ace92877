package leakcheck

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of one candidate.
type Outcome int

const (
	// OutcomeDeallocated means the controller was collected in time.
	OutcomeDeallocated Outcome = iota + 1
	// OutcomeExempt means the controller, or a lifecycle-extending parent,
	// was still part of the visible hierarchy.
	OutcomeExempt
	// OutcomeLeaked means the controller outlived its grace period.
	OutcomeLeaked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDeallocated:
		return "deallocated"
	case OutcomeExempt:
		return "exempt"
	case OutcomeLeaked:
		return "leaked"
	default:
		return "unknown"
	}
}

// Leak describes one controller judged to be leaked.
type Leak struct {
	// Controller is the leaked instance. Reporters should not retain it
	// beyond the callback, or they become the leak.
	Controller any
	// Type is the controller's dynamic type, e.g. "*app.DetailScreen".
	Type string
	// DisappearedAt is when the controller left the visible hierarchy.
	DisappearedAt time.Time
	// Age is how long the controller had been gone when it was checked.
	Age time.Duration
	// Stack is the disappearance call stack, when stack capture is on.
	Stack string
}

// Report is the ordered set of controllers judged leaked by one check.
type Report struct {
	// ID uniquely identifies the report.
	ID uuid.UUID
	// At is when the check ran.
	At time.Time
	// Leaks holds one entry per controller, in disappearance order.
	Leaks []Leak
}

// Len returns the number of leaked controllers.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Leaks)
}

// Controllers returns the leaked controllers in detection order.
func (r *Report) Controllers() []any {
	if r == nil {
		return nil
	}
	out := make([]any, len(r.Leaks))
	for i, l := range r.Leaks {
		out[i] = l.Controller
	}
	return out
}

// Types returns the controller type names in detection order.
func (r *Report) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Leaks))
	for i, l := range r.Leaks {
		out[i] = l.Type
	}
	return out
}
