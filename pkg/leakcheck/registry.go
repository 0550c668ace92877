package leakcheck

import (
	stderrors "errors"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/weakref"
)

// Phase is the last lifecycle transition seen for a controller.
type Phase int

const (
	// PhaseUnknown means no transition has been seen. Unknown controllers
	// count as visible when they appear as a lifecycle-extending parent.
	PhaseUnknown Phase = iota
	// PhaseVisible means the controller last appeared.
	PhaseVisible
	// PhaseDisappeared means the controller last disappeared.
	PhaseDisappeared
)

func (p Phase) String() string {
	switch p {
	case PhaseVisible:
		return "visible"
	case PhaseDisappeared:
		return "disappeared"
	default:
		return "unknown"
	}
}

// entry is the per-controller record. It never holds a strong reference.
type entry struct {
	phase  Phase
	parent weakref.Ref
}

func (d *Detector) entryLocked(key weakref.Key) *entry {
	e := d.entries[key]
	if e == nil {
		e = &entry{}
		d.entries[key] = e
	}
	return e
}

// SetLifecycleExtendingParent declares that parent legitimately keeps child
// alive after child disappears. A nil parent clears the relation; setting a
// new parent replaces the old one. Neither object is kept alive by the
// relation.
func (d *Detector) SetLifecycleExtendingParent(child, parent any) {
	const op = "leakcheck.SetLifecycleExtendingParent"

	childRef, err := weakref.Of(child)
	if err != nil {
		errors.Report(&errors.LeakError{Op: op, Kind: errors.KindInstrument, Err: err})
		return
	}
	var parentRef weakref.Ref
	if parent != nil {
		parentRef, err = weakref.Of(parent)
		if err != nil && !stderrors.Is(err, weakref.ErrNil) {
			errors.Report(&errors.LeakError{
				Op:   op,
				Kind: errors.KindInstrument,
				Type: childRef.TypeName(),
				Err:  err,
			})
			return
		}
	}

	// The hub reports the child's collection so its entry is dropped.
	d.hub.Watch(child)

	d.mu.Lock()
	defer d.mu.Unlock()
	key := childRef.Key()
	if parentRef.IsZero() {
		if e := d.entries[key]; e != nil {
			e.parent = weakref.Ref{}
			if e.phase == PhaseUnknown {
				delete(d.entries, key)
			}
		}
		return
	}
	d.entryLocked(key).parent = parentRef
}

// LifecycleExtendingParent returns the parent declared for child. It
// reports false when no parent is set or the parent has been collected.
func (d *Detector) LifecycleExtendingParent(child any) (any, bool) {
	key, err := weakref.KeyOf(child)
	if err != nil {
		return nil, false
	}
	d.mu.Lock()
	e := d.entries[key]
	var parent weakref.Ref
	if e != nil {
		parent = e.parent
	}
	d.mu.Unlock()

	v := parent.Value()
	return v, v != nil
}

// Phase returns the last lifecycle phase recorded for c.
func (d *Detector) Phase(c any) Phase {
	key, err := weakref.KeyOf(c)
	if err != nil {
		return PhaseUnknown
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if e := d.entries[key]; e != nil {
		return e.phase
	}
	return PhaseUnknown
}

// exemptLocked walks the chain that starts at key and follows
// lifecycle-extending parents. It reports whether any link is alive and
// not disappeared. Collected links, revisited links and the depth limit end
// the walk.
func (d *Detector) exemptLocked(key weakref.Key) bool {
	visited := make(map[weakref.Key]struct{}, 4)
	for hops := 0; hops <= d.opts.MaxParentDepth; hops++ {
		if !weakref.FromKey(key).Alive() {
			return false
		}
		e := d.entries[key]
		if e == nil || e.phase != PhaseDisappeared {
			return true
		}
		if _, ok := visited[key]; ok {
			return false
		}
		visited[key] = struct{}{}
		if e.parent.IsZero() {
			return false
		}
		key = e.parent.Key()
	}
	return false
}

// sweepLocked drops entries whose controller has been collected. The hub
// normally reports collection, but entries can outlive an unsubscribed
// detector.
func (d *Detector) sweepLocked() {
	for key := range d.entries {
		if !weakref.FromKey(key).Alive() {
			delete(d.entries, key)
		}
	}
}
