// Package lifecycle delivers controller lifecycle events to interested
// observers.
//
// A host UI framework reports two transitions for every controller it
// manages: the controller appeared in the visible hierarchy, and the
// controller disappeared from it. The Hub converts each report into an
// [Event] that carries only a weak reference to the controller, so observers
// can never extend its lifetime. The first time the Hub sees an instance it
// also arranges for a [KindDeallocated] event to be delivered once the
// garbage collector has reclaimed it.
//
// Hosts usually forward from their own callbacks:
//
//	func (r *ScreenRoute) DidPop(result any) {
//	    lifecycle.Disappear(r.screen)
//	}
//
// Instances that cannot be tracked (nil, non-pointer or zero-size values)
// are skipped and reported to the errors handler. The Hub never panics into
// the host.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-drift/leakcheck/pkg/errors"
	"github.com/go-drift/leakcheck/pkg/weakref"
)

// Kind identifies a lifecycle transition.
type Kind int

const (
	// KindAppeared means the controller entered the visible hierarchy.
	KindAppeared Kind = iota + 1
	// KindDisappeared means the controller left the visible hierarchy.
	KindDisappeared
	// KindDeallocated means the controller was reclaimed by the collector.
	KindDeallocated
)

func (k Kind) String() string {
	switch k {
	case KindAppeared:
		return "appeared"
	case KindDisappeared:
		return "disappeared"
	case KindDeallocated:
		return "deallocated"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle transition of one controller.
type Event struct {
	Kind Kind
	// Ref weakly references the controller. For KindDeallocated it no
	// longer resolves, but Ref.Key still identifies the instance.
	Ref weakref.Ref
	// At is when the hub received the transition.
	At time.Time
}

// Observer receives lifecycle events. Events for one hub are delivered
// synchronously on the goroutine that reported them, except
// KindDeallocated, which arrives on a runtime cleanup goroutine.
type Observer interface {
	HandleLifecycleEvent(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// HandleLifecycleEvent calls f(ev).
func (f ObserverFunc) HandleLifecycleEvent(ev Event) { f(ev) }

type subscription struct {
	observer Observer
}

// Hub fans lifecycle events out to observers. The zero value is not
// usable; create hubs with NewHub.
type Hub struct {
	mu        sync.RWMutex
	observers []*subscription
	// watched holds instances with a pending deallocation cleanup.
	watched map[weakref.Key]struct{}
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		watched: make(map[weakref.Key]struct{}),
		now:     time.Now,
	}
}

var defaultHub = NewHub()

// Default returns the process-wide hub used by the package-level functions.
func Default() *Hub {
	return defaultHub
}

// Appear reports that c entered the visible hierarchy on the default hub.
func Appear(c any) { defaultHub.Appear(c) }

// Disappear reports that c left the visible hierarchy on the default hub.
func Disappear(c any) { defaultHub.Disappear(c) }

// Subscribe registers an observer. Observers are notified in subscription
// order. Returns a function that removes the observer; calling it more than
// once is harmless.
func (h *Hub) Subscribe(o Observer) func() {
	if o == nil {
		return func() {}
	}
	sub := &subscription{observer: o}
	h.mu.Lock()
	h.observers = append(h.observers, sub)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.observers {
			if s == sub {
				h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
				return
			}
		}
	}
}

// Observers returns the number of subscribed observers.
func (h *Hub) Observers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Watched returns the number of live instances the hub will report
// deallocation for.
func (h *Hub) Watched() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watched)
}

// Appear reports that c entered the visible hierarchy.
func (h *Hub) Appear(c any) {
	h.emit("lifecycle.Appear", KindAppeared, c)
}

// Disappear reports that c left the visible hierarchy.
func (h *Hub) Disappear(c any) {
	h.emit("lifecycle.Disappear", KindDisappeared, c)
}

// Watch arranges for a KindDeallocated event once c is collected, without
// reporting a transition. It is a no-op for instances already watched.
func (h *Hub) Watch(c any) {
	const op = "lifecycle.Watch"
	defer errors.Recover(op)

	ref, err := weakref.Of(c)
	if err != nil {
		return
	}
	h.watch(op, c, ref.Key())
}

func (h *Hub) emit(op string, kind Kind, c any) {
	defer errors.Recover(op)

	ref, err := weakref.Of(c)
	if err != nil {
		errors.Report(&errors.LeakError{
			Op:   op,
			Kind: errors.KindInstrument,
			Type: fmt.Sprintf("%T", c),
			Err:  err,
		})
		return
	}
	h.watch(op, c, ref.Key())
	h.dispatch(Event{Kind: kind, Ref: ref, At: h.now()})
}

// watch registers a deallocation cleanup the first time an instance is
// seen. Failure leaves the instance observable through weak liveness only.
func (h *Hub) watch(op string, c any, key weakref.Key) {
	h.mu.Lock()
	if _, ok := h.watched[key]; ok {
		h.mu.Unlock()
		return
	}
	h.watched[key] = struct{}{}
	h.mu.Unlock()

	err := func() (err error) {
		defer errors.RecoverWithCallback(op, func(r any) {
			err = fmt.Errorf("register cleanup: %v", r)
		})
		return weakref.OnCollect(c, h.collected)
	}()
	if err != nil {
		h.mu.Lock()
		delete(h.watched, key)
		h.mu.Unlock()
		errors.Report(&errors.LeakError{
			Op:   op,
			Kind: errors.KindInstrument,
			Type: key.TypeName(),
			Err:  err,
		})
	}
}

func (h *Hub) collected(key weakref.Key) {
	h.mu.Lock()
	delete(h.watched, key)
	h.mu.Unlock()
	h.dispatch(Event{Kind: KindDeallocated, Ref: weakref.FromKey(key), At: h.now()})
}

func (h *Hub) dispatch(ev Event) {
	h.mu.RLock()
	subs := make([]*subscription, len(h.observers))
	copy(subs, h.observers)
	h.mu.RUnlock()

	for _, s := range subs {
		notify(s.observer, ev)
	}
}

func notify(o Observer, ev Event) {
	defer errors.Recover("lifecycle.notify")
	o.HandleLifecycleEvent(ev)
}
