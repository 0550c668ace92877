package navigation

import "github.com/go-drift/leakcheck/pkg/lifecycle"

// NavigatorObserver receives navigation events from a [NavigatorState].
type NavigatorObserver interface {
	// DidPush is called after route was pushed on top of previousRoute.
	DidPush(route, previousRoute Route)
	// DidPop is called after route was popped, revealing previousRoute.
	DidPop(route, previousRoute Route)
	// DidRemove is called after route was removed without animation.
	DidRemove(route, previousRoute Route)
	// DidReplace is called after oldRoute was replaced by newRoute.
	DidReplace(newRoute, oldRoute Route)
}

// LifecycleObserver forwards navigation events to a lifecycle hub. Every
// navigator installs one ahead of its configured observers.
type LifecycleObserver struct {
	Hub *lifecycle.Hub
}

func (o LifecycleObserver) hub() *lifecycle.Hub {
	if o.Hub != nil {
		return o.Hub
	}
	return lifecycle.Default()
}

// DidPush reports route as appeared.
func (o LifecycleObserver) DidPush(route, previousRoute Route) {
	o.hub().Appear(route)
}

// DidPop reports route as disappeared.
func (o LifecycleObserver) DidPop(route, previousRoute Route) {
	o.hub().Disappear(route)
}

// DidRemove reports route as disappeared.
func (o LifecycleObserver) DidRemove(route, previousRoute Route) {
	o.hub().Disappear(route)
}

// DidReplace reports oldRoute as disappeared and newRoute as appeared.
func (o LifecycleObserver) DidReplace(newRoute, oldRoute Route) {
	o.hub().Disappear(oldRoute)
	o.hub().Appear(newRoute)
}
