// Package navigation is a small controller host that reports lifecycle
// transitions to a [lifecycle.Hub].
//
// It models the two containers the leak detector has to understand:
//
// # Stack Navigation with Navigator
//
// A [NavigatorState] keeps an ordered stack of routes. Pushing a route makes
// it appear; popping, removing or replacing it makes it disappear. Routes
// covered by another route stay in the hierarchy and are not reported as
// gone.
//
//	nav := navigation.NewNavigator(navigation.Navigator{
//	    InitialRoute: "/",
//	    OnGenerateRoute: func(settings navigation.RouteSettings) navigation.Route {
//	        return navigation.NewPageRoute(settings)
//	    },
//	})
//	nav.PushNamed("/details", 42)
//	nav.Pop(nil)
//
// # Tab Containers
//
// A [TabContainer] keeps every tab alive while only one is shown. Hidden tabs
// disappear from the hierarchy, so the container declares itself as their
// lifecycle-extending parent and they are exempt for as long as the
// container is visible.
package navigation

import "fmt"

// RouteSettings contains configuration and parameters for a route.
type RouteSettings struct {
	// Name is the route path (e.g., "/home", "/products/123").
	Name string

	// Arguments contains arbitrary data passed during navigation.
	Arguments any
}

// Route represents a screen controller in the navigation stack.
type Route interface {
	// Settings returns the route configuration.
	Settings() RouteSettings

	// DidPush is called when the route is pushed onto the navigator.
	DidPush()

	// DidPop is called when the route is removed from the navigator.
	DidPop(result any)

	// DidChangeNext is called when the next route in the stack changes.
	DidChangeNext(nextRoute Route)

	// DidChangePrevious is called when the previous route in the stack changes.
	DidChangePrevious(previousRoute Route)

	// WillPop is called before the route is popped.
	// Return false to prevent the pop.
	WillPop() bool
}

// BaseRoute provides a default implementation of Route lifecycle methods.
type BaseRoute struct {
	settings RouteSettings
}

// NewBaseRoute creates a BaseRoute with the given settings.
func NewBaseRoute(settings RouteSettings) BaseRoute {
	return BaseRoute{settings: settings}
}

// Settings returns the route settings.
func (r *BaseRoute) Settings() RouteSettings {
	return r.settings
}

// DidPush is a no-op by default.
func (r *BaseRoute) DidPush() {}

// DidPop is a no-op by default.
func (r *BaseRoute) DidPop(result any) {}

// DidChangeNext is a no-op by default.
func (r *BaseRoute) DidChangeNext(nextRoute Route) {}

// DidChangePrevious is a no-op by default.
func (r *BaseRoute) DidChangePrevious(previousRoute Route) {}

// WillPop returns true by default, allowing the pop.
func (r *BaseRoute) WillPop() bool {
	return true
}

// PageRoute is a plain screen. It records its result and whether it is on
// the stack, and lets callers attach arbitrary state.
type PageRoute struct {
	BaseRoute

	// State is owned by the screen. Anything stored here lives as long as
	// the route does.
	State any

	// OnWillPop, when set, decides whether the route may be popped.
	OnWillPop func() bool

	mounted bool
	result  any
}

// NewPageRoute creates a page route with the given settings.
func NewPageRoute(settings RouteSettings) *PageRoute {
	return &PageRoute{BaseRoute: NewBaseRoute(settings)}
}

// DidPush marks the route as mounted.
func (r *PageRoute) DidPush() {
	r.mounted = true
}

// DidPop records the pop result and marks the route as unmounted.
func (r *PageRoute) DidPop(result any) {
	r.mounted = false
	r.result = result
}

// WillPop consults OnWillPop.
func (r *PageRoute) WillPop() bool {
	if r.OnWillPop != nil {
		return r.OnWillPop()
	}
	return true
}

// Mounted reports whether the route is currently on a navigator stack.
func (r *PageRoute) Mounted() bool {
	return r.mounted
}

// Result returns the value the route was last popped with.
func (r *PageRoute) Result() any {
	return r.result
}

func (r *PageRoute) String() string {
	return fmt.Sprintf("PageRoute(%s)", r.settings.Name)
}
