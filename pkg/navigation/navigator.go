package navigation

import "github.com/go-drift/leakcheck/pkg/lifecycle"

// Navigator configures a route stack.
type Navigator struct {
	// InitialRoute is the name of the first route to display.
	InitialRoute string

	// OnGenerateRoute creates routes from route settings.
	OnGenerateRoute func(settings RouteSettings) Route

	// OnUnknownRoute is called when OnGenerateRoute returns nil.
	OnUnknownRoute func(settings RouteSettings) Route

	// Observers receive navigation events.
	Observers []NavigatorObserver

	// Hub receives appear and disappear transitions for routes.
	// Defaults to lifecycle.Default().
	Hub *lifecycle.Hub
}

// NavigatorState holds a stack of routes. Like the rest of the host it is
// driven from a single UI goroutine and is not safe for concurrent use.
type NavigatorState struct {
	navigator Navigator
	observers []NavigatorObserver
	routes    []Route
}

// NewNavigator creates a navigator and pushes its initial route, if one can
// be generated.
func NewNavigator(n Navigator) *NavigatorState {
	s := &NavigatorState{navigator: n}
	s.observers = append([]NavigatorObserver{LifecycleObserver{Hub: n.Hub}}, n.Observers...)

	if n.InitialRoute != "" {
		if route := s.routeFromName(n.InitialRoute, nil); route != nil {
			s.doPush(route)
		}
	}
	return s
}

// Routes returns a copy of the stack, bottom first.
func (s *NavigatorState) Routes() []Route {
	return append([]Route(nil), s.routes...)
}

// Top returns the visible route, or nil when the stack is empty.
func (s *NavigatorState) Top() Route {
	if len(s.routes) == 0 {
		return nil
	}
	return s.routes[len(s.routes)-1]
}

// Push adds a route to the top of the stack.
func (s *NavigatorState) Push(route Route) {
	if route == nil {
		return
	}
	s.doPush(route)
}

func (s *NavigatorState) doPush(route Route) {
	previousTop := s.Top()
	if previousTop != nil {
		previousTop.DidChangeNext(route)
	}
	s.routes = append(s.routes, route)
	route.DidChangePrevious(previousTop)
	route.DidPush()

	for _, observer := range s.observers {
		observer.DidPush(route, previousTop)
	}
}

func (s *NavigatorState) routeFromName(name string, args any) Route {
	if s.navigator.OnGenerateRoute == nil {
		return nil
	}
	settings := RouteSettings{Name: name, Arguments: args}
	route := s.navigator.OnGenerateRoute(settings)
	if route == nil && s.navigator.OnUnknownRoute != nil {
		route = s.navigator.OnUnknownRoute(settings)
	}
	return route
}

// PushNamed creates a route through OnGenerateRoute and pushes it.
func (s *NavigatorState) PushNamed(name string, args any) {
	if route := s.routeFromName(name, args); route != nil {
		s.doPush(route)
	}
}

// PushReplacementNamed replaces the top route with a generated one.
func (s *NavigatorState) PushReplacementNamed(name string, args any) {
	if route := s.routeFromName(name, args); route != nil {
		s.PushReplacement(route)
	}
}

// Pop removes the top route and hands result to its DidPop. It does nothing
// when only one route remains.
func (s *NavigatorState) Pop(result any) {
	if len(s.routes) <= 1 {
		return
	}
	popped := s.routes[len(s.routes)-1]
	s.routes[len(s.routes)-1] = nil
	s.routes = s.routes[:len(s.routes)-1]
	popped.DidPop(result)

	previousRoute := s.Top()
	previousRoute.DidChangeNext(nil)
	for _, observer := range s.observers {
		observer.DidPop(popped, previousRoute)
	}
}

// PopUntil removes routes until predicate returns true for the top route.
// Each route's WillPop is checked first; removal stops at the first route
// that refuses.
func (s *NavigatorState) PopUntil(predicate func(Route) bool) {
	removed := false
	for len(s.routes) > 1 {
		top := s.routes[len(s.routes)-1]
		if predicate(top) || !top.WillPop() {
			break
		}
		s.routes[len(s.routes)-1] = nil
		s.routes = s.routes[:len(s.routes)-1]
		removed = true

		previous := s.Top()
		top.DidPop(nil)
		for _, observer := range s.observers {
			observer.DidRemove(top, previous)
		}
	}
	if removed {
		s.Top().DidChangeNext(nil)
	}
}

// PushReplacement replaces the top route. On an empty stack it pushes.
func (s *NavigatorState) PushReplacement(route Route) {
	if route == nil {
		return
	}
	if len(s.routes) == 0 {
		s.doPush(route)
		return
	}
	oldRoute := s.routes[len(s.routes)-1]
	var previousOfOld Route
	if len(s.routes) > 1 {
		previousOfOld = s.routes[len(s.routes)-2]
	}

	s.routes[len(s.routes)-1] = route
	oldRoute.DidPop(nil)
	route.DidChangePrevious(previousOfOld)
	route.DidPush()

	for _, observer := range s.observers {
		observer.DidReplace(route, oldRoute)
	}
}

// CanPop reports whether there is a route above the root.
func (s *NavigatorState) CanPop() bool {
	return len(s.routes) > 1
}

// MaybePop pops if possible and the top route's WillPop agrees. It reports
// whether a route was popped.
func (s *NavigatorState) MaybePop(result any) bool {
	if !s.CanPop() {
		return false
	}
	if !s.Top().WillPop() {
		return false
	}
	s.Pop(result)
	return true
}

// Dispose removes every route, root included, reporting each as gone, top
// first.
func (s *NavigatorState) Dispose() {
	for len(s.routes) > 0 {
		top := s.routes[len(s.routes)-1]
		s.routes[len(s.routes)-1] = nil
		s.routes = s.routes[:len(s.routes)-1]
		top.DidPop(nil)
		previous := s.Top()
		for _, observer := range s.observers {
			observer.DidRemove(top, previous)
		}
	}
}
