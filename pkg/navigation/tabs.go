package navigation

import (
	"sync"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/lifecycle"
)

// ParentRegistry records lifecycle-extending parents. *leakcheck.Detector
// implements it.
type ParentRegistry interface {
	SetLifecycleExtendingParent(child, parent any)
}

// TabController holds the selected tab index and notifies listeners when it
// changes.
type TabController struct {
	mu        sync.Mutex
	index     int
	nextID    int
	listeners map[int]func(index int)
}

// NewTabController creates a controller starting at initialIndex.
func NewTabController(initialIndex int) *TabController {
	return &TabController{index: initialIndex}
}

// Index returns the selected tab.
func (c *TabController) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// SetIndex selects a tab. Listeners run only when the index changes.
func (c *TabController) SetIndex(index int) {
	c.mu.Lock()
	if c.index == index {
		c.mu.Unlock()
		return
	}
	c.index = index
	listeners := make([]func(int), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(index)
	}
}

// AddListener registers fn and returns a function that removes it.
func (c *TabController) AddListener(fn func(index int)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners == nil {
		c.listeners = make(map[int]func(int))
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// TabContainer shows one of several tab controllers at a time and keeps the
// others alive for reuse.
type TabContainer struct {
	// Tabs are the tab controllers, typically the root routes of per-tab
	// navigators. They must be pointers.
	Tabs []any

	// Controller optionally provides programmatic control over tab
	// selection. If nil, a controller starting at index 0 is created.
	Controller *TabController

	// Hub receives appear and disappear transitions. Defaults to
	// lifecycle.Default().
	Hub *lifecycle.Hub

	// Registry records the container as parent of its tabs. Defaults to
	// leakcheck.Default().
	Registry ParentRegistry

	current     int
	visible     bool
	unsubscribe func()
}

func (t *TabContainer) hub() *lifecycle.Hub {
	if t.Hub != nil {
		return t.Hub
	}
	return lifecycle.Default()
}

func (t *TabContainer) registry() ParentRegistry {
	if t.Registry != nil {
		return t.Registry
	}
	return leakcheck.Default()
}

// Show puts the container and its selected tab on screen. Every tab is
// registered with the container as its lifecycle-extending parent.
func (t *TabContainer) Show() {
	if t.visible {
		return
	}
	if t.Controller == nil {
		t.Controller = NewTabController(0)
	}
	t.unsubscribe = t.Controller.AddListener(t.onTabChanged)
	t.visible = true

	for _, tab := range t.Tabs {
		t.registry().SetLifecycleExtendingParent(tab, t)
	}
	t.hub().Appear(t)
	t.current = t.validatedIndex()
	if len(t.Tabs) > 0 {
		t.hub().Appear(t.Tabs[t.current])
	}
}

// Select switches to tab index.
func (t *TabContainer) Select(index int) {
	if t.Controller == nil {
		t.Controller = NewTabController(index)
		return
	}
	t.Controller.SetIndex(index)
}

// Current returns the selected tab index.
func (t *TabContainer) Current() int {
	return t.current
}

func (t *TabContainer) validatedIndex() int {
	index := t.Controller.Index()
	if index < 0 || index >= len(t.Tabs) {
		return 0
	}
	return index
}

func (t *TabContainer) onTabChanged(int) {
	if !t.visible || len(t.Tabs) == 0 {
		return
	}
	next := t.validatedIndex()
	if next == t.current {
		return
	}
	t.hub().Disappear(t.Tabs[t.current])
	t.current = next
	t.hub().Appear(t.Tabs[t.current])
}

// Hide takes the container and its selected tab off screen. Hidden tabs lose
// their exemption once the container itself has disappeared.
func (t *TabContainer) Hide() {
	if !t.visible {
		return
	}
	t.visible = false
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	if len(t.Tabs) > 0 {
		t.hub().Disappear(t.Tabs[t.current])
	}
	t.hub().Disappear(t)
}

// Detach clears the parent relation for every tab. Tabs released along with
// the container do not need it; tabs handed elsewhere do.
func (t *TabContainer) Detach() {
	for _, tab := range t.Tabs {
		t.registry().SetLifecycleExtendingParent(tab, nil)
	}
}
