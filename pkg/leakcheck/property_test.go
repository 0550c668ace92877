package leakcheck_test

import (
	"fmt"
	"runtime"
	"testing"

	"pgregory.net/rapid"

	"github.com/go-drift/leakcheck/pkg/leakcheck"
	"github.com/go-drift/leakcheck/pkg/leaktest"
	"github.com/go-drift/leakcheck/pkg/weakref"
)

type screenFate int

const (
	fateReleased screenFate = iota
	fateKept
	fateKeptVisibleParent
	fateKeptHiddenParent
)

// TestResolutionProperty dismisses a random set of screens in one turn and
// checks that exactly the retained, unprotected ones are reported, once and
// in dismissal order.
func TestResolutionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fates := rapid.SliceOfN(rapid.SampledFrom([]screenFate{
			fateReleased, fateKept, fateKeptVisibleParent, fateKeptHiddenParent,
		}), 1, 12).Draw(rt, "fates")

		e := newEnv(leakcheck.Options{})
		screens := make([]*leaktest.Screen, len(fates))
		var parents []*leaktest.Screen
		var want []string

		for i, fate := range fates {
			s := e.show(fmt.Sprintf("screen-%d", i))
			screens[i] = s
			switch fate {
			case fateKeptVisibleParent:
				p := e.show(fmt.Sprintf("host-%d", i))
				parents = append(parents, p)
				e.det.SetLifecycleExtendingParent(s, p)
			case fateKeptHiddenParent:
				p := e.show(fmt.Sprintf("host-%d", i))
				parents = append(parents, p)
				e.det.SetLifecycleExtendingParent(s, p)
				e.hub.Disappear(p)
			}
		}
		for i, fate := range fates {
			e.hub.Disappear(screens[i])
			if fate == fateKept || fate == fateKeptHiddenParent {
				want = append(want, screens[i].Name)
			}
		}
		var hosts []string
		for i, fate := range fates {
			if fate == fateKeptHiddenParent {
				hosts = append(hosts, fmt.Sprintf("host-%d", i))
			}
		}

		var released []weakref.Ref
		for i, fate := range fates {
			if fate == fateReleased {
				released = append(released, weakref.Make(screens[i]))
				screens[i] = nil
			}
		}
		leaktest.Collect(rt, released...)

		e.sched.Advance(grace)

		// Hidden hosts disappeared before their children did.
		expected := append(hosts, want...)
		got := e.rec.Batches()
		if len(expected) == 0 {
			if len(got) != 0 {
				rt.Fatalf("expected no report, got %v", got)
			}
			return
		}
		if len(got) != 1 {
			rt.Fatalf("expected one report, got %v", got)
		}
		if fmt.Sprint(got[0]) != fmt.Sprint(expected) {
			rt.Fatalf("reported %v, want %v", got[0], expected)
		}
		runtime.KeepAlive(screens)
		runtime.KeepAlive(parents)
	})
}
