// Package leakcheck flags UI controllers that stay alive after leaving the
// visible hierarchy.
//
// The detector subscribes to a [lifecycle.Hub]. Every time a controller
// disappears it records a candidate that holds only a weak reference, and
// schedules a check after a grace period. At the check a candidate is
// resolved one of three ways:
//
//   - the controller was collected: healthy, nothing is reported;
//   - the controller, or one of its lifecycle-extending parents, is alive
//     and not disappeared: exempt, nothing is reported;
//   - otherwise the controller is considered leaked.
//
// All leaked controllers resolved by one check are delivered together, in
// disappearance order, to the function set with [SetPossiblyLeakedFunc].
//
// # Quick Start
//
//	leakcheck.SetPossiblyLeakedFunc(func(r *leakcheck.Report) {
//	    for _, leak := range r.Leaks {
//	        log.Printf("possible leak: %s (gone for %s)", leak.Type, leak.Age)
//	    }
//	})
//	leakcheck.Enable()
//
// The host framework then forwards its callbacks to [lifecycle.Appear] and
// [lifecycle.Disappear].
//
// # Lifecycle-Extending Parents
//
// Containers that deliberately keep hidden children alive (tab containers,
// page caches) declare that relationship so the children are not flagged:
//
//	leakcheck.SetLifecycleExtendingParent(hiddenTab, tabContainer)
//
// The edge is weak in both directions. A child stays exempt while any
// ancestor along its parent chain is alive and not disappeared. Chains are
// followed for at most [Options].MaxParentDepth hops, so misconfigured
// cycles terminate.
//
// # Services
//
// The package-level functions operate on [Default], a lazily created
// process-wide detector. Tests and embedders can build isolated detectors
// with [New], each with its own hub and [Scheduler].
package leakcheck
