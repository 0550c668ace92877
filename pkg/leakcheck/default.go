package leakcheck

import "sync"

var (
	defaultOnce     sync.Once
	defaultDetector *Detector
)

// Default returns the process-wide detector, creating it on first use. It
// observes lifecycle.Default() and checks candidates on timer goroutines.
func Default() *Detector {
	defaultOnce.Do(func() {
		defaultDetector = New(Options{})
	})
	return defaultDetector
}

// Enable starts leak detection on the default detector. It is idempotent.
func Enable() {
	Default().Enable()
}

// SetPossiblyLeakedFunc sets the single process-wide reporter, replacing
// any previous one. fn receives every leaked controller of one check, in
// disappearance order. Pass nil to drop reports.
func SetPossiblyLeakedFunc(fn func(*Report)) {
	Default().SetPossiblyLeakedFunc(fn)
}

// SetLifecycleExtendingParent declares parent as the controller that keeps
// child alive on purpose. Pass a nil parent to clear the relation.
func SetLifecycleExtendingParent(child, parent any) {
	Default().SetLifecycleExtendingParent(child, parent)
}

// LifecycleExtendingParent returns the parent declared for child, if it is
// set and still alive.
func LifecycleExtendingParent(child any) (any, bool) {
	return Default().LifecycleExtendingParent(child)
}
