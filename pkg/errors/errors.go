// Package errors provides structured error reporting for leakcheck.
//
// Nothing on the detection path returns an error to the host application.
// Failures are wrapped in a LeakError and handed to the global ErrorHandler
// instead, so a misbehaving instrumentation hook or reporter degrades
// detection rather than crashing the app.
package errors

import (
	"fmt"
	"time"
)

// ErrorKind identifies the category of an error.
type ErrorKind int

const (
	// KindUnknown indicates an error of unknown type.
	KindUnknown ErrorKind = iota
	// KindInstrument indicates an instance could not be instrumented.
	KindInstrument
	// KindResolve indicates a failure while resolving a candidate.
	KindResolve
	// KindReport indicates a failure inside a leak reporter.
	KindReport
	// KindConfig indicates a configuration load or reload failure.
	KindConfig
	// KindStore indicates a report persistence failure.
	KindStore
	// KindPanic indicates a recovered panic.
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindInstrument:
		return "instrument"
	case KindResolve:
		return "resolve"
	case KindReport:
		return "report"
	case KindConfig:
		return "config"
	case KindStore:
		return "store"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// LeakError represents a structured error raised inside the detector.
type LeakError struct {
	// Op is the operation that failed (e.g., "lifecycle.Disappear").
	Op string
	// Kind categorizes the error.
	Kind ErrorKind
	// Err is the underlying error.
	Err error
	// Type is the controller type involved, if any.
	Type string
	// StackTrace contains the call stack at the time of the error.
	StackTrace string
	// Timestamp is when the error occurred.
	Timestamp time.Time
}

func (e *LeakError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s [%s] type=%s: %v", e.Op, e.Kind, e.Type, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *LeakError) Unwrap() error {
	return e.Err
}

// PanicError represents a recovered panic.
type PanicError struct {
	// Op is the operation that panicked (e.g., "leakcheck.report").
	Op string
	// Value is the value passed to panic().
	Value any
	// StackTrace contains the call stack at the time of the panic.
	StackTrace string
	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

func (e *PanicError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("panic in %s: %v", e.Op, e.Value)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// ErrorHandler receives errors reported by leakcheck.
type ErrorHandler interface {
	// HandleError is called when an error occurs.
	HandleError(err *LeakError)
	// HandlePanic is called when a panic is recovered.
	HandlePanic(err *PanicError)
}
