package errors

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// slot holds the process-wide handler. It is never empty after init.
var slot atomic.Pointer[handlerRef]

type handlerRef struct{ h ErrorHandler }

func init() {
	slot.Store(&handlerRef{h: &LogHandler{}})
}

// Handler returns the handler that currently receives reports.
func Handler() ErrorHandler {
	return slot.Load().h
}

// SetHandler installs h and returns the handler it replaced, so callers can
// restore it later. A nil h installs a LogHandler on slog.Default.
func SetHandler(h ErrorHandler) ErrorHandler {
	if h == nil {
		h = &LogHandler{}
	}
	return slot.Swap(&handlerRef{h: h}).h
}

// Report hands err to the current handler, stamping it if needed.
func Report(err *LeakError) {
	if err == nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	Handler().HandleError(err)
}

// ReportPanic hands a recovered panic to the current handler.
func ReportPanic(err *PanicError) {
	if err == nil {
		return
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now()
	}
	Handler().HandlePanic(err)
}

// Recover reports a panic in progress as a PanicError for op and stops it.
// It must be deferred directly:
//
//	defer errors.Recover("leakcheck.flush")
func Recover(op string) {
	if r := recover(); r != nil {
		reportRecovered(op, r)
	}
}

// RecoverWithCallback is Recover followed by callback(r), which lets the
// caller turn the panic into a return value.
func RecoverWithCallback(op string, callback func(r any)) {
	if r := recover(); r != nil {
		reportRecovered(op, r)
		if callback != nil {
			callback(r)
		}
	}
}

func reportRecovered(op string, r any) {
	// Frames above the panicking function: Callers, captureStack,
	// reportRecovered and the deferred Recover.
	ReportPanic(&PanicError{Op: op, Value: r, StackTrace: captureStack(4)})
}

// CaptureStack returns the stack of its caller, one "function\n\tfile:line"
// entry per frame.
func CaptureStack() string {
	return captureStack(3)
}

func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	pcs = pcs[:runtime.Callers(skip, pcs)]
	if len(pcs) == 0 {
		return ""
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			return sb.String()
		}
	}
}
