package core

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// FatalError is the panic value raised by the default abort hook.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Reason
}

// AbortHook stops the system. It must not return on real hardware.
type AbortHook func(reason string)

var (
	abortHook atomic.Pointer[AbortHook]
	halted    uint32 // atomic bool
)

// SetAbortHook installs the platform halt routine. Passing nil restores
// the default, which panics with a *FatalError.
func SetAbortHook(hook AbortHook) {
	if hook == nil {
		abortHook.Store(nil)
		return
	}
	abortHook.Store(&hook)
}

// Abort reports an unrecoverable registry or hardware inconsistency.
// The reason is logged, the trace ring (if any) is dumped and the abort
// hook runs.
func Abort(reason string, trace *Trace) {
	atomic.StoreUint32(&halted, 1)

	log := Logger("core")
	log.WithField("reason", reason).Error("system abort")
	trace.Dump(log)

	if hook := abortHook.Load(); hook != nil {
		(*hook)(reason)
		return
	}
	panic(&FatalError{Reason: reason})
}

// IsHalted returns true once Abort has been called.
func IsHalted() bool {
	return atomic.LoadUint32(&halted) != 0
}

// ResetHalted clears the halted flag (used by simulators between runs).
func ResetHalted() {
	atomic.StoreUint32(&halted, 0)
}

// Logger returns the component logger. The prefix field is rendered by
// the prefixed text formatter installed by host tools.
func Logger(component string) *logrus.Entry {
	return logrus.StandardLogger().WithField("prefix", component)
}
