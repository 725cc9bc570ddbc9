package enginewrap

import (
	"errors"
	"fmt"
	"time"
)

// ErrBridgeUnavailable describes a resource request that cannot be
// delivered because the session's bridge has already been torn down.
// Nothing in this package returns it: host calls and module loads surface
// bridge.ErrBridgeUnavailable from internal/bridge instead.
var ErrBridgeUnavailable = errors.New("enginewrap: resource bridge unavailable")

// ErrModuleLoad wraps a failure to fetch or evaluate a module specifier.
type ErrModuleLoad struct {
	Specifier string
	Err       error
}

func (e *ErrModuleLoad) Error() string {
	return fmt.Sprintf("enginewrap: module %q: %v", e.Specifier, e.Err)
}

func (e *ErrModuleLoad) Unwrap() error { return e.Err }

// ErrExecutionTimeout is returned when a script's execution_time_limit
// elapses, per spec §7.
type ErrExecutionTimeout struct {
	Limit time.Duration
}

func (e *ErrExecutionTimeout) Error() string {
	return fmt.Sprintf("execution time limit of %s exceeded", e.Limit)
}

// ErrCPUTimeout is returned when a script's cpu_time_limit is exhausted and
// the CPU Supervisor has interrupted it, per spec §7.
type ErrCPUTimeout struct {
	Limit time.Duration
}

func (e *ErrCPUTimeout) Error() string {
	return fmt.Sprintf("cpu time limit of %s exceeded", e.Limit)
}

// ErrHeapExhausted is returned when the soft heap limit is crossed: the
// script is interrupted but the process itself is not considered
// compromised.
type ErrHeapExhausted struct {
	LimitBytes uint64
}

func (e *ErrHeapExhausted) Error() string {
	return fmt.Sprintf("heap soft limit of %d bytes exceeded", e.LimitBytes)
}

// ErrHeapHardExhausted is returned when the hard heap limit is crossed. Per
// spec §7, crossing the hard limit is treated as a worker-fatal condition:
// the caller of ExecuteScript should tear the Worker down rather than reuse
// it, since goja offers no way to reclaim memory already allocated by a
// runaway guest short of discarding the whole *goja.Runtime.
type ErrHeapHardExhausted struct {
	LimitBytes uint64
}

func (e *ErrHeapHardExhausted) Error() string {
	return fmt.Sprintf("heap hard limit of %d bytes exceeded", e.LimitBytes)
}

// ScriptThrowsError wraps an uncaught guest-script exception (including
// syntax errors raised by goja.Compile), preserving the engine's own
// message text for the §7 user-visible error surface.
type ScriptThrowsError struct {
	Message string
}

func (e *ScriptThrowsError) Error() string {
	return fmt.Sprintf("script error: %s", e.Message)
}
