// Package enginewrap implements the Engine Wrapper component of the
// isolate pool design: one goja.Runtime per isolate, wrapped with the
// Resource Table accounting, the Global Registry termination handle, the
// resource-request host calls, and the minimal module evaluator.
package enginewrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/merlinfuchs/isolator/internal/bridge"
	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
)

// Config configures a single Engine Wrapper instance.
type Config struct {
	ID       string
	Table    *resourcetable.Table
	Registry *registry.Registry
	Bridge   *bridge.Bridge
	Logger   *logging.Logger
}

// Wrapper is the Engine Wrapper: a single goja.Runtime plus the accounting
// and termination plumbing the rest of the pool drives it through. A
// Wrapper is used by exactly one Worker goroutine at a time; the only
// method safe to call from other goroutines is Terminate (it implements
// registry.Handle).
type Wrapper struct {
	id     string
	table  *resourcetable.Table
	reg    *registry.Registry
	bridge *bridge.Bridge
	logger *logging.Logger

	rt      *goja.Runtime
	jobs    *jobQueue
	modules *moduleEvaluator

	mu            sync.Mutex
	suspendDepth  int
	terminated    bool
	timers        map[int64]*time.Timer
	cancelled     map[int64]bool
	timerSeq      int64
	pendingTimers int32
	termCh        chan struct{}
}

// New constructs an Engine Wrapper, registering it into the Global Registry
// under cfg.ID (per §5.1, registration happens before the isolate is usable
// and deregistration happens on teardown — the caller, internal/worker,
// must call Close when the isolate is discarded).
func New(cfg Config) (*Wrapper, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.UncapFieldNameMapper())

	w := &Wrapper{
		id:     cfg.ID,
		table:  cfg.Table,
		reg:    cfg.Registry,
		bridge: cfg.Bridge,
		logger: cfg.Logger,
		rt:     rt,
		jobs:   newJobQueue(),
		termCh: make(chan struct{}),
	}
	w.modules = newModuleEvaluator(rt, w.fetchModule)

	if err := bindHostFunctions(rt, cfg.Bridge, cfg.Table, w); err != nil {
		return nil, fmt.Errorf("enginewrap: binding host functions: %w", err)
	}
	if err := w.bindTimers(rt); err != nil {
		return nil, fmt.Errorf("enginewrap: binding timers: %w", err)
	}

	cfg.Registry.Register(cfg.ID, cfg.Table, w)

	return w, nil
}

// Prepare bootstraps the guest-visible globals (console, CommonJS-style
// require) the way the spec's snapshot step would have baked in ahead of
// time. It must be called once, before the first ExecuteScript.
func (w *Wrapper) Prepare() error {
	reqreg := require.NewRegistry()
	reqreg.Enable(w.rt)
	console.Enable(w.rt)
	return nil
}

// Close unregisters the isolate from the Global Registry. Safe to call more
// than once.
func (w *Wrapper) Close() {
	w.reg.Unregister(w.id)
}

// Terminate implements registry.Handle. It is the thread-safe termination
// handle the CPU Supervisor calls from its own goroutine: goja.Interrupt is
// documented as safe to call concurrently with RunProgram, and idempotent
// (a second Interrupt before the first is observed just replaces the
// pending interrupt value).
func (w *Wrapper) Terminate() {
	w.mu.Lock()
	alreadyTerminated := w.terminated
	w.terminated = true
	w.mu.Unlock()
	if !alreadyTerminated {
		close(w.termCh)
	}
	w.rt.Interrupt(terminationSignal{})
}

// terminationSignal is the value handed to goja.Interrupt; classifyGojaError
// recognizes it and consults table.TerminationReason() to decide which
// typed error to surface.
type terminationSignal struct{}

func (terminationSignal) String() string { return "terminated" }

// SuspendForWait implements WakeupAccounting: called by a host function
// just before it blocks the engine goroutine on a channel receive that
// crosses the session boundary (a resource-request reply). It folds
// elapsed on-CPU time into the table and clears current_wakeup so the CPU
// Supervisor does not charge the upcoming wait as CPU time.
func (w *Wrapper) SuspendForWait() {
	w.mu.Lock()
	w.suspendDepth++
	first := w.suspendDepth == 1
	w.mu.Unlock()
	if first {
		w.table.EndWakeup(now())
	}
}

// ResumeFromWait implements WakeupAccounting: called when the blocked host
// function's wait returns, re-opening a wakeup window for the CPU time the
// guest is about to spend processing the reply.
func (w *Wrapper) ResumeFromWait() {
	w.mu.Lock()
	w.suspendDepth--
	last := w.suspendDepth == 0
	w.mu.Unlock()
	if last {
		w.table.BeginWakeup(now())
	}
}

func now() time.Time { return time.Now() }

// fetchModule performs a synchronous resource-request round trip (kind
// "module") to fetch the source for specifier, on behalf of the module
// evaluator's __require. The specifier is qualified against moduleBaseURL
// before it is sent, so the payload the client observes is always a fully
// qualified URL (spec §4.3).
func (w *Wrapper) fetchModule(specifier string) (string, error) {
	slot := bridge.NewReplySlot()
	qualified := moduleBaseURL + specifier
	if err := w.bridge.Send(bridge.Request{Kind: "module", Payload: []byte(qualified), Reply: slot}); err != nil {
		return "", err
	}
	w.SuspendForWait()
	reply, err := slot.Wait(context.Background())
	w.ResumeFromWait()
	if err != nil {
		return "", err
	}
	return string(reply.Payload), nil
}

// ScriptContext carries one ScriptSchedule's inputs (spec §4.1).
type ScriptContext struct {
	Source             string
	IsModule           bool
	ExecutionTimeLimit time.Duration
	CPUTimeLimit       time.Duration
}

// ExecuteScript implements drive_execution (spec §4.1): it runs source to
// completion (or until a limit fires), returning the guest's result
// serialized as a string, or a typed error (see errors.go) classifying why
// it didn't.
//
// The wall-clock execution_time_limit is enforced here via a timer racing
// the engine goroutine: when it fires, Terminate interrupts the runtime and
// the timeout error is returned once drive reports back. The CPU
// Supervisor's own checks fire only while a wakeup bracket is open
// (BeginWakeup without its EndWakeup yet), so a busy loop with no host
// calls is also caught by cpu_time_limit, via Terminate()-driven
// interruption of the runtime from the Supervisor's own goroutine.
func (w *Wrapper) ExecuteScript(ctx context.Context, sc ScriptContext) (string, error) {
	w.table.StartScript(now())
	defer w.table.FinishScript()

	if lim := w.table.CheckBudget(now()); lim != resourcetable.LimitOK {
		return "", classifyLimit(lim, sc)
	}

	resultCh := make(chan execResult, 1)
	go w.drive(sc, resultCh)

	var timer *time.Timer
	var timerCh <-chan time.Time
	if sc.ExecutionTimeLimit > 0 {
		timer = time.NewTimer(sc.ExecutionTimeLimit)
		defer timer.Stop()
		timerCh = timer.C
	}

	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-timerCh:
		w.Terminate()
		res := <-resultCh // drive() always sends, even after interruption
		if res.err != nil {
			return "", res.err
		}
		return "", &ErrExecutionTimeout{Limit: sc.ExecutionTimeLimit}
	case <-ctx.Done():
		w.Terminate()
		<-resultCh
		return "", ctx.Err()
	}
}

type execResult struct {
	value string
	err   error
}

// drive runs the actual goja call on its own goroutine (so ExecuteScript's
// caller can race it against the wall-clock timer) inside a single
// prepare/cleanup-wakeup accounting bracket, per §4.1.
func (w *Wrapper) drive(sc ScriptContext, out chan<- execResult) {
	w.table.BeginWakeup(now())

	var (
		value goja.Value
		err   error
	)
	if sc.IsModule {
		value, err = w.modules.EvaluateEntry(sc.Source)
	} else {
		var prog *goja.Program
		prog, err = goja.Compile("<script>", sc.Source, false)
		if err == nil {
			value, err = w.rt.RunProgram(prog)
		}
	}

	w.table.EndWakeup(now())

	if err != nil {
		out <- execResult{err: w.classifyGojaError(err)}
		return
	}

	if pumpErr := w.pumpJobs(); pumpErr != nil {
		out <- execResult{err: pumpErr}
		return
	}

	if value == nil || goja.IsUndefined(value) {
		out <- execResult{value: ""}
		return
	}
	out <- execResult{value: value.String()}
}

// pumpJobs implements poll_and_wait (§4.1) after the entry script's
// top-level statements have run: drain whatever the job queue already
// holds, run the drained batch inside one wakeup-accounting bracket, and
// suspend on the waker between polls while a timer is still armed. Returns
// as soon as there is nothing queued and nothing that could still enqueue
// something.
func (w *Wrapper) pumpJobs() error {
	for w.hasPendingWork() {
		jobs := w.jobs.drain()
		if len(jobs) == 0 {
			w.jobs.waker.Wait(w.stopCh())
			continue
		}
		w.table.BeginWakeup(now())
		for _, j := range jobs {
			j()
		}
		w.table.EndWakeup(now())
		if lim := w.table.CheckBudget(now()); lim != resourcetable.LimitOK {
			return classifyLimit(lim, ScriptContext{})
		}
	}
	return nil
}

func (w *Wrapper) stopCh() <-chan struct{} {
	return w.termCh
}

// classifyGojaError maps a goja-level error into the §7 typed error
// surface, consulting the Resource Table's recorded termination reason for
// interrupt-triggered errors (Terminate was called by the CPU Supervisor or
// by ExecuteScript's own wall-clock timer).
func (w *Wrapper) classifyGojaError(err error) error {
	switch err.(type) {
	case *goja.InterruptedError:
		snap := w.table.Snapshot()
		switch w.table.TerminationReason() {
		case resourcetable.ReasonCPUTimeLimit:
			return &ErrCPUTimeout{Limit: snap.CPUTimeLimit}
		case resourcetable.ReasonHeapSoftLimit:
			return &ErrHeapExhausted{}
		case resourcetable.ReasonHeapHardLimit:
			return &ErrHeapHardExhausted{}
		default:
			return &ErrExecutionTimeout{Limit: snap.ExecutionTimeLimit}
		}
	case *ErrModuleLoad:
		return err
	}
	return &ScriptThrowsError{Message: err.Error()}
}

func classifyLimit(lim resourcetable.LimitError, sc ScriptContext) error {
	switch lim {
	case resourcetable.LimitExecutionTime:
		return &ErrExecutionTimeout{Limit: sc.ExecutionTimeLimit}
	case resourcetable.LimitCPUTime:
		return &ErrCPUTimeout{Limit: sc.CPUTimeLimit}
	default:
		return nil
	}
}

