package enginewrap

import (
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// bindTimers installs setTimeout/clearTimeout, the one async guest-visible
// primitive this implementation supports beyond the resource-request bridge.
// Callbacks do not run inline on whatever goroutine time.AfterFunc uses;
// they are pushed onto the job queue (SPEC_FULL.md §C) and only ever run on
// the drive loop's own goroutine, alongside the single *goja.Runtime they
// close over.
func (w *Wrapper) bindTimers(rt *goja.Runtime) error {
	if err := rt.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(rt.NewTypeError("setTimeout: first argument must be a function"))
		}
		delayMS := call.Argument(1).ToInteger()
		id := w.nextTimerID()
		atomic.AddInt32(&w.pendingTimers, 1)
		t := time.AfterFunc(time.Duration(delayMS)*time.Millisecond, func() {
			w.jobs.Push(func() {
				atomic.AddInt32(&w.pendingTimers, -1)
				if w.timerCancelled(id) {
					return
				}
				if _, err := fn(goja.Undefined()); err != nil {
					// Matches the teacher's devpack pattern of surfacing
					// uncaught async errors via console rather than
					// crashing the drive loop (see tee_executor.go).
					w.logger.Warning().Str("isolate_id", w.id).Err(err).Log("uncaught error in setTimeout callback")
				}
			})
		})
		w.registerTimer(id, t)
		return rt.ToValue(id)
	}); err != nil {
		return err
	}

	return rt.Set("clearTimeout", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		w.cancelTimer(id)
		return goja.Undefined()
	})
}

func (w *Wrapper) nextTimerID() int64 {
	return atomic.AddInt64(&w.timerSeq, 1)
}

func (w *Wrapper) registerTimer(id int64, t *time.Timer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timers == nil {
		w.timers = make(map[int64]*time.Timer)
	}
	w.timers[id] = t
}

func (w *Wrapper) cancelTimer(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[id]; ok {
		t.Stop()
		delete(w.timers, id)
		if w.cancelled == nil {
			w.cancelled = make(map[int64]bool)
		}
		w.cancelled[id] = true
	}
}

func (w *Wrapper) timerCancelled(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled == nil {
		return false
	}
	return w.cancelled[id]
}

// hasPendingWork reports whether the drive loop should keep pumping the job
// queue after the entry script returns: either jobs are already queued, or a
// timer is still armed and might enqueue one.
func (w *Wrapper) hasPendingWork() bool {
	return !w.jobs.Empty() || atomic.LoadInt32(&w.pendingTimers) > 0
}
