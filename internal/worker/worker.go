// Package worker implements the Worker component combined with the
// Session Messaging Task (spec §4, §4.4): for the lifetime of one
// AcquireIsolate stream, a Worker owns the isolate's Engine Wrapper,
// Resource Table, and Resource-Request Bridge, multiplexing the RPC
// stream's inbound ScriptSchedule/ScriptResourceResponse messages against
// the bridge's outbound resource requests and the engine's ScriptDone
// results. The two are merged into a single type here — see DESIGN.md for
// why splitting them into separate goroutine-owned components bought
// nothing once script execution itself always runs on a Pool Scheduler
// goroutine rather than a dedicated per-isolate thread.
package worker

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/merlinfuchs/isolator/internal/bridge"
	"github.com/merlinfuchs/isolator/internal/enginewrap"
	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
	"github.com/merlinfuchs/isolator/internal/rpcapi"
	"github.com/merlinfuchs/isolator/internal/scheduler"
)

// ErrProtocolViolation is returned when the client's first message on the
// stream is not Initialize, it sends more than one Initialize, or it
// schedules a second script while one is still running.
var ErrProtocolViolation = errors.New("worker: protocol violation")

// Worker drives one AcquireIsolate stream end to end.
//
// A single goja.Runtime is not safe for concurrent use, so at most one
// ScriptSchedule may be in flight at a time; everything else — receiving
// the next client message, forwarding bridge resource requests, routing
// resource responses back to a running script — happens concurrently with
// that one in-flight execution. Every outbound message funnels through
// outCh onto a single writer goroutine, since gRPC streams require sends
// to be serialized.
type Worker struct {
	id        string
	logger    *logging.Logger
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	table     *resourcetable.Table
	bridge    *bridge.Bridge
	wrapper   *enginewrap.Wrapper

	outCh chan *rpcapi.IsolateServerMessage

	mu         sync.Mutex
	pending    map[string]*bridge.ReplySlot
	scriptBusy bool
}

// New constructs a Worker for a fresh isolate. The isolate is registered
// into reg as a side effect of constructing its Engine Wrapper.
func New(logger *logging.Logger, sched *scheduler.Scheduler, reg *registry.Registry) (*Worker, error) {
	id := registry.NewIsolateID()
	tbl := resourcetable.New()
	b := bridge.New(32)

	wrapper, err := enginewrap.New(enginewrap.Config{
		ID:       id,
		Table:    tbl,
		Registry: reg,
		Bridge:   b,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &Worker{
		id:        id,
		logger:    logger,
		scheduler: sched,
		registry:  reg,
		table:     tbl,
		bridge:    b,
		wrapper:   wrapper,
		outCh:     make(chan *rpcapi.IsolateServerMessage, 32),
		pending:   make(map[string]*bridge.ReplySlot),
	}, nil
}

// ID returns the isolate identifier this Worker was constructed for.
func (w *Worker) ID() string { return w.id }

// Serve runs the full lifecycle of one AcquireIsolate stream: reads the
// initial Initialize, prepares the engine, then alternates between
// forwarding bridge-originated resource requests to the client and
// executing ScriptSchedule requests the client sends, until the stream
// ends or ctx is cancelled.
func (w *Worker) Serve(ctx context.Context, stream rpcapi.AcquireIsolateServer) error {
	defer w.wrapper.Close()
	defer w.bridge.Close()
	defer w.cancelAllPending()

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Initialize == nil {
		return ErrProtocolViolation
	}
	init := first.Initialize
	w.table.Initialize(init.ExecutionTimeLimit, init.CPUTimeLimit, init.ResourceRequestsLimit)
	w.table.SetHeapLimits(init.SoftHeapLimitBytes, init.HardHeapLimitBytes, currentHeapAlloc())

	if err := w.wrapper.Prepare(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.forwardBridgeRequests(runCtx) }()
	go func() { defer wg.Done(); w.writeLoop(runCtx, stream) }()

	w.logger.Info().Str("isolate_id", w.id).Log("isolate initialized")

	var scripts sync.WaitGroup

	loopErr := func() error {
		for {
			msg, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			switch {
			case msg.Initialize != nil:
				return ErrProtocolViolation

			case msg.ScriptSchedule != nil:
				if !w.tryBeginScript() {
					return ErrProtocolViolation
				}
				sched := msg.ScriptSchedule
				scripts.Add(1)
				go func() {
					defer scripts.Done()
					done := w.runScript(runCtx, sched)
					w.endScript()
					w.send(runCtx, &rpcapi.IsolateServerMessage{ScriptDone: done})
				}()

			case msg.ScriptResourceResponse != nil:
				w.fulfillPending(msg.ScriptResourceResponse)
			}
		}
	}()

	// Let any script already dispatched to the Pool Scheduler finish and
	// push its ScriptDone before tearing down the writer/forwarder
	// goroutines that deliver it.
	scripts.Wait()
	cancel()
	wg.Wait()

	return loopErr
}

// writeLoop is the sole goroutine permitted to call stream.Send, since
// gRPC streams do not support concurrent sends. On cancellation it drains
// whatever is already queued in outCh before returning, so a ScriptDone
// enqueued by a script goroutine that Serve has already waited on (via
// scripts.Wait, which happens before cancel) is never dropped on the floor.
func (w *Worker) writeLoop(ctx context.Context, stream rpcapi.AcquireIsolateServer) {
	for {
		select {
		case msg := <-w.outCh:
			if err := stream.Send(msg); err != nil {
				w.logger.Err().Str("isolate_id", w.id).Err(err).Log("failed to write to stream")
				return
			}
		case <-ctx.Done():
			for {
				select {
				case msg := <-w.outCh:
					_ = stream.Send(msg)
				default:
					return
				}
			}
		}
	}
}

// send enqueues msg for the writer goroutine, without blocking past ctx.
func (w *Worker) send(ctx context.Context, msg *rpcapi.IsolateServerMessage) {
	select {
	case w.outCh <- msg:
	case <-ctx.Done():
	}
}

func (w *Worker) tryBeginScript() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scriptBusy {
		return false
	}
	w.scriptBusy = true
	return true
}

func (w *Worker) endScript() {
	w.mu.Lock()
	w.scriptBusy = false
	w.mu.Unlock()
}

// runScript submits one ScriptSchedule to the Pool Scheduler and blocks
// until it completes, translating the enginewrap result into the §7
// ScriptDone wire shape.
func (w *Worker) runScript(ctx context.Context, sched *rpcapi.ScriptSchedule) *rpcapi.ScriptDone {
	done := &rpcapi.ScriptDone{Nonce: sched.Nonce}
	snap := w.table.Snapshot()

	runErr := w.scheduler.Run(ctx, func() {
		result, err := w.wrapper.ExecuteScript(ctx, enginewrap.ScriptContext{
			Source:             sched.Source,
			IsModule:           sched.IsModule,
			ExecutionTimeLimit: snap.ExecutionTimeLimit,
			CPUTimeLimit:       snap.CPUTimeLimit,
		})
		if err != nil {
			done.ErrorKind, done.ErrorMessage = classifyError(err)
			return
		}
		done.Result = result
	})
	if runErr != nil {
		done.ErrorKind, done.ErrorMessage = "scheduler_unavailable", runErr.Error()
	}
	return done
}

// classifyError maps an enginewrap error into the §7 ErrorKind vocabulary.
func classifyError(err error) (kind, message string) {
	var execTimeout *enginewrap.ErrExecutionTimeout
	var cpuTimeout *enginewrap.ErrCPUTimeout
	var heapSoft *enginewrap.ErrHeapExhausted
	var heapHard *enginewrap.ErrHeapHardExhausted
	var moduleErr *enginewrap.ErrModuleLoad
	var scriptErr *enginewrap.ScriptThrowsError

	switch {
	case errors.As(err, &execTimeout):
		return "execution_timeout", err.Error()
	case errors.As(err, &cpuTimeout):
		return "cpu_timeout", err.Error()
	case errors.As(err, &heapHard):
		return "heap_hard_exhausted", err.Error()
	case errors.As(err, &heapSoft):
		return "heap_soft_exhausted", err.Error()
	case errors.As(err, &moduleErr):
		return "module_load_error", err.Error()
	case errors.As(err, &scriptErr):
		return "script_error", err.Error()
	default:
		return "internal_error", err.Error()
	}
}

// forwardBridgeRequests pumps the bridge's outbound queue onto outCh,
// minting a nonce for any request carrying a ReplySlot so the client's
// eventual ScriptResourceResponse can be routed back.
func (w *Worker) forwardBridgeRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.bridge.Requests():
			out := &rpcapi.ScriptResourceRequest{Kind: req.Kind, Payload: req.Payload}
			if req.Reply != nil {
				out.Nonce = uuid.NewString()
				w.registerPending(out.Nonce, req.Reply)
			}
			w.send(ctx, &rpcapi.IsolateServerMessage{ScriptResourceRequest: out})
		}
	}
}

func (w *Worker) registerPending(nonce string, slot *bridge.ReplySlot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[nonce] = slot
}

func (w *Worker) fulfillPending(resp *rpcapi.ScriptResourceResponse) {
	w.mu.Lock()
	slot, ok := w.pending[resp.Nonce]
	if ok {
		delete(w.pending, resp.Nonce)
	}
	w.mu.Unlock()
	if ok {
		slot.Fulfill(resp.Payload)
	}
}

func (w *Worker) cancelAllPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for nonce, slot := range w.pending {
		slot.Cancel()
		delete(w.pending, nonce)
	}
}

func currentHeapAlloc() uint64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.HeapAlloc
}
