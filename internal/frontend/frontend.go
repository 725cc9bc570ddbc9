// Package frontend implements the RPC Frontend (spec §4.6, §6): the
// rpcapi.Server implementation that the gRPC server dispatches into. It
// owns no isolate state itself — each AcquireIsolate call constructs a
// fresh worker.Worker and hands the stream straight to it — and otherwise
// answers the small set of operational unary RPCs: GetStatus and
// KillIsolates as empty-success no-ops, Drain, and Kill.
package frontend

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/rpcapi"
	"github.com/merlinfuchs/isolator/internal/scheduler"
	"github.com/merlinfuchs/isolator/internal/worker"
)

// ErrDraining is returned by AcquireIsolate once Drain has been called.
var ErrDraining = status("frontend: server is draining, not accepting new isolates")

type status string

func (s status) Error() string { return string(s) }

// Frontend is the rpcapi.Server implementation backing the isolatord
// binary's gRPC listener.
type Frontend struct {
	logger    *logging.Logger
	scheduler *scheduler.Scheduler
	registry  *registry.Registry

	draining atomic.Bool

	// exit is os.Exit by default; Kill's tests substitute a fake so the
	// test process itself doesn't terminate.
	exit func(code int)
}

// New returns a Frontend dispatching isolates onto sched and tracking them
// in reg.
func New(logger *logging.Logger, sched *scheduler.Scheduler, reg *registry.Registry) *Frontend {
	return &Frontend{logger: logger, scheduler: sched, registry: reg, exit: os.Exit}
}

// AcquireIsolate implements rpcapi.Server. It constructs a fresh isolate
// (Engine Wrapper, Resource Table, Bridge) via worker.New for the lifetime
// of this one stream.
func (f *Frontend) AcquireIsolate(stream rpcapi.AcquireIsolateServer) error {
	if f.draining.Load() {
		return ErrDraining
	}

	w, err := worker.New(f.logger, f.scheduler, f.registry)
	if err != nil {
		return err
	}

	f.logger.Info().Str("isolate_id", w.ID()).Log("acquiring isolate")
	err = w.Serve(stream.Context(), stream)
	if err != nil {
		f.logger.Warning().Str("isolate_id", w.ID()).Err(err).Log("isolate stream ended")
	} else {
		f.logger.Info().Str("isolate_id", w.ID()).Log("isolate stream closed")
	}
	return err
}

// GetStatus implements rpcapi.Server: reserved for future use, always
// returns empty success (spec §4.7; the live isolate count it might
// otherwise report is exposed operationally via internal/metrics instead,
// per §9 Open Question (b)).
func (f *Frontend) GetStatus(ctx context.Context, req *rpcapi.StatusRequest) (*rpcapi.StatusResponse, error) {
	return &rpcapi.StatusResponse{}, nil
}

// KillIsolates implements rpcapi.Server: reserved for future use, always
// returns empty success (spec §4.7). Process-level teardown is Kill's job.
func (f *Frontend) KillIsolates(ctx context.Context, req *rpcapi.KillIsolatesRequest) (*rpcapi.KillIsolatesResponse, error) {
	return &rpcapi.KillIsolatesResponse{}, nil
}

// Drain implements rpcapi.Server: stop admitting new AcquireIsolate
// streams. Isolates already in flight are left to finish on their own
// (spec §5 Cancellation (d)).
func (f *Frontend) Drain(ctx context.Context, req *rpcapi.DrainRequest) (*rpcapi.DrainResponse, error) {
	f.draining.Store(true)
	f.logger.Info().Log("draining: no longer accepting new isolates")
	return &rpcapi.DrainResponse{}, nil
}

// Kill implements rpcapi.Server: the RPC itself returns success
// immediately, then the process exits shortly after on its own goroutine
// (spec §4.7, §6), giving the in-flight response a chance to reach the
// client before the process disappears.
func (f *Frontend) Kill(ctx context.Context, req *rpcapi.KillRequest) (*rpcapi.KillResponse, error) {
	f.logger.Warning().Log("kill requested, process will exit shortly")
	go func() {
		time.Sleep(100 * time.Millisecond)
		f.exit(0)
	}()
	return &rpcapi.KillResponse{}, nil
}

// Draining reports whether Drain has been called.
func (f *Frontend) Draining() bool {
	return f.draining.Load()
}
