package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
)

type recordingHandle struct {
	terminated atomic.Bool
}

func (h *recordingHandle) Terminate() { h.terminated.Store(true) }

func TestSupervisorTerminatesOverCPUBudget(t *testing.T) {
	reg := registry.New()
	tbl := resourcetable.New()
	tbl.Initialize(0, 5*time.Millisecond, 0)
	tbl.StartScript(time.Now().Add(-time.Hour))
	tbl.BeginWakeup(time.Now().Add(-time.Hour)) // wakeup started long ago, way over budget

	h := &recordingHandle{}
	reg.Register("iso-cpu", tbl, h)

	s := New(reg, logging.Nop(), 2*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.True(t, h.terminated.Load())
	assert.GreaterOrEqual(t, s.TerminationCount(), uint64(1))
}

func TestSupervisorDoesNotTerminateWithinBudget(t *testing.T) {
	reg := registry.New()
	tbl := resourcetable.New()
	tbl.Initialize(0, time.Hour, 0)
	tbl.StartScript(time.Now())
	tbl.BeginWakeup(time.Now())

	h := &recordingHandle{}
	reg.Register("iso-ok", tbl, h)

	s := New(reg, logging.Nop(), 2*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.False(t, h.terminated.Load())
}

func TestSupervisorDoesNotChargeHostCallWaits(t *testing.T) {
	reg := registry.New()
	tbl := resourcetable.New()
	tbl.Initialize(0, time.Nanosecond, 0)
	tbl.StartScript(time.Now())
	// No BeginWakeup: simulates a host-call wait in progress, which must
	// never be mistaken for CPU-bound work regardless of how small
	// cpu_time_limit is.

	h := &recordingHandle{}
	reg.Register("iso-waiting", tbl, h)

	s := New(reg, logging.Nop(), 2*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.False(t, h.terminated.Load())
}

func TestSupervisorTerminatesOverHeapLimit(t *testing.T) {
	reg := registry.New()
	tbl := resourcetable.New()
	tbl.Initialize(0, time.Hour, 0)
	tbl.StartScript(time.Now())
	tbl.BeginWakeup(time.Now())
	tbl.SetHeapLimits(1, 0, 0) // soft limit of 1 byte above baseline 0: any live heap trips it

	h := &recordingHandle{}
	reg.Register("iso-heap", tbl, h)

	s := New(reg, logging.Nop(), 2*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.True(t, h.terminated.Load())
	assert.Equal(t, resourcetable.ReasonHeapSoftLimit, tbl.TerminationReason())
}
