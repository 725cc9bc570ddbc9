package frontend

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/rpcapi"
	"github.com/merlinfuchs/isolator/internal/scheduler"
)

type fakeStream struct {
	ctx context.Context
	in  chan *rpcapi.IsolateClientMessage
	out chan *rpcapi.IsolateServerMessage
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{
		ctx: ctx,
		in:  make(chan *rpcapi.IsolateClientMessage, 16),
		out: make(chan *rpcapi.IsolateServerMessage, 16),
	}
}

func (f *fakeStream) Send(m *rpcapi.IsolateServerMessage) error {
	select {
	case f.out <- m:
		return nil
	case <-f.ctx.Done():
		return f.ctx.Err()
	}
}

func (f *fakeStream) Recv() (*rpcapi.IsolateClientMessage, error) {
	select {
	case m, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func newTestFrontend() (*Frontend, *registry.Registry, *scheduler.Scheduler) {
	reg := registry.New()
	sched := scheduler.New(2)
	return New(logging.Nop(), sched, reg), reg, sched
}

func TestAcquireIsolateRunsOneStreamEndToEnd(t *testing.T) {
	f, _, _ := newTestFrontend()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream := newFakeStream(ctx)

	stream.in <- &rpcapi.IsolateClientMessage{Initialize: &rpcapi.Initialize{
		ExecutionTimeLimit: time.Second,
		CPUTimeLimit:       time.Second,
	}}
	stream.in <- &rpcapi.IsolateClientMessage{ScriptSchedule: &rpcapi.ScriptSchedule{Nonce: "A", Source: "1 + 1"}}
	close(stream.in)

	err := f.AcquireIsolate(stream)
	require.NoError(t, err)

	msg := <-stream.out
	require.NotNil(t, msg.ScriptDone)
	assert.Equal(t, "A", msg.ScriptDone.Nonce)
	assert.Equal(t, "2", msg.ScriptDone.Result)
}

func TestAcquireIsolateRejectsWhileDraining(t *testing.T) {
	f, _, _ := newTestFrontend()
	_, err := f.Drain(context.Background(), &rpcapi.DrainRequest{})
	require.NoError(t, err)
	assert.True(t, f.Draining())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = f.AcquireIsolate(newFakeStream(ctx))
	assert.ErrorIs(t, err, ErrDraining)
}

func TestGetStatusIsReservedNoop(t *testing.T) {
	f, reg, _ := newTestFrontend()
	reg.Register("iso-1", nil, &noopHandle{})

	resp, err := f.GetStatus(context.Background(), &rpcapi.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, &rpcapi.StatusResponse{}, resp)
}

func TestKillIsolatesIsReservedNoop(t *testing.T) {
	f, reg, _ := newTestFrontend()
	h := &noopHandle{}
	reg.Register("iso-1", nil, h)

	resp, err := f.KillIsolates(context.Background(), &rpcapi.KillIsolatesRequest{})
	require.NoError(t, err)
	assert.Equal(t, &rpcapi.KillIsolatesResponse{}, resp)
	assert.False(t, h.terminated, "KillIsolates is reserved; it must not actually terminate anything")
}

func TestKillReturnsSuccessThenExits(t *testing.T) {
	f, _, _ := newTestFrontend()
	exited := make(chan int, 1)
	f.exit = func(code int) { exited <- code }

	resp, err := f.Kill(context.Background(), &rpcapi.KillRequest{})
	require.NoError(t, err)
	assert.Equal(t, &rpcapi.KillResponse{}, resp)

	select {
	case code := <-exited:
		assert.Equal(t, 0, code)
	case <-time.After(time.Second):
		t.Fatal("expected exit to be invoked shortly after Kill returns")
	}
}

type noopHandle struct{ terminated bool }

func (h *noopHandle) Terminate() { h.terminated = true }
