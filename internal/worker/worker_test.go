package worker

import (
	"context"
	"errors"
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

// fakeStream is an in-memory rpcapi.AcquireIsolateServer for driving a
// Worker without a real gRPC transport.
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

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	reg := registry.New()
	sched := scheduler.New(2)
	w, err := New(logging.Nop(), sched, reg)
	require.NoError(t, err)
	return w
}

func TestServeRequiresInitializeFirst(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w := newTestWorker(t)
	stream := newFakeStream(ctx)

	stream.in <- &rpcapi.IsolateClientMessage{ScriptSchedule: &rpcapi.ScriptSchedule{Source: "1"}}

	err := w.Serve(ctx, stream)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestServeExecutesScriptAndReturnsResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w := newTestWorker(t)
	stream := newFakeStream(ctx)

	stream.in <- &rpcapi.IsolateClientMessage{Initialize: &rpcapi.Initialize{
		ExecutionTimeLimit: time.Second,
		CPUTimeLimit:       time.Second,
	}}
	stream.in <- &rpcapi.IsolateClientMessage{ScriptSchedule: &rpcapi.ScriptSchedule{Nonce: "A", Source: "21 * 2"}}
	close(stream.in)

	err := w.Serve(ctx, stream)
	require.NoError(t, err)

	select {
	case msg := <-stream.out:
		require.NotNil(t, msg.ScriptDone)
		assert.Equal(t, "A", msg.ScriptDone.Nonce)
		assert.Equal(t, "", msg.ScriptDone.ErrorKind)
		assert.Equal(t, "42", msg.ScriptDone.Result)
	default:
		t.Fatal("expected a ScriptDone message")
	}
}

// TestServeCorrelatesMultipleScriptsByNonce exercises spec §7's guarantee
// that the session survives one script and accepts another, and that each
// ScriptDone echoes the nonce of the ScriptSchedule that produced it so a
// client with more than one script in flight can tell results apart.
func TestServeCorrelatesMultipleScriptsByNonce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w := newTestWorker(t)
	stream := newFakeStream(ctx)

	stream.in <- &rpcapi.IsolateClientMessage{Initialize: &rpcapi.Initialize{
		ExecutionTimeLimit: time.Second,
		CPUTimeLimit:       time.Second,
	}}
	stream.in <- &rpcapi.IsolateClientMessage{ScriptSchedule: &rpcapi.ScriptSchedule{Nonce: "A", Source: "1 + 1"}}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Serve(ctx, stream) }()

	msg := <-stream.out
	require.NotNil(t, msg.ScriptDone)
	assert.Equal(t, "A", msg.ScriptDone.Nonce)
	assert.Equal(t, "2", msg.ScriptDone.Result)

	stream.in <- &rpcapi.IsolateClientMessage{ScriptSchedule: &rpcapi.ScriptSchedule{Nonce: "B", Source: "2 + 2"}}
	close(stream.in)

	msg = <-stream.out
	require.NotNil(t, msg.ScriptDone)
	assert.Equal(t, "B", msg.ScriptDone.Nonce)
	assert.Equal(t, "4", msg.ScriptDone.Result)

	require.NoError(t, <-errCh)
}

func TestServeForwardsResourceRequestAndRoutesResponse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w := newTestWorker(t)
	stream := newFakeStream(ctx)

	stream.in <- &rpcapi.IsolateClientMessage{Initialize: &rpcapi.Initialize{
		ExecutionTimeLimit:    time.Second,
		CPUTimeLimit:          time.Second,
		ResourceRequestsLimit: 5,
	}}
	stream.in <- &rpcapi.IsolateClientMessage{ScriptSchedule: &rpcapi.ScriptSchedule{
		Source: `__host.op_resource_request_response("echo", "hi")`,
	}}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Serve(ctx, stream) }()

	var done *rpcapi.ScriptDone
	for done == nil {
		select {
		case msg := <-stream.out:
			switch {
			case msg.ScriptResourceRequest != nil:
				req := msg.ScriptResourceRequest
				require.Equal(t, "echo", req.Kind)
				require.NotEmpty(t, req.Nonce)
				stream.in <- &rpcapi.IsolateClientMessage{ScriptResourceResponse: &rpcapi.ScriptResourceResponse{
					Nonce:   req.Nonce,
					Payload: []byte("echoed-hi"),
				}}
			case msg.ScriptDone != nil:
				done = msg.ScriptDone
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for ScriptDone")
		}
	}
	require.Equal(t, "", done.ErrorKind)
	assert.Equal(t, "echoed-hi", done.Result)

	cancel()
	<-errCh
}

func TestClassifyErrorDefaultsToInternalError(t *testing.T) {
	kind, msg := classifyError(errors.New("mystery"))
	assert.Equal(t, "internal_error", kind)
	assert.Equal(t, "mystery", msg)
}
