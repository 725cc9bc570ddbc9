// Package bridge implements the resource-request bridge described in the
// isolate pool design: the asynchronous channel that lets guest script
// host-calls cross over to the session-level messaging task without
// blocking the worker's engine-owning goroutine for longer than it takes to
// enqueue the request.
package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrBridgeUnavailable is returned (and surfaced to the guest as a catchable
// error) when the bridge channel is closed before a reply arrives, or
// before a request can even be enqueued.
var ErrBridgeUnavailable = errors.New("bridge: resource-request bridge unavailable")

// Request is one guest-initiated host-call, as pushed onto the bridge.
type Request struct {
	Kind    string
	Payload []byte
	// Reply is nil for fire-and-forget requests (op_resource_request); set
	// for requests awaiting a response (op_resource_request_response).
	Reply *ReplySlot
}

// Reply is the payload handed back through a ReplySlot.
type Reply struct {
	Payload []byte
}

// ReplySlot is a one-shot slot a Request carries for its reply. It is safe
// to Fulfill or Cancel from any goroutine, and safe to do so more than
// once — only the first call has effect.
type ReplySlot struct {
	once sync.Once
	ch   chan Reply
}

// NewReplySlot returns a slot ready to receive exactly one reply.
func NewReplySlot() *ReplySlot {
	return &ReplySlot{ch: make(chan Reply, 1)}
}

// Fulfill resolves the slot with payload. No-op if already resolved or
// cancelled.
func (s *ReplySlot) Fulfill(payload []byte) {
	s.once.Do(func() {
		s.ch <- Reply{Payload: payload}
	})
}

// Cancel resolves the slot as unavailable (e.g. the session ended before a
// reply arrived). No-op if already resolved.
func (s *ReplySlot) Cancel() {
	s.once.Do(func() {
		close(s.ch)
	})
}

// Wait blocks until the slot is fulfilled, cancelled, or ctx is done.
func (s *ReplySlot) Wait(ctx context.Context) (Reply, error) {
	select {
	case r, ok := <-s.ch:
		if !ok {
			return Reply{}, ErrBridgeUnavailable
		}
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Bridge is the bounded channel between guest host-calls and the Session
// Messaging Task. The zero value is not usable; use [New].
type Bridge struct {
	out  chan Request
	done chan struct{}
}

// New returns a Bridge whose outbound channel has the given buffer size.
func New(bufSize int) *Bridge {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Bridge{
		out:  make(chan Request, bufSize),
		done: make(chan struct{}),
	}
}

// Requests returns the receiving end, owned by the Session Messaging Task.
func (b *Bridge) Requests() <-chan Request {
	return b.out
}

// Send enqueues req. It blocks while the channel is full (ordinary
// backpressure), and returns ErrBridgeUnavailable immediately if the bridge
// has been closed.
func (b *Bridge) Send(req Request) error {
	select {
	case b.out <- req:
		return nil
	case <-b.done:
		return ErrBridgeUnavailable
	}
}

// Close marks the bridge unavailable: pending and future Sends fail, and any
// reply slot a caller is waiting on via Wait must be separately Cancelled by
// the owner (the Session Messaging Task, which holds the pending-requests
// map) — Close only affects future Send calls, not slots already handed
// out, by design (no lock ordering hazard between bridge and the pending
// map).
func (b *Bridge) Close() {
	select {
	case <-b.done:
		// already closed
	default:
		close(b.done)
	}
}
