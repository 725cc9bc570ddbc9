// Package rpcapi defines the wire messages and service shape for the
// AcquireIsolate bidirectional stream (spec §6 "RPC Frontend") plus the
// unary GetStatus/KillIsolates calls. No .proto-compiled stubs are vendored
// (spec §1 scopes wire-format code generation out as an external-collaborator
// concern); these are plain Go structs plus a hand-registered
// grpc.ServiceDesc and a pluggable encoding.Codec (codec.go), shaped the way
// protoc-gen-go-grpc output would be shaped so a real .proto/codegen
// migration later is a drop-in.
package rpcapi

import "time"

// IsolateClientMessage is the oneof the client sends on the AcquireIsolate
// stream. Exactly one of the embedded pointers is non-nil.
type IsolateClientMessage struct {
	Initialize             *Initialize
	ScriptSchedule         *ScriptSchedule
	ScriptResourceResponse *ScriptResourceResponse
}

// IsolateServerMessage is the oneof the server sends back.
type IsolateServerMessage struct {
	ScriptDone            *ScriptDone
	ScriptResourceRequest *ScriptResourceRequest
}

// Initialize configures the Resource Table for the isolate this stream owns
// (spec §3, §4.1). Sent exactly once, first on the stream.
type Initialize struct {
	ExecutionTimeLimit    time.Duration
	CPUTimeLimit          time.Duration
	ResourceRequestsLimit uint32
	SoftHeapLimitBytes    uint64
	HardHeapLimitBytes    uint64
}

// ScriptSchedule asks the Worker to run source to completion (spec §4.1).
// Nonce is chosen by the client and echoed back unchanged on the matching
// ScriptDone, so a client that has more than one script in flight on the
// session (spec §7: "the session itself survives and further scripts may
// be scheduled") can correlate results.
type ScriptSchedule struct {
	Nonce    string
	Source   string
	IsModule bool
}

// ScriptDone is the result of one ScriptSchedule (spec §4.1, §7). Nonce is
// copied verbatim from the triggering ScriptSchedule.
type ScriptDone struct {
	Nonce  string
	Result string
	// ErrorKind is "" on success; one of the §7 kinds otherwise
	// ("execution_timeout", "cpu_timeout", "heap_soft_exhausted",
	// "heap_hard_exhausted", "script_error", "module_load_error"), or
	// "scheduler_unavailable" / "internal_error" for failures outside the
	// script itself.
	ErrorKind    string
	ErrorMessage string
}

// ScriptResourceRequest is a fire-and-forget or awaiting-reply host call
// forwarded to the client (spec §4.3).
type ScriptResourceRequest struct {
	Nonce   string // "" for fire-and-forget (no reply expected)
	Kind    string
	Payload []byte
}

// ScriptResourceResponse is the client's reply to a ScriptResourceRequest
// that carried a nonce.
type ScriptResourceResponse struct {
	Nonce   string
	Payload []byte
}

// StatusRequest/StatusResponse back GetStatus (spec §4.7: "return empty
// success, reserved for future use"; §9 Open Question (b) settles the
// live-isolate-count question by leaving this a no-op — that count is
// exposed operationally instead via internal/metrics).
type StatusRequest struct{}

type StatusResponse struct{}

// KillIsolatesRequest/KillIsolatesResponse back KillIsolates (spec §4.7:
// "return empty success, reserved for future use").
type KillIsolatesRequest struct{}

type KillIsolatesResponse struct{}

// DrainRequest/DrainResponse back Drain: stop accepting new AcquireIsolate
// streams without tearing down isolates already in flight.
type DrainRequest struct{}

type DrainResponse struct{}

// KillRequest/KillResponse back Kill: the RPC returns success immediately,
// then the process exits shortly after (spec §4.7, §6).
type KillRequest struct{}

type KillResponse struct{}
