package enginewrap

import (
	"context"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/merlinfuchs/isolator/internal/bridge"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
)

// WakeupAccounting lets a host function that is about to block the
// engine-owning goroutine (waiting on a reply that crosses the session
// boundary) exclude that wait time from CPU accounting, matching §4.1's
// "suspend accounting while awaiting external I/O" rule. SuspendForWait
// clears current_wakeup (so the CPU Supervisor's CPUOverBudget check
// short-circuits to false) and ResumeFromWait re-opens a fresh wakeup
// window when the host call returns control to the engine.
type WakeupAccounting interface {
	SuspendForWait()
	ResumeFromWait()
}

// bindHostFunctions installs the two guest-visible host calls described by
// the Resource-Request Bridge (spec §4.3): op_resource_request (fire and
// forget) and op_resource_request_response (request, then block for a
// reply), plus a newNonce helper returning a fresh UUID string. All three
// are exposed under a single `__host` global object, matching
// the teacher's convention of a narrow, explicitly-named host surface
// instead of scattering globals.
func bindHostFunctions(rt *goja.Runtime, b *bridge.Bridge, table *resourcetable.Table, wa WakeupAccounting) error {
	host := rt.NewObject()

	if err := host.Set("op_resource_request", func(call goja.FunctionCall) goja.Value {
		kind := call.Argument(0).String()
		payload := []byte(call.Argument(1).String())
		_ = b.Send(bridge.Request{Kind: kind, Payload: payload})
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := host.Set("op_resource_request_response", func(call goja.FunctionCall) goja.Value {
		kind := call.Argument(0).String()
		payload := []byte(call.Argument(1).String())

		if !table.ReserveResourceRequest() {
			panic(rt.NewGoError(resourcetable.ErrResourceRequestLimitExceeded))
		}

		slot := bridge.NewReplySlot()
		if err := b.Send(bridge.Request{Kind: kind, Payload: payload, Reply: slot}); err != nil {
			panic(rt.NewGoError(err))
		}

		wa.SuspendForWait()
		reply, err := slot.Wait(context.Background())
		wa.ResumeFromWait()
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return rt.ToValue(string(reply.Payload))
	}); err != nil {
		return err
	}

	if err := host.Set("newNonce", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(uuid.NewString())
	}); err != nil {
		return err
	}

	return rt.Set("__host", host)
}
