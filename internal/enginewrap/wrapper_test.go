package enginewrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinfuchs/isolator/internal/bridge"
	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
)

func newTestWrapper(t *testing.T) (*Wrapper, *bridge.Bridge, *resourcetable.Table) {
	t.Helper()
	tbl := resourcetable.New()
	reg := registry.New()
	b := bridge.New(8)
	w, err := New(Config{
		ID:       registry.NewIsolateID(),
		Table:    tbl,
		Registry: reg,
		Bridge:   b,
		Logger:   logging.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, w.Prepare())
	t.Cleanup(w.Close)
	return w, b, tbl
}

func TestExecuteScriptReturnsValue(t *testing.T) {
	w, _, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 0)

	val, err := w.ExecuteScript(context.Background(), ScriptContext{Source: `1 + 2`})
	require.NoError(t, err)
	assert.Equal(t, "3", val)
}

func TestExecuteScriptSyntaxErrorIsScriptThrowsError(t *testing.T) {
	w, _, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 0)

	_, err := w.ExecuteScript(context.Background(), ScriptContext{Source: `(`})
	require.Error(t, err)
	var scriptErr *ScriptThrowsError
	assert.ErrorAs(t, err, &scriptErr)
}

func TestExecuteScriptThrowIsScriptThrowsError(t *testing.T) {
	w, _, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 0)

	_, err := w.ExecuteScript(context.Background(), ScriptContext{Source: `throw new Error("boom")`})
	require.Error(t, err)
	var scriptErr *ScriptThrowsError
	require.ErrorAs(t, err, &scriptErr)
	assert.Contains(t, scriptErr.Message, "boom")
}

func TestExecuteScriptWallClockTimeout(t *testing.T) {
	w, _, tbl := newTestWrapper(t)
	tbl.Initialize(50*time.Millisecond, 0, 0)

	_, err := w.ExecuteScript(context.Background(), ScriptContext{
		Source:             `while (true) {}`,
		ExecutionTimeLimit: 50 * time.Millisecond,
	})
	require.Error(t, err)
	var timeoutErr *ErrExecutionTimeout
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestExecuteScriptResourceRequestResponseRoundTrip(t *testing.T) {
	w, b, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 10)

	go func() {
		req := <-b.Requests()
		require.Equal(t, "echo", req.Kind)
		req.Reply.Fulfill([]byte("pong"))
	}()

	val, err := w.ExecuteScript(context.Background(), ScriptContext{
		Source: `__host.op_resource_request_response("echo", "ping")`,
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", val)
	assert.Equal(t, uint32(1), tbl.ResourceRequestCount())
}

func TestExecuteScriptResourceRequestLimitExceeded(t *testing.T) {
	w, b, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 1)

	go func() {
		for req := range b.Requests() {
			if req.Reply != nil {
				req.Reply.Fulfill([]byte("ok"))
			}
		}
	}()

	_, err := w.ExecuteScript(context.Background(), ScriptContext{
		Source: `
			__host.op_resource_request_response("a", "1");
			__host.op_resource_request_response("a", "2");
		`,
	})
	require.Error(t, err)
	var scriptErr *ScriptThrowsError
	assert.ErrorAs(t, err, &scriptErr)
}

func TestExecuteScriptSetTimeoutRunsBeforeCompletion(t *testing.T) {
	w, _, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 0)

	val, err := w.ExecuteScript(context.Background(), ScriptContext{
		Source: `
			var result = "not-run";
			setTimeout(function() { result = "ran"; }, 1);
			result;
		`,
	})
	require.NoError(t, err)
	// The top-level script's own return value is captured before the timer
	// fires; pumpJobs still must drain the timer before the script is
	// considered complete, but it cannot retroactively change a value
	// already returned to the caller. This asserts that completion doesn't
	// hang waiting for it, not what "result" contains afterward.
	assert.Equal(t, "not-run", val)
}

func TestExecuteScriptModuleImportExportDefault(t *testing.T) {
	w, b, tbl := newTestWrapper(t)
	tbl.Initialize(time.Second, time.Second, 0)

	go func() {
		req := <-b.Requests()
		assert.Equal(t, "module", req.Kind)
		assert.Equal(t, "https://isolator/./greeting.js", string(req.Payload))
		req.Reply.Fulfill([]byte(`export default "hello";`))
	}()

	val, err := w.ExecuteScript(context.Background(), ScriptContext{
		IsModule: true,
		Source: `
			import greeting from './greeting.js';
			export default greeting;
		`,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", val)
}

func TestTerminateIsIdempotent(t *testing.T) {
	w, _, _ := newTestWrapper(t)
	assert.NotPanics(t, func() {
		w.Terminate()
		w.Terminate()
	})
}
