package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
	"github.com/merlinfuchs/isolator/internal/scheduler"
	"github.com/merlinfuchs/isolator/internal/supervisor"
)

type noopHandle struct{}

func (noopHandle) Terminate() {}

func TestHandlerExposesLiveIsolateCount(t *testing.T) {
	reg := registry.New()
	reg.Register("iso-1", resourcetable.New(), noopHandle{})
	sched := scheduler.New(4)
	sup := supervisor.New(reg, logging.Nop(), 0)

	m := New(reg, sched, sup)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "isolator_live_isolates 1")
	assert.Contains(t, body, "isolator_scheduler_slots_capacity 4")
	assert.True(t, strings.Contains(body, "isolator_supervisor_terminations_total"))
}
