// Package resourcetable implements the per-isolate accounting record
// described by the isolate pool design: mutable limits and live counters,
// guarded by a lock any thread may take briefly.
package resourcetable

import (
	"errors"
	"sync"
	"time"
)

// ErrResourceRequestLimitExceeded is the error internal/enginewrap raises to
// the guest when ReserveResourceRequest reports (by returning false) that
// resource_requests_limit has already been reached for the session.
var ErrResourceRequestLimitExceeded = errors.New("resourcetable: resource_requests_limit exceeded")

// Termination reasons recorded via SetTerminationReason, read back by
// internal/enginewrap to classify an interrupted engine error and by
// internal/supervisor to decide which reason to record before calling
// Terminate.
const (
	ReasonCPUTimeLimit  = "cpu_time_limit"
	ReasonHeapSoftLimit = "heap_soft_limit"
	ReasonHeapHardLimit = "heap_hard_limit"
)

// Table is the per-isolate Resource Table. Zero value is not usable; use
// [New]. All fields are guarded by mu — the CPU supervisor reads
// concurrently with the worker goroutine that owns the isolate, so every
// access (read or write) must hold the lock.
type Table struct {
	mu sync.Mutex

	executionTimeLimit    time.Duration // 0 == unlimited
	cpuTimeLimit          time.Duration // 0 == unlimited
	resourceRequestsLimit uint32        // 0 == unlimited

	startedAt            time.Time
	startedAtSet         bool
	currentWakeup        time.Time
	currentWakeupSet     bool
	cpuTime              time.Duration
	resourceRequestCount uint32

	// Heap accounting. goja has no native near-heap-limit callback (that is
	// a V8-ism the embedded-engine contract assumes, see DESIGN.md), so the
	// CPU Supervisor doubles as the heap sampler: it reads process heap
	// stats once per tick and compares against these fields.
	softHeapLimit uint64 // bytes above heapBaseline; 0 == no soft check
	hardHeapLimit uint64 // bytes above heapBaseline; 0 == no hard check
	heapBaseline  uint64

	terminationReason string // set by whoever calls the Engine Handle's Terminate, read back for error classification
}

// New returns an empty Table with no limits configured.
func New() *Table {
	return &Table{}
}

// SetHeapLimits configures the soft/hard heap thresholds (0 == no check)
// and captures baseline as the reference point those thresholds are
// measured from.
func (t *Table) SetHeapLimits(soft, hard, baseline uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.softHeapLimit = soft
	t.hardHeapLimit = hard
	t.heapBaseline = baseline
}

// CheckHeap compares currentHeapAlloc (a process-wide sample) against the
// configured thresholds, relative to the captured baseline. It returns
// (overSoft, overHard). Both are false if no limit is configured.
func (t *Table) CheckHeap(currentHeapAlloc uint64) (overSoft, overHard bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if currentHeapAlloc <= t.heapBaseline {
		return false, false
	}
	delta := currentHeapAlloc - t.heapBaseline
	overSoft = t.softHeapLimit > 0 && delta >= t.softHeapLimit
	overHard = t.hardHeapLimit > 0 && delta >= t.hardHeapLimit
	return overSoft, overHard
}

// SetTerminationReason records why a cross-thread Terminate call was made,
// so the worker goroutine can classify the resulting engine error correctly
// once RunProgram returns. "" means no termination has been requested.
func (t *Table) SetTerminationReason(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminationReason == "" {
		t.terminationReason = reason
	}
}

// TerminationReason returns and clears the recorded termination reason.
func (t *Table) TerminationReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.terminationReason
	t.terminationReason = ""
	return r
}

// Initialize applies the limits carried by an Initialize message. A zero
// value for any field means "unlimited", per spec.
func (t *Table) Initialize(executionTimeLimit, cpuTimeLimit time.Duration, resourceRequestsLimit uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executionTimeLimit = executionTimeLimit
	t.cpuTimeLimit = cpuTimeLimit
	t.resourceRequestsLimit = resourceRequestsLimit
}

// StartScript marks the beginning of a new script's execution, resetting
// the per-script counters (cpu_time, started_at). resource_requests_count is
// NOT reset here: it only ever increments, so resource_requests_limit caps
// the host calls of the whole session rather than of one script.
func (t *Table) StartScript(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = now
	t.startedAtSet = true
	t.cpuTime = 0
	t.currentWakeupSet = false
	t.terminationReason = ""
}

// FinishScript clears started_at and any in-flight wakeup marker.
func (t *Table) FinishScript() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAtSet = false
	t.currentWakeupSet = false
}

// LimitError enumerates which budget, if any, CheckBudget found exceeded.
type LimitError int

const (
	// LimitOK means no configured limit is currently exceeded.
	LimitOK LimitError = iota
	// LimitExecutionTime means the wall-clock budget has elapsed.
	LimitExecutionTime
	// LimitCPUTime means the CPU budget has been spent.
	LimitCPUTime
)

// CheckBudget implements the prepare-wakeup pre-check: verify neither
// cpu_time nor started_at-relative elapsed exceeds its respective limit.
// Must be called before entering the engine for a wakeup.
func (t *Table) CheckBudget(now time.Time) LimitError {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.executionTimeLimit > 0 && t.startedAtSet && now.Sub(t.startedAt) > t.executionTimeLimit {
		return LimitExecutionTime
	}
	if t.cpuTimeLimit > 0 && t.cpuTime > t.cpuTimeLimit {
		return LimitCPUTime
	}
	return LimitOK
}

// BeginWakeup implements the prepare-wakeup accounting step: records that a
// CPU-consuming wakeup has begun.
func (t *Table) BeginWakeup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentWakeup = now
	t.currentWakeupSet = true
}

// EndWakeup implements the cleanup-wakeup accounting step: folds the
// elapsed time of the just-finished wakeup into cpu_time (saturating) and
// clears current_wakeup.
func (t *Table) EndWakeup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentWakeupSet {
		elapsed := now.Sub(t.currentWakeup)
		if elapsed > 0 {
			t.cpuTime = saturatingAdd(t.cpuTime, elapsed)
		}
	}
	t.currentWakeupSet = false
}

// saturatingAdd adds d to base without overflowing time.Duration's range.
func saturatingAdd(base, d time.Duration) time.Duration {
	const max = time.Duration(1<<63 - 1)
	if base > max-d {
		return max
	}
	return base + d
}

// CPUOverBudget is used by the CPU Supervisor: returns true iff a wakeup is
// currently in progress, a cpu_time_limit is configured, and the
// accumulated-plus-in-flight CPU time exceeds it.
func (t *Table) CPUOverBudget(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.currentWakeupSet || t.cpuTimeLimit <= 0 {
		return false
	}
	elapsed := now.Sub(t.currentWakeup)
	return t.cpuTime+elapsed > t.cpuTimeLimit
}

// IsWakeupInProgress reports whether current_wakeup is set, i.e. exactly one
// worker thread is presently inside the engine on this isolate's behalf.
func (t *Table) IsWakeupInProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentWakeupSet
}

// ReserveResourceRequest enforces resource_requests_limit in the bridge (see
// DESIGN.md Open Question (a)): increments resource_requests_count iff the
// configured limit (if any) is not yet reached, returning false if it is.
func (t *Table) ReserveResourceRequest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resourceRequestsLimit > 0 && t.resourceRequestCount >= t.resourceRequestsLimit {
		return false
	}
	t.resourceRequestCount++
	return true
}

// ResourceRequestCount returns the current monotonically non-decreasing
// counter value, for tests and status reporting.
func (t *Table) ResourceRequestCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resourceRequestCount
}

// CPUTime returns the cumulative on-CPU duration of completed wakeups.
func (t *Table) CPUTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpuTime
}

// Snapshot is a consistent point-in-time copy of accounting state, used by
// status reporting and tests.
type Snapshot struct {
	ExecutionTimeLimit    time.Duration
	CPUTimeLimit          time.Duration
	ResourceRequestsLimit uint32
	CPUTime               time.Duration
	ResourceRequestCount  uint32
	WakeupInProgress      bool
}

// Snapshot returns a consistent copy of the table's current state.
func (t *Table) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ExecutionTimeLimit:    t.executionTimeLimit,
		CPUTimeLimit:          t.cpuTimeLimit,
		ResourceRequestsLimit: t.resourceRequestsLimit,
		CPUTime:               t.cpuTime,
		ResourceRequestCount:  t.resourceRequestCount,
		WakeupInProgress:      t.currentWakeupSet,
	}
}
