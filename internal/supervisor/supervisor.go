// Package supervisor implements the CPU Supervisor: the background ticker
// that terminates any isolate whose cpu_time_limit has been exhausted or
// whose heap usage has crossed its configured threshold (spec §5.2). goja
// has no V8-style near-heap-limit callback, so this component doubles as
// the heap sampler (DESIGN.md, "Heap-limit approximation"), reading process-wide
// runtime.MemStats once per tick rather than per isolate.
package supervisor

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
)

// Supervisor periodically scans the Global Registry and terminates any
// isolate exceeding its CPU or heap budget.
type Supervisor struct {
	registry       *registry.Registry
	logger         *logging.Logger
	sampleInterval time.Duration

	terminationCount atomic.Uint64
}

// New returns a Supervisor that scans reg every sampleInterval once
// started.
func New(reg *registry.Registry, logger *logging.Logger, sampleInterval time.Duration) *Supervisor {
	if sampleInterval <= 0 {
		sampleInterval = time.Millisecond
	}
	return &Supervisor{registry: reg, logger: logger, sampleInterval: sampleInterval}
}

// Run blocks, ticking until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// TerminationCount returns the number of Terminate calls this Supervisor
// has issued, for metrics.
func (s *Supervisor) TerminationCount() uint64 {
	return s.terminationCount.Load()
}

func (s *Supervisor) tick() {
	now := time.Now()
	var mem runtime.MemStats
	memSampled := false

	s.registry.Each(func(entry *registry.Entry) {
		if entry.Table.CPUOverBudget(now) {
			entry.Table.SetTerminationReason(resourcetable.ReasonCPUTimeLimit)
			entry.Handle.Terminate()
			s.terminationCount.Add(1)
			s.logger.Warning().Str("isolate_id", entry.ID).Log("cpu time limit exceeded, terminating isolate")
			return
		}

		if !memSampled {
			runtime.ReadMemStats(&mem)
			memSampled = true
		}
		overSoft, overHard := entry.Table.CheckHeap(mem.HeapAlloc)
		switch {
		case overHard:
			entry.Table.SetTerminationReason(resourcetable.ReasonHeapHardLimit)
			entry.Handle.Terminate()
			s.terminationCount.Add(1)
			s.logger.Err().Str("isolate_id", entry.ID).Log("hard heap limit exceeded, terminating isolate")
		case overSoft:
			entry.Table.SetTerminationReason(resourcetable.ReasonHeapSoftLimit)
			entry.Handle.Terminate()
			s.terminationCount.Add(1)
			s.logger.Warning().Str("isolate_id", entry.ID).Log("soft heap limit exceeded, terminating isolate")
		}
	})
}
