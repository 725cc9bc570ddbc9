package enginewrap

import "sync"

// job is one unit of work queued to run on the engine-owning goroutine:
// a setTimeout callback firing (resource-bridge replies and module loads
// are awaited synchronously inside the host call and never queued). Jobs
// always run on the worker goroutine, never concurrently
// with the goja.Runtime they close over.
type job func()

// jobQueue is the minimal cooperative job queue described in SPEC_FULL.md §C:
// it stands in for the engine's own event-loop poll/waker pair, since goja
// has none. Any goroutine may push a job; only the drive loop (single
// goroutine, owning the *goja.Runtime) ever pops.
type jobQueue struct {
	mu    sync.Mutex
	jobs  []job
	waker *waker
}

func newJobQueue() *jobQueue {
	return &jobQueue{waker: newWaker()}
}

// Push enqueues fn and wakes a suspended drive loop, if any.
func (q *jobQueue) Push(fn job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, fn)
	q.mu.Unlock()
	q.waker.Fire()
}

// drain returns a consistent snapshot of every job currently queued,
// clearing the queue. This is the "one non-blocking poll" of SPEC_FULL.md §C:
// jobs pushed after drain() returns belong to the next poll.
func (q *jobQueue) drain() []job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// Empty reports whether the queue currently holds no jobs. Used only as a
// fast-path hint; drain() is still authoritative.
func (q *jobQueue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) == 0
}
