package enginewrap

import "sync"

// waker is the wake-before-await-safe flag used to suspend the drive loop
// between polls without missing a job pushed concurrently. Grounded on the
// same idempotent-fired-flag design documented in the teacher's
// goja-eventloop adapter: a waker can be fired any number of times, from any
// goroutine, before or after the waiting side starts waiting, and the wait
// never blocks if a fire already happened.
type waker struct {
	mu    sync.Mutex
	fired bool
	woken chan struct{}
}

func newWaker() *waker {
	return &waker{woken: make(chan struct{}, 1)}
}

// Fire marks the waker as fired and unblocks a pending (or future) Wait.
// Safe to call multiple times; only the first call between Wait calls has
// effect on the channel.
func (w *waker) Fire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired {
		return
	}
	w.fired = true
	select {
	case w.woken <- struct{}{}:
	default:
	}
}

// Wait blocks until Fire has been called since the last Wait (or
// immediately, if Fire was already called). It clears the fired flag before
// returning so the waker can be reused for the next suspension.
func (w *waker) Wait(done <-chan struct{}) {
	select {
	case <-w.woken:
	case <-done:
	}
	w.mu.Lock()
	w.fired = false
	w.mu.Unlock()
}
