// Package registry implements the Global Registry: the process-wide mapping
// from isolate identifier to its Resource Table and Engine Handle. Entries
// are inserted on Engine Wrapper construction and removed on its
// destruction, per the isolate pool design's lock hierarchy: Registry before
// per-isolate Resource Table before Engine Handle, never inverted, never
// held across a suspension point.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/merlinfuchs/isolator/internal/resourcetable"
)

// Handle is a thread-safe termination handle for a single engine instance.
// It is implemented by internal/enginewrap.Wrapper; defined here to avoid an
// import cycle between registry and enginewrap.
type Handle interface {
	// Terminate requests that the underlying engine abort whatever it is
	// currently doing. Must be safe to call from any goroutine, at any
	// time, any number of times (idempotent).
	Terminate()
}

// Entry is one Global Registry record: the isolate's Resource Table plus a
// termination handle for its engine.
type Entry struct {
	ID     string
	Table  *resourcetable.Table
	Handle Handle
}

// Registry is the Global Registry. The zero value is not usable; use [New].
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// NewIsolateID mints a fresh, unused isolate identifier.
func NewIsolateID() string {
	return uuid.NewString()
}

// Register inserts a new entry under id. Overwriting an existing id is a
// programmer error (ids are minted fresh per isolate) and panics.
func (r *Registry) Register(id string, table *resourcetable.Table, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		panic("registry: duplicate isolate id " + id)
	}
	r.entries[id] = &Entry{ID: id, Table: table, Handle: handle}
}

// Unregister removes id from the registry. Safe to call even if id is
// already absent (idempotent teardown).
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of live isolates, which by construction equals the
// number of live Engine Wrappers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Each calls fn for every currently-registered entry. fn may call back into
// the Registry (Register/Unregister) — the registry lock is held for the
// duration of the snapshot copy only, not across fn, so this is safe, but
// fn running concurrently with Unregister may observe an entry that has
// just been removed; that is fine, it is a short-lived accounting race, not
// a correctness one (the CPU Supervisor's sole remedy, Terminate, is
// idempotent and harmless against an isolate that is already gone).
func (r *Registry) Each(fn func(*Entry)) {
	r.mu.Lock()
	snapshot := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.Unlock()

	for _, e := range snapshot {
		fn(e)
	}
}
