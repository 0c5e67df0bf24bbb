package modelcache

import (
	"fmt"
	"sync"
	"time"

	"ai_workspace/backend"
)

// Key identifies a cached model. The same model id loaded on two backends
// is two entries.
type Key struct {
	Kind    backend.Kind
	ModelID string
	Backend backend.Identity
}

// Spec converts the key into the loader's LoadSpec.
func (k Key) Spec() backend.LoadSpec {
	return backend.LoadSpec{Kind: k.Kind, ModelID: k.ModelID, Backend: k.Backend}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Kind, k.ModelID, k.Backend)
}

// Handle is a resident model owned by the cache. Callers never hold a
// Handle directly across requests; they borrow it through a Lease.
type Handle struct {
	key      Key
	model    backend.Model
	loadedAt time.Time

	// guarded by Cache.mu
	refs     int
	evicted  bool
	released bool
}

// Key returns the key the handle was loaded for.
func (h *Handle) Key() Key { return h.key }

// Model returns the runtime model.
func (h *Handle) Model() backend.Model { return h.model }

// Backend returns the backend identity that produced the model.
func (h *Handle) Backend() backend.Identity { return h.key.Backend }

// LoadedAt returns when the load finished.
func (h *Handle) LoadedAt() time.Time { return h.loadedAt }

// Lease is a borrowed reference to a Handle. Release must be called exactly
// once; extra calls are ignored.
type Lease struct {
	cache  *Cache
	handle *Handle
	once   sync.Once
}

// Handle returns the leased handle.
func (l *Lease) Handle() *Handle { return l.handle }

// Model is shorthand for l.Handle().Model().
func (l *Lease) Model() backend.Model { return l.handle.model }

// Key is shorthand for l.Handle().Key().
func (l *Lease) Key() Key { return l.handle.key }

// Release returns the handle to the cache. If the cache has already evicted
// it and this was the last lease, the model is closed.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.cache.release(l.handle)
	})
}
