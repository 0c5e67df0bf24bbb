package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Kind identifies an engine family. Each kind has its own cache and its own
// backend choice.
type Kind string

const (
	KindImage        Kind = "image"
	KindDepth        Kind = "depth"
	KindSegmentation Kind = "segmentation"
	KindChat         Kind = "chat"
)

// Kinds lists every engine kind.
func Kinds() []Kind {
	return []Kind{KindImage, KindDepth, KindSegmentation, KindChat}
}

// LoadSpec describes one model to load.
type LoadSpec struct {
	Kind    Kind
	ModelID string
	Backend Identity
}

func (s LoadSpec) String() string {
	return fmt.Sprintf("%s/%s@%s", s.Kind, s.ModelID, s.Backend)
}

// Model is a loaded, resident model. Close frees whatever the runtime holds.
// Runtimes expose their capabilities through additional methods that
// consumers type-assert for.
type Model interface {
	Close() error
}

// Loader turns a LoadSpec into a resident Model. Loads may be slow and must
// honor ctx.
type Loader interface {
	Load(ctx context.Context, spec LoadSpec) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, spec LoadSpec) (Model, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	return f(ctx, spec)
}

// ErrNoLoader is returned when no loader is registered for a kind.
type ErrNoLoader struct {
	Kind Kind
}

func (e *ErrNoLoader) Error() string {
	return fmt.Sprintf("backend: no loader registered for kind %q", e.Kind)
}

// Registry maps engine kinds to loaders.
type Registry struct {
	mu      sync.RWMutex
	loaders map[Kind]Loader
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{loaders: make(map[Kind]Loader)}
}

// Register sets the loader for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[kind] = l
}

// Loader returns the loader for kind.
func (r *Registry) Loader(kind Kind) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[kind]
	return l, ok
}

// Load dispatches to the loader registered for spec.Kind.
func (r *Registry) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	l, ok := r.Loader(spec.Kind)
	if !ok {
		return nil, &ErrNoLoader{Kind: spec.Kind}
	}
	return l.Load(ctx, spec)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.loaders))
	for k := range r.loaders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
