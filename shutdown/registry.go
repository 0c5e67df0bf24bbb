package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler priorities. Lower runs first: stop taking requests, drain the
// engine, close storage, flush logs.
const (
	PriorityWebUI        = 10
	PriorityOrchestrator = 20
	PriorityDatabase     = 30
	PriorityLogger       = 90
)

// Func is a cleanup handler. ctx carries the remaining shutdown deadline;
// a handler may be called at most once per Registry.
type Func func(ctx context.Context) error

type handler struct {
	name     string
	priority int
	seq      int
	fn       Func
}

// Registry runs cleanup handlers in priority order. Handlers with equal
// priority run in registration order.
type Registry struct {
	mu       sync.Mutex
	handlers []handler
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds fn. Registration after Run is ignored.
func (r *Registry) Register(name string, priority int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.handlers = append(r.handlers, handler{name: name, priority: priority, seq: len(r.handlers), fn: fn})
}

// Run calls every handler once, even when earlier ones fail, and returns
// the failures. A second Run does nothing.
func (r *Registry) Run(ctx context.Context, logger *zap.Logger) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ordered := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, h := range ordered {
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			logger.Error("shutdown handler failed", zap.String("handler", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		logger.Debug("shutdown handler done", zap.String("handler", h.name), zap.Duration("duration", time.Since(start)))
	}
	return errs
}

// Names returns handler names in execution order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := r.sortedLocked()
	names := make([]string, len(ordered))
	for i, h := range ordered {
		names[i] = h.name
	}
	return names
}

func (r *Registry) sortedLocked() []handler {
	out := append([]handler(nil), r.handlers...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}
