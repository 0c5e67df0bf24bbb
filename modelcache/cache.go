// Package modelcache keeps loaded models resident between requests.
//
// Loads for the same key are coalesced so concurrent requests trigger one
// load. Each kind has its own LRU bound; an evicted model is closed once the
// last lease on it is released.
package modelcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/logging"
	"ai_workspace/metrics"
)

// DefaultCapacity is the per-kind bound when none is configured.
const DefaultCapacity = 3

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("modelcache: closed")

// errNilModel is returned when a loader reports success without a model.
var errNilModel = errors.New("modelcache: loader returned nil model")

// ReleaseHook is called after an evicted model has been closed.
type ReleaseHook func(key Key, closeErr error)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics exports cache activity to Prometheus.
func WithMetrics(p *metrics.Prometheus) Option {
	return func(c *Cache) { c.metrics = p }
}

// WithReleaseHook installs a hook run after each model is closed.
func WithReleaseHook(h ReleaseHook) Option {
	return func(c *Cache) { c.hook = h }
}

// WithCapacity sets the LRU bound for one kind.
func WithCapacity(kind backend.Kind, n int) Option {
	return func(c *Cache) { c.capacity[kind] = n }
}

// WithDefaultCapacity sets the LRU bound for kinds without an override.
func WithDefaultCapacity(n int) Option {
	return func(c *Cache) { c.defaultCap = n }
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits         int64                `json:"hits"`
	Misses       int64                `json:"misses"`
	Loads        int64                `json:"loads"`
	LoadFailures int64                `json:"load_failures"`
	Evictions    int64                `json:"evictions"`
	Resident     map[backend.Kind]int `json:"resident"`
}

// Cache is the model cache organism.
//
// Usage:
//
//	cache := modelcache.New(loader, modelcache.WithCapacity(backend.KindImage, 1))
//	lease, err := cache.Get(ctx, key)
//	if err != nil { ... }
//	defer lease.Release()
type Cache struct {
	loader     backend.Loader
	logger     *zap.Logger
	metrics    *metrics.Prometheus
	hook       ReleaseHook
	capacity   map[backend.Kind]int
	defaultCap int

	mu      sync.Mutex
	lrus    map[backend.Kind]*simplelru.LRU[Key, *Handle]
	pending []*Handle // evicted with no leases, closed after unlock
	closed  bool

	group   singleflight.Group
	baseCtx context.Context
	cancel  context.CancelFunc

	hits         atomic.Int64
	misses       atomic.Int64
	loads        atomic.Int64
	loadFailures atomic.Int64
	evictions    atomic.Int64
}

// New creates a cache that loads through loader.
func New(loader backend.Loader, opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		loader:     loader,
		logger:     zap.NewNop(),
		capacity:   make(map[backend.Kind]int),
		defaultCap: DefaultCapacity,
		lrus:       make(map[backend.Kind]*simplelru.LRU[Key, *Handle]),
		baseCtx:    ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("modelcache")
	return c
}

// Get returns a lease on the model for key, loading it on a miss. The load
// runs independently of ctx: a caller that gives up does not abort a load
// other callers may be waiting on, and the loaded model is still cached.
func (c *Cache) Get(ctx context.Context, key Key) (*Lease, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if h, ok := c.lruLocked(key.Kind).Get(key); ok {
			h.refs++
			c.mu.Unlock()
			c.hits.Add(1)
			c.metrics.CacheHit(string(key.Kind))
			return &Lease{cache: c, handle: h}, nil
		}
		c.mu.Unlock()

		c.misses.Add(1)
		c.metrics.CacheMiss(string(key.Kind))

		ch := c.group.DoChan(key.String(), func() (interface{}, error) {
			return c.load(key)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			h := res.Val.(*Handle)
			c.mu.Lock()
			if h.released {
				// evicted and closed before this caller could retain it
				c.mu.Unlock()
				continue
			}
			h.refs++
			c.mu.Unlock()
			return &Lease{cache: c, handle: h}, nil
		}
	}
}

func (c *Cache) load(key Key) (h *Handle, err error) {
	c.mu.Lock()
	if existing, ok := c.lruLocked(key.Kind).Peek(key); ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	log := c.logger.With(logging.Kind(string(key.Kind)), logging.ModelID(key.ModelID), logging.Backend(string(key.Backend)))
	log.Info("loading model")
	start := time.Now()

	model, err := c.callLoader(key)
	elapsed := time.Since(start)
	c.metrics.ModelLoaded(string(key.Kind), elapsed, err)
	if err != nil {
		c.loadFailures.Add(1)
		log.Warn("model load failed", zap.Error(err), logging.Duration(elapsed))
		return nil, &core.LoadError{
			ModelID: key.ModelID,
			Backend: string(key.Backend),
			Cause:   core.MapResourceError("memory", err),
		}
	}
	c.loads.Add(1)
	log.Info("model loaded", logging.Duration(elapsed))

	h = &Handle{key: key, model: model, loadedAt: time.Now()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = model.Close()
		return nil, ErrClosed
	}
	lru := c.lruLocked(key.Kind)
	lru.Add(key, h)
	resident := lru.Len()
	pending := c.takePendingLocked()
	c.mu.Unlock()

	c.metrics.SetResident(string(key.Kind), resident)
	c.closeAll(pending)
	return h, nil
}

// callLoader runs the loader and turns a panic into an error so a broken
// runtime cannot take down the process from the singleflight goroutine.
func (c *Cache) callLoader(key Key) (model backend.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			model = nil
			err = fmt.Errorf("loader panic: %v", r)
		}
	}()
	model, err = c.loader.Load(c.baseCtx, key.Spec())
	if err == nil && model == nil {
		err = errNilModel
	}
	return model, err
}

// lruLocked returns the LRU for kind, creating it on first use.
func (c *Cache) lruLocked(kind backend.Kind) *simplelru.LRU[Key, *Handle] {
	if lru, ok := c.lrus[kind]; ok {
		return lru
	}
	size := c.defaultCap
	if n, ok := c.capacity[kind]; ok {
		size = n
	}
	size = max(size, 1)
	lru, _ := simplelru.NewLRU[Key, *Handle](size, c.onEvictLocked)
	c.lrus[kind] = lru
	return lru
}

// onEvictLocked runs inside simplelru while c.mu is held.
func (c *Cache) onEvictLocked(key Key, h *Handle) {
	h.evicted = true
	c.evictions.Add(1)
	c.metrics.ModelEvicted(string(key.Kind))
	c.logger.Debug("model evicted",
		logging.Kind(string(key.Kind)),
		logging.ModelID(key.ModelID),
		zap.Int("leases", h.refs))
	if h.refs == 0 && !h.released {
		h.released = true
		c.pending = append(c.pending, h)
	}
}

func (c *Cache) takePendingLocked() []*Handle {
	p := c.pending
	c.pending = nil
	return p
}

func (c *Cache) release(h *Handle) {
	c.mu.Lock()
	h.refs--
	closeNow := h.refs == 0 && h.evicted && !h.released
	if closeNow {
		h.released = true
	}
	c.mu.Unlock()

	if closeNow {
		c.closeAll([]*Handle{h})
	}
}

func (c *Cache) closeAll(handles []*Handle) {
	for _, h := range handles {
		err := h.model.Close()
		if err != nil {
			c.logger.Warn("model close failed", logging.ModelID(h.key.ModelID), zap.Error(err))
		} else {
			c.logger.Info("model released",
				logging.Kind(string(h.key.Kind)),
				logging.ModelID(h.key.ModelID),
				logging.Backend(string(h.key.Backend)))
		}
		if c.hook != nil {
			c.hook(h.key, err)
		}
	}
}

// Evict removes key from the cache. Returns false if it was not resident.
func (c *Cache) Evict(key Key) bool {
	c.mu.Lock()
	lru := c.lruLocked(key.Kind)
	removed := lru.Remove(key)
	resident := lru.Len()
	pending := c.takePendingLocked()
	c.mu.Unlock()

	c.metrics.SetResident(string(key.Kind), resident)
	c.closeAll(pending)
	return removed
}

// Purge evicts every resident model.
func (c *Cache) Purge() {
	c.mu.Lock()
	kinds := make([]backend.Kind, 0, len(c.lrus))
	for kind, lru := range c.lrus {
		lru.Purge()
		kinds = append(kinds, kind)
	}
	pending := c.takePendingLocked()
	c.mu.Unlock()

	for _, kind := range kinds {
		c.metrics.SetResident(string(kind), 0)
	}
	c.closeAll(pending)
}

// Close purges the cache and rejects further Gets. Loads still in flight
// are cancelled and their results discarded.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.Purge()
}

// Len returns the number of resident models of kind.
func (c *Cache) Len(kind backend.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lru, ok := c.lrus[kind]; ok {
		return lru.Len()
	}
	return 0
}

// Contains reports whether key is resident without touching recency.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lru, ok := c.lrus[key.Kind]; ok {
		return lru.Contains(key)
	}
	return false
}

// Keys returns the resident keys of kind, least recently used first.
func (c *Cache) Keys(kind backend.Kind) []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lru, ok := c.lrus[kind]; ok {
		return lru.Keys()
	}
	return nil
}

// Stats returns counters and per-kind resident counts.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Loads:        c.loads.Load(),
		LoadFailures: c.loadFailures.Load(),
		Evictions:    c.evictions.Load(),
		Resident:     make(map[backend.Kind]int),
	}
	c.mu.Lock()
	for kind, lru := range c.lrus {
		s.Resident[kind] = lru.Len()
	}
	c.mu.Unlock()
	return s
}
