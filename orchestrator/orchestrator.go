// Package orchestrator builds and owns every long-lived engine component:
// backend selection, one model cache per engine kind, the session store,
// the worker pool and the generation pipelines. main creates exactly one
// Context and passes it down.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/db"
	"ai_workspace/logging"
	"ai_workspace/metrics"
	"ai_workspace/modelcache"
	"ai_workspace/outputs"
	"ai_workspace/pipeline"
	"ai_workspace/session"
)

// ErrUnknownKind is returned for engine kinds the context does not manage.
var ErrUnknownKind = errors.New("orchestrator: unknown engine kind")

// Context is the orchestration context.
//
// This organism composes:
//   - backend.Selector (molecule)
//   - one modelcache.Cache and Slot per engine kind (molecules)
//   - session.Store with optional SQLite persistence (molecule)
//   - pipeline.Pool, Runner and the five pipelines (molecules)
//   - metrics history, Prometheus collectors and GPU sampler (molecules)
type Context struct {
	cfg    *core.Config
	logger *logging.Logger

	selector *backend.Selector
	caches   map[backend.Kind]*modelcache.Cache
	slots    map[backend.Kind]*modelcache.Slot

	database *db.Database
	ownsDB   bool
	sessions *session.Store

	pool    *pipeline.Pool
	runner  *pipeline.Runner
	outputs *outputs.Store

	image        *pipeline.ImagePipeline
	depth        *pipeline.DepthPipeline
	segmentation *pipeline.SegmentationPipeline
	normalMap    *pipeline.NormalMapPipeline
	chat         *pipeline.ChatPipeline

	history *metrics.Store
	prom    *metrics.Prometheus
	gpu     *metrics.GPUSampler

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	prober     backend.Prober
	profile    *backend.HardwareProfile
	loader     backend.Loader
	registerer prometheus.Registerer
	gpuReader  metrics.GPUReader
	persister  session.Persister
	database   *db.Database
}

// Option configures New.
type Option func(*options)

// WithProber replaces the hardware prober.
func WithProber(p backend.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithHardware skips probing and uses profile as is.
func WithHardware(profile backend.HardwareProfile) Option {
	return func(o *options) { o.profile = &profile }
}

// WithLoader replaces the runtime loaders for every kind.
func WithLoader(l backend.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithRegisterer registers the Prometheus collectors on reg. Without it
// collectors are created but not registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithGPUReader replaces the nvidia-smi reader used by the GPU sampler.
func WithGPUReader(r metrics.GPUReader) Option {
	return func(o *options) { o.gpuReader = r }
}

// WithPersister persists sessions through p instead of cfg.SessionDBPath.
func WithPersister(p session.Persister) Option {
	return func(o *options) { o.persister = p }
}

// WithDatabase persists sessions in an already open database. The caller
// keeps ownership and closes it after the context.
func WithDatabase(d *db.Database) Option {
	return func(o *options) { o.database = d }
}

// New builds the orchestration context from cfg.
func New(cfg *core.Config, logger *logging.Logger, opts ...Option) (*Context, error) {
	ctx := context.Background()
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	zl := logger.Zap()

	pref, err := backend.ParsePreference(cfg.Device)
	if err != nil {
		return nil, &core.ConfigError{
			Code:    core.ErrCodeInvalidDevice,
			Message: err.Error(),
			Action:  "set AI_WORKSPACE_DEVICE to auto, unified-memory, vendor-gpu, generic-gpu or cpu",
		}
	}
	var profile backend.HardwareProfile
	switch {
	case o.profile != nil:
		profile = *o.profile
	case o.prober != nil:
		profile = backend.DetectHardware(ctx, o.prober)
	default:
		profile = backend.SystemHardware()
	}

	c := &Context{
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		selector: backend.NewSelector(profile, pref, backend.TogglesFromConfig(cfg), zl),
		caches:   make(map[backend.Kind]*modelcache.Cache),
		slots:    make(map[backend.Kind]*modelcache.Slot),
		history:  metrics.NewStore(metrics.DefaultStoreConfig(), time.Now()),
		prom:     metrics.NewPrometheus(o.registerer),
	}

	loader := o.loader
	if loader == nil {
		loader = defaultRegistry(cfg)
	}
	for _, kind := range backend.Kinds() {
		cache := modelcache.New(loader,
			modelcache.WithLogger(zl),
			modelcache.WithMetrics(c.prom),
			modelcache.WithCapacity(kind, cfg.CacheSizeFor(string(kind))),
			modelcache.WithReleaseHook(c.onRelease),
		)
		c.caches[kind] = cache
		c.slots[kind] = modelcache.NewSlot(cache)
	}

	persister := o.persister
	switch {
	case persister != nil:
	case o.database != nil:
		c.database = o.database
		persister = c.database.Sessions()
	case cfg.SessionDBPath != "":
		if c.database, err = db.Open(cfg.SessionDBPath, zl); err != nil {
			c.closeCaches()
			return nil, fmt.Errorf("orchestrator: open session database: %w", err)
		}
		c.ownsDB = true
		persister = c.database.Sessions()
	}
	storeOpts := []session.Option{
		session.WithLogger(zl),
		session.WithCountHook(c.prom.SetSessions),
	}
	if persister != nil {
		storeOpts = append(storeOpts, session.WithPersister(persister))
	}
	c.sessions = session.NewStore(session.ConfigFromCore(cfg), storeOpts...)
	if _, err := c.sessions.Load(ctx); err != nil {
		c.closeCaches()
		if c.ownsDB {
			c.database.Close()
		}
		return nil, err
	}

	c.pool = pipeline.NewPool(pipeline.PoolConfig{Workers: cfg.Workers, QueueSize: cfg.QueueSize}, zl, c.prom)
	c.runner = pipeline.NewRunner(pipeline.RunnerConfig{EventBuffer: cfg.EventBuffer, IdleTimeout: cfg.StreamIdleTimeout}, c.pool, zl, c.prom, c.history)

	c.outputs = outputs.New(cfg.OutputPath(), zl)
	imageCfg := pipeline.ImageConfig{
		DefaultModel:    cfg.DefaultImageModel,
		DefaultSize:     cfg.DefaultImageSize,
		DefaultSteps:    cfg.DefaultSteps,
		DefaultGuidance: cfg.DefaultGuidance,
		MaxBatchSize:    cfg.MaxBatchSize,
	}
	if cfg.EnableAutoSave {
		imageCfg.Outputs = c.outputs
	}
	c.image = pipeline.NewImagePipeline(c.runner, c, imageCfg)
	c.depth = pipeline.NewDepthPipeline(c.runner, c, cfg.DefaultDepthModel)
	c.segmentation = pipeline.NewSegmentationPipeline(c.runner, c, cfg.DefaultSegmentationModel)
	c.normalMap = pipeline.NewNormalMapPipeline(c.runner)
	c.chat = pipeline.NewChatPipeline(c.runner, c, c.sessions, pipeline.ChatConfig{
		DefaultModel:  cfg.DefaultChatModel,
		HistoryWindow: cfg.ChatHistoryWindow,
		Timeout:       cfg.ChatTimeout,
		Files:         pipeline.DirReader{Root: cfg.WorkspacePath()},
	})

	if profile.VendorGPU || o.gpuReader != nil {
		reader := o.gpuReader
		if reader == nil {
			reader = metrics.NvidiaSMIReader{}
		}
		c.gpu = metrics.NewGPUSampler(metrics.DefaultGPUSamplerConfig(), reader, c.history, c.prom, zl)
		c.gpu.Start(ctx)
	}

	fields := []zap.Field{zap.Bool("persistent_sessions", persister != nil)}
	for _, kind := range backend.Kinds() {
		fields = append(fields, zap.String("backend_"+string(kind), string(c.selector.For(kind))))
	}
	c.logger.Info("orchestration context ready", fields...)
	return c, nil
}

func (c *Context) onRelease(key modelcache.Key, closeErr error) {
	if closeErr != nil {
		c.logger.Warn("model close failed",
			logging.Kind(string(key.Kind)),
			logging.ModelID(key.ModelID),
			zap.Error(closeErr))
		return
	}
	c.logger.Debug("model released", logging.Kind(string(key.Kind)), logging.ModelID(key.ModelID))
}

// Acquire leases the model for kind on the backend currently selected for
// that kind. It implements pipeline.ModelSource.
func (c *Context) Acquire(ctx context.Context, kind backend.Kind, modelID string) (*modelcache.Lease, error) {
	cache, ok := c.caches[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return cache.Get(ctx, c.key(kind, modelID))
}

// SwitchModel makes modelID the current model for kind, loading it if
// needed. The previous current model stays cached until evicted.
func (c *Context) SwitchModel(ctx context.Context, kind backend.Kind, modelID string) (*modelcache.Handle, error) {
	slot, ok := c.slots[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if modelID == "" {
		return nil, core.NewInvalidRequest("model", "must not be empty")
	}
	h, err := slot.Switch(ctx, c.key(kind, modelID))
	if err != nil {
		return nil, err
	}
	c.logger.Info("model switched", logging.Kind(string(kind)), logging.ModelID(modelID),
		logging.Backend(string(h.Backend())))
	return h, nil
}

// CurrentModel reports the model last switched to for kind.
func (c *Context) CurrentModel(kind backend.Kind) (modelcache.Key, bool) {
	slot, ok := c.slots[kind]
	if !ok {
		return modelcache.Key{}, false
	}
	return slot.Current()
}

// Reconfigure re-runs backend selection for kind. When the backend changes
// the kind's resident models are released once their leases end.
func (c *Context) Reconfigure(kind backend.Kind, pref backend.Preference) (backend.Identity, error) {
	cache, ok := c.caches[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	previous, current := c.selector.Reconfigure(kind, pref)
	if previous != current {
		c.slots[kind].Clear()
		cache.Purge()
		c.logger.Info("backend reconfigured",
			logging.Kind(string(kind)),
			zap.String("previous", string(previous)),
			logging.Backend(string(current)))
	}
	return current, nil
}

func (c *Context) key(kind backend.Kind, modelID string) modelcache.Key {
	return modelcache.Key{Kind: kind, ModelID: modelID, Backend: c.selector.For(kind)}
}

// Image returns the image synthesis pipeline.
func (c *Context) Image() *pipeline.ImagePipeline { return c.image }

// Depth returns the depth estimation pipeline.
func (c *Context) Depth() *pipeline.DepthPipeline { return c.depth }

// Segmentation returns the segmentation pipeline.
func (c *Context) Segmentation() *pipeline.SegmentationPipeline { return c.segmentation }

// NormalMap returns the normal map pipeline.
func (c *Context) NormalMap() *pipeline.NormalMapPipeline { return c.normalMap }

// Conversation returns the chat pipeline.
func (c *Context) Conversation() *pipeline.ChatPipeline { return c.chat }

// Outputs returns the store generated images are saved to.
func (c *Context) Outputs() *outputs.Store { return c.outputs }

// Sessions returns the session store.
func (c *Context) Sessions() *session.Store { return c.sessions }

// Backend returns the backend selected for kind.
func (c *Context) Backend(kind backend.Kind) backend.Identity { return c.selector.For(kind) }

// Hardware returns the detected hardware profile.
func (c *Context) Hardware() backend.HardwareProfile { return c.selector.Profile() }

// Metrics returns the generation history.
func (c *Context) Metrics() metrics.Collector { return c.history }

// Config returns the configuration the context was built with.
func (c *Context) Config() *core.Config { return c.cfg }

// AvailableModels lists the selectable model ids for kind.
func (c *Context) AvailableModels(kind backend.Kind) []string {
	switch kind {
	case backend.KindImage:
		return c.cfg.AvailableImageModels
	case backend.KindChat:
		return c.cfg.AvailableChatModels
	case backend.KindDepth:
		return []string{c.cfg.DefaultDepthModel}
	case backend.KindSegmentation:
		return []string{c.cfg.DefaultSegmentationModel}
	}
	return nil
}

// KindStatus describes one engine kind.
type KindStatus struct {
	Backend  backend.Identity `json:"backend"`
	Current  string           `json:"current,omitempty"`
	Resident []string         `json:"resident"`
}

// Status is a point-in-time summary for health reporting.
type Status struct {
	Hardware backend.HardwareProfile          `json:"hardware"`
	Kinds    map[backend.Kind]KindStatus      `json:"kinds"`
	Cache    map[backend.Kind]modelcache.Stats `json:"cache"`
	Pending  int                              `json:"pending"`
	Sessions int                              `json:"sessions"`
	Database bool                             `json:"database"`
}

// Status returns the current status.
func (c *Context) Status() Status {
	st := Status{
		Hardware: c.selector.Profile(),
		Kinds:    make(map[backend.Kind]KindStatus, len(c.caches)),
		Cache:    make(map[backend.Kind]modelcache.Stats, len(c.caches)),
		Pending:  c.pool.Pending(),
		Sessions: c.sessions.Len(),
		Database: c.database != nil,
	}
	for kind, cache := range c.caches {
		ks := KindStatus{Backend: c.selector.For(kind), Resident: []string{}}
		if key, ok := c.slots[kind].Current(); ok {
			ks.Current = key.ModelID
		}
		for _, key := range cache.Keys(kind) {
			ks.Resident = append(ks.Resident, key.ModelID)
		}
		st.Kinds[kind] = ks
		st.Cache[kind] = cache.Stats()
	}
	return st
}

// Ping checks the session database when one is configured.
func (c *Context) Ping(ctx context.Context) error {
	if c.database == nil {
		return nil
	}
	return c.database.Ping(ctx)
}

// Close drains the worker pool, releases every cached model and closes the
// session database if New opened it. It is safe to call more than once.
func (c *Context) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		start := time.Now()
		if c.gpu != nil {
			c.gpu.Stop()
		}
		poolErr := c.pool.Close(ctx)
		if poolErr != nil {
			c.logger.Warn("worker pool did not drain", zap.Error(poolErr))
		}
		c.closeCaches()

		var dbErr error
		if c.ownsDB {
			dbErr = c.database.Close()
		}
		c.closeErr = errors.Join(poolErr, dbErr)
		c.logger.Info("orchestration context closed", logging.Since(start))
	})
	return c.closeErr
}

func (c *Context) closeCaches() {
	var g errgroup.Group
	for kind, cache := range c.caches {
		c.slots[kind].Clear()
		g.Go(func() error {
			cache.Close()
			return nil
		})
	}
	_ = g.Wait()
}
