// Package webui is the thin HTTP and WebSocket adapter over the
// orchestration context. Generation requests arrive on /ws and their
// progress events stream back on the same connection; sessions, models and
// health are plain JSON endpoints.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/metrics"
	"ai_workspace/modelcache"
	"ai_workspace/orchestrator"
	"ai_workspace/outputs"
	"ai_workspace/pipeline"
	"ai_workspace/session"
	"ai_workspace/webui/auth"
)

// Engine is the part of the orchestration context the server uses.
// *orchestrator.Context implements it.
type Engine interface {
	Image() *pipeline.ImagePipeline
	Depth() *pipeline.DepthPipeline
	Segmentation() *pipeline.SegmentationPipeline
	NormalMap() *pipeline.NormalMapPipeline
	Conversation() *pipeline.ChatPipeline
	Sessions() *session.Store
	Outputs() *outputs.Store
	Metrics() metrics.Collector
	AvailableModels(kind backend.Kind) []string
	SwitchModel(ctx context.Context, kind backend.Kind, modelID string) (*modelcache.Handle, error)
	Status() orchestrator.Status
	Ping(ctx context.Context) error
}

// OperationTracker tracks in-flight generation streams so shutdown can
// drain them. *shutdown.Manager implements it.
type OperationTracker interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// Server is the HTTP server organism. It wires together:
//   - LoggingMiddleware for request logging
//   - RateLimiter for generation and WebSocket routes
//   - KeyAuth for /api and /ws when an API key is configured
//   - the CORS and WebSocket origin policy
//   - the JSON API handlers
//   - the WebSocket stream handler
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	config     ServerConfig
	engine     Engine
	tracker    OperationTracker
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	loggingMw  *LoggingMiddleware
	limiter    *RateLimiter
	auth       *auth.KeyAuth
	upgrader   websocket.Upgrader
	startedAt  time.Time
}

// ServerConfig configures the Server.
type ServerConfig struct {
	// ListenAddr is host:port (default: 127.0.0.1:8090)
	ListenAddr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RateLimitRPS and RateLimitBurst bound generation requests per client.
	// RPS <= 0 disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// MaxMessageSize caps one client WebSocket message; images are inline.
	MaxMessageSize int64

	// LogSkipPaths are paths to skip logging
	LogSkipPaths []string

	// AllowedOrigins lists cross-origin pages that may call the API and open
	// /ws. Same-host pages and clients without an Origin are always allowed.
	AllowedOrigins []string

	// EnableChat and Enable3D gate the chat and depth/segment/normal actions.
	EnableChat bool
	Enable3D   bool
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     "127.0.0.1:8090",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		RateLimitRPS:   2,
		RateLimitBurst: 4,
		MaxMessageSize: 32 << 20,
		LogSkipPaths:   []string{"/health", "/metrics"},
		EnableChat:     true,
		Enable3D:       true,
	}
}

// ServerConfigFromCore overlays the listen address, rate limits, origin
// policy and feature toggles from cfg.
func ServerConfigFromCore(cfg *core.Config) ServerConfig {
	sc := DefaultServerConfig()
	if cfg == nil {
		return sc
	}
	if cfg.ListenAddr != "" {
		sc.ListenAddr = cfg.ListenAddr
	}
	sc.RateLimitRPS = cfg.RateLimitRPS
	sc.RateLimitBurst = cfg.RateLimitBurst
	sc.AllowedOrigins = cfg.AllowedOrigins
	sc.EnableChat = cfg.EnableChat
	sc.Enable3D = cfg.Enable3D
	return sc
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithGatherer serves Prometheus metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTracker registers every generation stream with t.
func WithTracker(t OperationTracker) Option {
	return func(s *Server) { s.tracker = t }
}

// WithAuth requires a valid API key on /api and /ws.
func WithAuth(a *auth.KeyAuth) Option {
	return func(s *Server) { s.auth = a }
}

// NewServer creates a Server over engine.
func NewServer(config ServerConfig, engine Engine, logger *zap.Logger, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("webui: engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultServerConfig().MaxMessageSize
	}
	s := &Server{
		mux:       http.NewServeMux(),
		config:    config,
		engine:    engine,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logger.Named("webui"),
		limiter:   NewRateLimiter(config.RateLimitRPS, config.RateLimitBurst),
		startedAt: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loggingMw = NewLoggingMiddleware(s.logger, config.LogSkipPaths...)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	s.logger.Info("WebUI server created",
		zap.String("addr", config.ListenAddr),
		zap.Float64("rate_limit_rps", config.RateLimitRPS),
		zap.Bool("auth", s.auth != nil),
		zap.Strings("allowed_origins", config.AllowedOrigins))
	return s, nil
}

func (s *Server) setupRoutes() {
	authed := func(h http.HandlerFunc) http.Handler { return s.protect(h) }
	limited := func(h http.HandlerFunc) http.Handler { return s.protect(s.limiter.Middleware(h)) }

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.mux.Handle("GET /api/status", authed(s.handleStatus))
	s.mux.Handle("GET /api/generations", authed(s.handleGenerations))
	s.mux.Handle("GET /api/models", authed(s.handleModels))
	s.mux.Handle("POST /api/models/{kind}", limited(s.handleSwitchModel))

	s.mux.Handle("POST /api/generate", limited(s.handleGenerate))
	s.mux.Handle("GET /api/outputs/{filename}", authed(s.handleOutput))

	if s.config.EnableChat {
		s.mux.Handle("GET /api/sessions", authed(s.handleListSessions))
		s.mux.Handle("POST /api/sessions", authed(s.handleCreateSession))
		s.mux.Handle("GET /api/sessions/{id}", authed(s.handleGetSession))
		s.mux.Handle("PUT /api/sessions/{id}/settings", authed(s.handleUpdateSettings))
		s.mux.Handle("POST /api/sessions/{id}/clear", authed(s.handleClearSession))
		s.mux.Handle("DELETE /api/sessions/{id}", authed(s.handleDeleteSession))
	}

	s.mux.Handle("GET /ws", limited(s.handleStream))
}

// protect applies key auth when configured.
func (s *Server) protect(h http.Handler) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Middleware(h)
}

// Handler returns the mux wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return s.loggingMw.Handler(s.corsMiddleware(s.mux))
}

// HTTPServer exposes the underlying server for shutdown registration.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens until Shutdown is called. Idle rate-limiter and auth
// attempt entries are cleaned while ctx is alive.
func (s *Server) Start(ctx context.Context) error {
	s.limiter.StartCleanupTicker(ctx, 5*time.Minute)
	if s.auth != nil {
		s.auth.Limiter().StartCleanupTicker(ctx, time.Minute)
	}
	s.logger.Info("WebUI server starting", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down WebUI server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	s.logger.Info("WebUI server stopped")
	return nil
}
