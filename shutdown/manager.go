// Package shutdown coordinates graceful process shutdown: it turns
// SIGINT/SIGTERM into context cancellation, waits for in-flight generation
// requests and runs cleanup handlers in priority order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ai_workspace/core"
)

// ErrShuttingDown is returned by WrapOperation once shutdown has begun.
var ErrShuttingDown = errors.New("shutdown: server is shutting down")

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager is the shutdown organism. It composes the handler Registry with
// an in-flight operation counter and a signal listener. A second signal
// forces exit.
type Manager struct {
	logger    *zap.Logger
	timeout   time.Duration
	forceExit func(code int)
	registry  *Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	draining bool
	started  bool
	done     bool
	inflight sync.WaitGroup
	active   atomic.Int64
	signals  atomic.Int32
	sigChan  chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the shutdown deadline.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithForceExit replaces os.Exit for the second-signal path.
func WithForceExit(fn func(code int)) Option {
	return func(m *Manager) { m.forceExit = fn }
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:    logger.Named("shutdown"),
		timeout:   DefaultTimeout,
		forceExit: os.Exit,
		registry:  NewRegistry(),
		ctx:       ctx,
		cancel:    cancel,
		sigChan:   make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is cancelled when shutdown is triggered.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup handler; see the Priority constants.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler", zap.String("handler", name), zap.Int("priority", priority))
}

// Handlers returns handler names in execution order.
func (m *Manager) Handlers() []string {
	return m.registry.Names()
}

// Start listens for SIGINT and SIGTERM. The first signal triggers shutdown,
// the second forces exit with ExitCodeSIGINT.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Add(1) == 1 {
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		m.Trigger()
		return
	}
	m.logger.Warn("second signal received, forcing exit", zap.String("signal", sig.String()))
	m.forceExit(core.ExitCodeSIGINT)
}

// Trigger starts shutdown without a signal, e.g. from a service manager.
func (m *Manager) Trigger() {
	m.cancel()
}

// Wait blocks until shutdown is triggered.
func (m *Manager) Wait() {
	<-m.ctx.Done()
}

// WrapOperation runs fn as a tracked in-flight operation. Once shutdown has
// begun new operations are refused with ErrShuttingDown.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		m.logger.Debug("operation refused", zap.String("operation", name))
		return ErrShuttingDown
	}
	m.inflight.Add(1)
	m.active.Add(1)
	m.mu.Unlock()
	defer func() {
		m.active.Add(-1)
		m.inflight.Done()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// ActiveOperations returns the number of tracked operations in flight.
func (m *Manager) ActiveOperations() int64 {
	return m.active.Load()
}

// IsShuttingDown reports whether Shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Shutdown refuses new operations, waits for in-flight ones and runs the
// handlers, all within the configured timeout. It is idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	m.draining = true
	m.mu.Unlock()
	m.cancel()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.logger.Info("graceful shutdown started",
		zap.Duration("timeout", m.timeout),
		zap.Int64("in_flight", m.active.Load()),
		zap.Strings("handlers", m.registry.Names()))

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("in-flight operations did not finish", zap.Int64("remaining", m.active.Load()))
	}

	// Handlers always get at least a second, even after a slow drain.
	hctx := ctx
	if deadline, _ := ctx.Deadline(); time.Until(deadline) < time.Second {
		var hcancel context.CancelFunc
		hctx, hcancel = context.WithTimeout(context.Background(), time.Second)
		defer hcancel()
	}
	errs := m.registry.Run(hctx, m.logger)

	m.mu.Lock()
	if m.started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}
	m.mu.Unlock()

	if len(errs) > 0 {
		m.logger.Error("shutdown finished with errors", zap.Int("errors", len(errs)), zap.Duration("duration", time.Since(start)))
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}
	m.logger.Info("graceful shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}
