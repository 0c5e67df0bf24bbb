package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ai_workspace/core"
	"ai_workspace/logging"
	"ai_workspace/metrics"
)

// Body is the staged work of one run. It reports stages through r and
// returns the result or an error. Errors that are not already part of the
// core taxonomy are wrapped in a ComputeError for the current stage.
type Body func(ctx context.Context, r *Reporter) (*Result, error)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// EventBuffer is the capacity of each stream's channel
	EventBuffer int

	// IdleTimeout cancels a run whose consumer has left a full buffer
	// unread this long. Zero disables it.
	IdleTimeout time.Duration
}

// DefaultIdleTimeout is the default consumer idle timeout.
const DefaultIdleTimeout = 60 * time.Second

// DefaultRunnerConfig returns the default event buffer and idle timeout.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{EventBuffer: DefaultEventBuffer, IdleTimeout: DefaultIdleTimeout}
}

// Runner executes Bodies on a Pool and turns them into Streams.
type Runner struct {
	config  RunnerConfig
	pool    *Pool
	logger  *zap.Logger
	prom    *metrics.Prometheus
	history metrics.Collector
}

// NewRunner creates a runner. logger, prom and history may be nil.
func NewRunner(config RunnerConfig, pool *Pool, logger *zap.Logger, prom *metrics.Prometheus, history metrics.Collector) *Runner {
	if config.EventBuffer < 1 {
		config.EventBuffer = DefaultEventBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		config:  config,
		pool:    pool,
		logger:  logger,
		prom:    prom,
		history: history,
	}
}

// run describes one submission.
type run struct {
	kind    string
	model   string
	backend string
	body    Body
}

// Start submits body. It returns core.ErrBusy synchronously when the pool
// is saturated; otherwise the returned Stream always ends with exactly one
// terminal event.
func (rn *Runner) Start(ctx context.Context, rq run) (*Stream, error) {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan ProgressEvent, rn.config.EventBuffer)
	stream := &Stream{id: id, kind: rq.kind, events: events, cancel: cancel}
	rep := &Reporter{id: id, ctx: runCtx, cancel: cancel, events: events, idle: rn.config.IdleTimeout}

	log := rn.logger.With(logging.RequestID(id), logging.Kind(rq.kind))
	start := time.Now()

	err := rn.pool.Submit(runCtx,
		func(ctx context.Context) {
			rn.execute(ctx, rq, id, rep, log, start)
		},
		func(err error) {
			rn.terminate(rq, id, rep, log, start, nil, &core.ComputeError{Stage: "queued", Cause: err})
		})
	if err != nil {
		cancel()
		return nil, err
	}
	log.Debug("run admitted")
	return stream, nil
}

func (rn *Runner) execute(ctx context.Context, rq run, id string, rep *Reporter, log *zap.Logger, start time.Time) {
	var (
		result *Result
		err    error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("pipeline panic",
					zap.Any("panic", p),
					logging.Stage(rep.Current()),
					zap.ByteString("stack", debug.Stack()))
				result = nil
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		if err = ctx.Err(); err != nil {
			return
		}
		result, err = rq.body(ctx, rep)
	}()

	if err == nil && result == nil {
		err = errors.New("pipeline produced no result")
	}
	if err != nil && rep.abandoned.Load() {
		log.Warn("stream abandoned by consumer", zap.Duration("idle_timeout", rn.config.IdleTimeout))
		err = fmt.Errorf("%w: %w", ErrStreamAbandoned, context.Canceled)
	}
	if err != nil {
		err = classify(rep.Current(), err)
	}
	rn.terminate(rq, id, rep, log, start, result, err)
}

// classify keeps taxonomy errors and wraps anything else as a ComputeError.
func classify(stage string, err error) error {
	if stage == "" {
		stage = "start"
	}
	switch {
	case core.IsInvalidRequest(err),
		core.IsLoadError(err),
		core.IsSessionNotFound(err),
		core.IsComputeError(err),
		core.IsResourceExhausted(err):
		return err
	case core.IsOutOfMemory(err):
		return core.MapResourceError("memory", err)
	}
	return &core.ComputeError{Stage: stage, Cause: err}
}

func (rn *Runner) terminate(rq run, id string, rep *Reporter, log *zap.Logger, start time.Time, result *Result, err error) {
	elapsed := time.Since(start)
	rec := metrics.GenerationRecord{
		ID:        id,
		Kind:      rq.kind,
		Model:     rq.model,
		Backend:   rq.backend,
		StartTime: start,
		EndTime:   start.Add(elapsed),
		Duration:  elapsed,
	}

	var ev ProgressEvent
	if err != nil {
		rec.Status = metrics.StatusError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			rec.Status = metrics.StatusCanceled
			log.Info("run cancelled", logging.Stage(rep.Current()), logging.Duration(elapsed))
		} else {
			log.Warn("run failed", zap.Error(err), logging.Duration(elapsed))
		}
		rec.ErrorMsg = err.Error()
		ev = ProgressEvent{Status: StatusError, Err: err, Error: err.Error()}
	} else {
		rec.Status = metrics.StatusSuccess
		result.RequestID = id
		result.Kind = rq.kind
		result.Elapsed = elapsed
		if result.Model == "" {
			result.Model = rq.model
		}
		if result.Backend == "" {
			result.Backend = rq.backend
		}
		rec.Model, rec.Backend = result.Model, result.Backend
		log.Info("run complete", logging.Duration(elapsed))
		ev = ProgressEvent{Status: StatusComplete, Progress: progress(1), Result: result}
	}

	rep.finish(ev)
	close(rep.events)
	rep.cancel()

	if rn.history != nil {
		rn.history.RecordGeneration(rec)
	}
	rn.prom.PipelineFinished(rq.kind, rec.Status, elapsed)
}
