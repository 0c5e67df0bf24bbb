package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEventBuffer is the channel capacity of a Stream.
const DefaultEventBuffer = 16

// Stream is the consumer side of one run.
type Stream struct {
	id     string
	kind   string
	events chan ProgressEvent
	cancel context.CancelFunc
}

// ID returns the request id.
func (s *Stream) ID() string { return s.id }

// Kind returns the pipeline name.
func (s *Stream) Kind() string { return s.kind }

// Events returns the event channel. It is closed after the terminal event.
func (s *Stream) Events() <-chan ProgressEvent { return s.events }

// Cancel asks the run to stop. The stream still ends with a terminal error
// event, which the consumer may drain or ignore.
//
// A consumer that stops reading must call Cancel. Without it the run keeps
// its worker until the runner's idle timeout fires, or forever when that
// timeout is disabled.
func (s *Stream) Cancel() { s.cancel() }

// Collect drains s and returns every event.
func Collect(s *Stream) []ProgressEvent {
	var out []ProgressEvent
	for ev := range s.events {
		out = append(out, ev)
	}
	return out
}

// Wait drains s and returns the terminal event.
func Wait(s *Stream) ProgressEvent {
	var last ProgressEvent
	for ev := range s.events {
		last = ev
	}
	return last
}

// ErrStreamAbandoned is the cause of a run cancelled because its consumer
// stopped reading for longer than the idle timeout.
var ErrStreamAbandoned = errors.New("stream consumer stopped reading")

// Reporter is the producer side of one run. Stage and Progress are
// non-terminal; the runner sends the terminal event.
type Reporter struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	events chan ProgressEvent
	// idle bounds how long send waits on a full buffer; 0 waits forever
	idle      time.Duration
	abandoned atomic.Bool

	mu    sync.Mutex
	stage string
}

// RequestID returns the id of the run.
func (r *Reporter) RequestID() string { return r.id }

// Stage enters a new stage. It returns ctx.Err() if the run was cancelled
// so stage bodies can stop between stages.
func (r *Reporter) Stage(status string) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.stage = status
	r.mu.Unlock()
	r.send(ProgressEvent{Status: status})
	return r.ctx.Err()
}

// Progress reports a fraction in [0,1] within the current stage.
func (r *Reporter) Progress(fraction float64, message string) {
	fraction = min(max(fraction, 0), 1)
	r.send(ProgressEvent{Status: r.Current(), Progress: progress(fraction), Message: message})
}

// Current returns the active stage.
func (r *Reporter) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// send blocks until the consumer reads or the run is cancelled. If the
// buffer stays full for the idle timeout the run is cancelled as abandoned.
func (r *Reporter) send(ev ProgressEvent) {
	select {
	case r.events <- ev:
		return
	case <-r.ctx.Done():
		return
	default:
	}
	if r.idle <= 0 {
		select {
		case r.events <- ev:
		case <-r.ctx.Done():
		}
		return
	}

	timer := time.NewTimer(r.idle)
	defer timer.Stop()
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	case <-timer.C:
		r.abandoned.Store(true)
		r.cancel()
	}
}

// finish delivers the terminal event. It waits for the consumer while the
// run is live. Once cancelled it never blocks: if the buffer is full the
// oldest undelivered events are dropped to make room.
func (r *Reporter) finish(ev ProgressEvent) {
	select {
	case r.events <- ev:
		return
	case <-r.ctx.Done():
	}
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
		default:
		}
	}
}
