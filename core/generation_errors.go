package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the generation error taxonomy. The struct errors below
// match these through their Is methods, so callers can use errors.Is without
// caring about the concrete type.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrLoad              = errors.New("model load failed")
	ErrSessionNotFound   = errors.New("session not found")
	ErrCompute           = errors.New("compute failed")
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrOutOfMemory is returned by runtimes when the device cannot hold a
	// model or an intermediate buffer.
	ErrOutOfMemory = fmt.Errorf("%w: out of memory", ErrResourceExhausted)

	// ErrBusy is returned when the worker pool queue is full.
	ErrBusy = fmt.Errorf("%w: worker queue full", ErrResourceExhausted)
)

// InvalidRequestError reports a malformed request rejected before any compute.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// NewInvalidRequest creates an InvalidRequestError.
func NewInvalidRequest(field, format string, args ...interface{}) *InvalidRequestError {
	return &InvalidRequestError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// LoadError reports a failed model load. The cache is never populated by a
// failed load, so the same key may be retried.
type LoadError struct {
	ModelID string
	Backend string
	Cause   error
}

func (e *LoadError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("load %s on %s: %v", e.ModelID, e.Backend, e.Cause)
	}
	return fmt.Sprintf("load %s: %v", e.ModelID, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// SessionNotFoundError reports an unknown conversational session id.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

func (e *SessionNotFoundError) Is(target error) bool { return target == ErrSessionNotFound }

// ComputeError wraps a backend failure that happened during a pipeline stage.
type ComputeError struct {
	Stage string
	Cause error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
}

func (e *ComputeError) Unwrap() error { return e.Cause }

func (e *ComputeError) Is(target error) bool { return target == ErrCompute }

// ResourceExhaustedError reports device memory exhaustion or a saturated
// worker pool.
type ResourceExhaustedError struct {
	Resource string
	Cause    error
}

func (e *ResourceExhaustedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("resource exhausted: %s", e.Resource)
	}
	return fmt.Sprintf("resource exhausted: %s: %v", e.Resource, e.Cause)
}

func (e *ResourceExhaustedError) Unwrap() error { return e.Cause }

func (e *ResourceExhaustedError) Is(target error) bool { return target == ErrResourceExhausted }

// oomMarkers are substrings runtimes use in out-of-memory messages.
var oomMarkers = []string{
	"out of memory",
	"cuda_error_out_of_memory",
	"failed to allocate",
	"insufficient memory",
	"mps backend out of memory",
	"vram",
}

// IsOutOfMemory reports whether err signals device memory exhaustion,
// either through ErrOutOfMemory or a recognizable runtime message.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range oomMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// MapResourceError converts out-of-memory failures into ResourceExhaustedError.
// Any other error is returned unchanged.
func MapResourceError(resource string, err error) error {
	if err == nil {
		return nil
	}
	var exhausted *ResourceExhaustedError
	if errors.As(err, &exhausted) {
		return err
	}
	if IsOutOfMemory(err) {
		return &ResourceExhaustedError{Resource: resource, Cause: err}
	}
	return err
}

// IsInvalidRequest reports whether err is an InvalidRequestError.
func IsInvalidRequest(err error) bool { return errors.Is(err, ErrInvalidRequest) }

// IsLoadError reports whether err is a LoadError.
func IsLoadError(err error) bool { return errors.Is(err, ErrLoad) }

// IsSessionNotFound reports whether err is a SessionNotFoundError.
func IsSessionNotFound(err error) bool { return errors.Is(err, ErrSessionNotFound) }

// IsComputeError reports whether err is a ComputeError.
func IsComputeError(err error) bool { return errors.Is(err, ErrCompute) }

// IsResourceExhausted reports whether err is a ResourceExhaustedError or one
// of the resource sentinels.
func IsResourceExhausted(err error) bool { return errors.Is(err, ErrResourceExhausted) }
