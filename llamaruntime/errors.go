package llamaruntime

import (
	"errors"
	"fmt"
)

// LlamaError represents a failed chat runtime operation.
// It provides structured error information including the operation that
// failed, the HTTP status from the endpoint (0 when none), and a message.
type LlamaError struct {
	Op      string // Operation that failed (e.g., "NewClient", "Infer")
	Code    int    // HTTP status code, 0 when the request never got a response
	Message string // Human-readable error message
	Err     error  // Wrapped underlying error (if any)
}

// Error implements the error interface.
func (e *LlamaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llamaruntime %s: %s (code: %d): %v", e.Op, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("llamaruntime %s: %s (code: %d)", e.Op, e.Message, e.Code)
}

// Unwrap returns the wrapped error, allowing use with errors.Is and errors.As.
func (e *LlamaError) Unwrap() error {
	return e.Err
}

// Sentinel errors for common failure conditions.
var (
	// ErrModelNotFound indicates the endpoint does not serve the requested model.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelLoadFailed indicates the client could not be created.
	ErrModelLoadFailed = errors.New("failed to load model")

	// ErrInferenceFailed indicates the inference operation failed.
	ErrInferenceFailed = errors.New("inference failed")

	// ErrInsufficientVRAM indicates the endpoint ran out of device memory.
	ErrInsufficientVRAM = errors.New("insufficient GPU VRAM")

	// ErrTimeout indicates the inference operation timed out.
	ErrTimeout = errors.New("inference timeout")

	// ErrClientClosed indicates the client was released.
	ErrClientClosed = errors.New("client is closed")

	// ErrEmptyConversation indicates no messages were supplied.
	ErrEmptyConversation = errors.New("conversation has no messages")
)
