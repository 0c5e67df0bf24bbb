package sdruntime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"ai_workspace/core"
)

var (
	ErrModelNotFound    = errors.New("sdruntime: model not found")
	ErrModelLoadFailed  = errors.New("sdruntime: failed to load model")
	ErrModelClosed      = errors.New("sdruntime: model is closed")
	ErrGenerationFailed = errors.New("sdruntime: image generation failed")

	// ErrInvalidPrompt and ErrInvalidParams reject a request before any
	// sampling happens.
	ErrInvalidPrompt = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams = errors.New("sdruntime: invalid generation parameters")

	// ErrOutOfVRAM matches core.ErrOutOfMemory, so the pipeline reports it as
	// resource exhaustion rather than a compute failure.
	ErrOutOfVRAM = fmt.Errorf("sdruntime: %w", core.ErrOutOfMemory)
)

// mapRemoteError translates an images endpoint failure into the package
// sentinels. Context errors pass through unchanged.
func mapRemoteError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	switch {
	case remoteOutOfMemory(apiErr):
		return fmt.Errorf("%w: status %d: %s", ErrOutOfVRAM, apiErr.HTTPStatusCode, apiErr.Message)
	case apiErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, apiErr.Message)
	case apiErr.HTTPStatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidParams, apiErr.Message)
	}
	return fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, apiErr.HTTPStatusCode, apiErr.Message)
}

// remoteOutOfMemory reports whether the endpoint ran out of device memory.
// Self-hosted backends answer 507 or a 5xx naming the allocation failure.
func remoteOutOfMemory(apiErr *openai.APIError) bool {
	if apiErr.HTTPStatusCode == http.StatusInsufficientStorage {
		return true
	}
	if apiErr.HTTPStatusCode < 500 {
		return false
	}
	return core.IsOutOfMemory(errors.New(strings.ToLower(apiErr.Message)))
}
