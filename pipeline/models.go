package pipeline

import (
	"context"
	"fmt"
	"image"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/llamaruntime"
	"ai_workspace/modelcache"
	"ai_workspace/sdruntime"
	"ai_workspace/vision"
)

// ModelSource hands out leased models. The orchestrator implements it over
// one cache per kind and the backend selector.
type ModelSource interface {
	Acquire(ctx context.Context, kind backend.Kind, modelID string) (*modelcache.Lease, error)
}

// ImageGenerator is the capability the image pipeline needs.
type ImageGenerator interface {
	Generate(ctx context.Context, params sdruntime.GenerateParams, onStep sdruntime.StepFunc) (*sdruntime.GenerateResult, error)
}

// DepthEstimator is the capability the depth pipeline needs.
type DepthEstimator interface {
	EstimateDepth(ctx context.Context, img image.Image) (*vision.FloatMap, error)
}

// Segmenter is the capability the segmentation pipeline needs.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (*image.Gray, error)
}

// ChatModel is the capability the conversation pipeline needs.
type ChatModel interface {
	InferStream(ctx context.Context, params llamaruntime.InferenceParams, onToken func(string)) (*llamaruntime.InferenceResult, error)
}

// capability asserts that the leased model implements T.
func capability[T any](lease *modelcache.Lease) (T, error) {
	m, ok := lease.Model().(T)
	if !ok {
		var zero T
		key := lease.Key()
		return zero, &core.LoadError{
			ModelID: key.ModelID,
			Backend: string(key.Backend),
			Cause:   fmt.Errorf("model does not provide %T", (*T)(nil)),
		}
	}
	return m, nil
}

// DecodeImage decodes request image bytes, reporting bad input as an
// InvalidRequestError.
func DecodeImage(field string, data []byte) (image.Image, error) {
	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, core.NewInvalidRequest(field, "%v", err)
	}
	return img, nil
}

func validateImage(field string, img image.Image) error {
	if img == nil {
		return core.NewInvalidRequest(field, "image is required")
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return core.NewInvalidRequest(field, "image has no pixels")
	}
	return nil
}
