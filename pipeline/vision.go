package pipeline

import (
	"context"
	"image"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/vision"
)

// Depth output formats.
const (
	DepthPNG  = "png"
	DepthRaw  = "raw"
	DepthBoth = "both"
)

// DepthRequest asks for a depth map of Image.
type DepthRequest struct {
	Image        image.Image
	Model        string
	OutputFormat string // png (default), raw or both
}

// DepthPipeline runs loading_model, processing, post_processing, complete.
type DepthPipeline struct {
	runner       *Runner
	models       ModelSource
	defaultModel string
}

// NewDepthPipeline creates the depth pipeline.
func NewDepthPipeline(runner *Runner, models ModelSource, defaultModel string) *DepthPipeline {
	return &DepthPipeline{runner: runner, models: models, defaultModel: defaultModel}
}

// Run validates req and starts depth estimation.
func (p *DepthPipeline) Run(ctx context.Context, req DepthRequest) (*Stream, error) {
	if err := validateImage("image", req.Image); err != nil {
		return nil, err
	}
	format := req.OutputFormat
	switch format {
	case "":
		format = DepthPNG
	case DepthPNG, DepthRaw, DepthBoth:
	default:
		return nil, core.NewInvalidRequest("output_format", "must be png, raw or both, got %q", format)
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	img := req.Image

	body := func(ctx context.Context, r *Reporter) (*Result, error) {
		if err := r.Stage(StatusLoadingModel); err != nil {
			return nil, err
		}
		lease, err := p.models.Acquire(ctx, backend.KindDepth, model)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
		est, err := capability[DepthEstimator](lease)
		if err != nil {
			return nil, err
		}

		if err := r.Stage(StatusProcessing); err != nil {
			return nil, err
		}
		depth, err := est.EstimateDepth(ctx, img)
		if err != nil {
			return nil, err
		}

		if err := r.Stage(StatusPostProcessing); err != nil {
			return nil, err
		}
		lo, hi := depth.Range()
		b := img.Bounds()
		res := &Result{
			Model:   model,
			Backend: string(lease.Handle().Backend()),
			Metadata: map[string]any{
				"original_size": [2]int{b.Dx(), b.Dy()},
				"depth_min":     lo,
				"depth_max":     hi,
				"output_format": format,
				"model":         model,
			},
		}
		if format != DepthRaw {
			res.Depth = vision.NormalizeMinMax(depth)
		}
		if format != DepthPNG {
			res.DepthRaw = depth
		}
		return res, nil
	}
	return p.runner.Start(ctx, run{kind: KindDepth, model: model, body: body})
}

// SegmentationRequest asks for a foreground mask of Image. CleanMask and
// RemoveBackground default to true.
type SegmentationRequest struct {
	Image            image.Image
	Model            string
	CleanMask        *bool
	RemoveBackground *bool
}

// SegmentationPipeline runs loading_model, processing, post_processing,
// complete.
type SegmentationPipeline struct {
	runner       *Runner
	models       ModelSource
	defaultModel string
}

// NewSegmentationPipeline creates the segmentation pipeline.
func NewSegmentationPipeline(runner *Runner, models ModelSource, defaultModel string) *SegmentationPipeline {
	return &SegmentationPipeline{runner: runner, models: models, defaultModel: defaultModel}
}

// Run validates req and starts segmentation.
func (p *SegmentationPipeline) Run(ctx context.Context, req SegmentationRequest) (*Stream, error) {
	if err := validateImage("image", req.Image); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	clean := boolOr(req.CleanMask, true)
	cutout := boolOr(req.RemoveBackground, true)
	img := req.Image

	body := func(ctx context.Context, r *Reporter) (*Result, error) {
		if err := r.Stage(StatusLoadingModel); err != nil {
			return nil, err
		}
		lease, err := p.models.Acquire(ctx, backend.KindSegmentation, model)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
		seg, err := capability[Segmenter](lease)
		if err != nil {
			return nil, err
		}

		if err := r.Stage(StatusProcessing); err != nil {
			return nil, err
		}
		mask, err := seg.Segment(ctx, img)
		if err != nil {
			return nil, err
		}

		if err := r.Stage(StatusPostProcessing); err != nil {
			return nil, err
		}
		mask = vision.Binarize(mask)
		if clean {
			mask = vision.CleanMask(mask)
		}
		res := &Result{
			Model:   model,
			Backend: string(lease.Handle().Backend()),
			Mask:    mask,
			Metadata: map[string]any{
				"coverage":           vision.Coverage(mask),
				"mask_cleaned":       clean,
				"background_removed": cutout,
				"model":              model,
			},
		}
		if cutout {
			if res.Cutout, err = vision.ApplyMask(img, mask); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	return p.runner.Start(ctx, run{kind: KindSegmentation, model: model, body: body})
}

// NormalMapRequest derives a tangent-space normal map from a depth image.
// Strength 0 means 1.0.
type NormalMapRequest struct {
	Depth      image.Image
	Strength   float64
	BlurRadius int
}

// MaxBlurRadius bounds NormalMapRequest.BlurRadius.
const MaxBlurRadius = 50

// NormalMapPipeline runs processing, complete. It loads no model.
type NormalMapPipeline struct {
	runner *Runner
}

// NewNormalMapPipeline creates the normal map pipeline.
func NewNormalMapPipeline(runner *Runner) *NormalMapPipeline {
	return &NormalMapPipeline{runner: runner}
}

// Run validates req and starts the conversion.
func (p *NormalMapPipeline) Run(ctx context.Context, req NormalMapRequest) (*Stream, error) {
	if err := validateImage("depth", req.Depth); err != nil {
		return nil, err
	}
	strength := req.Strength
	if strength == 0 {
		strength = 1.0
	}
	if strength < 0 {
		return nil, core.NewInvalidRequest("strength", "must be positive, got %v", strength)
	}
	if req.BlurRadius < 0 || req.BlurRadius > MaxBlurRadius {
		return nil, core.NewInvalidRequest("blur_radius", "must be between 0 and %d, got %d", MaxBlurRadius, req.BlurRadius)
	}
	depthImg, radius := req.Depth, req.BlurRadius

	body := func(ctx context.Context, r *Reporter) (*Result, error) {
		if err := r.Stage(StatusProcessing); err != nil {
			return nil, err
		}
		normal := vision.NormalMap(vision.GrayToFloat(depthImg), strength, radius)
		return &Result{
			Backend: string(backend.CPU),
			Normal:  normal,
			Metadata: map[string]any{
				"strength":    strength,
				"blur_radius": radius,
			},
		}, nil
	}
	return p.runner.Start(ctx, run{kind: KindNormalMap, backend: string(backend.CPU), body: body})
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
