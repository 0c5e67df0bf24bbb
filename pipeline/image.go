package pipeline

import (
	"context"
	"fmt"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/sdruntime"
)

// ImageRequest asks for text-to-image generation. Zero values take the
// configured defaults; Seed nil draws a random seed.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
	Guidance       float64
	Seed           *int64
	BatchSize      int
}

// ImageConfig holds image defaults.
type ImageConfig struct {
	DefaultModel    string
	DefaultSize     int
	DefaultSteps    int
	DefaultGuidance float64
	MaxBatchSize    int
	// Outputs saves every generated image when set
	Outputs OutputSaver
}

// OutputSaver persists one generated PNG and returns its file name.
// *outputs.Store implements it.
type OutputSaver interface {
	Save(requestID string, index int, png []byte) (string, error)
}

// DefaultImageConfig mirrors sdruntime's defaults.
func DefaultImageConfig() ImageConfig {
	return ImageConfig{
		DefaultModel:    "runwayml/stable-diffusion-v1-5",
		DefaultSize:     sdruntime.DefaultImageSize,
		DefaultSteps:    sdruntime.DefaultInferenceSteps,
		DefaultGuidance: sdruntime.DefaultGuidanceScale,
		MaxBatchSize:    sdruntime.DefaultMaxBatchSize,
	}
}

// ImagePipeline runs initializing, generating, complete.
type ImagePipeline struct {
	runner *Runner
	models ModelSource
	config ImageConfig
}

// NewImagePipeline creates the image pipeline.
func NewImagePipeline(runner *Runner, models ModelSource, config ImageConfig) *ImagePipeline {
	return &ImagePipeline{runner: runner, models: models, config: config}
}

// Params resolves defaults and validates req.
func (p *ImagePipeline) Params(req ImageRequest) (string, sdruntime.GenerateParams, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}
	size := sdruntime.DefaultSizeFor(model, p.config.DefaultSize)

	params := sdruntime.GenerateParams{
		Prompt:         sdruntime.NormalizePrompt(req.Prompt),
		NegativePrompt: sdruntime.NormalizePrompt(req.NegativePrompt),
		Width:          orDefault(req.Width, size),
		Height:         orDefault(req.Height, size),
		Steps:          orDefault(req.Steps, p.config.DefaultSteps),
		CFGScale:       req.Guidance,
		Seed:           -1,
		BatchSize:      orDefault(req.BatchSize, 1),
	}
	if params.CFGScale == 0 {
		params.CFGScale = p.config.DefaultGuidance
	}
	if req.Seed != nil {
		if *req.Seed < 0 {
			return "", params, core.NewInvalidRequest("seed", "must be non-negative, got %d", *req.Seed)
		}
		params.Seed = *req.Seed
	}
	if err := sdruntime.ValidateParams(params, p.config.MaxBatchSize); err != nil {
		return "", params, core.NewInvalidRequest("", "%v", err)
	}
	return model, params, nil
}

// Run validates req and starts generation.
func (p *ImagePipeline) Run(ctx context.Context, req ImageRequest) (*Stream, error) {
	model, params, err := p.Params(req)
	if err != nil {
		return nil, err
	}
	if params.Seed < 0 {
		params.Seed = sdruntime.RandomSeed()
	}

	body := func(ctx context.Context, r *Reporter) (*Result, error) {
		if err := r.Stage(StatusInitializing); err != nil {
			return nil, err
		}
		lease, err := p.models.Acquire(ctx, backend.KindImage, model)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
		gen, err := capability[ImageGenerator](lease)
		if err != nil {
			return nil, err
		}

		if err := r.Stage(StatusGenerating); err != nil {
			return nil, err
		}
		out, err := gen.Generate(ctx, params, func(step, total int) {
			r.Progress(float64(step)/float64(total), fmt.Sprintf("step %d/%d", step, total))
		})
		if err != nil {
			return nil, err
		}

		meta := map[string]any{
			"prompt":          params.Prompt,
			"negative_prompt": params.NegativePrompt,
			"width":           out.Width,
			"height":          out.Height,
			"steps":           params.Steps,
			"guidance":        params.CFGScale,
			"batch_size":      params.Batch(),
			"seed_used":       out.Seed,
			"model":           model,
			"device":          string(lease.Handle().Backend()),
		}
		if req.Seed != nil {
			meta["seed"] = *req.Seed
		} else {
			meta["seed"] = nil
		}

		var files []string
		if p.config.Outputs != nil {
			if err := r.Stage(StatusPostProcessing); err != nil {
				return nil, err
			}
			for i, img := range out.Images {
				name, err := p.config.Outputs.Save(r.RequestID(), i, img)
				if err != nil {
					return nil, err
				}
				files = append(files, name)
				r.Progress(float64(i+1)/float64(len(out.Images)), "saved "+name)
			}
		}
		return &Result{
			Model:    model,
			Backend:  string(lease.Handle().Backend()),
			Images:   out.Images,
			Files:    files,
			Metadata: meta,
		}, nil
	}
	return p.runner.Start(ctx, run{kind: KindImage, model: model, body: body})
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
