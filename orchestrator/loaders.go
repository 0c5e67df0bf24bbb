package orchestrator

import (
	"context"

	"ai_workspace/backend"
	"ai_workspace/core"
	"ai_workspace/llamaruntime"
	"ai_workspace/sdruntime"
	"ai_workspace/vision"
)

// Image runtimes selectable through core.Config.ImageRuntime.
const (
	ImageRuntimeLocal  = "local"
	ImageRuntimeOpenAI = "openai"
)

// defaultRegistry wires each engine kind to its runtime.
func defaultRegistry(cfg *core.Config) *backend.Registry {
	r := backend.NewRegistry()

	r.Register(backend.KindImage, backend.LoaderFunc(func(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
		if cfg.ImageRuntime == ImageRuntimeOpenAI {
			remote := sdruntime.DefaultRemoteConfig()
			remote.APIKey = cfg.ImageAPIKey
			if cfg.ImageBaseURL != "" {
				remote.BaseURL = cfg.ImageBaseURL
			}
			return asModel(sdruntime.NewRemoteModel(remote, spec.ModelID, string(spec.Backend)))
		}
		return asModel(sdruntime.NewLocalModel(ctx, spec.ModelID, string(spec.Backend)))
	}))

	r.Register(backend.KindDepth, backend.LoaderFunc(func(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
		return asModel(vision.NewDepthModel(ctx, spec.ModelID, string(spec.Backend)))
	}))

	r.Register(backend.KindSegmentation, backend.LoaderFunc(func(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
		return asModel(vision.NewSegmenter(ctx, spec.ModelID, string(spec.Backend)))
	}))

	r.Register(backend.KindChat, backend.LoaderFunc(func(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
		return asModel(llamaruntime.NewClient(llamaruntime.ClientConfig{
			BaseURL: cfg.ChatBaseURL,
			APIKey:  cfg.ChatAPIKey,
			Model:   spec.ModelID,
			Device:  string(spec.Backend),
			Timeout: cfg.ChatTimeout,
		}))
	}))
	return r
}

// asModel keeps a failed constructor's nil pointer out of the interface.
func asModel[T backend.Model](m T, err error) (backend.Model, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
