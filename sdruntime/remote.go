package sdruntime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
)

// RemoteConfig configures an OpenAI-compatible image endpoint.
type RemoteConfig struct {
	APIKey  string
	BaseURL string // defaults to https://api.openai.com/v1

	// Model overrides the checkpoint id sent to the endpoint. Empty sends the
	// id the model was loaded with.
	Model string

	Timeout time.Duration
}

// DefaultRemoteConfig returns a config pointing at api.openai.com.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL: "https://api.openai.com/v1",
		Timeout: 120 * time.Second,
	}
}

// RemoteModel generates images through an OpenAI-compatible /images API.
// The remote side has no step callbacks, so progress jumps from 0 to done.
type RemoteModel struct {
	client  *openai.Client
	modelID string
	device  string
	closed  atomic.Bool
}

// NewRemoteModel creates a client for modelID.
func NewRemoteModel(cfg RemoteConfig, modelID, device string) (*RemoteModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required for the remote image runtime", ErrModelLoadFailed)
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, fmt.Errorf("%w: empty model id", ErrModelNotFound)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteConfig().Timeout
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	if cfg.Model != "" {
		modelID = cfg.Model
	}
	return &RemoteModel{
		client:  openai.NewClientWithConfig(clientConfig),
		modelID: modelID,
		device:  device,
	}, nil
}

// ModelID returns the model id sent to the endpoint.
func (m *RemoteModel) ModelID() string { return m.modelID }

// Device returns the backend the model was loaded for.
func (m *RemoteModel) Device() string { return m.device }

// Close marks the model closed. The HTTP client holds no resources.
func (m *RemoteModel) Close() error {
	m.closed.Store(true)
	return nil
}

// Generate requests params.Batch() images and decodes the base64 payloads.
func (m *RemoteModel) Generate(ctx context.Context, params GenerateParams, onStep StepFunc) (*GenerateResult, error) {
	if m.closed.Load() {
		return nil, ErrModelClosed
	}
	if err := ValidateParams(params, max(params.Batch(), DefaultMaxBatchSize)); err != nil {
		return nil, err
	}
	seed, _ := ResolveSeed(params.Seed)

	resp, err := m.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         params.remotePrompt(),
		Model:          m.modelID,
		N:              params.Batch(),
		Size:           fmt.Sprintf("%dx%d", params.Width, params.Height),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, mapRemoteError(err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: endpoint returned no images", ErrGenerationFailed)
	}

	// Endpoints may snap the size to one they support; report what came back.
	result := &GenerateResult{Seed: seed}
	for i, d := range resp.Data {
		data, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d: %v", ErrGenerationFailed, i, err)
		}
		size, err := pngSize(data)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d: %v", ErrGenerationFailed, i, err)
		}
		if i == 0 {
			result.Width, result.Height = size.X, size.Y
		} else if size.X != result.Width || size.Y != result.Height {
			return nil, fmt.Errorf("%w: image %d is %dx%d, image 0 is %dx%d",
				ErrGenerationFailed, i, size.X, size.Y, result.Width, result.Height)
		}
		result.Images = append(result.Images, data)
	}
	if onStep != nil {
		onStep(params.Steps, params.Steps)
	}
	return result, nil
}
