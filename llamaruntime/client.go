package llamaruntime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
)

// =============================================================================
// Client Configuration
// =============================================================================

// ClientConfig contains configuration for the Client.
type ClientConfig struct {
	// BaseURL is the OpenAI-compatible endpoint, e.g. http://localhost:8080/v1.
	// Defaults to DefaultBaseURL.
	BaseURL string

	// APIKey is sent as a bearer token. Local servers usually ignore it.
	APIKey string

	// Model is the model id sent with every request. Required.
	Model string

	// Device records the backend the model was loaded for.
	Device string

	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// =============================================================================
// Client
// =============================================================================

// Client runs chat inference for one model.
//
// Thread Safety:
// - All public methods are thread-safe
// - Multiple goroutines can call Infer/InferStream concurrently
type Client struct {
	api    *openai.Client
	config ClientConfig
	mu     sync.RWMutex
	closed bool

	totalInferences   int64
	totalTokensGen    int64
	totalTokensPrompt int64
	totalDuration     int64 // nanoseconds
	errorCount        int64
}

// NewClient creates a Client for config.Model.
func NewClient(config ClientConfig) (*Client, error) {
	if strings.TrimSpace(config.Model) == "" {
		return nil, &LlamaError{
			Op:      "NewClient",
			Message: "Model is required",
			Err:     ErrModelNotFound,
		}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	apiConfig := openai.DefaultConfig(config.APIKey)
	apiConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	apiConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &Client{
		api:    openai.NewClientWithConfig(apiConfig),
		config: config,
	}, nil
}

// ModelID returns the model id this client sends.
func (c *Client) ModelID() string { return c.config.Model }

// Device returns the backend recorded at load time.
func (c *Client) Device() string { return c.config.Device }

// Infer performs a non-streaming chat completion.
func (c *Client) Infer(ctx context.Context, params InferenceParams) (*InferenceResult, error) {
	return c.InferStream(ctx, params, nil)
}

// InferStream performs a streaming chat completion, calling onToken for
// every content delta. A nil onToken just accumulates the text.
func (c *Client) InferStream(ctx context.Context, params InferenceParams, onToken func(string)) (*InferenceResult, error) {
	if err := c.checkOpen("InferStream"); err != nil {
		return nil, err
	}
	if len(params.Messages) == 0 {
		return nil, &LlamaError{Op: "InferStream", Message: "no messages", Err: ErrEmptyConversation}
	}
	params = params.withDefaults()

	inferCtx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	start := time.Now()
	stream, err := c.api.CreateChatCompletionStream(inferCtx, c.request(params))
	if err != nil {
		atomic.AddInt64(&c.errorCount, 1)
		return nil, c.wrapError("InferStream", ctx, err)
	}
	defer stream.Close()

	var (
		text       strings.Builder
		stopReason = "eos"
		usage      *openai.Usage
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			atomic.AddInt64(&c.errorCount, 1)
			return nil, c.wrapError("InferStream", ctx, err)
		}
		if resp.Usage != nil {
			usage = resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if delta := choice.Delta.Content; delta != "" {
			text.WriteString(delta)
			if onToken != nil {
				onToken(delta)
			}
		}
		if choice.FinishReason != "" {
			stopReason = mapFinishReason(choice.FinishReason)
		}
	}

	result := c.finish(text.String(), params, usage, time.Since(start))
	result.StopReason = stopReason
	return result, nil
}

// HealthCheck verifies the endpoint answers a model listing.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.checkOpen("HealthCheck"); err != nil {
		return err
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return c.wrapError("HealthCheck", ctx, err)
	}
	return nil
}

// Stats returns cumulative statistics.
func (c *Client) Stats() InferenceStats {
	return InferenceStats{
		TotalInferences:      atomic.LoadInt64(&c.totalInferences),
		TotalTokensGenerated: atomic.LoadInt64(&c.totalTokensGen),
		TotalTokensPrompt:    atomic.LoadInt64(&c.totalTokensPrompt),
		TotalDuration:        time.Duration(atomic.LoadInt64(&c.totalDuration)),
		ErrorCount:           atomic.LoadInt64(&c.errorCount),
	}
}

// Close marks the client closed. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) checkOpen(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return &LlamaError{Op: op, Message: "client is closed", Err: ErrClientClosed}
	}
	return nil
}

func (c *Client) request(params InferenceParams) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(params.Messages))
	for i, m := range params.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:         c.config.Model,
		Messages:      msgs,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		Stop:          params.StopSequences,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
}

func (c *Client) finish(text string, params InferenceParams, usage *openai.Usage, d time.Duration) *InferenceResult {
	promptTokens, genTokens := 0, 0
	if usage != nil {
		promptTokens, genTokens = usage.PromptTokens, usage.CompletionTokens
	} else {
		// ~4 chars per token when the server does not report usage
		for _, m := range params.Messages {
			promptTokens += len(m.Content) / 4
		}
		genTokens = max(len(text)/4, 1)
	}

	tps := 0.0
	if d.Seconds() >= 0.001 {
		tps = float64(genTokens) / d.Seconds()
	}

	atomic.AddInt64(&c.totalInferences, 1)
	atomic.AddInt64(&c.totalTokensGen, int64(genTokens))
	atomic.AddInt64(&c.totalTokensPrompt, int64(promptTokens))
	atomic.AddInt64(&c.totalDuration, int64(d))

	return &InferenceResult{
		Text:            text,
		TokensGenerated: genTokens,
		TokensPrompt:    promptTokens,
		Duration:        d,
		TokensPerSecond: tps,
	}
}

// wrapError classifies err. Cancellation of the caller's ctx is returned as
// is so pipelines can tell it apart from runtime failures.
func (c *Client) wrapError(op string, callerCtx context.Context, err error) error {
	if callerCtx.Err() != nil {
		return callerCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LlamaError{Op: op, Message: "request timed out", Err: ErrTimeout}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		sentinel := ErrInferenceFailed
		switch {
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			sentinel = ErrModelNotFound
		case strings.Contains(strings.ToLower(apiErr.Message), "out of memory"):
			sentinel = ErrInsufficientVRAM
		}
		return &LlamaError{Op: op, Code: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: sentinel}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &LlamaError{Op: op, Code: reqErr.HTTPStatusCode, Message: "request failed", Err: fmt.Errorf("%w: %v", ErrInferenceFailed, reqErr.Err)}
	}
	return &LlamaError{Op: op, Message: "request failed", Err: fmt.Errorf("%w: %v", ErrInferenceFailed, err)}
}

func mapFinishReason(r openai.FinishReason) string {
	switch r {
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonStop:
		return "eos"
	default:
		return string(r)
	}
}

// Ensure Client implements io.Closer
var _ io.Closer = (*Client)(nil)
