// Package llamaruntime runs chat inference against an OpenAI-compatible
// endpoint (llama.cpp server, MLX server, vLLM, LocalAI, or OpenAI itself).
// This file contains pure Go types and constants.
package llamaruntime

import (
	"time"
)

// =============================================================================
// Default Constants
// =============================================================================

const (
	// DefaultMaxTokens is the default maximum number of tokens to generate.
	DefaultMaxTokens = 2048

	// DefaultTemperature is the default sampling temperature.
	// Lower values make output more deterministic.
	DefaultTemperature = 0.7

	// DefaultTopP is the default top-p (nucleus) sampling parameter.
	DefaultTopP = 0.9

	// DefaultTimeout is the default timeout for inference operations.
	DefaultTimeout = 2 * time.Minute

	// DefaultBaseURL points at a local llama.cpp server.
	DefaultBaseURL = "http://localhost:8080/v1"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// InferenceParams contains parameters for a single inference request.
type InferenceParams struct {
	// Messages is the conversation window, oldest first. Required.
	Messages []Message

	// MaxTokens is the maximum number of tokens to generate.
	// Defaults to DefaultMaxTokens.
	MaxTokens int

	// Temperature controls randomness in sampling.
	// Defaults to DefaultTemperature when negative.
	Temperature float32

	// TopP is the nucleus sampling parameter.
	// Defaults to DefaultTopP.
	TopP float32

	// StopSequences are sequences that stop generation when encountered.
	StopSequences []string

	// Timeout is the maximum time allowed for inference.
	// Defaults to DefaultTimeout.
	Timeout time.Duration
}

// DefaultInferenceParams returns InferenceParams with sensible defaults.
func DefaultInferenceParams() InferenceParams {
	return InferenceParams{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		Timeout:     DefaultTimeout,
	}
}

func (p InferenceParams) withDefaults() InferenceParams {
	if p.MaxTokens <= 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Temperature < 0 {
		p.Temperature = DefaultTemperature
	}
	if p.TopP <= 0 {
		p.TopP = DefaultTopP
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// =============================================================================
// Result Types
// =============================================================================

// InferenceResult contains the result of an inference operation.
type InferenceResult struct {
	// Text is the generated text output.
	Text string

	// TokensGenerated is the number of tokens generated.
	TokensGenerated int

	// TokensPrompt is the number of tokens in the prompt.
	TokensPrompt int

	// Duration is the total time taken for inference.
	Duration time.Duration

	// TokensPerSecond is the generation speed.
	TokensPerSecond float64

	// StopReason indicates why generation stopped.
	// Possible values: "max_tokens", "stop_sequence", "eos"
	StopReason string
}

// InferenceStats contains cumulative statistics for a Client.
type InferenceStats struct {
	TotalInferences      int64
	TotalTokensGenerated int64
	TotalTokensPrompt    int64
	TotalDuration        time.Duration
	ErrorCount           int64
}
