package sdruntime

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// GenerateParams holds parameters for image generation.
type GenerateParams struct {
	Prompt         string  // Required: text description of the image to generate
	NegativePrompt string  // Optional: what to avoid in the image
	Width          int     // Image width in pixels (128-2048, must be divisible by 8)
	Height         int     // Image height in pixels (128-2048, must be divisible by 8)
	Steps          int     // Number of inference steps (1-100)
	CFGScale       float64 // Classifier-free guidance scale (1.0-30.0)
	Seed           int64   // Random seed for reproducibility (-1 for random)
	BatchSize      int     // Images per request (1-MaxBatchSize); 0 means 1
}

// GenerateResult is the output of one generation call.
type GenerateResult struct {
	Images [][]byte // PNG encoded, len == BatchSize
	Seed   int64    // Seed actually used
	Width  int
	Height int
}

// StepFunc receives progress after each completed sampler step.
type StepFunc func(step, total int)

// Parameter validation constants
const (
	MinImageSize     = 128
	MaxImageSize     = 2048
	ImageSizeMultple = 8 // Image dimensions must be divisible by this

	MinSteps = 1
	MaxSteps = 100

	MinCFGScale = 1.0
	MaxCFGScale = 30.0

	MaxPromptLength = 1000

	DefaultMaxBatchSize = 4
)

// ValidateParams validates generation parameters and returns an error if invalid.
// maxBatch bounds BatchSize; values below 1 mean DefaultMaxBatchSize.
func ValidateParams(p GenerateParams, maxBatch int) error {
	if err := validatePromptText(p.Prompt); err != nil {
		return err
	}
	if err := validateDimension("width", p.Width); err != nil {
		return err
	}
	if err := validateDimension("height", p.Height); err != nil {
		return err
	}

	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}

	if p.CFGScale < MinCFGScale || p.CFGScale > MaxCFGScale {
		return fmt.Errorf("%w: CFGScale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.CFGScale, MinCFGScale, MaxCFGScale)
	}

	if maxBatch < 1 {
		maxBatch = DefaultMaxBatchSize
	}
	if p.BatchSize < 0 || p.BatchSize > maxBatch {
		return fmt.Errorf("%w: batch size %d must be between 1 and %d",
			ErrInvalidParams, p.BatchSize, maxBatch)
	}

	if strings.ContainsRune(p.NegativePrompt, 0) {
		return fmt.Errorf("%w: negative prompt contains null bytes", ErrInvalidParams)
	}
	if n := utf8.RuneCountInString(p.NegativePrompt); n > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt length %d exceeds maximum %d",
			ErrInvalidParams, n, MaxPromptLength)
	}

	return nil
}

// validatePromptText checks the positive prompt. Length is in runes.
func validatePromptText(prompt string) error {
	switch n := utf8.RuneCountInString(prompt); {
	case strings.TrimSpace(prompt) == "":
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	case strings.ContainsRune(prompt, 0):
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	case n > MaxPromptLength:
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d", ErrInvalidPrompt, n, MaxPromptLength)
	}
	return nil
}

// NormalizePrompt collapses whitespace runs to single spaces. The local
// sampler seeds from the normalized text, so "a  cat" and "a cat" render
// the same image.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// remotePrompt folds the negative prompt into the text sent to endpoints
// that have no negative prompt field.
func (p GenerateParams) remotePrompt() string {
	prompt := NormalizePrompt(p.Prompt)
	if neg := NormalizePrompt(p.NegativePrompt); neg != "" {
		prompt += "\nAvoid: " + neg
	}
	return prompt
}

func validateDimension(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return fmt.Errorf("%w: %s %d must be between %d and %d",
			ErrInvalidParams, name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultple != 0 {
		return fmt.Errorf("%w: %s %d must be divisible by %d",
			ErrInvalidParams, name, v, ImageSizeMultple)
	}
	return nil
}

// Batch returns the effective batch size.
func (p GenerateParams) Batch() int {
	if p.BatchSize < 1 {
		return 1
	}
	return p.BatchSize
}
