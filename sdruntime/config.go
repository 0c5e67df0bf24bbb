package sdruntime

import "strings"

// Default generation values.
const (
	DefaultImageSize      = 512
	DefaultXLImageSize    = 1024
	DefaultInferenceSteps = 20
	DefaultGuidanceScale  = 7.5
)

// IsXLModel reports whether modelID names an SDXL checkpoint.
func IsXLModel(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "xl")
}

// DefaultSizeFor returns the native resolution for modelID: 1024 for SDXL,
// fallback otherwise. A fallback of zero means DefaultImageSize.
func DefaultSizeFor(modelID string, fallback int) int {
	if IsXLModel(modelID) {
		return DefaultXLImageSize
	}
	if fallback <= 0 {
		return DefaultImageSize
	}
	return fallback
}

// DefaultParams returns sensible default parameters for image generation.
// The caller should at minimum set the Prompt field.
func DefaultParams() GenerateParams {
	return GenerateParams{
		Width:     DefaultImageSize,
		Height:    DefaultImageSize,
		Steps:     DefaultInferenceSteps,
		CFGScale:  DefaultGuidanceScale,
		Seed:      -1,
		BatchSize: 1,
	}
}
