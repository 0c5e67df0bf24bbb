package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeConfigFileInvalid = "CONFIG_FILE_INVALID"
	ErrCodeInvalidDevice     = "INVALID_DEVICE"
	ErrCodeInvalidRange      = "INVALID_RANGE"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeMissingConfig     = "MISSING_CONFIG"
)

// ErrConfigFileInvalid returns an error for a YAML file that cannot be parsed.
func ErrConfigFileInvalid(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileInvalid,
		Message: fmt.Sprintf("Configuration file %s could not be parsed: %v", path, cause),
		Action:  "Fix the YAML syntax or remove the file to use defaults",
	}
}

// ErrInvalidDevice returns an error for an unknown device preference.
func ErrInvalidDevice(value string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidDevice,
		Message: fmt.Sprintf("Unknown device preference '%s'", value),
		Action:  "Set AI_WORKSPACE_DEVICE to one of auto, unified-memory, vendor-gpu, generic-gpu, cpu",
	}
}

// ErrInvalidRange returns an error for a numeric setting outside its bounds.
func ErrInvalidRange(name string, value interface{}, min, max interface{}) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidRange,
		Message: fmt.Sprintf("%s=%v is outside the allowed range [%v, %v]", name, value, min, max),
		Action:  fmt.Sprintf("Set %s to a value between %v and %v", name, min, max),
	}
}

// ErrInvalidURL returns an error for a malformed endpoint URL.
func ErrInvalidURL(name, url, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidURL,
		Message: fmt.Sprintf("Invalid %s '%s': %s", name, url, reason),
		Action:  fmt.Sprintf("Set %s to a full http(s) URL such as http://localhost:8080/v1", name),
	}
}

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in config.yaml or the environment", varName),
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
