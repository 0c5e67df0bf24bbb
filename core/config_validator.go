package core

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinAPIKeyLength is the shortest plaintext api_key accepted.
const MinAPIKeyLength = 8

// knownDevices lists the accepted device preference spellings.
var knownDevices = map[string]bool{
	"auto":           true,
	"unified-memory": true,
	"mlx":            true,
	"vendor-gpu":     true,
	"cuda":           true,
	"generic-gpu":    true,
	"mps":            true,
	"vulkan":         true,
	"cpu":            true,
}

// ValidateConfig checks cfg and returns every problem found, joined.
// Each joined error is a *ConfigError.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return ErrMissingConfig("config")
	}

	var errs []error
	checkInt := func(name string, v, min, max int) {
		if v < min || v > max {
			errs = append(errs, ErrInvalidRange(name, v, min, max))
		}
	}
	checkFloat := func(name string, v, min, max float64) {
		if v < min || v > max {
			errs = append(errs, ErrInvalidRange(name, v, min, max))
		}
	}

	if !knownDevices[strings.ToLower(strings.TrimSpace(cfg.Device))] {
		errs = append(errs, ErrInvalidDevice(cfg.Device))
	}

	checkInt("model_cache_size", cfg.ModelCacheSize, 1, 64)
	checkInt("image_cache_size", cfg.ImageCacheSize, 0, 64)
	checkInt("chat_cache_size", cfg.ChatCacheSize, 0, 64)
	checkInt("vision_cache_size", cfg.VisionCacheSize, 0, 64)

	checkInt("default_image_size", cfg.DefaultImageSize, 128, 2048)
	if cfg.DefaultImageSize%8 != 0 {
		errs = append(errs, &ConfigError{
			Code:    ErrCodeInvalidRange,
			Message: "default_image_size must be a multiple of 8",
			Action:  "Use a size such as 512, 768 or 1024",
		})
	}
	checkInt("default_steps", cfg.DefaultSteps, 1, 100)
	checkFloat("default_guidance", cfg.DefaultGuidance, 1.0, 30.0)
	checkInt("max_batch_size", cfg.MaxBatchSize, 1, 16)

	switch cfg.ImageRuntime {
	case "local":
	case "openai":
		if cfg.ImageAPIKey == "" {
			errs = append(errs, ErrMissingConfig("image_api_key"))
		}
		if cfg.ImageBaseURL != "" {
			if err := checkURL("image_base_url", cfg.ImageBaseURL); err != nil {
				errs = append(errs, err)
			}
		}
	default:
		errs = append(errs, &ConfigError{
			Code:    ErrCodeInvalidRange,
			Message: "image_runtime must be 'local' or 'openai', got '" + cfg.ImageRuntime + "'",
			Action:  "Set AI_WORKSPACE_IMAGE_RUNTIME to local or openai",
		})
	}

	checkFloat("chat_temperature", cfg.ChatTemperature, 0, 2)
	checkFloat("chat_top_p", cfg.ChatTopP, 0, 1)
	checkInt("chat_max_tokens", cfg.ChatMaxTokens, 1, 32768)
	checkInt("max_chat_history", cfg.MaxChatHistory, 2, 10000)
	checkInt("chat_history_window", cfg.ChatHistoryWindow, 1, cfg.MaxChatHistory)
	if cfg.ChatBaseURL != "" {
		if err := checkURL("chat_base_url", cfg.ChatBaseURL); err != nil {
			errs = append(errs, err)
		}
	}

	checkInt("workers", cfg.Workers, 1, 64)
	checkInt("queue_size", cfg.QueueSize, 0, 1024)
	checkInt("event_buffer", cfg.EventBuffer, 1, 4096)
	if cfg.StreamIdleTimeout < 0 {
		errs = append(errs, ErrInvalidRange("stream_idle_timeout", cfg.StreamIdleTimeout, "0s", "any positive duration"))
	}

	errs = append(errs, checkWorkspace(cfg)...)
	errs = append(errs, checkAccess(cfg)...)

	return errors.Join(errs...)
}

// checkURL validates an http(s) endpoint.
func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL(name, raw, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL(name, raw, "scheme must be http or https")
	}
	if u.Host == "" {
		return ErrInvalidURL(name, raw, "host is empty")
	}
	return nil
}

// checkWorkspace requires the workspace root and output directory to be
// set. An existing workspace root must be a directory; a missing one is
// created on first use.
func checkWorkspace(cfg *Config) []error {
	var errs []error
	if strings.TrimSpace(cfg.WorkspaceRoot) == "" {
		errs = append(errs, ErrMissingConfig("workspace_root"))
	} else if info, err := os.Stat(cfg.WorkspacePath()); err == nil && !info.IsDir() {
		errs = append(errs, &ConfigError{
			Code:    ErrCodeInvalidRange,
			Message: "workspace_root '" + cfg.WorkspaceRoot + "' is not a directory",
			Action:  "Point AI_WORKSPACE_WORKSPACE_ROOT at a directory",
		})
	}
	if cfg.EnableAutoSave && strings.TrimSpace(cfg.OutputDir) == "" {
		errs = append(errs, ErrMissingConfig("output_dir"))
	}
	return errs
}

// checkAccess validates the API key settings and the origin allow-list.
func checkAccess(cfg *Config) []error {
	var errs []error
	if cfg.APIKey != "" && cfg.APIKeyHash != "" {
		errs = append(errs, &ConfigError{
			Code:    ErrCodeInvalidRange,
			Message: "api_key and api_key_hash are both set",
			Action:  "Keep only api_key_hash, generated with bcrypt",
		})
	}
	if cfg.APIKey != "" && len(cfg.APIKey) < MinAPIKeyLength {
		errs = append(errs, &ConfigError{
			Code:    ErrCodeInvalidRange,
			Message: "api_key is shorter than 8 characters",
			Action:  "Use a longer random key",
		})
	}
	if cfg.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.APIKeyHash)); err != nil {
			errs = append(errs, &ConfigError{
				Code:    ErrCodeInvalidRange,
				Message: "api_key_hash is not a bcrypt hash: " + err.Error(),
				Action:  "Generate the hash with bcrypt (for example htpasswd -nbBC 12 '' <key>)",
			})
		}
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := checkURL("allowed_origins", origin); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
