package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is read when AI_WORKSPACE_CONFIG is not set.
const DefaultConfigPath = "config.yaml"

// DefaultSystemPrompt seeds every new chat session unless overridden.
const DefaultSystemPrompt = `You are the assistant built into an AI workspace that combines a code editor, Stable Diffusion image generation and 3D asset tooling (depth maps, normal maps, background removal).

You can:
- write, explain and debug code in Python, Go, JavaScript, TypeScript and more
- suggest textures, concept art and other visual assets
- describe how to turn images into 3D-ready depth and normal maps

Be concise and practical. Offer code examples when they help, ask clarifying questions when context is missing, and suggest workspace features when they fit the task.`

// Config holds all configuration values.
// Values are resolved in order: defaults, YAML file, AI_WORKSPACE_* environment.
type Config struct {
	// Device selection
	Device              string `yaml:"device"`      // auto, unified-memory, vendor-gpu, generic-gpu, cpu
	EnableUnifiedMemory bool   `yaml:"enable_mlx"`  // allow the unified-memory backend
	EnableGenericGPU    bool   `yaml:"enable_mps"`  // allow the generic GPU backend
	EnableVendorGPU     bool   `yaml:"enable_cuda"` // allow the vendor GPU backend

	// Model cache capacity (resident models per kind)
	ModelCacheSize  int `yaml:"model_cache_size"`
	ImageCacheSize  int `yaml:"image_cache_size"`  // 0 = ModelCacheSize
	ChatCacheSize   int `yaml:"chat_cache_size"`   // 0 = ModelCacheSize
	VisionCacheSize int `yaml:"vision_cache_size"` // 0 = ModelCacheSize

	// Default and available models
	DefaultImageModel        string   `yaml:"default_sd_model"`
	DefaultChatModel         string   `yaml:"default_llm_model"`
	DefaultDepthModel        string   `yaml:"default_depth_model"`
	DefaultSegmentationModel string   `yaml:"default_segmentation_model"`
	AvailableImageModels     []string `yaml:"available_sd_models"`
	AvailableChatModels      []string `yaml:"available_llm_models"`

	// Image generation
	DefaultImageSize int     `yaml:"default_image_size"`
	DefaultSteps     int     `yaml:"default_steps"`
	DefaultGuidance  float64 `yaml:"default_guidance"`
	MaxBatchSize     int     `yaml:"max_batch_size"`
	ImageRuntime     string  `yaml:"image_runtime"` // local or openai
	ImageBaseURL     string  `yaml:"image_base_url"`
	ImageAPIKey      string  `yaml:"image_api_key"`

	// Conversation
	ChatTemperature   float64       `yaml:"chat_temperature"`
	ChatMaxTokens     int           `yaml:"chat_max_tokens"`
	ChatTopP          float64       `yaml:"chat_top_p"`
	ChatHistoryWindow int           `yaml:"chat_history_window"`
	MaxChatHistory    int           `yaml:"max_chat_history"`
	ChatSystemPrompt  string        `yaml:"chat_system_prompt"`
	ChatBaseURL       string        `yaml:"chat_base_url"`
	ChatAPIKey        string        `yaml:"chat_api_key"`
	ChatTimeout       time.Duration `yaml:"chat_timeout"`

	// Worker pool and streaming
	Workers           int           `yaml:"workers"`
	QueueSize         int           `yaml:"queue_size"`
	EventBuffer       int           `yaml:"event_buffer"`
	StreamIdleTimeout time.Duration `yaml:"stream_idle_timeout"` // 0 waits for the consumer forever

	// Persistence ("" keeps sessions in memory only)
	SessionDBPath string `yaml:"session_db_path"`

	// Workspace files. OutputDir is relative to WorkspaceRoot unless absolute.
	WorkspaceRoot  string `yaml:"workspace_root"`
	OutputDir      string `yaml:"output_dir"`
	EnableAutoSave bool   `yaml:"enable_auto_save"`

	// Feature toggles
	EnableChat bool `yaml:"enable_chat"`
	Enable3D   bool `yaml:"enable_3d"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
	DevMode  bool   `yaml:"dev_mode"`

	// HTTP adapter
	ListenAddr     string  `yaml:"listen_addr"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// Access control. APIKey or its bcrypt APIKeyHash guards /api and /ws;
	// both empty leaves the API open. AllowedOrigins lists the browser
	// origins that may open /ws or call the API cross-site ("*" for any).
	APIKey         string   `yaml:"api_key"`
	APIKeyHash     string   `yaml:"api_key_hash"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Device:              "auto",
		EnableUnifiedMemory: true,
		EnableGenericGPU:    true,
		EnableVendorGPU:     true,

		ModelCacheSize: 3,

		DefaultImageModel:        "runwayml/stable-diffusion-v1-5",
		DefaultChatModel:         "mlx-community/Meta-Llama-3.1-8B-Instruct-4bit",
		DefaultDepthModel:        "MiDaS_small",
		DefaultSegmentationModel: "deeplabv3",
		AvailableImageModels: []string{
			"runwayml/stable-diffusion-v1-5",
			"stabilityai/stable-diffusion-xl-base-1.0",
			"stabilityai/stable-diffusion-2-1",
			"CompVis/stable-diffusion-v1-4",
		},
		AvailableChatModels: []string{
			"mlx-community/Meta-Llama-3.1-8B-Instruct-4bit",
			"mlx-community/Mistral-7B-Instruct-v0.3-4bit",
			"mlx-community/CodeLlama-7B-Instruct-hf-4bit",
		},

		DefaultImageSize: 512,
		DefaultSteps:     20,
		DefaultGuidance:  7.5,
		MaxBatchSize:     4,
		ImageRuntime:     "local",

		ChatTemperature:   0.7,
		ChatMaxTokens:     2048,
		ChatTopP:          0.9,
		ChatHistoryWindow: 10,
		MaxChatHistory:    100,
		ChatSystemPrompt:  DefaultSystemPrompt,
		ChatBaseURL:       "http://localhost:8080/v1",
		ChatTimeout:       120 * time.Second,

		Workers:           2,
		QueueSize:         8,
		EventBuffer:       16,
		StreamIdleTimeout: 60 * time.Second,

		WorkspaceRoot:  "~/ai-workspace",
		OutputDir:      "outputs",
		EnableAutoSave: true,
		EnableChat:     true,
		Enable3D:       true,

		LogFile:  "ai_workspace.log",
		LogLevel: "info",

		ListenAddr:     "127.0.0.1:8090",
		RateLimitRPS:   2,
		RateLimitBurst: 4,
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
	}
}

// LoadConfig resolves configuration from defaults, the YAML file named by
// AI_WORKSPACE_CONFIG (default config.yaml) and the environment.
// A missing file is not an error.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(GetEnvOrDefault(EnvKey("CONFIG"), DefaultConfigPath))
}

// LoadConfigFrom is LoadConfig with an explicit file path.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// defaults + env only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, ErrConfigFileInvalid(path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays AI_WORKSPACE_* variables on cfg.
func applyEnv(cfg *Config) {
	cfg.Device = GetEnvOrDefault(EnvKey("DEVICE"), cfg.Device)
	cfg.EnableUnifiedMemory = ParseBoolEnv(EnvKey("ENABLE_MLX"), cfg.EnableUnifiedMemory)
	cfg.EnableGenericGPU = ParseBoolEnv(EnvKey("ENABLE_MPS"), cfg.EnableGenericGPU)
	cfg.EnableVendorGPU = ParseBoolEnv(EnvKey("ENABLE_CUDA"), cfg.EnableVendorGPU)

	cfg.ModelCacheSize = ParseIntEnv(EnvKey("MODEL_CACHE_SIZE"), cfg.ModelCacheSize)
	cfg.ImageCacheSize = ParseIntEnv(EnvKey("IMAGE_CACHE_SIZE"), cfg.ImageCacheSize)
	cfg.ChatCacheSize = ParseIntEnv(EnvKey("CHAT_CACHE_SIZE"), cfg.ChatCacheSize)
	cfg.VisionCacheSize = ParseIntEnv(EnvKey("VISION_CACHE_SIZE"), cfg.VisionCacheSize)

	cfg.DefaultImageModel = GetEnvOrDefault(EnvKey("DEFAULT_SD_MODEL"), cfg.DefaultImageModel)
	cfg.DefaultChatModel = GetEnvOrDefault(EnvKey("DEFAULT_LLM_MODEL"), cfg.DefaultChatModel)
	cfg.DefaultDepthModel = GetEnvOrDefault(EnvKey("DEFAULT_DEPTH_MODEL"), cfg.DefaultDepthModel)
	cfg.DefaultSegmentationModel = GetEnvOrDefault(EnvKey("DEFAULT_SEGMENTATION_MODEL"), cfg.DefaultSegmentationModel)
	cfg.AvailableImageModels = ParseListEnv(EnvKey("AVAILABLE_SD_MODELS"), cfg.AvailableImageModels)
	cfg.AvailableChatModels = ParseListEnv(EnvKey("AVAILABLE_LLM_MODELS"), cfg.AvailableChatModels)

	cfg.DefaultImageSize = ParseIntEnv(EnvKey("DEFAULT_IMAGE_SIZE"), cfg.DefaultImageSize)
	cfg.DefaultSteps = ParseIntEnv(EnvKey("DEFAULT_STEPS"), cfg.DefaultSteps)
	cfg.DefaultGuidance = ParseFloat64Env(EnvKey("DEFAULT_GUIDANCE"), cfg.DefaultGuidance)
	cfg.MaxBatchSize = ParseIntEnv(EnvKey("MAX_BATCH_SIZE"), cfg.MaxBatchSize)
	cfg.ImageRuntime = GetEnvOrDefault(EnvKey("IMAGE_RUNTIME"), cfg.ImageRuntime)
	cfg.ImageBaseURL = GetEnvOrDefault(EnvKey("IMAGE_BASE_URL"), cfg.ImageBaseURL)
	cfg.ImageAPIKey = GetEnvOrDefault(EnvKey("IMAGE_API_KEY"), cfg.ImageAPIKey)

	cfg.ChatTemperature = ParseFloat64Env(EnvKey("CHAT_TEMPERATURE"), cfg.ChatTemperature)
	cfg.ChatMaxTokens = ParseIntEnv(EnvKey("CHAT_MAX_TOKENS"), cfg.ChatMaxTokens)
	cfg.ChatTopP = ParseFloat64Env(EnvKey("CHAT_TOP_P"), cfg.ChatTopP)
	cfg.ChatHistoryWindow = ParseIntEnv(EnvKey("CHAT_HISTORY_WINDOW"), cfg.ChatHistoryWindow)
	cfg.MaxChatHistory = ParseIntEnv(EnvKey("MAX_CHAT_HISTORY"), cfg.MaxChatHistory)
	cfg.ChatSystemPrompt = GetEnvOrDefault(EnvKey("CHAT_SYSTEM_PROMPT"), cfg.ChatSystemPrompt)
	cfg.ChatBaseURL = GetEnvOrDefault(EnvKey("CHAT_BASE_URL"), cfg.ChatBaseURL)
	cfg.ChatAPIKey = GetEnvOrDefault(EnvKey("CHAT_API_KEY"), cfg.ChatAPIKey)
	cfg.ChatTimeout = ParseDurationEnv(EnvKey("CHAT_TIMEOUT"), cfg.ChatTimeout)

	cfg.Workers = ParseIntEnv(EnvKey("WORKERS"), cfg.Workers)
	cfg.QueueSize = ParseIntEnv(EnvKey("QUEUE_SIZE"), cfg.QueueSize)
	cfg.EventBuffer = ParseIntEnv(EnvKey("EVENT_BUFFER"), cfg.EventBuffer)
	cfg.StreamIdleTimeout = ParseDurationEnv(EnvKey("STREAM_IDLE_TIMEOUT"), cfg.StreamIdleTimeout)

	cfg.SessionDBPath = GetEnvOrDefault(EnvKey("SESSION_DB_PATH"), cfg.SessionDBPath)

	cfg.WorkspaceRoot = GetEnvOrDefault(EnvKey("WORKSPACE_ROOT"), cfg.WorkspaceRoot)
	cfg.OutputDir = GetEnvOrDefault(EnvKey("OUTPUT_DIR"), cfg.OutputDir)
	cfg.EnableAutoSave = ParseBoolEnv(EnvKey("ENABLE_AUTO_SAVE"), cfg.EnableAutoSave)
	cfg.EnableChat = ParseBoolEnv(EnvKey("ENABLE_CHAT"), cfg.EnableChat)
	cfg.Enable3D = ParseBoolEnv(EnvKey("ENABLE_3D"), cfg.Enable3D)

	cfg.LogFile = GetEnvOrDefault(EnvKey("LOG_FILE"), cfg.LogFile)
	cfg.LogLevel = GetEnvOrDefault(EnvKey("LOG_LEVEL"), cfg.LogLevel)
	cfg.DevMode = ParseBoolEnv(EnvKey("DEV_MODE"), cfg.DevMode)

	cfg.ListenAddr = GetEnvOrDefault(EnvKey("LISTEN_ADDR"), cfg.ListenAddr)
	cfg.RateLimitRPS = ParseFloat64Env(EnvKey("RATE_LIMIT_RPS"), cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseIntEnv(EnvKey("RATE_LIMIT_BURST"), cfg.RateLimitBurst)

	cfg.APIKey = GetEnvOrDefault(EnvKey("API_KEY"), cfg.APIKey)
	cfg.APIKeyHash = GetEnvOrDefault(EnvKey("API_KEY_HASH"), cfg.APIKeyHash)
	cfg.AllowedOrigins = ParseListEnv(EnvKey("ALLOWED_ORIGINS"), cfg.AllowedOrigins)
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CacheSizeFor returns the resident model capacity for an engine kind
// ("image", "chat", or one of the vision kinds).
func (c *Config) CacheSizeFor(kind string) int {
	size := 0
	switch kind {
	case "image":
		size = c.ImageCacheSize
	case "chat":
		size = c.ChatCacheSize
	case "depth", "segmentation":
		size = c.VisionCacheSize
	}
	if size <= 0 {
		size = c.ModelCacheSize
	}
	if size <= 0 {
		size = 1
	}
	return size
}

// WorkspacePath returns WorkspaceRoot with a leading ~ expanded.
func (c *Config) WorkspacePath() string {
	return ExpandHome(c.WorkspaceRoot)
}

// OutputPath returns the directory generated images are saved to.
func (c *Config) OutputPath() string {
	dir := ExpandHome(c.OutputDir)
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.WorkspacePath(), dir)
}

// ExpandHome replaces a leading "~" with the user's home directory. The
// path is returned unchanged if the home directory is unknown.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
