package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := ValidateConfig(DefaultConfig()); err != nil {
		t.Fatalf("ValidateConfig(DefaultConfig()) = %v, want nil", err)
	}
}

func TestLoadConfigFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}
	if cfg.ModelCacheSize != 3 {
		t.Errorf("ModelCacheSize = %d, want 3", cfg.ModelCacheSize)
	}
	if cfg.ChatHistoryWindow != 10 {
		t.Errorf("ChatHistoryWindow = %d, want 10", cfg.ChatHistoryWindow)
	}
	if cfg.Device != "auto" {
		t.Errorf("Device = %q, want auto", cfg.Device)
	}
}

func TestLoadConfigFrom_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `device: cpu
model_cache_size: 5
chat_temperature: 0.2
chat_timeout: 45s
available_sd_models:
  - a/model
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvKey("MODEL_CACHE_SIZE"), "7")

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}
	if cfg.Device != "cpu" {
		t.Errorf("Device = %q, want cpu (from yaml)", cfg.Device)
	}
	if cfg.ModelCacheSize != 7 {
		t.Errorf("ModelCacheSize = %d, want 7 (env overrides yaml)", cfg.ModelCacheSize)
	}
	if cfg.ChatTemperature != 0.2 {
		t.Errorf("ChatTemperature = %v, want 0.2", cfg.ChatTemperature)
	}
	if cfg.ChatTimeout != 45*time.Second {
		t.Errorf("ChatTimeout = %v, want 45s", cfg.ChatTimeout)
	}
	if len(cfg.AvailableImageModels) != 1 || cfg.AvailableImageModels[0] != "a/model" {
		t.Errorf("AvailableImageModels = %v", cfg.AvailableImageModels)
	}
	// untouched fields keep defaults
	if cfg.DefaultSteps != 20 {
		t.Errorf("DefaultSteps = %d, want 20", cfg.DefaultSteps)
	}
}

func TestLoadConfigFrom_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("device: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfigFrom(path)
	if GetErrorCode(err) != ErrCodeConfigFileInvalid {
		t.Errorf("LoadConfigFrom() code = %q, want %q (err=%v)", GetErrorCode(err), ErrCodeConfigFileInvalid, err)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		wantCode string
	}{
		{"unknown device", func(c *Config) { c.Device = "tpu" }, ErrCodeInvalidDevice},
		{"cache size zero", func(c *Config) { c.ModelCacheSize = 0 }, ErrCodeInvalidRange},
		{"image size not aligned", func(c *Config) { c.DefaultImageSize = 500 }, ErrCodeInvalidRange},
		{"window larger than history", func(c *Config) { c.ChatHistoryWindow = 200 }, ErrCodeInvalidRange},
		{"bad chat url", func(c *Config) { c.ChatBaseURL = "localhost:8080" }, ErrCodeInvalidURL},
		{"openai images need a key", func(c *Config) { c.ImageRuntime = "openai" }, ErrCodeMissingConfig},
		{"negative idle timeout", func(c *Config) { c.StreamIdleTimeout = -time.Second }, ErrCodeInvalidRange},
		{"empty workspace root", func(c *Config) { c.WorkspaceRoot = " " }, ErrCodeMissingConfig},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }, ErrCodeMissingConfig},
		{"short api key", func(c *Config) { c.APIKey = "abc" }, ErrCodeInvalidRange},
		{"malformed key hash", func(c *Config) { c.APIKeyHash = "not-bcrypt" }, ErrCodeInvalidRange},
		{"key and hash", func(c *Config) {
			c.APIKey = "long-enough-key"
			c.APIKeyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
		}, ErrCodeInvalidRange},
		{"bad origin", func(c *Config) { c.AllowedOrigins = []string{"localhost:3000"} }, ErrCodeInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if err == nil {
				t.Fatal("ValidateConfig() = nil, want error")
			}
			if code := GetErrorCode(err); code != tt.wantCode {
				t.Errorf("ValidateConfig() code = %q, want %q (err=%v)", code, tt.wantCode, err)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Device = "vendor-gpu"
	cfg.Workers = 4

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}
	if loaded.Device != "vendor-gpu" || loaded.Workers != 4 {
		t.Errorf("round trip got device=%q workers=%d", loaded.Device, loaded.Workers)
	}
}

func TestCacheSizeFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChatCacheSize = 1

	tests := []struct {
		kind string
		want int
	}{
		{"chat", 1},
		{"image", 3},
		{"depth", 3},
		{"unknown", 3},
	}
	for _, tt := range tests {
		if got := cfg.CacheSizeFor(tt.kind); got != tt.want {
			t.Errorf("CacheSizeFor(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestValidateConfig_WorkspaceRootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.WorkspaceRoot = path
	if err := ValidateConfig(cfg); err == nil {
		t.Fatal("ValidateConfig() = nil, want error for a file workspace root")
	}
}

func TestValidateConfig_AccessSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
	cfg.AllowedOrigins = []string{"*", "https://studio.example.com"}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig() = %v, want nil", err)
	}
}

func TestOutputPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkspaceRoot = "/srv/ws"

	cfg.OutputDir = "outputs"
	if got := cfg.OutputPath(); got != filepath.Join("/srv/ws", "outputs") {
		t.Errorf("OutputPath() = %q, want /srv/ws/outputs", got)
	}
	cfg.OutputDir = "/var/images"
	if got := cfg.OutputPath(); got != "/var/images" {
		t.Errorf("OutputPath() = %q, want /var/images", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/ai-workspace"); got != filepath.Join(home, "ai-workspace") {
		t.Errorf("ExpandHome(~/ai-workspace) = %q", got)
	}
	if got := ExpandHome("relative/~"); got != "relative/~" {
		t.Errorf("ExpandHome(relative/~) = %q, want unchanged", got)
	}
}

func TestLoadConfigFrom_AccessEnv(t *testing.T) {
	t.Setenv(EnvKey("ALLOWED_ORIGINS"), "https://a.example, https://b.example")
	t.Setenv(EnvKey("ENABLE_CHAT"), "false")
	t.Setenv(EnvKey("WORKSPACE_ROOT"), t.TempDir())

	cfg, err := LoadConfigFrom("")
	if err != nil {
		t.Fatalf("LoadConfigFrom() error = %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.EnableChat {
		t.Error("EnableChat = true, want false from env")
	}
	if !cfg.Enable3D || !cfg.EnableAutoSave {
		t.Error("Enable3D and EnableAutoSave should keep their defaults")
	}
}
