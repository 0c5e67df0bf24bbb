package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// syncLogger calls Sync and ignores the "invalid argument" error Linux
// returns when syncing stdout.
func syncLogger(t testing.TB, logger *Logger) {
	t.Helper()
	if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
		t.Logf("Sync() warning: %v", err)
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	logger, err := NewLogger(false, logPath)
	if err != nil {
		t.Fatalf("NewLogger() returned error: %v", err)
	}
	if logger.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if logger.LogFilePath() != logPath {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), logPath)
	}

	logger.Info("model loaded", ModelID("sd-1.5"), Backend("cpu"))
	syncLogger(t, logger)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry[FieldMessage] != "model loaded" {
		t.Errorf("message = %v, want 'model loaded'", entry[FieldMessage])
	}
	if entry[KeyModelID] != "sd-1.5" {
		t.Errorf("%s = %v, want sd-1.5", KeyModelID, entry[KeyModelID])
	}
}

func TestNewLogger_DevelopmentLevel(t *testing.T) {
	logger, err := NewLogger(true, "")
	if err != nil {
		t.Fatalf("NewLogger() returned error: %v", err)
	}
	if logger.Level() != zapcore.DebugLevel {
		t.Errorf("Level() = %v, want debug", logger.Level())
	}
	logger.SetLevel(zapcore.WarnLevel)
	if logger.Level() != zapcore.WarnLevel {
		t.Errorf("Level() after SetLevel = %v, want warn", logger.Level())
	}
}

func TestLogger_RedactsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.Info("configured",
		zap.String("chat_api_key", "plain-secret"),
		zap.String("note", "key sk-abcdefghijklmnopqrstuvwxyz123456"),
		zap.Int("max_tokens", 2048),
	)
	logger.Infow("sugared", "image_api_key", "another-secret")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["chat_api_key"] != RedactedPlaceholder {
		t.Errorf("chat_api_key = %v, want redacted", fields["chat_api_key"])
	}
	if strings.Contains(fields["note"].(string), "sk-") {
		t.Errorf("note not redacted: %v", fields["note"])
	}
	if fields["max_tokens"] != int64(2048) {
		t.Errorf("max_tokens = %v, want 2048", fields["max_tokens"])
	}
	if entries[1].ContextMap()["image_api_key"] != RedactedPlaceholder {
		t.Errorf("sugared key not redacted: %v", entries[1].ContextMap())
	}
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core)).Named("modelcache").With(Kind("image"))

	logger.Debug("hit", ModelID("a"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].LoggerName != "modelcache" {
		t.Errorf("LoggerName = %q, want modelcache", entries[0].LoggerName)
	}
	if entries[0].ContextMap()[KeyKind] != "image" {
		t.Errorf("kind = %v, want image", entries[0].ContextMap()[KeyKind])
	}
}

func TestNewMultiCoreWithWriters(t *testing.T) {
	var consoleBuf, fileBuf bytes.Buffer
	core := NewMultiCoreWithWriters(zapcore.InfoLevel, zapcore.AddSync(&consoleBuf), zapcore.AddSync(&fileBuf), true)
	logger := zap.New(core)

	logger.Debug("dropped")
	logger.Info("kept", zap.String("stage", "generating"))

	if strings.Contains(fileBuf.String(), "dropped") {
		t.Error("debug entry written below info level")
	}
	if !strings.Contains(consoleBuf.String(), "kept") {
		t.Errorf("console output missing entry: %q", consoleBuf.String())
	}
	if !strings.HasPrefix(strings.TrimSpace(fileBuf.String()), "{") {
		t.Errorf("file output is not JSON: %q", fileBuf.String())
	}
}

func TestApplyFileWriterDefaults(t *testing.T) {
	got := applyFileWriterDefaults(FileWriterConfig{MaxSizeMB: 10})
	if got.MaxSizeMB != 10 {
		t.Errorf("MaxSizeMB = %d, want 10", got.MaxSizeMB)
	}
	if got.MaxBackups != DefaultMaxBackups || got.MaxAgeDays != DefaultMaxAgeDays {
		t.Errorf("defaults not applied: %+v", got)
	}
}
