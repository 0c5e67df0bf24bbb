package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"trace", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{" warn ", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"fatal", zapcore.InfoLevel, true},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_ApplyLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.ApplyLevel("")
	if logger.Level() != zapcore.DebugLevel {
		t.Errorf("Level() after empty name = %v, want debug", logger.Level())
	}

	logger.ApplyLevel("error")
	if logger.Level() != zapcore.ErrorLevel {
		t.Errorf("Level() = %v, want error", logger.Level())
	}

	logger.ApplyLevel("loud")
	if logger.Level() != zapcore.ErrorLevel {
		t.Errorf("Level() after unknown name = %v, want error kept", logger.Level())
	}
	if n := logs.FilterMessage("Ignoring log_level").Len(); n != 1 {
		t.Errorf("warnings = %d, want 1", n)
	}
}
