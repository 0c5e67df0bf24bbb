package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging output.
const (
	FieldTimestamp  = "timestamp"
	FieldLevel      = "level"
	FieldSource     = "source"
	FieldMessage    = "message"
	FieldStacktrace = "stacktrace"
	FieldCaller     = "caller"
)

// NewEncoderConfig returns the JSON encoder config used for files and
// production console output.
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        FieldTimestamp,
		LevelKey:       FieldLevel,
		NameKey:        FieldSource,
		CallerKey:      FieldCaller,
		MessageKey:     FieldMessage,
		StacktraceKey:  FieldStacktrace,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewConsoleEncoderConfig returns the colored, human-readable config used in
// development.
func NewConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := NewEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// NewMultiCore creates a zapcore.Core that tees output to stdout and a
// rotating log file.
//
// The file output always uses JSON. The console output is colored text when
// isDev is true and JSON otherwise. An empty filePath yields a console-only
// core.
func NewMultiCore(level zapcore.LevelEnabler, filePath string, isDev bool) (zapcore.Core, error) {
	return NewMultiCoreWithConfig(level, filePath, isDev, DefaultFileWriterConfig())
}

// NewMultiCoreWithConfig is NewMultiCore with explicit rotation settings.
func NewMultiCoreWithConfig(level zapcore.LevelEnabler, filePath string, isDev bool, fileConfig FileWriterConfig) (zapcore.Core, error) {
	console := zapcore.Lock(os.Stdout)
	if filePath == "" {
		return newConsoleCore(level, console, isDev), nil
	}

	if err := ensureWritable(filePath); err != nil {
		return nil, err
	}
	return NewMultiCoreWithWriters(level, console, NewFileWriterWithConfig(filePath, fileConfig), isDev), nil
}

// NewMultiCoreWithWriters tees output to the provided writers. Useful for
// tests and special destinations.
func NewMultiCoreWithWriters(level zapcore.LevelEnabler, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)
	return zapcore.NewTee(newConsoleCore(level, consoleWriter, isDev), fileCore)
}

func newConsoleCore(level zapcore.LevelEnabler, w zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var encoder zapcore.Encoder
	if isDev {
		encoder = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	return zapcore.NewCore(encoder, w, level)
}

// ensureWritable creates the log directory and verifies the file opens for append.
func ensureWritable(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	return f.Close()
}
