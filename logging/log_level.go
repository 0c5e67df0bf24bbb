package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// levelNames maps the accepted log_level values. "warning" and "trace" are
// aliases kept for configs written against other tools.
var levelNames = map[string]zapcore.Level{
	"trace":   zapcore.DebugLevel,
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
}

// ParseLevel resolves a log_level setting, case-insensitively. Fatal and
// panic are not accepted: they would hide every error the server logs.
func ParseLevel(name string) (zapcore.Level, error) {
	if level, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]; ok {
		return level, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
}

// ApplyLevel sets the logger level from a log_level setting. An empty name
// keeps the current level; an unknown one is reported as a warning and
// otherwise ignored.
func (l *Logger) ApplyLevel(name string) {
	if name == "" {
		return
	}
	level, err := ParseLevel(name)
	if err != nil {
		l.Warn("Ignoring log_level", zap.Error(err))
		return
	}
	l.SetLevel(level)
}
