// Package logger builds the process-wide zap logger and the field names
// shared by every component.
package logger

import (
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Structured field keys.
const (
	FieldIdentity   = "identity"
	FieldCycleID    = "cycle_id"
	FieldCategory   = "category"
	FieldOutcome    = "outcome"
	FieldAIProvider = "ai_provider"
	FieldAIModel    = "ai_model"
	FieldComponent  = "component"
)

// New returns a logger writing to stdout. json selects the JSON encoder over
// the console one.
func New(json bool, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	encoding := "console"

	if json {
		encoding = "json"
	}

	if debug {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderConfig(),
	}
	return cfg.Build()
}

// NewWithWriter returns a logger writing to w. Used by the CLI when the
// server runs detached and its output goes to a log file.
func NewWithWriter(w io.Writer, json bool, debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	enc := zapcore.NewConsoleEncoder(encoderConfig())
	if json {
		enc = zapcore.NewJSONEncoder(encoderConfig())
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller())
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey: "msg",

		LevelKey:    "level",
		EncodeLevel: zapcore.LowercaseLevelEncoder,

		TimeKey:    "time",
		EncodeTime: zapcore.RFC3339TimeEncoder,

		CallerKey:    "caller",
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
}

// ParseLevel reports whether level asks for debug output. Unknown values
// fall back to info.
func ParseLevel(level string) (debug bool) {
	return strings.EqualFold(strings.TrimSpace(level), "debug")
}

// WithFields returns a child logger carrying the given key/value pairs.
// Keys must be strings; a dangling key is ignored.
func WithFields(l *zap.Logger, kv ...any) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	fields := make([]zap.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	return l.With(fields...)
}

// TruncateForLog shortens s to limit runes, appending an ellipsis when truncated.
func TruncateForLog(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
