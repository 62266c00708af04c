// Package logger is the process-wide structured logger. Event-style calls
// (InfoJ, ErrorJ) emit one JSON line per event with the given fields.
package logger

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	base = newDefault()
)

func newDefault() *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.InfoLevel
	if os.Getenv("AEQUA_LOG_LEVEL") == "debug" {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// Set replaces the backing logger (tests, custom sinks). A nil logger disables output.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// L returns the backing logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered entries.
func Sync() { _ = L().Sync() }

func Debug(msg string) { L().Debug(msg) }
func Info(msg string)  { L().Info(msg) }
func Warn(msg string)  { L().Warn(msg) }
func Error(msg string) { L().Error(msg) }

// InfoJ logs an event with structured fields.
func InfoJ(event string, fields map[string]any) { L().Info(event, toFields(fields)...) }

// WarnJ logs a warning event with structured fields.
func WarnJ(event string, fields map[string]any) { L().Warn(event, toFields(fields)...) }

// ErrorJ logs a failed event with structured fields.
func ErrorJ(event string, fields map[string]any) { L().Error(event, toFields(fields)...) }

func toFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}
