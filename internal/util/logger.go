package util

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

// LogOptions selects how the process logs
type LogOptions struct {
	// Env "production" logs JSON; anything else logs colored console output
	Env string
	// Service is attached to every entry
	Service string
	// Level is a zap level name; empty keeps the Env default
	Level string
}

// InitLogger builds the process logger and installs it for GetLogger and zap.L
func InitLogger(opts LogOptions) error {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.Env == "production" {
		config = zap.NewProductionConfig()
	}

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = level
	}

	built, err := config.Build(zap.Fields(zap.String("service", opts.Service)))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	SetLogger(built)
	zap.ReplaceGlobals(built)
	return nil
}

// GetLogger returns the process logger. Before InitLogger runs (tests,
// tools) a development logger is created on first use.
func GetLogger() *zap.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	fallback, _ := zap.NewDevelopment()
	if current.CompareAndSwap(nil, fallback) {
		return fallback
	}
	return current.Load()
}

// SetLogger installs l and returns a func that puts the previous logger back.
// Components capture the logger when constructed, so swap before building them.
func SetLogger(l *zap.Logger) (restore func()) {
	prev := current.Swap(l)
	return func() { current.Store(prev) }
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if l := current.Load(); l != nil {
		_ = l.Sync()
	}
}
