// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	return build(config(development), development)
}

// WithVerbosity builds a logger whose level follows a -v count:
// 0 logs warnings and above, 1 adds info, 2 or more adds debug.
func WithVerbosity(development bool, verbosity int) (*zap.Logger, error) {
	cfg := config(development)
	cfg.Level = zap.NewAtomicLevelAt(VerbosityLevel(verbosity))
	return build(cfg, development)
}

// VerbosityLevel maps a -v count to a zap level.
func VerbosityLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func config(development bool) zap.Config {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg
}

func build(cfg zap.Config, development bool) (*zap.Logger, error) {
	logger, err := cfg.Build()
	if err != nil {
		if development {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
