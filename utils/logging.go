// Package utils holds small cross-cutting helpers. main uses it to build
// the single logger that is then passed down to the other packages.
package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the development-style logger used throughout the
// client: human-readable, colorized level, stack traces on error.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg.Build()
}
