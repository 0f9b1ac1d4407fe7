// Package logging 统一构建 zap logger，level 从配置读取
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger with the given level ("debug", "info",
// "warn", "error"). Timestamps use ISO8601 so log lines line up with the
// audit trail.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Nop returns a logger that discards everything. Used by tests and by
// components that accept an optional logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
