package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "catalog-sync"

// NewLogger returns the service-wide structured logger. Every line is tagged
// with the service name so the sync daemon's output stays attributable when
// aggregated alongside the hosting store's other services.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	return cfg.Build(zap.Fields(zap.String("service", serviceName)))
}

// parseLevel maps a configured level name to its zap level. Unrecognized
// values fall back to info so a configuration typo never silences the daemon.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
