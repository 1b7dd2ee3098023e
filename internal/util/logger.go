package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the service logger for the given environment.
// Production gets JSON output at info level, everything else a colored console encoder.
func NewLogger(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return config.Build(zap.Fields(zap.String("service", "payment-service")))
}

// SyncLogger flushes any buffered log entries
func SyncLogger(logger *zap.Logger) {
	if logger != nil {
		_ = logger.Sync()
	}
}
