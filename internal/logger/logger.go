// Package logger builds the process-wide zap logger.
package logger

import "go.uber.org/zap"

// New returns a production logger, or a human-readable development logger
// when dev is true.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	return zap.NewProduction()
}
