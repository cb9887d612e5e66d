// internal/common/logging/logger.go

package logging

import (
	"go.uber.org/zap"
)

// New creates a zap logger appropriate for the environment: JSON output
// in production, human-readable console output everywhere else.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		cfg := zap.NewProductionConfig()
		cfg.DisableStacktrace = true
		return cfg.Build()
	}
	return zap.NewDevelopment()
}
