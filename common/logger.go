package common

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger builds the process-wide zap logger. Development output when
// ENV=development, JSON production output otherwise.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
