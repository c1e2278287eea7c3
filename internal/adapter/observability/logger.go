// Package observability provides logging, metrics, and tracing setup shared
// by the server and worker binaries.
package observability

import (
	"log/slog"
	"os"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/config"
)

// SetupLogger builds the process-wide JSON logger and installs it as the
// slog default. Dev environments log at debug.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	slog.SetDefault(logger)
	return logger
}
