// Package cli provides common CLI initialization utilities shared by
// cmd/cadence, cmd/cadence-worker and cmd/cadence-materialize.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cadence/internal/backend"
	"cadence/internal/config"
	applog "cadence/internal/log"
)

// SetupLogger initializes structured logging at the configured level and
// sets it as the default logger. Unknown levels fall back to info.
func SetupLogger(level, component string) *applog.Logger {
	lvl, err := applog.ParseLevel(level)
	logger := applog.NewText(os.Stdout, lvl, component).WithComponent(component)
	if err != nil {
		logger.Warn("Unknown log level, using info", "level", level)
	}
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development. A missing file is
// normal in production.
func LoadEnvFile(logger *applog.Logger) {
	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Warn("Could not load .env file", "error", err)
	}
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitBackend opens the configured store and the optional change publisher.
// Returns the backend or exits the process on failure.
func InitBackend(ctx context.Context, logger *applog.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", bcfg.Type)
		os.Exit(1)
	}
	return res
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}

// CloseBackend runs the backend cleanup and logs its failure.
func CloseBackend(logger *applog.Logger, res *backend.BackendResult) {
	if res == nil || res.Cleanup == nil {
		return
	}
	if err := res.Cleanup(); err != nil {
		logger.Error("Failed to close backend", "error", err)
	}
}

// Must logs err and exits when it is not nil.
func Must(logger *applog.Logger, msg string, err error) {
	if err != nil {
		logger.Error(msg, slog.Any("error", err))
		os.Exit(1)
	}
}

// Bootstrap loads .env and the validated configuration, then returns a logger
// at the configured level.
func Bootstrap(component string) (*config.Config, *applog.Logger) {
	boot := SetupLogger("info", component)
	LoadEnvFile(boot)
	cfg := LoadAndValidateConfig(boot)
	return cfg, SetupLogger(cfg.LogLevel, component)
}
