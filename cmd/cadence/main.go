package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	_ "time/tzdata"

	"cadence/internal/auth"
	"cadence/internal/cli"
	apphttp "cadence/internal/http"
	"cadence/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap("cadence")

	res := cli.InitBackend(context.Background(), logger, cfg)

	svc := services.NewRecurringService(res.Store, auth.ContextIdentity{}, res.Publisher,
		services.WithConcurrency(cfg.MaterializeConcurrency))

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		UserHeader: cfg.UserHeader,
		Logger:     logger,
	})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownGrace, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cli.CloseBackend(logger, res)
	})

	logger.Info("Starting cadence server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", res.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		cli.CloseBackend(logger, res)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
