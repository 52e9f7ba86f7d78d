package main

import (
	"context"
	"errors"
	"flag"
	"os"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"cadence/internal/amqp"
	"cadence/internal/cli"
	"cadence/internal/config"
	"cadence/internal/core"
	applog "cadence/internal/log"
	gsheet "cadence/internal/sheets/google"
	"cadence/internal/worker"
)

func main() {
	resyncUser := flag.String("resync-user", "", "push a window of this user's rows to the ledger before consuming")
	resyncStart := flag.String("resync-start", "", "first day of the resync window (YYYY-MM-DD)")
	resyncEnd := flag.String("resync-end", "", "last day of the resync window (YYYY-MM-DD)")
	flag.Parse()

	cfg, logger := cli.Bootstrap("cadence-worker")
	logger.Info("Starting cadence-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}
	if !cfg.SheetsEnabled() {
		logger.Error("Google Sheets is not configured (GOOGLE_SPREADSHEET_ID and service account credentials)")
		os.Exit(1)
	}
	if cfg.DataBackend == "memory" {
		logger.Warn("Memory backend does not share rows with the server; messages will mirror as removals")
	}

	// The worker only reads the store; it never publishes.
	storeCfg := *cfg
	storeCfg.AMQPURL = ""
	res := cli.InitBackend(context.Background(), logger, &storeCfg)

	ledger, err := gsheet.New(context.Background(), sheetsOptions(cfg))
	cli.Must(logger, "Failed to initialize Google Sheets client", err)
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", cfg.GoogleSheetName)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	cli.Must(logger, "Failed to initialize AMQP client", err)

	syncWorker := worker.NewSyncWorker(res.Store, ledger)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownGrace, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Error("Failed to close AMQP client", "error", err)
		}
		cli.CloseBackend(logger, res)
	})

	if *resyncUser != "" {
		resync(ctx, logger, syncWorker, *resyncUser, *resyncStart, *resyncEnd)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeTransactionChanges(gctx, syncWorker.HandleChangeMessage)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", "error", err)
		_ = amqpClient.Close()
		cli.CloseBackend(logger, res)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}

func sheetsOptions(cfg *config.Config) gsheet.Options {
	return gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}
}

// resync recovers rows whose messages were lost while the worker was down.
// Failures are logged; consumption starts regardless.
func resync(ctx context.Context, logger *applog.Logger, w *worker.SyncWorker, userID, start, end string) {
	from, err := core.ParseDate(start)
	if err != nil {
		logger.Error("Invalid -resync-start", "error", err)
		return
	}
	to, err := core.ParseDate(end)
	if err != nil {
		logger.Error("Invalid -resync-end", "error", err)
		return
	}
	logger.Info("Performing startup resync", "user_id", userID, "start", start, "end", end)
	if _, err := w.ResyncWindow(ctx, userID, from, to); err != nil {
		logger.Error("Startup resync failed", "error", err)
	}
}
