// Command cadence-materialize materializes one window of a user's recurring
// rules. It is the manual retry path when a read-path materialization failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	_ "time/tzdata"

	"cadence/internal/auth"
	"cadence/internal/cli"
	"cadence/internal/core"
	"cadence/internal/services"
)

func main() {
	user := flag.String("user", "", "user id to materialize for (required)")
	start := flag.String("start", "", "first day of the window, YYYY-MM-DD (required)")
	end := flag.String("end", "", "last day of the window, YYYY-MM-DD (required)")
	flag.Parse()

	if *user == "" || *start == "" || *end == "" {
		flag.Usage()
		os.Exit(2)
	}
	from, err := core.ParseDate(*start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -start: %v\n", err)
		os.Exit(2)
	}
	to, err := core.ParseDate(*end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -end: %v\n", err)
		os.Exit(2)
	}

	cfg, logger := cli.Bootstrap("cadence-materialize")
	ctx := context.Background()
	res := cli.InitBackend(ctx, logger, cfg)
	defer cli.CloseBackend(logger, res)

	svc := services.NewRecurringService(res.Store, auth.Static(*user), res.Publisher,
		services.WithConcurrency(cfg.MaterializeConcurrency))

	created, err := svc.MaterializeForRange(ctx, from, to)
	if err != nil {
		logger.Error("Materialization failed", "error", err, "user_id", *user)
		cli.CloseBackend(logger, res)
		os.Exit(1)
	}
	logger.Info("Materialization complete",
		"user_id", *user,
		"start", from.String(),
		"end", to.String(),
		"created", created)
	fmt.Println(created)
}
