package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"cadence/internal/core"
	"cadence/internal/recurrence"
)

// MaterializeForRange makes sure every active rule of the current user has a
// row for each of its occurrences in [start, end], skipped occurrences
// excepted. Running it again over the same window creates nothing. It
// returns the number of rows created.
func (s *RecurringService) MaterializeForRange(ctx context.Context, start, end core.Date) (int, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return 0, err
	}
	if start.After(end) {
		return 0, nil
	}

	started := time.Now()

	rules, err := s.store.ListActiveRules(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list active rules: %w", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	pending := make([][]core.Transaction, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, rule := range rules {
		g.Go(func() error {
			rows, err := s.pendingOccurrences(gctx, rule, start, end)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			pending[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var batch []core.Transaction
	for _, rows := range pending {
		batch = append(batch, rows...)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	created, err := s.store.InsertOccurrences(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("insert occurrences: %w", err)
	}
	for _, tx := range created {
		s.publish(ctx, userID, tx.ID, core.ChangeCreated)
	}

	slog.InfoContext(ctx, "Materialized recurring transactions",
		"user_id", userID,
		"start", start.String(),
		"end", end.String(),
		"rules", len(rules),
		"created", len(created),
		"duration", time.Since(started))

	return len(created), nil
}

// pendingOccurrences builds the rows a rule should have in the window, leaving
// out the skipped dates. Rows that already exist are left to the store's
// conflict handling.
func (s *RecurringService) pendingOccurrences(ctx context.Context, rule core.RecurrenceRule, start, end core.Date) ([]core.Transaction, error) {
	dates, err := recurrence.Occurrences(rule.Schedule, start, end)
	if err != nil {
		slog.WarnContext(ctx, "Skipping rule with invalid schedule",
			"rule_id", rule.ID,
			"error", err)
		return nil, nil
	}
	if len(dates) == 0 {
		return nil, nil
	}

	skipped, err := s.store.SkippedOccurrenceDates(ctx, rule.UserID, rule.ID, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, fmt.Errorf("skipped dates: %w", err)
	}
	skip := make(map[string]struct{}, len(skipped))
	for _, d := range skipped {
		skip[d.String()] = struct{}{}
	}

	rows := make([]core.Transaction, 0, len(dates))
	for _, d := range dates {
		if _, ok := skip[d.String()]; ok {
			continue
		}
		rows = append(rows, rule.Occurrence(s.newID(), d))
	}
	return rows, nil
}

// ListTransactions returns the non-skipped rows of the window, manual and
// materialized, ordered by date. A failed materialization is logged and the
// read proceeds on whatever rows exist.
func (s *RecurringService) ListTransactions(ctx context.Context, start, end core.Date) ([]core.Transaction, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s after %s", core.ErrInvalidRange, start, end)
	}

	if _, err := s.MaterializeForRange(ctx, start, end); err != nil {
		slog.WarnContext(ctx, "Materialization failed, serving stale window",
			"user_id", userID,
			"start", start.String(),
			"end", end.String(),
			"error", err)
	}

	txs, err := s.store.ListTransactions(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].TransactionDate.Before(txs[j].TransactionDate)
	})
	return txs, nil
}
