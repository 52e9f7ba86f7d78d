package services

import (
	"context"
	"fmt"
	"log/slog"

	"cadence/internal/core"
)

// SkipOccurrence excludes a materialized occurrence for good. The row stays in
// the store, flagged, so materialization never recreates it.
func (s *RecurringService) SkipOccurrence(ctx context.Context, transactionID string) error {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return err
	}

	tx, err := s.store.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if !tx.IsRecurring() {
		return fmt.Errorf("transaction %s has no recurrence rule: %w", transactionID, core.ErrNotFound)
	}
	if tx.IsRecurringSkipped {
		return nil
	}

	tx.IsRecurringSkipped = true
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	s.publish(ctx, userID, tx.ID, core.ChangeSkipped)

	slog.InfoContext(ctx, "Occurrence skipped",
		"transaction_id", tx.ID,
		"rule_id", tx.RecurringRuleID,
		"occurrence_date", tx.RecurrenceOccurrenceDate.String())
	return nil
}

// DeactivateRule stops all future materialization of a rule. Rows already
// materialized are left as they are.
func (s *RecurringService) DeactivateRule(ctx context.Context, ruleID string) error {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return err
	}

	rule, err := s.store.GetRule(ctx, userID, ruleID)
	if err != nil {
		return fmt.Errorf("get rule: %w", err)
	}
	if !rule.IsActive {
		return nil
	}

	rule.IsActive = false
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule deactivated", "rule_id", rule.ID, "user_id", userID)
	return nil
}
