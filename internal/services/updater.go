package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cadence/internal/core"
	"cadence/internal/recurrence"
)

// UpdateRecurringTransaction applies edit to a materialized transaction. The
// edit's variant decides whether the row, the rule and future rows, or only
// the rule change.
//
// A this-only move onto a date held by a live occurrence fails with
// core.ErrDateConflict. A skipped row on the destination is replaced by the
// moved row, so a row can be moved back to the date it left. When the vacated
// date is on the rule's cadence it keeps a skipped row.
func (s *RecurringService) UpdateRecurringTransaction(ctx context.Context, transactionID string, edit core.Edit) error {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return err
	}
	if edit == nil {
		return fmt.Errorf("%w: missing edit", core.ErrInvalidScope)
	}

	tx, err := s.store.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if !tx.IsRecurring() {
		return fmt.Errorf("transaction %s has no recurrence rule: %w", transactionID, core.ErrNotFound)
	}

	switch e := edit.(type) {
	case core.ThisOnlyEdit:
		return s.updateThisOnly(ctx, tx, e)
	case core.ThisAndFutureEdit:
		return s.updateThisAndFuture(ctx, tx, e)
	case core.RuleOnlyEdit:
		_, _, err := s.updateRule(ctx, tx, e.Template, e.Schedule)
		return err
	default:
		return fmt.Errorf("%w: unsupported edit %T", core.ErrInvalidScope, edit)
	}
}

func (s *RecurringService) updateThisOnly(ctx context.Context, tx core.Transaction, e core.ThisOnlyEdit) error {
	original := tx
	e.Template.Apply(&tx.Template)

	moved := e.TransactionDate != nil && !e.TransactionDate.Equal(tx.RecurrenceOccurrenceDate)
	var (
		reclaimed   *core.Transaction
		markVacated bool
	)
	if moved {
		dest := *e.TransactionDate
		occupant, err := s.store.FindOccurrence(ctx, tx.UserID, tx.RecurringRuleID, dest)
		switch {
		case err == nil && occupant.ID != tx.ID && !occupant.IsRecurringSkipped:
			return fmt.Errorf("%w: rule %s already has an occurrence on %s", core.ErrDateConflict, tx.RecurringRuleID, dest)
		case err == nil && occupant.ID != tx.ID:
			reclaimed = &occupant
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return fmt.Errorf("find occurrence: %w", err)
		}

		rule, err := s.store.GetRule(ctx, tx.UserID, tx.RecurringRuleID)
		if err != nil {
			return fmt.Errorf("get rule: %w", err)
		}
		vacated := original.RecurrenceOccurrenceDate
		due, err := recurrence.Occurrences(rule.Schedule, vacated, vacated)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		markVacated = len(due) > 0

		tx.TransactionDate = dest
		tx.RecurrenceOccurrenceDate = dest
	} else if e.TransactionDate != nil {
		tx.TransactionDate = *e.TransactionDate
	}

	if err := tx.Validate(); err != nil {
		return err
	}

	if reclaimed != nil {
		if err := s.store.DeleteTransaction(ctx, reclaimed.UserID, reclaimed.ID); err != nil {
			return fmt.Errorf("reclaim skipped occurrence: %w", err)
		}
	}
	if err := s.store.UpdateTransaction(ctx, tx); err != nil {
		err = fmt.Errorf("update transaction: %w", err)
		if reclaimed != nil {
			err = errors.Join(err, s.restoreOccurrence(ctx, *reclaimed))
		}
		return err
	}

	if markVacated {
		// The vacated date keeps a skipped row so the next materialization
		// does not bring the occurrence back.
		tombstone := original
		tombstone.ID = s.newID()
		tombstone.IsRecurringSkipped = true
		if _, err := s.store.InsertOccurrences(ctx, []core.Transaction{tombstone}); err != nil {
			errs := []error{fmt.Errorf("mark vacated occurrence: %w", err)}
			if err := s.store.UpdateTransaction(ctx, original); err != nil {
				errs = append(errs, fmt.Errorf("revert move: %w", err))
			} else if reclaimed != nil {
				errs = append(errs, s.restoreOccurrence(ctx, *reclaimed))
			}
			return errors.Join(errs...)
		}
	}
	s.publish(ctx, tx.UserID, tx.ID, core.ChangeUpdated)

	slog.InfoContext(ctx, "Recurring transaction updated",
		"scope", core.ScopeThisOnly,
		"transaction_id", tx.ID,
		"rule_id", tx.RecurringRuleID,
		"moved", moved,
		"reclaimed_skip", reclaimed != nil)
	return nil
}

// restoreOccurrence puts back a skipped row removed by a move that failed.
func (s *RecurringService) restoreOccurrence(ctx context.Context, tx core.Transaction) error {
	if _, err := s.store.InsertOccurrences(ctx, []core.Transaction{tx}); err != nil {
		slog.ErrorContext(ctx, "Failed to restore skipped occurrence",
			"transaction_id", tx.ID,
			"rule_id", tx.RecurringRuleID,
			"error", err)
		return fmt.Errorf("restore skipped occurrence: %w", err)
	}
	return nil
}

func (s *RecurringService) updateThisAndFuture(ctx context.Context, tx core.Transaction, e core.ThisAndFutureEdit) error {
	rule, scheduleChanged, err := s.updateRule(ctx, tx, e.Template, e.Schedule)
	if err != nil {
		return err
	}
	from := tx.RecurrenceOccurrenceDate

	if scheduleChanged {
		ids, err := s.store.DeleteOccurrencesFrom(ctx, tx.UserID, rule.ID, from)
		if err != nil {
			return fmt.Errorf("delete future occurrences: %w", err)
		}
		for _, id := range ids {
			s.publish(ctx, tx.UserID, id, core.ChangeDeleted)
		}
		slog.InfoContext(ctx, "Future occurrences cleared for regeneration",
			"rule_id", rule.ID,
			"from", from.String(),
			"deleted", len(ids))
		return nil
	}

	if e.Template.IsEmpty() {
		return nil
	}

	rows, err := s.store.ListOccurrencesFrom(ctx, tx.UserID, rule.ID, from)
	if err != nil {
		return fmt.Errorf("list future occurrences: %w", err)
	}
	updated := 0
	for _, row := range rows {
		if row.IsRecurringSkipped {
			continue
		}
		e.Template.Apply(&row.Template)
		if err := s.store.UpdateTransaction(ctx, row); err != nil {
			return fmt.Errorf("update occurrence %s: %w", row.ID, err)
		}
		s.publish(ctx, row.UserID, row.ID, core.ChangeUpdated)
		updated++
	}

	slog.InfoContext(ctx, "Future occurrences updated in place",
		"rule_id", rule.ID,
		"from", from.String(),
		"updated", updated)
	return nil
}

// updateRule applies template and schedule changes to the rule owning tx and
// reports whether the schedule changed.
func (s *RecurringService) updateRule(ctx context.Context, tx core.Transaction, tc core.TemplateChanges, sc core.ScheduleChanges) (core.RecurrenceRule, bool, error) {
	rule, err := s.store.GetRule(ctx, tx.UserID, tx.RecurringRuleID)
	if err != nil {
		return core.RecurrenceRule{}, false, fmt.Errorf("get rule: %w", err)
	}

	tc.Apply(&rule.Template)
	scheduleChanged := sc.Apply(&rule.Schedule)
	if err := rule.Validate(); err != nil {
		return core.RecurrenceRule{}, false, err
	}
	if tc.IsEmpty() && !scheduleChanged {
		return rule, false, nil
	}

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return core.RecurrenceRule{}, false, fmt.Errorf("update rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule updated",
		"rule_id", rule.ID,
		"schedule_changed", scheduleChanged)
	return rule, scheduleChanged, nil
}
