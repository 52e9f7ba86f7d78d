package services

import (
	"context"

	"cadence/internal/core"
)

// Ports for the data store and the collaborators the recurring engine relies on.
// Every store method filters by user id; rows of other users behave as missing.
type (
	RuleStore interface {
		InsertRule(ctx context.Context, r core.RecurrenceRule) error
		// GetRule returns core.ErrNotFound when the rule is missing.
		GetRule(ctx context.Context, userID, ruleID string) (core.RecurrenceRule, error)
		ListActiveRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error)
		UpdateRule(ctx context.Context, r core.RecurrenceRule) error
	}

	TransactionStore interface {
		InsertTransaction(ctx context.Context, tx core.Transaction) error
		// GetTransaction returns core.ErrNotFound when the row is missing.
		GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
		// UpdateTransaction returns core.ErrDateConflict when the row's
		// occurrence key is already taken by another row.
		UpdateTransaction(ctx context.Context, tx core.Transaction) error
		// DeleteTransaction returns core.ErrNotFound when the row is missing.
		DeleteTransaction(ctx context.Context, userID, id string) error
		// ListTransactions returns the non-skipped rows dated within [start, end].
		ListTransactions(ctx context.Context, userID string, start, end core.Date) ([]core.Transaction, error)

		// FindOccurrence returns the row holding the occurrence key, skipped or not.
		FindOccurrence(ctx context.Context, userID, ruleID string, on core.Date) (core.Transaction, error)
		SkippedOccurrenceDates(ctx context.Context, userID, ruleID string, start, end core.Date) ([]core.Date, error)
		// InsertOccurrences inserts rows keyed by occurrence, leaving existing
		// keys untouched, and returns the rows actually inserted.
		InsertOccurrences(ctx context.Context, txs []core.Transaction) ([]core.Transaction, error)
		// ListOccurrencesFrom returns the rule's rows with occurrence date >= from.
		ListOccurrencesFrom(ctx context.Context, userID, ruleID string, from core.Date) ([]core.Transaction, error)
		// DeleteOccurrencesFrom deletes the rule's non-skipped rows with
		// occurrence date >= from and returns their ids.
		DeleteOccurrencesFrom(ctx context.Context, userID, ruleID string, from core.Date) ([]string, error)
	}

	Store interface {
		RuleStore
		TransactionStore
	}

	// Identity resolves the user every operation runs for.
	Identity interface {
		UserID(ctx context.Context) (string, error)
	}

	// ChangePublisher announces row changes to downstream consumers.
	ChangePublisher interface {
		PublishTransactionChange(ctx context.Context, userID, transactionID string, kind core.ChangeKind) error
	}
)
