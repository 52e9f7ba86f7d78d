package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cadence/internal/amqp"
	"cadence/internal/core"
	"cadence/internal/sheets"
)

// TransactionReader is the part of the store the worker reads from.
type TransactionReader interface {
	GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID string, start, end core.Date) ([]core.Transaction, error)
}

// SyncWorker mirrors changed transactions into an external ledger.
type SyncWorker struct {
	store  TransactionReader
	ledger sheets.LedgerWriter
}

func NewSyncWorker(store TransactionReader, ledger sheets.LedgerWriter) *SyncWorker {
	return &SyncWorker{store: store, ledger: ledger}
}

// HandleChangeMessage processes a single transaction change message from AMQP.
// The row is always reloaded, so out-of-order or repeated messages converge on
// the stored state.
func (w *SyncWorker) HandleChangeMessage(ctx context.Context, msg *amqp.TransactionChangeMessage) error {
	slog.InfoContext(ctx, "Processing change message",
		"transaction_id", msg.TransactionID,
		"user_id", msg.UserID,
		"kind", msg.Kind)

	if msg.Kind.Removes() {
		return w.remove(ctx, msg.TransactionID)
	}

	tx, err := w.store.GetTransaction(ctx, msg.UserID, msg.TransactionID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return w.remove(ctx, msg.TransactionID)
	case err != nil:
		return fmt.Errorf("get transaction from storage: %w", err)
	case tx.IsRecurringSkipped:
		return w.remove(ctx, msg.TransactionID)
	}

	ref, err := w.ledger.UpsertTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("upsert ledger row: %w", err)
	}

	slog.InfoContext(ctx, "Successfully synced transaction",
		"transaction_id", tx.ID,
		"sheets_ref", ref,
		"amount_cents", tx.Amount.Cents)
	return nil
}

func (w *SyncWorker) remove(ctx context.Context, transactionID string) error {
	if err := w.ledger.RemoveTransaction(ctx, transactionID); err != nil {
		return fmt.Errorf("remove ledger row: %w", err)
	}
	slog.InfoContext(ctx, "Removed transaction from ledger", "transaction_id", transactionID)
	return nil
}

// ResyncWindow pushes every visible row of the window to the ledger. It is
// the recovery path for messages lost while the worker was down.
func (w *SyncWorker) ResyncWindow(ctx context.Context, userID string, start, end core.Date) (int, error) {
	txs, err := w.store.ListTransactions(ctx, userID, start, end)
	if err != nil {
		return 0, fmt.Errorf("list transactions for resync: %w", err)
	}

	synced, failed := 0, 0
	for _, tx := range txs {
		if _, err := w.ledger.UpsertTransaction(ctx, tx); err != nil {
			slog.ErrorContext(ctx, "Failed to sync transaction during resync",
				"transaction_id", tx.ID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Resync completed",
		"user_id", userID,
		"total", len(txs),
		"synced", synced,
		"errors", failed)
	if failed > 0 {
		return synced, fmt.Errorf("resync: %d of %d rows failed", failed, len(txs))
	}
	return synced, nil
}
