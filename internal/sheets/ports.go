package sheets

import (
	"context"

	"cadence/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerWriter keeps one row per transaction in an external ledger.
	LedgerWriter interface {
		// UpsertTransaction writes the row of tx, replacing an earlier copy
		// with the same id.
		UpsertTransaction(ctx context.Context, tx core.Transaction) (rowRef string, err error)
		// RemoveTransaction clears the row of the transaction. Unknown ids are not an error.
		RemoveTransaction(ctx context.Context, transactionID string) error
	}
)
