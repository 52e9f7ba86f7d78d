package worker

import (
	"context"
	"errors"
	"testing"

	"cadence/internal/amqp"
	"cadence/internal/core"
	ledger "cadence/internal/sheets/memory"
	"cadence/internal/storage/memory"
)

func seed(t *testing.T, store *memory.Store, id, on string, skipped bool) core.Transaction {
	t.Helper()
	tx := core.Transaction{
		ID:     id,
		UserID: "u1",
		Template: core.Template{
			Type: core.Expense, Amount: core.Money{Cents: 500}, Currency: "EUR", Title: "Gym",
		},
		TransactionDate:          core.MustParseDate(on),
		RecurringRuleID:          "rule-1",
		RecurrenceOccurrenceDate: core.MustParseDate(on),
		IsRecurringSkipped:       skipped,
	}
	if err := store.InsertTransaction(context.Background(), tx); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return tx
}

func TestHandleChangeMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "tx-live", "2024-01-10", false)
	seed(t, store, "tx-skipped", "2024-01-17", true)

	tests := []struct {
		name     string
		id       string
		kind     core.ChangeKind
		preload  bool
		inLedger bool
	}{
		{"created row is mirrored", "tx-live", core.ChangeCreated, false, true},
		{"updated row is mirrored", "tx-live", core.ChangeUpdated, true, true},
		{"skipped kind removes", "tx-live", core.ChangeSkipped, true, false},
		{"deleted kind removes", "tx-live", core.ChangeDeleted, true, false},
		{"skipped row removes even on update", "tx-skipped", core.ChangeUpdated, true, false},
		{"missing row removes", "tx-gone", core.ChangeCreated, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ledger.New()
			if tt.preload {
				if _, err := l.UpsertTransaction(ctx, core.Transaction{ID: tt.id}); err != nil {
					t.Fatalf("preload: %v", err)
				}
			}
			w := NewSyncWorker(store, l)

			msg := amqp.NewTransactionChangeMessage("u1", tt.id, tt.kind)
			if err := w.HandleChangeMessage(ctx, msg); err != nil {
				t.Fatalf("handle: %v", err)
			}
			got, ok := l.Get(tt.id)
			if ok != tt.inLedger {
				t.Fatalf("in ledger = %v, want %v", ok, tt.inLedger)
			}
			if ok && got.Title != "Gym" {
				t.Errorf("mirrored row title = %q, want stored title", got.Title)
			}
		})
	}
}

func TestHandleChangeMessageOtherUser(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "tx-1", "2024-01-10", false)
	l := ledger.New()
	w := NewSyncWorker(store, l)

	if err := w.HandleChangeMessage(ctx, amqp.NewTransactionChangeMessage("u2", "tx-1", core.ChangeCreated)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := l.Get("tx-1"); ok {
		t.Fatal("row of another user must not be mirrored")
	}
}

type brokenStore struct{ TransactionReader }

func (brokenStore) GetTransaction(context.Context, string, string) (core.Transaction, error) {
	return core.Transaction{}, errors.New("database is locked")
}

func TestHandleChangeMessageStoreError(t *testing.T) {
	w := NewSyncWorker(brokenStore{}, ledger.New())
	err := w.HandleChangeMessage(context.Background(), amqp.NewTransactionChangeMessage("u1", "tx-1", core.ChangeUpdated))
	if err == nil {
		t.Fatal("expected store error to be returned so the message is requeued")
	}
}

func TestResyncWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, "tx-a", "2024-01-03", false)
	seed(t, store, "tx-b", "2024-01-10", true)
	seed(t, store, "tx-c", "2024-02-01", false)
	l := ledger.New()

	n, err := NewSyncWorker(store, l).ResyncWindow(ctx, "u1", core.MustParseDate("2024-01-01"), core.MustParseDate("2024-01-31"))
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if n != 1 {
		t.Fatalf("synced %d rows, want 1", n)
	}
	if ids := l.IDs(); len(ids) != 1 || ids[0] != "tx-a" {
		t.Errorf("ledger ids = %v, want [tx-a]", ids)
	}
}
