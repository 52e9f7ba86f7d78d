package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cadence/internal/core"
	ports "cadence/internal/sheets"
)

var _ ports.LedgerWriter = (*Ledger)(nil)

// Ledger is an in-process ledger mirror keyed by transaction id.
type Ledger struct {
	mu   sync.Mutex
	rows map[string]core.Transaction
	refs map[string]string
	next int
}

func New() *Ledger {
	return &Ledger{rows: map[string]core.Transaction{}, refs: map[string]string{}}
}

// UpsertTransaction stores tx and returns a synthetic row reference that stays
// stable across updates of the same transaction.
func (l *Ledger) UpsertTransaction(_ context.Context, tx core.Transaction) (string, error) {
	if strings.TrimSpace(tx.ID) == "" {
		return "", errors.New("transaction without id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[tx.ID] = tx
	ref, ok := l.refs[tx.ID]
	if !ok {
		l.next++
		ref = fmt.Sprintf("mem:%d", l.next)
		l.refs[tx.ID] = ref
	}
	return ref, nil
}

func (l *Ledger) RemoveTransaction(_ context.Context, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rows, transactionID)
	delete(l.refs, transactionID)
	return nil
}

// Get returns the mirrored row of a transaction.
func (l *Ledger) Get(transactionID string) (core.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.rows[transactionID]
	return tx, ok
}

// IDs returns the mirrored transaction ids in ascending order.
func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.rows))
	for id := range l.rows {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
