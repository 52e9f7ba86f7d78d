package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cadence/internal/core"
)

// Store keeps rules and transactions in process memory. It enforces the same
// occurrence uniqueness as the relational stores and is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	rules       map[string]core.RecurrenceRule
	txs         map[string]core.Transaction
	occurrences map[occurrenceKey]string
	now         func() time.Time
}

type occurrenceKey struct {
	userID string
	ruleID string
	date   string
}

func keyOf(tx core.Transaction) occurrenceKey {
	return occurrenceKey{userID: tx.UserID, ruleID: tx.RecurringRuleID, date: tx.RecurrenceOccurrenceDate.String()}
}

func New() *Store {
	return &Store{
		rules:       map[string]core.RecurrenceRule{},
		txs:         map[string]core.Transaction{},
		occurrences: map[occurrenceKey]string{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) InsertRule(_ context.Context, r core.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r.Created, r.Updated = now, now
	s.rules[r.ID] = r
	return nil
}

func (s *Store) GetRule(_ context.Context, userID, ruleID string) (core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok || r.UserID != userID {
		return core.RecurrenceRule{}, core.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListActiveRules(_ context.Context, userID string) ([]core.RecurrenceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.RecurrenceRule
	for _, r := range s.rules {
		if r.UserID == userID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateRule(_ context.Context, r core.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rules[r.ID]
	if !ok || cur.UserID != r.UserID {
		return core.ErrNotFound
	}
	r.Created = cur.Created
	r.Updated = s.now()
	s.rules[r.ID] = r
	return nil
}

func (s *Store) InsertTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return fmt.Errorf("transaction %s already exists", tx.ID)
	}
	if tx.IsRecurring() {
		if _, taken := s.occurrences[keyOf(tx)]; taken {
			return core.ErrDateConflict
		}
	}
	s.insertLocked(tx)
	return nil
}

func (s *Store) insertLocked(tx core.Transaction) {
	now := s.now()
	tx.Created, tx.Updated = now, now
	s.txs[tx.ID] = tx
	if tx.IsRecurring() {
		s.occurrences[keyOf(tx)] = tx.ID
	}
}

func (s *Store) GetTransaction(_ context.Context, userID, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.txs[tx.ID]
	if !ok || cur.UserID != tx.UserID {
		return core.ErrNotFound
	}
	oldKey, newKey := keyOf(cur), keyOf(tx)
	if tx.IsRecurring() && newKey != oldKey {
		if holder, taken := s.occurrences[newKey]; taken && holder != tx.ID {
			return core.ErrDateConflict
		}
	}
	if cur.IsRecurring() {
		delete(s.occurrences, oldKey)
	}
	if tx.IsRecurring() {
		s.occurrences[newKey] = tx.ID
	}
	tx.Created = cur.Created
	tx.Updated = s.now()
	s.txs[tx.ID] = tx
	return nil
}

func (s *Store) DeleteTransaction(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok || tx.UserID != userID {
		return core.ErrNotFound
	}
	if tx.IsRecurring() {
		delete(s.occurrences, keyOf(tx))
	}
	delete(s.txs, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, start, end core.Date) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.UserID != userID || tx.IsRecurringSkipped {
			continue
		}
		if tx.TransactionDate.Before(start) || tx.TransactionDate.After(end) {
			continue
		}
		out = append(out, tx)
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) FindOccurrence(_ context.Context, userID, ruleID string, on core.Date) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.occurrences[occurrenceKey{userID: userID, ruleID: ruleID, date: on.String()}]
	if !ok {
		return core.Transaction{}, core.ErrNotFound
	}
	return s.txs[id], nil
}

func (s *Store) SkippedOccurrenceDates(_ context.Context, userID, ruleID string, start, end core.Date) ([]core.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Date
	for _, tx := range s.txs {
		if tx.UserID != userID || tx.RecurringRuleID != ruleID || !tx.IsRecurringSkipped {
			continue
		}
		d := tx.RecurrenceOccurrenceDate
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) InsertOccurrences(_ context.Context, txs []core.Transaction) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []core.Transaction
	for _, tx := range txs {
		if _, taken := s.occurrences[keyOf(tx)]; taken {
			continue
		}
		if _, dup := s.txs[tx.ID]; dup {
			continue
		}
		s.insertLocked(tx)
		inserted = append(inserted, s.txs[tx.ID])
	}
	return inserted, nil
}

func (s *Store) ListOccurrencesFrom(_ context.Context, userID, ruleID string, from core.Date) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.UserID == userID && tx.RecurringRuleID == ruleID && !tx.RecurrenceOccurrenceDate.Before(from) {
			out = append(out, tx)
		}
	}
	sortByDate(out)
	return out, nil
}

func (s *Store) DeleteOccurrencesFrom(_ context.Context, userID, ruleID string, from core.Date) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, tx := range s.txs {
		if tx.UserID != userID || tx.RecurringRuleID != ruleID || tx.IsRecurringSkipped {
			continue
		}
		if tx.RecurrenceOccurrenceDate.Before(from) {
			continue
		}
		delete(s.occurrences, keyOf(tx))
		delete(s.txs, id)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close is a no-op so the store satisfies the backend interface.
func (s *Store) Close() error { return nil }

func sortByDate(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].TransactionDate.Equal(txs[j].TransactionDate) {
			return txs[i].TransactionDate.Before(txs[j].TransactionDate)
		}
		return txs[i].ID < txs[j].ID
	})
}
