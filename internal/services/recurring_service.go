package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"cadence/internal/core"
)

const defaultConcurrency = 4

// RecurringService creates rules, materializes their occurrences and applies
// scoped edits, skips and deactivations on behalf of the current user.
type RecurringService struct {
	store       Store
	identity    Identity
	publisher   ChangePublisher
	newID       func() string
	concurrency int
}

type Option func(*RecurringService)

// WithConcurrency bounds how many rules are expanded in parallel.
func WithConcurrency(n int) Option {
	return func(s *RecurringService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *RecurringService) {
		s.newID = fn
	}
}

// NewRecurringService wires the engine. publisher may be nil, in which case
// changes are not announced.
func NewRecurringService(store Store, identity Identity, publisher ChangePublisher, opts ...Option) *RecurringService {
	s := &RecurringService{
		store:       store,
		identity:    identity,
		publisher:   publisher,
		newID:       uuid.NewString,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RecurringService) currentUser(ctx context.Context) (string, error) {
	if s.identity == nil {
		return "", core.ErrUnauthenticated
	}
	userID, err := s.identity.UserID(ctx)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
	}
	if userID == "" {
		return "", core.ErrUnauthenticated
	}
	return userID, nil
}

// CreateRule stores a new active rule for the current user.
func (s *RecurringService) CreateRule(ctx context.Context, rule core.RecurrenceRule) (core.RecurrenceRule, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return core.RecurrenceRule{}, err
	}

	rule.ID = s.newID()
	rule.UserID = userID
	rule.IsActive = true
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return core.RecurrenceRule{}, err
	}

	if err := s.store.InsertRule(ctx, rule); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("insert rule: %w", err)
	}

	slog.InfoContext(ctx, "Recurrence rule created",
		"rule_id", rule.ID,
		"user_id", userID,
		"frequency", rule.Frequency,
		"interval", rule.Interval,
		"start_date", rule.StartDate.String())

	return rule, nil
}

// GetRule returns one of the current user's rules.
func (s *RecurringService) GetRule(ctx context.Context, ruleID string) (core.RecurrenceRule, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	rule, err := s.store.GetRule(ctx, userID, ruleID)
	if err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// GetRuleForTransaction returns the rule a transaction was materialized from,
// or nil when the transaction was entered by hand or its rule is gone.
func (s *RecurringService) GetRuleForTransaction(ctx context.Context, transactionID string) (*core.RecurrenceRule, error) {
	userID, err := s.currentUser(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if !tx.IsRecurring() {
		return nil, nil
	}

	rule, err := s.store.GetRule(ctx, userID, tx.RecurringRuleID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return &rule, nil
}

// publish announces a change. Failures are logged and never fail the caller:
// the row is already persisted.
func (s *RecurringService) publish(ctx context.Context, userID, transactionID string, kind core.ChangeKind) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionChange(ctx, userID, transactionID, kind); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction change",
			"transaction_id", transactionID,
			"kind", kind,
			"error", err)
	}
}
