package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"

	Income  TransactionType = "income"
	Expense TransactionType = "expense"

	// DefaultTimezone is stored on rules created without one. It does not
	// take part in occurrence arithmetic.
	DefaultTimezone = "UTC"
)

type (
	Frequency       string
	TransactionType string

	Money struct {
		Cents int64
	}

	// Template is the part of a rule copied onto every materialized row.
	Template struct {
		Type        TransactionType `json:"type"`
		Amount      Money           `json:"amount_cents"`
		Currency    string          `json:"currency"`
		CategoryID  string          `json:"category_id,omitempty"`
		AccountID   string          `json:"account_id,omitempty"`
		Title       string          `json:"title"`
		Description string          `json:"description,omitempty"`
	}

	// Schedule is the cadence of a rule. EndDate is optional (zero means open-ended).
	Schedule struct {
		Frequency Frequency `json:"frequency"`
		Interval  int       `json:"interval"`
		StartDate Date      `json:"start_date"`
		EndDate   Date      `json:"end_date"`
		Timezone  string    `json:"timezone"`
	}

	RecurrenceRule struct {
		ID       string `json:"id"`
		UserID   string `json:"user_id"`
		Template `json:"template"`
		Schedule `json:"schedule"`
		IsActive bool      `json:"is_active"`
		Created  time.Time `json:"created_at"`
		Updated  time.Time `json:"updated_at"`
	}

	// Transaction is a concrete row, either entered by hand or materialized
	// from a rule. Materialized rows carry the rule id and occurrence date.
	Transaction struct {
		ID                       string `json:"id"`
		UserID                   string `json:"user_id"`
		Template                 `json:"template"`
		TransactionDate          Date      `json:"transaction_date"`
		RecurringRuleID          string    `json:"recurring_rule_id,omitempty"`
		RecurrenceOccurrenceDate Date      `json:"recurrence_occurrence_date"`
		IsRecurringSkipped       bool      `json:"is_recurring_skipped"`
		Created                  time.Time `json:"created_at"`
		Updated                  time.Time `json:"updated_at"`
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyTitle       = errors.New("empty title")
	ErrEmptyCurrency    = errors.New("empty currency")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidInterval  = errors.New("interval must be at least 1")
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// IsRecurring reports whether the row was materialized from a rule.
func (t Transaction) IsRecurring() bool {
	return t.RecurringRuleID != ""
}

// OccurrenceKey is the idempotency key of a materialized row.
type OccurrenceKey struct {
	UserID string
	RuleID string
	Date   Date
}

func (t Transaction) Key() OccurrenceKey {
	return OccurrenceKey{UserID: t.UserID, RuleID: t.RecurringRuleID, Date: t.RecurrenceOccurrenceDate}
}

func (tp Template) Validate() error {
	if !tp.Type.Valid() {
		return invalid("type", ErrInvalidType)
	}
	if err := tp.Amount.Validate(); err != nil {
		return invalid("amount", err)
	}
	if strings.TrimSpace(tp.Currency) == "" {
		return invalid("currency", ErrEmptyCurrency)
	}
	if len(strings.TrimSpace(tp.Title)) == 0 {
		return invalid("title", ErrEmptyTitle)
	}
	if len(tp.Title) > 200 {
		return invalid("title", errors.New("too long (max 200 characters)"))
	}
	if len(tp.Description) > 1000 {
		return invalid("description", errors.New("too long (max 1000 characters)"))
	}
	return nil
}

func (s Schedule) Validate() error {
	if err := s.StartDate.Validate(); err != nil {
		return invalid("start_date", err)
	}

	if !s.EndDate.IsEmpty() {
		if err := s.EndDate.Validate(); err != nil {
			return invalid("end_date", err)
		}
		if s.EndDate.Before(s.StartDate) {
			return invalid("end_date", errors.New("must not be before start date"))
		}
	}

	if !s.Frequency.Valid() {
		return invalid("frequency", ErrInvalidFrequency)
	}
	if s.Interval < 1 {
		return invalid("interval", ErrInvalidInterval)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return invalid("timezone", err)
		}
	}
	return nil
}

func (r RecurrenceRule) Validate() error {
	if err := r.Template.Validate(); err != nil {
		return err
	}
	return r.Schedule.Validate()
}

// Normalize fills the defaults a new rule is stored with.
func (r *RecurrenceRule) Normalize() {
	if r.Interval == 0 {
		r.Interval = 1
	}
	if r.Timezone == "" {
		r.Timezone = DefaultTimezone
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Title = strings.TrimSpace(r.Title)
}

// Occurrence builds the row a rule materializes on the given date.
func (r RecurrenceRule) Occurrence(id string, on Date) Transaction {
	return Transaction{
		ID:                       id,
		UserID:                   r.UserID,
		Template:                 r.Template,
		TransactionDate:          on,
		RecurringRuleID:          r.ID,
		RecurrenceOccurrenceDate: on,
	}
}

func (t Transaction) Validate() error {
	if err := t.Template.Validate(); err != nil {
		return err
	}
	if err := t.TransactionDate.Validate(); err != nil {
		return invalid("transaction_date", err)
	}
	if t.IsRecurring() {
		if err := t.RecurrenceOccurrenceDate.Validate(); err != nil {
			return invalid("recurrence_occurrence_date", err)
		}
	}
	return nil
}
