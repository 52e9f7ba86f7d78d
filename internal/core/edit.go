package core

import (
	"fmt"
	"strings"
)

// Scope selects which rows and which rule an edit of a recurring transaction reaches.
type Scope string

const (
	ScopeThisOnly      Scope = "this-only"
	ScopeThisAndFuture Scope = "this-and-future"
	ScopeRuleOnly      Scope = "rule-only"
)

func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.TrimSpace(s)); sc {
	case ScopeThisOnly, ScopeThisAndFuture, ScopeRuleOnly:
		return sc, nil
	}
	return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, s)
}

// TemplateChanges lists the template fields an edit overrides. Nil means unchanged.
type TemplateChanges struct {
	Type        *TransactionType
	Amount      *Money
	Currency    *string
	CategoryID  *string
	AccountID   *string
	Title       *string
	Description *string
}

func (c TemplateChanges) IsEmpty() bool {
	return c.Type == nil && c.Amount == nil && c.Currency == nil && c.CategoryID == nil &&
		c.AccountID == nil && c.Title == nil && c.Description == nil
}

// Apply overrides the fields of tp that c sets.
func (c TemplateChanges) Apply(tp *Template) {
	if c.Type != nil {
		tp.Type = *c.Type
	}
	if c.Amount != nil {
		tp.Amount = *c.Amount
	}
	if c.Currency != nil {
		tp.Currency = strings.ToUpper(strings.TrimSpace(*c.Currency))
	}
	if c.CategoryID != nil {
		tp.CategoryID = *c.CategoryID
	}
	if c.AccountID != nil {
		tp.AccountID = *c.AccountID
	}
	if c.Title != nil {
		tp.Title = strings.TrimSpace(*c.Title)
	}
	if c.Description != nil {
		tp.Description = *c.Description
	}
}

// ScheduleChanges lists the schedule fields an edit overrides. ClearEndDate
// makes the rule open-ended and wins over EndDate.
type ScheduleChanges struct {
	Frequency    *Frequency
	Interval     *int
	StartDate    *Date
	EndDate      *Date
	ClearEndDate bool
}

func (c ScheduleChanges) IsEmpty() bool {
	return c.Frequency == nil && c.Interval == nil && c.StartDate == nil && c.EndDate == nil && !c.ClearEndDate
}

// Apply overrides the fields of s that c sets and reports whether the
// resulting cadence differs from the original one.
func (c ScheduleChanges) Apply(s *Schedule) bool {
	before := *s
	if c.Frequency != nil {
		s.Frequency = *c.Frequency
	}
	if c.Interval != nil {
		s.Interval = *c.Interval
	}
	if c.StartDate != nil {
		s.StartDate = *c.StartDate
	}
	if c.EndDate != nil {
		s.EndDate = *c.EndDate
	}
	if c.ClearEndDate {
		s.EndDate = Date{}
	}
	return before.Frequency != s.Frequency ||
		before.Interval != s.Interval ||
		!before.StartDate.Equal(s.StartDate) ||
		!before.EndDate.Equal(s.EndDate)
}

// Edit is one of ThisOnlyEdit, ThisAndFutureEdit or RuleOnlyEdit. Each
// variant only carries the fields meaningful in its scope.
type Edit interface {
	Scope() Scope
	isEdit()
}

// ThisOnlyEdit changes a single materialized row, optionally moving it to
// another date.
type ThisOnlyEdit struct {
	Template        TemplateChanges
	TransactionDate *Date
}

// ThisAndFutureEdit changes the rule and reconciles rows from the edited
// occurrence onwards.
type ThisAndFutureEdit struct {
	Template TemplateChanges
	Schedule ScheduleChanges
}

// RuleOnlyEdit changes the rule and leaves every materialized row alone.
type RuleOnlyEdit struct {
	Template TemplateChanges
	Schedule ScheduleChanges
}

func (ThisOnlyEdit) Scope() Scope      { return ScopeThisOnly }
func (ThisAndFutureEdit) Scope() Scope { return ScopeThisAndFuture }
func (RuleOnlyEdit) Scope() Scope      { return ScopeRuleOnly }

func (ThisOnlyEdit) isEdit()      {}
func (ThisAndFutureEdit) isEdit() {}
func (RuleOnlyEdit) isEdit()      {}

// EditPayload is the loose form of an edit as it arrives from a caller.
type EditPayload struct {
	Type            *TransactionType `json:"type"`
	Amount          *string          `json:"amount"`
	Currency        *string          `json:"currency"`
	CategoryID      *string          `json:"category_id"`
	AccountID       *string          `json:"account_id"`
	Title           *string          `json:"title"`
	Description     *string          `json:"description"`
	Frequency       *Frequency       `json:"frequency"`
	Interval        *int             `json:"interval"`
	StartDate       *Date            `json:"start_date"`
	EndDate         *Date            `json:"end_date"`
	ClearEndDate    bool             `json:"clear_end_date"`
	TransactionDate *Date            `json:"transaction_date"`
}

// DecodeEdit turns a payload into the edit variant of the scope. Fields the
// scope cannot apply are rejected with ErrInvalidScope.
func DecodeEdit(scope Scope, p EditPayload) (Edit, error) {
	tmpl, err := p.templateChanges()
	if err != nil {
		return nil, err
	}
	sched := ScheduleChanges{
		Frequency:    p.Frequency,
		Interval:     p.Interval,
		StartDate:    p.StartDate,
		EndDate:      p.EndDate,
		ClearEndDate: p.ClearEndDate,
	}

	switch scope {
	case ScopeThisOnly:
		if !sched.IsEmpty() {
			return nil, fmt.Errorf("%w: schedule fields cannot change a single occurrence", ErrInvalidScope)
		}
		return ThisOnlyEdit{Template: tmpl, TransactionDate: p.TransactionDate}, nil
	case ScopeThisAndFuture, ScopeRuleOnly:
		if p.TransactionDate != nil {
			return nil, fmt.Errorf("%w: transaction_date only applies to %s", ErrInvalidScope, ScopeThisOnly)
		}
		if scope == ScopeRuleOnly {
			return RuleOnlyEdit{Template: tmpl, Schedule: sched}, nil
		}
		return ThisAndFutureEdit{Template: tmpl, Schedule: sched}, nil
	}
	return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, scope)
}

func (p EditPayload) templateChanges() (TemplateChanges, error) {
	c := TemplateChanges{
		Type:        p.Type,
		Currency:    p.Currency,
		CategoryID:  p.CategoryID,
		AccountID:   p.AccountID,
		Title:       p.Title,
		Description: p.Description,
	}
	if p.Amount != nil {
		cents, err := ParseDecimalToCents(*p.Amount)
		if err != nil {
			return c, invalid("amount", err)
		}
		c.Amount = &Money{Cents: cents}
	}
	return c, nil
}
