package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/core"
	"cadence/internal/storage"
	"cadence/internal/storage/memory"
)

type staticUser string

func (u staticUser) UserID(context.Context) (string, error) {
	if u == "" {
		return "", core.ErrUnauthenticated
	}
	return string(u), nil
}

type recordedChange struct {
	id   string
	kind core.ChangeKind
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []recordedChange
	err     error
}

func (p *recordingPublisher) PublishTransactionChange(_ context.Context, _, id string, kind core.ChangeKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, recordedChange{id: id, kind: kind})
	return p.err
}

func (p *recordingPublisher) count(kind core.ChangeKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.changes {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

type fixture struct {
	store *memory.Store
	pub   *recordingPublisher
	svc   *RecurringService
	ctx   context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{}
	return &fixture{
		store: store,
		pub:   pub,
		svc:   NewRecurringService(store, staticUser("u1"), pub, WithIDGenerator(sequentialIDs()), WithConcurrency(2)),
		ctx:   context.Background(),
	}
}

func d(s string) core.Date { return core.MustParseDate(s) }

func monthlyRule(start string) core.RecurrenceRule {
	return core.RecurrenceRule{
		Template: core.Template{
			Type:     core.Expense,
			Amount:   core.Money{Cents: 120000},
			Currency: "eur",
			Title:    " Rent ",
		},
		Schedule: core.Schedule{
			Frequency: core.Monthly,
			StartDate: d(start),
		},
	}
}

func (f *fixture) createRule(t *testing.T, r core.RecurrenceRule) core.RecurrenceRule {
	t.Helper()
	created, err := f.svc.CreateRule(f.ctx, r)
	require.NoError(t, err)
	return created
}

func (f *fixture) materialize(t *testing.T, start, end string) int {
	t.Helper()
	n, err := f.svc.MaterializeForRange(f.ctx, d(start), d(end))
	require.NoError(t, err)
	return n
}

func (f *fixture) occurrence(t *testing.T, ruleID, on string) core.Transaction {
	t.Helper()
	tx, err := f.store.FindOccurrence(f.ctx, "u1", ruleID, d(on))
	require.NoError(t, err)
	return tx
}

func dates(txs []core.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.TransactionDate.String())
	}
	return out
}

func TestCreateRule(t *testing.T) {
	f := newFixture(t)

	rule := f.createRule(t, monthlyRule("2024-01-31"))

	assert.Equal(t, "id-001", rule.ID)
	assert.Equal(t, "u1", rule.UserID)
	assert.True(t, rule.IsActive)
	assert.Equal(t, 1, rule.Interval)
	assert.Equal(t, "EUR", rule.Currency)
	assert.Equal(t, "Rent", rule.Title)
	assert.Equal(t, core.DefaultTimezone, rule.Timezone)

	stored, err := f.svc.GetRule(f.ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, rule.ID, stored.ID)
}

func TestCreateRuleValidation(t *testing.T) {
	f := newFixture(t)

	bad := monthlyRule("2024-01-31")
	bad.EndDate = d("2023-12-31")
	_, err := f.svc.CreateRule(f.ctx, bad)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	bad = monthlyRule("2024-01-31")
	bad.Frequency = "hourly"
	_, err = f.svc.CreateRule(f.ctx, bad)
	assert.ErrorIs(t, err, core.ErrInvalidFrequency)
}

func TestUnauthenticated(t *testing.T) {
	svc := NewRecurringService(memory.New(), staticUser(""), nil)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, monthlyRule("2024-01-01"))
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	_, err = svc.MaterializeForRange(ctx, d("2024-01-01"), d("2024-01-31"))
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.ErrorIs(t, svc.SkipOccurrence(ctx, "x"), core.ErrUnauthenticated)
	assert.ErrorIs(t, svc.DeactivateRule(ctx, "x"), core.ErrUnauthenticated)
	assert.ErrorIs(t, svc.UpdateRecurringTransaction(ctx, "x", core.RuleOnlyEdit{}), core.ErrUnauthenticated)
	_, err = svc.GetRuleForTransaction(ctx, "x")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	noIdentity := NewRecurringService(memory.New(), nil, nil)
	_, err = noIdentity.ListTransactions(ctx, d("2024-01-01"), d("2024-01-31"))
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-31"))

	assert.Equal(t, 3, f.materialize(t, "2024-01-01", "2024-03-31"))
	assert.Equal(t, 0, f.materialize(t, "2024-01-01", "2024-03-31"))
	assert.Equal(t, 3, f.pub.count(core.ChangeCreated))

	rows, err := f.store.ListOccurrencesFrom(f.ctx, "u1", rule.ID, d("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31"}, dates(rows))
	for _, row := range rows {
		assert.Equal(t, "Rent", row.Title)
		assert.Equal(t, int64(120000), row.Amount.Cents)
		assert.Equal(t, row.TransactionDate, row.RecurrenceOccurrenceDate)
	}
}

func TestMaterializeOverlappingWindows(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, monthlyRule("2024-01-15"))

	assert.Equal(t, 2, f.materialize(t, "2024-01-01", "2024-02-29"))
	assert.Equal(t, 1, f.materialize(t, "2024-02-01", "2024-03-31"))
}

func TestMaterializeMonthlyClamp(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-31"))

	assert.Equal(t, 1, f.materialize(t, "2024-02-01", "2024-02-29"))
	tx := f.occurrence(t, rule.ID, "2024-02-29")
	assert.Equal(t, rule.ID, tx.RecurringRuleID)
}

func TestMaterializeInvertedWindow(t *testing.T) {
	f := newFixture(t)
	f.createRule(t, monthlyRule("2024-01-01"))

	assert.Equal(t, 0, f.materialize(t, "2024-03-01", "2024-01-01"))
}

func TestMaterializeDoesNotClobberEdits(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-01-31")

	tx := f.occurrence(t, rule.ID, "2024-01-01")
	amount := core.Money{Cents: 99}
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, tx.ID, core.ThisOnlyEdit{
		Template: core.TemplateChanges{Amount: &amount},
	}))

	f.materialize(t, "2024-01-01", "2024-01-31")
	assert.Equal(t, int64(99), f.occurrence(t, rule.ID, "2024-01-01").Amount.Cents)
}

func TestSkipPersistsAcrossMaterialization(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-10"))
	f.materialize(t, "2024-01-01", "2024-03-31")

	tx := f.occurrence(t, rule.ID, "2024-02-10")
	require.NoError(t, f.svc.SkipOccurrence(f.ctx, tx.ID))
	require.NoError(t, f.svc.SkipOccurrence(f.ctx, tx.ID), "skipping twice is a no-op")
	assert.Equal(t, 1, f.pub.count(core.ChangeSkipped))

	assert.Equal(t, 0, f.materialize(t, "2024-01-01", "2024-03-31"))

	list, err := f.svc.ListTransactions(f.ctx, d("2024-01-01"), d("2024-03-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10", "2024-03-10"}, dates(list))

	kept, err := f.store.FindOccurrence(f.ctx, "u1", rule.ID, d("2024-02-10"))
	require.NoError(t, err)
	assert.True(t, kept.IsRecurringSkipped)
}

func TestSkipManualTransaction(t *testing.T) {
	f := newFixture(t)
	manual := core.Transaction{
		ID:              "manual",
		UserID:          "u1",
		Template:        core.Template{Type: core.Income, Amount: core.Money{Cents: 5}, Currency: "EUR", Title: "Gift"},
		TransactionDate: d("2024-01-05"),
	}
	require.NoError(t, f.store.InsertTransaction(f.ctx, manual))

	assert.ErrorIs(t, f.svc.SkipOccurrence(f.ctx, "manual"), core.ErrNotFound)
	assert.ErrorIs(t, f.svc.UpdateRecurringTransaction(f.ctx, "manual", core.RuleOnlyEdit{}), core.ErrNotFound)

	rule, err := f.svc.GetRuleForTransaction(f.ctx, "manual")
	require.NoError(t, err)
	assert.Nil(t, rule)

	list, err := f.svc.ListTransactions(f.ctx, d("2024-01-01"), d("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05"}, dates(list))
}

func TestGetRuleForTransaction(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-01-31")
	tx := f.occurrence(t, rule.ID, "2024-01-01")

	got, err := f.svc.GetRuleForTransaction(f.ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rule.ID, got.ID)

	_, err = f.svc.GetRuleForTransaction(f.ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	other := NewRecurringService(f.store, staticUser("u2"), nil)
	_, err = other.GetRuleForTransaction(f.ctx, tx.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestThisOnlyDateConflict(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-02-29")

	jan := f.occurrence(t, rule.ID, "2024-01-01")
	feb := f.occurrence(t, rule.ID, "2024-02-01")

	title := "Moved"
	dest := d("2024-02-01")
	err := f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.ThisOnlyEdit{
		Template:        core.TemplateChanges{Title: &title},
		TransactionDate: &dest,
	})
	require.ErrorIs(t, err, core.ErrDateConflict)

	assert.Equal(t, jan, f.occurrence(t, rule.ID, "2024-01-01"))
	assert.Equal(t, feb, f.occurrence(t, rule.ID, "2024-02-01"))
}

func TestThisOnlyMoveLeavesVacatedDateSkipped(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-01-31")
	jan := f.occurrence(t, rule.ID, "2024-01-01")

	dest := d("2024-01-03")
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.ThisOnlyEdit{TransactionDate: &dest}))

	moved, err := f.store.GetTransaction(f.ctx, "u1", jan.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", moved.TransactionDate.String())
	assert.Equal(t, "2024-01-03", moved.RecurrenceOccurrenceDate.String())

	assert.Equal(t, 0, f.materialize(t, "2024-01-01", "2024-01-31"))
	list, err := f.svc.ListTransactions(f.ctx, d("2024-01-01"), d("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03"}, dates(list))
}

func TestThisOnlyMoveBackReclaimsSkippedDate(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-01-31")
	jan := f.occurrence(t, rule.ID, "2024-01-01")

	away, back := d("2024-01-03"), d("2024-01-01")
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.ThisOnlyEdit{TransactionDate: &away}))
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.ThisOnlyEdit{TransactionDate: &back}))

	rows, err := f.store.ListOccurrencesFrom(f.ctx, "u1", rule.ID, d("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, jan.ID, rows[0].ID)
	assert.Equal(t, "2024-01-01", rows[0].RecurrenceOccurrenceDate.String())
	assert.False(t, rows[0].IsRecurringSkipped)

	assert.Equal(t, 0, f.materialize(t, "2024-01-01", "2024-01-31"))
}

type failingInserts struct {
	*memory.Store
	fail bool
}

func (s *failingInserts) InsertOccurrences(ctx context.Context, txs []core.Transaction) ([]core.Transaction, error) {
	if s.fail {
		return nil, core.WrapStore("insert occurrences", errors.New("disk full"))
	}
	return s.Store.InsertOccurrences(ctx, txs)
}

func TestThisOnlyMoveRevertsWhenVacatedDateCannotBeMarked(t *testing.T) {
	store := &failingInserts{Store: memory.New()}
	ctx := context.Background()
	svc := NewRecurringService(store, staticUser("u1"), nil, WithIDGenerator(sequentialIDs()))

	rule, err := svc.CreateRule(ctx, monthlyRule("2024-01-01"))
	require.NoError(t, err)
	_, err = svc.MaterializeForRange(ctx, d("2024-01-01"), d("2024-01-31"))
	require.NoError(t, err)
	jan, err := store.FindOccurrence(ctx, "u1", rule.ID, d("2024-01-01"))
	require.NoError(t, err)

	store.fail = true
	dest := d("2024-01-03")
	err = svc.UpdateRecurringTransaction(ctx, jan.ID, core.ThisOnlyEdit{TransactionDate: &dest})
	require.Error(t, err)

	got, err := store.GetTransaction(ctx, "u1", jan.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", got.TransactionDate.String())
	assert.Equal(t, "2024-01-01", got.RecurrenceOccurrenceDate.String())
}

func TestThisOnlyTemplateChange(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-02-29")
	jan := f.occurrence(t, rule.ID, "2024-01-01")

	amount := core.Money{Cents: 1}
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.ThisOnlyEdit{
		Template: core.TemplateChanges{Amount: &amount},
	}))

	assert.Equal(t, int64(1), f.occurrence(t, rule.ID, "2024-01-01").Amount.Cents)
	assert.Equal(t, int64(120000), f.occurrence(t, rule.ID, "2024-02-01").Amount.Cents)
	stored, err := f.svc.GetRule(f.ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120000), stored.Amount.Cents)
}

func TestThisAndFutureScheduleChange(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-06-30")

	apr := f.occurrence(t, rule.ID, "2024-04-01")
	require.NoError(t, f.svc.SkipOccurrence(f.ctx, apr.ID))
	mar := f.occurrence(t, rule.ID, "2024-03-01")

	interval := 2
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, mar.ID, core.ThisAndFutureEdit{
		Schedule: core.ScheduleChanges{Interval: &interval},
	}))

	rows, err := f.store.ListOccurrencesFrom(f.ctx, "u1", rule.ID, d("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-02-01", "2024-04-01"}, dates(rows), "past rows and skipped rows survive")
	assert.Equal(t, 3, f.pub.count(core.ChangeDeleted))

	stored, err := f.svc.GetRule(f.ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Interval)

	f.materialize(t, "2024-03-01", "2024-06-30")
	list, err := f.svc.ListTransactions(f.ctx, d("2024-01-01"), d("2024-06-30"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-02-01", "2024-03-01", "2024-05-01"}, dates(list))
}

func TestThisAndFutureTemplateChange(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-04-30")

	apr := f.occurrence(t, rule.ID, "2024-04-01")
	require.NoError(t, f.svc.SkipOccurrence(f.ctx, apr.ID))
	feb := f.occurrence(t, rule.ID, "2024-02-01")

	amount := core.Money{Cents: 130000}
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, feb.ID, core.ThisAndFutureEdit{
		Template: core.TemplateChanges{Amount: &amount},
	}))

	assert.Equal(t, int64(120000), f.occurrence(t, rule.ID, "2024-01-01").Amount.Cents)
	assert.Equal(t, int64(130000), f.occurrence(t, rule.ID, "2024-02-01").Amount.Cents)
	assert.Equal(t, int64(130000), f.occurrence(t, rule.ID, "2024-03-01").Amount.Cents)
	assert.Equal(t, int64(120000), f.occurrence(t, rule.ID, "2024-04-01").Amount.Cents, "skipped rows are left alone")
	assert.Equal(t, 0, f.pub.count(core.ChangeDeleted))

	f.materialize(t, "2024-05-01", "2024-05-31")
	assert.Equal(t, int64(130000), f.occurrence(t, rule.ID, "2024-05-01").Amount.Cents)
}

func TestRuleOnlyLeavesRowsAlone(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-03-31")
	jan := f.occurrence(t, rule.ID, "2024-01-01")

	title := "Rent (new lease)"
	interval := 3
	require.NoError(t, f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.RuleOnlyEdit{
		Template: core.TemplateChanges{Title: &title},
		Schedule: core.ScheduleChanges{Interval: &interval},
	}))

	rows, err := f.store.ListOccurrencesFrom(f.ctx, "u1", rule.ID, d("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-02-01", "2024-03-01"}, dates(rows))
	for _, row := range rows {
		assert.Equal(t, "Rent", row.Title)
	}

	stored, err := f.svc.GetRule(f.ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, title, stored.Title)
	assert.Equal(t, 3, stored.Interval)
}

func TestUpdateRejectsInvalidRule(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-01-31")
	jan := f.occurrence(t, rule.ID, "2024-01-01")

	zero := 0
	err := f.svc.UpdateRecurringTransaction(f.ctx, jan.ID, core.ThisAndFutureEdit{
		Schedule: core.ScheduleChanges{Interval: &zero},
	})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))

	stored, err := f.svc.GetRule(f.ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Interval)
}

func TestDeactivateRule(t *testing.T) {
	f := newFixture(t)
	rule := f.createRule(t, monthlyRule("2024-01-01"))
	f.materialize(t, "2024-01-01", "2024-02-29")

	require.NoError(t, f.svc.DeactivateRule(f.ctx, rule.ID))
	require.NoError(t, f.svc.DeactivateRule(f.ctx, rule.ID), "deactivating twice is a no-op")

	assert.Equal(t, 0, f.materialize(t, "2024-03-01", "2024-12-31"))

	list, err := f.svc.ListTransactions(f.ctx, d("2024-01-01"), d("2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-02-01"}, dates(list))

	assert.ErrorIs(t, f.svc.DeactivateRule(f.ctx, "missing"), core.ErrNotFound)
}

func TestMaterializeManyRulesConcurrently(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		r := monthlyRule("2024-01-01")
		r.Frequency = core.Weekly
		f.createRule(t, r)
	}

	assert.Equal(t, 50, f.materialize(t, "2024-01-01", "2024-01-31"))
	assert.Equal(t, 0, f.materialize(t, "2024-01-01", "2024-01-31"))
}

func TestMaterializeSameWindowConcurrently(t *testing.T) {
	sqliteStore := func(t *testing.T) Store {
		repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "cadence.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	}
	stores := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"memory", func(*testing.T) Store { return memory.New() }},
		{"sqlite", sqliteStore},
	}

	for _, tt := range stores {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.open(t)
			ctx := context.Background()
			svc := NewRecurringService(store, staticUser("u1"), nil, WithIDGenerator(sequentialIDs()))

			r := monthlyRule("2024-01-01")
			r.Frequency = core.Daily
			rule, err := svc.CreateRule(ctx, r)
			require.NoError(t, err)

			const callers = 8
			created := make([]int, callers)
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					created[i], errs[i] = svc.MaterializeForRange(ctx, d("2024-01-01"), d("2024-12-31"))
				}(i)
			}
			wg.Wait()

			total := 0
			for i := range created {
				require.NoError(t, errs[i])
				total += created[i]
			}
			assert.Equal(t, 366, total)

			rows, err := store.ListOccurrencesFrom(ctx, "u1", rule.ID, d("2024-01-01"))
			require.NoError(t, err)
			assert.Len(t, rows, 366)
			seen := make(map[string]bool, len(rows))
			for _, row := range rows {
				key := row.RecurrenceOccurrenceDate.String()
				assert.False(t, seen[key], "duplicate occurrence %s", key)
				seen[key] = true
			}
		})
	}
}

type failingRules struct {
	*memory.Store
}

func (failingRules) ListActiveRules(context.Context, string) ([]core.RecurrenceRule, error) {
	return nil, core.WrapStore("list rules", errors.New("connection reset"))
}

func TestListTransactionsSurvivesMaterializeFailure(t *testing.T) {
	store := failingRules{memory.New()}
	ctx := context.Background()
	manual := core.Transaction{
		ID:              "manual",
		UserID:          "u1",
		Template:        core.Template{Type: core.Expense, Amount: core.Money{Cents: 5}, Currency: "EUR", Title: "Coffee"},
		TransactionDate: d("2024-01-05"),
	}
	require.NoError(t, store.InsertTransaction(ctx, manual))

	svc := NewRecurringService(store, staticUser("u1"), nil)

	_, err := svc.MaterializeForRange(ctx, d("2024-01-01"), d("2024-01-31"))
	var se *core.StoreError
	require.ErrorAs(t, err, &se)

	list, err := svc.ListTransactions(ctx, d("2024-01-01"), d("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-05"}, dates(list))
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	rule := f.createRule(t, monthlyRule("2024-01-01"))

	assert.Equal(t, 1, f.materialize(t, "2024-01-01", "2024-01-31"))
	tx := f.occurrence(t, rule.ID, "2024-01-01")
	assert.NoError(t, f.svc.SkipOccurrence(f.ctx, tx.ID))
}

func TestListTransactionsInvalidRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListTransactions(f.ctx, d("2024-02-01"), d("2024-01-01"))
	assert.ErrorIs(t, err, core.ErrInvalidRange)
}
