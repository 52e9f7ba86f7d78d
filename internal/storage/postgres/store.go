// Package postgres stores rules and transactions in PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cadence/internal/core"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

// New connects, runs pending migrations and returns a ready store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "Postgres store ready", "max_conns", pool.Config().MaxConns)
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const ruleColumns = `id, user_id, type, amount_cents, currency, category_id, account_id, title, description,
	frequency, interval_count, start_date, end_date, timezone, is_active, created_at, updated_at`

const txColumns = `id, user_id, type, amount_cents, currency, category_id, account_id, title, description,
	transaction_date, recurring_rule_id, recurrence_occurrence_date, is_recurring_skipped, created_at, updated_at`

const insertTxSQL = `INSERT INTO transactions (id, user_id, type, amount_cents, currency, category_id, account_id,
	title, description, transaction_date, recurring_rule_id, recurrence_occurrence_date, is_recurring_skipped)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func (s *Store) InsertRule(ctx context.Context, r core.RecurrenceRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recurrence_rules (id, user_id, type, amount_cents, currency, category_id, account_id, title,
		 description, frequency, interval_count, start_date, end_date, timezone, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.UserID, string(r.Type), r.Amount.Cents, r.Currency, r.CategoryID, r.AccountID, r.Title,
		r.Description, string(r.Frequency), r.Interval, r.StartDate.Time, nullDate(r.EndDate), r.Timezone, r.IsActive)
	return core.WrapStore("insert rule", mapError(err))
}

func (s *Store) GetRule(ctx context.Context, userID, ruleID string) (core.RecurrenceRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = $1 AND user_id = $2`, ruleID, userID)
	r, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.RecurrenceRule{}, core.ErrNotFound
	}
	return r, core.WrapStore("get rule", err)
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE user_id = $1 AND is_active ORDER BY id`, userID)
	if err != nil {
		return nil, core.WrapStore("list active rules", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.RecurrenceRule, error) {
		return scanRule(row)
	})
	return out, core.WrapStore("list active rules", err)
}

func (s *Store) UpdateRule(ctx context.Context, r core.RecurrenceRule) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recurrence_rules SET
			type = $1, amount_cents = $2, currency = $3, category_id = $4, account_id = $5, title = $6,
			description = $7, frequency = $8, interval_count = $9, start_date = $10, end_date = $11,
			timezone = $12, is_active = $13, updated_at = now()
		 WHERE id = $14 AND user_id = $15`,
		string(r.Type), r.Amount.Cents, r.Currency, r.CategoryID, r.AccountID, r.Title,
		r.Description, string(r.Frequency), r.Interval, r.StartDate.Time, nullDate(r.EndDate),
		r.Timezone, r.IsActive, r.ID, r.UserID)
	if err != nil {
		return core.WrapStore("update rule", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := s.pool.Exec(ctx, insertTxSQL, txArgs(tx)...)
	return core.WrapStore("insert transaction", mapError(err))
}

func (s *Store) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, core.WrapStore("get transaction", err)
}

func (s *Store) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET
			type = $1, amount_cents = $2, currency = $3, category_id = $4, account_id = $5, title = $6,
			description = $7, transaction_date = $8, recurrence_occurrence_date = $9,
			is_recurring_skipped = $10, updated_at = now()
		 WHERE id = $11 AND user_id = $12`,
		string(tx.Type), tx.Amount.Cents, tx.Currency, tx.CategoryID, tx.AccountID, tx.Title,
		tx.Description, tx.TransactionDate.Time, nullDate(tx.RecurrenceOccurrenceDate),
		tx.IsRecurringSkipped, tx.ID, tx.UserID)
	if err != nil {
		return core.WrapStore("update transaction", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return core.WrapStore("delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, start, end core.Date) ([]core.Transaction, error) {
	return s.queryTransactions(ctx, "list transactions",
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = $1 AND NOT is_recurring_skipped AND transaction_date BETWEEN $2 AND $3
		 ORDER BY transaction_date, id`,
		userID, start.Time, end.Time)
}

func (s *Store) FindOccurrence(ctx context.Context, userID, ruleID string, on core.Date) (core.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = $1 AND recurring_rule_id = $2 AND recurrence_occurrence_date = $3`,
		userID, ruleID, on.Time)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, core.WrapStore("find occurrence", err)
}

func (s *Store) SkippedOccurrenceDates(ctx context.Context, userID, ruleID string, start, end core.Date) ([]core.Date, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT recurrence_occurrence_date FROM transactions
		 WHERE user_id = $1 AND recurring_rule_id = $2 AND is_recurring_skipped
		   AND recurrence_occurrence_date BETWEEN $3 AND $4
		 ORDER BY recurrence_occurrence_date`,
		userID, ruleID, start.Time, end.Time)
	if err != nil {
		return nil, core.WrapStore("skipped occurrence dates", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Date, error) {
		var t time.Time
		err := row.Scan(&t)
		return toDate(t), err
	})
	return out, core.WrapStore("skipped occurrence dates", err)
}

// InsertOccurrences sends the batch in a single round trip inside one
// database transaction. Rows whose occurrence key already exists are left untouched.
func (s *Store) InsertOccurrences(ctx context.Context, txs []core.Transaction) ([]core.Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, core.WrapStore("insert occurrences", err)
	}
	defer dbtx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(insertTxSQL+` ON CONFLICT DO NOTHING`, txArgs(tx)...)
	}

	results := dbtx.SendBatch(ctx, batch)
	var inserted []core.Transaction
	for _, tx := range txs {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return nil, core.WrapStore("insert occurrences", mapError(err))
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, tx)
		}
	}
	if err := results.Close(); err != nil {
		return nil, core.WrapStore("insert occurrences", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return nil, core.WrapStore("insert occurrences", err)
	}
	return inserted, nil
}

func (s *Store) ListOccurrencesFrom(ctx context.Context, userID, ruleID string, from core.Date) ([]core.Transaction, error) {
	return s.queryTransactions(ctx, "list occurrences",
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = $1 AND recurring_rule_id = $2 AND recurrence_occurrence_date >= $3
		 ORDER BY recurrence_occurrence_date`,
		userID, ruleID, from.Time)
}

func (s *Store) DeleteOccurrencesFrom(ctx context.Context, userID, ruleID string, from core.Date) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM transactions
		 WHERE user_id = $1 AND recurring_rule_id = $2 AND NOT is_recurring_skipped AND recurrence_occurrence_date >= $3
		 RETURNING id`,
		userID, ruleID, from.Time)
	if err != nil {
		return nil, core.WrapStore("delete occurrences", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, core.WrapStore("delete occurrences", err)
}

func (s *Store) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, core.WrapStore(op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Transaction, error) {
		return scanTransaction(row)
	})
	return out, core.WrapStore(op, err)
}

func txArgs(tx core.Transaction) []any {
	var ruleID *string
	if tx.RecurringRuleID != "" {
		ruleID = &tx.RecurringRuleID
	}
	return []any{
		tx.ID, tx.UserID, string(tx.Type), tx.Amount.Cents, tx.Currency, tx.CategoryID, tx.AccountID,
		tx.Title, tx.Description, tx.TransactionDate.Time, ruleID, nullDate(tx.RecurrenceOccurrenceDate),
		tx.IsRecurringSkipped,
	}
}

func scanRule(row pgx.Row) (core.RecurrenceRule, error) {
	var (
		r         core.RecurrenceRule
		typ, freq string
		start     time.Time
		end       *time.Time
	)
	err := row.Scan(&r.ID, &r.UserID, &typ, &r.Amount.Cents, &r.Currency, &r.CategoryID, &r.AccountID,
		&r.Title, &r.Description, &freq, &r.Interval, &start, &end, &r.Timezone, &r.IsActive,
		&r.Created, &r.Updated)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	r.Type = core.TransactionType(typ)
	r.Frequency = core.Frequency(freq)
	r.StartDate = toDate(start)
	if end != nil {
		r.EndDate = toDate(*end)
	}
	return r, nil
}

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx         core.Transaction
		typ        string
		date       time.Time
		ruleID     *string
		occurrence *time.Time
	)
	err := row.Scan(&tx.ID, &tx.UserID, &typ, &tx.Amount.Cents, &tx.Currency, &tx.CategoryID, &tx.AccountID,
		&tx.Title, &tx.Description, &date, &ruleID, &occurrence, &tx.IsRecurringSkipped,
		&tx.Created, &tx.Updated)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.TransactionDate = toDate(date)
	if ruleID != nil {
		tx.RecurringRuleID = *ruleID
	}
	if occurrence != nil {
		tx.RecurrenceOccurrenceDate = toDate(*occurrence)
	}
	return tx, nil
}

func toDate(t time.Time) core.Date {
	return core.NewDate(t.Year(), int(t.Month()), t.Day())
}

func nullDate(d core.Date) *time.Time {
	if d.IsEmpty() {
		return nil
	}
	t := d.Time
	return &t
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "ux_transactions_occurrence" {
		return fmt.Errorf("%w: %v", core.ErrDateConflict, err)
	}
	return err
}
