package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"cadence/internal/core"
)

const timestampLayout = time.RFC3339Nano

// SQLiteRepository stores rules and transactions in a single SQLite file.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.Info("SQLite store ready", "path", dbPath)

	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const ruleColumns = `id, user_id, type, amount_cents, currency, category_id, account_id, title, description,
	frequency, interval_count, start_date, end_date, timezone, is_active, created_at, updated_at`

const txColumns = `id, user_id, type, amount_cents, currency, category_id, account_id, title, description,
	transaction_date, recurring_rule_id, recurrence_occurrence_date, is_recurring_skipped, created_at, updated_at`

func (r *SQLiteRepository) InsertRule(ctx context.Context, rule core.RecurrenceRule) error {
	now := r.now().Format(timestampLayout)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recurrence_rules (`+ruleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, string(rule.Type), rule.Amount.Cents, rule.Currency,
		rule.CategoryID, rule.AccountID, rule.Title, rule.Description,
		string(rule.Frequency), rule.Interval, rule.StartDate.String(), nullDate(rule.EndDate),
		rule.Timezone, rule.IsActive, now, now)
	return core.WrapStore("insert rule", mapError(err))
}

func (r *SQLiteRepository) GetRule(ctx context.Context, userID, ruleID string) (core.RecurrenceRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ? AND user_id = ?`, ruleID, userID)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurrenceRule{}, core.ErrNotFound
	}
	return rule, core.WrapStore("get rule", err)
}

func (r *SQLiteRepository) ListActiveRules(ctx context.Context, userID string) ([]core.RecurrenceRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM recurrence_rules WHERE user_id = ? AND is_active = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, core.WrapStore("list active rules", err)
	}
	defer rows.Close()

	var out []core.RecurrenceRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, core.WrapStore("list active rules", err)
		}
		out = append(out, rule)
	}
	return out, core.WrapStore("list active rules", rows.Err())
}

func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.RecurrenceRule) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurrence_rules SET
			type = ?, amount_cents = ?, currency = ?, category_id = ?, account_id = ?, title = ?, description = ?,
			frequency = ?, interval_count = ?, start_date = ?, end_date = ?, timezone = ?, is_active = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		string(rule.Type), rule.Amount.Cents, rule.Currency, rule.CategoryID, rule.AccountID, rule.Title, rule.Description,
		string(rule.Frequency), rule.Interval, rule.StartDate.String(), nullDate(rule.EndDate), rule.Timezone, rule.IsActive,
		r.now().Format(timestampLayout),
		rule.ID, rule.UserID)
	if err != nil {
		return core.WrapStore("update rule", mapError(err))
	}
	return core.WrapStore("update rule", requireRow(res))
}

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := r.db.ExecContext(ctx, insertTxSQL, r.txArgs(tx)...)
	return core.WrapStore("insert transaction", mapError(err))
}

const insertTxSQL = `INSERT INTO transactions (` + txColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *SQLiteRepository) txArgs(tx core.Transaction) []any {
	now := r.now().Format(timestampLayout)
	return []any{
		tx.ID, tx.UserID, string(tx.Type), tx.Amount.Cents, tx.Currency,
		tx.CategoryID, tx.AccountID, tx.Title, tx.Description,
		tx.TransactionDate.String(), nullString(tx.RecurringRuleID), nullDate(tx.RecurrenceOccurrenceDate),
		tx.IsRecurringSkipped, now, now,
	}
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, core.WrapStore("get transaction", err)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET
			type = ?, amount_cents = ?, currency = ?, category_id = ?, account_id = ?, title = ?, description = ?,
			transaction_date = ?, recurrence_occurrence_date = ?, is_recurring_skipped = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		string(tx.Type), tx.Amount.Cents, tx.Currency, tx.CategoryID, tx.AccountID, tx.Title, tx.Description,
		tx.TransactionDate.String(), nullDate(tx.RecurrenceOccurrenceDate), tx.IsRecurringSkipped,
		r.now().Format(timestampLayout),
		tx.ID, tx.UserID)
	if err != nil {
		return core.WrapStore("update transaction", mapError(err))
	}
	return core.WrapStore("update transaction", requireRow(res))
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, start, end core.Date) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "list transactions",
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = ? AND is_recurring_skipped = 0 AND transaction_date BETWEEN ? AND ?
		 ORDER BY transaction_date, id`,
		userID, start.String(), end.String())
}

func (r *SQLiteRepository) FindOccurrence(ctx context.Context, userID, ruleID string, on core.Date) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = ? AND recurring_rule_id = ? AND recurrence_occurrence_date = ?`,
		userID, ruleID, on.String())
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, core.WrapStore("find occurrence", err)
}

func (r *SQLiteRepository) SkippedOccurrenceDates(ctx context.Context, userID, ruleID string, start, end core.Date) ([]core.Date, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT recurrence_occurrence_date FROM transactions
		 WHERE user_id = ? AND recurring_rule_id = ? AND is_recurring_skipped = 1
		   AND recurrence_occurrence_date BETWEEN ? AND ?
		 ORDER BY recurrence_occurrence_date`,
		userID, ruleID, start.String(), end.String())
	if err != nil {
		return nil, core.WrapStore("skipped occurrence dates", err)
	}
	defer rows.Close()

	var out []core.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, core.WrapStore("skipped occurrence dates", err)
		}
		d, err := core.ParseDate(s)
		if err != nil {
			return nil, core.WrapStore("skipped occurrence dates", err)
		}
		out = append(out, d)
	}
	return out, core.WrapStore("skipped occurrence dates", rows.Err())
}

// InsertOccurrences inserts the batch in one database transaction. Rows whose
// occurrence key already exists are left untouched.
func (r *SQLiteRepository) InsertOccurrences(ctx context.Context, txs []core.Transaction) ([]core.Transaction, error) {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.WrapStore("insert occurrences", err)
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, insertTxSQL+` ON CONFLICT DO NOTHING`)
	if err != nil {
		return nil, core.WrapStore("insert occurrences", err)
	}
	defer stmt.Close()

	var inserted []core.Transaction
	for _, tx := range txs {
		res, err := stmt.ExecContext(ctx, r.txArgs(tx)...)
		if err != nil {
			return nil, core.WrapStore("insert occurrences", mapError(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			inserted = append(inserted, tx)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return nil, core.WrapStore("insert occurrences", err)
	}
	return inserted, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return core.WrapStore("delete transaction", err)
	}
	return core.WrapStore("delete transaction", requireRow(res))
}

func (r *SQLiteRepository) ListOccurrencesFrom(ctx context.Context, userID, ruleID string, from core.Date) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "list occurrences",
		`SELECT `+txColumns+` FROM transactions
		 WHERE user_id = ? AND recurring_rule_id = ? AND recurrence_occurrence_date >= ?
		 ORDER BY recurrence_occurrence_date`,
		userID, ruleID, from.String())
}

func (r *SQLiteRepository) DeleteOccurrencesFrom(ctx context.Context, userID, ruleID string, from core.Date) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM transactions
		 WHERE user_id = ? AND recurring_rule_id = ? AND is_recurring_skipped = 0 AND recurrence_occurrence_date >= ?
		 RETURNING id`,
		userID, ruleID, from.String())
	if err != nil {
		return nil, core.WrapStore("delete occurrences", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.WrapStore("delete occurrences", err)
		}
		ids = append(ids, id)
	}
	return ids, core.WrapStore("delete occurrences", rows.Err())
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.WrapStore(op, err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, core.WrapStore(op, err)
		}
		out = append(out, tx)
	}
	return out, core.WrapStore(op, rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (core.RecurrenceRule, error) {
	var (
		rule                core.RecurrenceRule
		typ, freq           string
		start, created, upd string
		end                 sql.NullString
	)
	err := s.Scan(&rule.ID, &rule.UserID, &typ, &rule.Amount.Cents, &rule.Currency,
		&rule.CategoryID, &rule.AccountID, &rule.Title, &rule.Description,
		&freq, &rule.Interval, &start, &end, &rule.Timezone, &rule.IsActive, &created, &upd)
	if err != nil {
		return core.RecurrenceRule{}, err
	}
	rule.Type = core.TransactionType(typ)
	rule.Frequency = core.Frequency(freq)
	if rule.StartDate, err = core.ParseDate(start); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("start_date: %w", err)
	}
	if rule.EndDate, err = parseNullDate(end); err != nil {
		return core.RecurrenceRule{}, fmt.Errorf("end_date: %w", err)
	}
	rule.Created, _ = time.Parse(timestampLayout, created)
	rule.Updated, _ = time.Parse(timestampLayout, upd)
	return rule, nil
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx                 core.Transaction
		typ, date          string
		created, upd       string
		ruleID, occurrence sql.NullString
	)
	err := s.Scan(&tx.ID, &tx.UserID, &typ, &tx.Amount.Cents, &tx.Currency,
		&tx.CategoryID, &tx.AccountID, &tx.Title, &tx.Description,
		&date, &ruleID, &occurrence, &tx.IsRecurringSkipped, &created, &upd)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TransactionType(typ)
	tx.RecurringRuleID = ruleID.String
	if tx.TransactionDate, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction_date: %w", err)
	}
	if tx.RecurrenceOccurrenceDate, err = parseNullDate(occurrence); err != nil {
		return core.Transaction{}, fmt.Errorf("recurrence_occurrence_date: %w", err)
	}
	tx.Created, _ = time.Parse(timestampLayout, created)
	tx.Updated, _ = time.Parse(timestampLayout, upd)
	return tx, nil
}

func nullDate(d core.Date) sql.NullString {
	if d.IsEmpty() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseNullDate(s sql.NullString) (core.Date, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s.String)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// mapError turns a violated occurrence key into core.ErrDateConflict.
func mapError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return fmt.Errorf("%w: %v", core.ErrDateConflict, err)
		}
	}
	return err
}
