package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"conti/internal/core"
	"conti/internal/remote"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

// SQLiteRepository is the persistent store. Every mutating write on a
// synchronizable entity appends a sync_queue row in the same transaction,
// so either both land or neither does.
type SQLiteRepository struct {
	db *sql.DB
}

func Open(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// NewWithDB wraps an already opened database. The caller owns the connection
// and is responsible for the schema being in place.
func NewWithDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// CreateExpense inserts the expense and enqueues the corresponding create
// mutation atomically. Returns the assigned id.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (date, description, amount_cents, primary_category, secondary_category, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Date.Format(dateLayout), e.Description, e.Amount.Cents, e.Primary, e.Secondary,
		string(core.SyncPending), nanos(now), nanos(now))
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	e.ID = id
	payload, err := remote.EncodeExpense(e)
	if err != nil {
		return 0, fmt.Errorf("encode expense payload: %w", err)
	}
	if err := enqueue(ctx, tx, core.OpCreate, core.EntityExpense, id, payload, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", id,
		"description", e.Description,
		"amount_cents", e.Amount.Cents)

	return id, nil
}

// UpdateExpense rewrites the expense fields and enqueues an update mutation.
func (r *SQLiteRepository) UpdateExpense(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE expenses
		SET date=?, description=?, amount_cents=?, primary_category=?, secondary_category=?, sync_status=?, updated_at=?
		WHERE id=?`,
		e.Date.Format(dateLayout), e.Description, e.Amount.Cents, e.Primary, e.Secondary,
		string(core.SyncPending), nanos(now), e.ID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	payload, err := remote.EncodeExpense(e)
	if err != nil {
		return fmt.Errorf("encode expense payload: %w", err)
	}
	if err := enqueue(ctx, tx, core.OpUpdate, core.EntityExpense, e.ID, payload, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteExpense hard-deletes the expense and enqueues a delete mutation.
// There are no tombstones; the queue entry is the only trace left.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	if err := enqueue(ctx, tx, core.OpDelete, core.EntityExpense, id, nil, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, date, description, amount_cents, primary_category, secondary_category, sync_status, created_at, updated_at
		FROM expenses WHERE id=?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by id: %w", err)
	}
	return e, nil
}

// ListExpensesByRange returns expenses with date in [from, to], ordered by date.
func (r *SQLiteRepository) ListExpensesByRange(ctx context.Context, from, to core.Date) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, description, amount_cents, primary_category, secondary_category, sync_status, created_at, updated_at
		FROM expenses WHERE date >= ? AND date <= ? ORDER BY date, id`,
		from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("list expenses by range: %w", err)
	}
	return collectExpenses(rows)
}

func (r *SQLiteRepository) ListAllExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, description, amount_cents, primary_category, secondary_category, sync_status, created_at, updated_at
		FROM expenses ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return collectExpenses(rows)
}

// MarkExpenseSynced records successful remote delivery on the expense row.
func (r *SQLiteRepository) MarkExpenseSynced(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE expenses SET sync_status=? WHERE id=?`, string(core.SyncSynced), id)
	if err != nil {
		return fmt.Errorf("mark expense synced: %w", err)
	}
	return nil
}

// MarkExpenseSyncError records permanent delivery failure on the expense row.
func (r *SQLiteRepository) MarkExpenseSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE expenses SET sync_status=? WHERE id=?`, string(core.SyncFailed), id)
	if err != nil {
		return fmt.Errorf("mark expense sync error: %w", err)
	}
	slog.WarnContext(ctx, "Expense marked with sync error", "id", id)
	return nil
}

// MonthOverview aggregates total and per-primary-category sums for a month.
func (r *SQLiteRepository) MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	overview := core.MonthOverview{Year: year, Month: month}

	first := core.NewDate(year, month, 1)
	last := core.Date{Time: first.AddDate(0, 1, -1)}

	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(amount_cents) FROM expenses WHERE date >= ? AND date <= ?`,
		first.Format(dateLayout), last.Format(dateLayout)).Scan(&total)
	if err != nil {
		return overview, fmt.Errorf("get month total: %w", err)
	}
	overview.Total = core.Money{Cents: total.Int64}

	rows, err := r.db.QueryContext(ctx, `
		SELECT primary_category, SUM(amount_cents) AS total_amount
		FROM expenses WHERE date >= ? AND date <= ?
		GROUP BY primary_category ORDER BY total_amount DESC`,
		first.Format(dateLayout), last.Format(dateLayout))
	if err != nil {
		return overview, fmt.Errorf("get category sums: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var cents int64
		if err := rows.Scan(&name, &cents); err != nil {
			return overview, err
		}
		overview.ByCategory = append(overview.ByCategory, core.CategoryAmount{
			Name:   name,
			Amount: core.Money{Cents: cents},
		})
	}
	if err := rows.Err(); err != nil {
		return overview, err
	}

	return overview, nil
}

// CreateCategory inserts a category and enqueues a create mutation.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, c core.Category) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO categories (name, parent, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.Name, c.Parent, nanos(now), nanos(now))
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	c.ID = id
	payload, err := remote.EncodeCategory(c)
	if err != nil {
		return 0, fmt.Errorf("encode category payload: %w", err)
	}
	if err := enqueue(ctx, tx, core.OpCreate, core.EntityCategory, id, payload, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// DeleteCategory removes a category and enqueues a delete mutation.
func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	if err := enqueue(ctx, tx, core.OpDelete, core.EntityCategory, id, nil, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, parent, created_at, updated_at FROM categories ORDER BY parent, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var result []core.Category
	for rows.Next() {
		var c core.Category
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Parent, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt = fromNanos(created)
		c.UpdatedAt = fromNanos(updated)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) CountCategories(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count categories: %w", err)
	}
	return n, nil
}

// AddMediaFile records receipt metadata and enqueues a create mutation.
func (r *SQLiteRepository) AddMediaFile(ctx context.Context, f core.MediaFile) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO media_files (expense_id, name, mime_type, size_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ExpenseID, f.Name, f.MimeType, f.SizeBytes, nanos(now))
	if err != nil {
		return 0, fmt.Errorf("insert media file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	f.ID = id
	payload, err := remote.EncodeMedia(f)
	if err != nil {
		return 0, fmt.Errorf("encode media payload: %w", err)
	}
	if err := enqueue(ctx, tx, core.OpCreate, core.EntityMedia, id, payload, now); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// DeleteMediaFile removes media metadata and enqueues a delete mutation.
func (r *SQLiteRepository) DeleteMediaFile(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM media_files WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete media file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	if err := enqueue(ctx, tx, core.OpDelete, core.EntityMedia, id, nil, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListMediaFiles(ctx context.Context) ([]core.MediaFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, expense_id, name, mime_type, size_bytes, created_at FROM media_files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list media files: %w", err)
	}
	defer rows.Close()

	var result []core.MediaFile
	for rows.Next() {
		var f core.MediaFile
		var created int64
		if err := rows.Scan(&f.ID, &f.ExpenseID, &f.Name, &f.MimeType, &f.SizeBytes, &created); err != nil {
			return nil, err
		}
		f.CreatedAt = fromNanos(created)
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TotalMediaSize sums the stored byte sizes of all media files.
func (r *SQLiteRepository) TotalMediaSize(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT SUM(size_bytes) FROM media_files`).Scan(&total); err != nil {
		return 0, fmt.Errorf("total media size: %w", err)
	}
	return total.Int64, nil
}

// PutSetting inserts or replaces a setting. Settings are not synchronized.
func (r *SQLiteRepository) PutSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (r *SQLiteRepository) ListSettings(ctx context.Context) ([]core.Setting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var result []core.Setting
	for rows.Next() {
		var s core.Setting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var e core.Expense
	var date string
	var status string
	var created, updated int64
	err := row.Scan(&e.ID, &date, &e.Description, &e.Amount.Cents, &e.Primary, &e.Secondary, &status, &created, &updated)
	if err != nil {
		return core.Expense{}, err
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense date: %w", err)
	}
	e.Date = core.Date{Time: d}
	e.SyncStatus = core.SyncStatus(status)
	e.CreatedAt = fromNanos(created)
	e.UpdatedAt = fromNanos(updated)
	return e, nil
}

func collectExpenses(rows *sql.Rows) ([]core.Expense, error) {
	defer rows.Close()
	var result []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
