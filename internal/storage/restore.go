package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conti/internal/core"
)

// RestoreData is the full store content applied by RestoreAll.
type RestoreData struct {
	Expenses   []core.Expense
	Categories []core.Category
	Media      []core.MediaFile
	Settings   []core.Setting
}

// Re-seeded after restoring a snapshot that carried no categories.
// Mirrors the 0002 migration seed.
var defaultCategories = []string{
	"Casa", "Spesa", "Trasporti", "Salute", "Divertimento", "Viaggi", "Altre spese",
}

// RestoreAll destructively replaces the store content with the given data
// inside a single transaction: either the whole snapshot lands or the store
// is left untouched. Restored rows do not re-enter the sync queue; the
// snapshot is taken to be the already-agreed state.
func (r *SQLiteRepository) RestoreAll(ctx context.Context, data RestoreData) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"expenses", "categories", "media_files", "settings", "sync_queue"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	now := time.Now().UTC()

	for _, e := range data.Expenses {
		created, updated := e.CreatedAt, e.UpdatedAt
		if created.IsZero() {
			created = now
		}
		if updated.IsZero() {
			updated = now
		}
		status := e.SyncStatus
		if !status.IsValid() {
			status = core.SyncSynced
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, date, description, amount_cents, primary_category, secondary_category, sync_status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Date.Format(dateLayout), e.Description, e.Amount.Cents, e.Primary, e.Secondary,
			string(status), nanos(created), nanos(updated)); err != nil {
			return fmt.Errorf("restore expense %d: %w", e.ID, err)
		}
	}

	for _, c := range data.Categories {
		created, updated := c.CreatedAt, c.UpdatedAt
		if created.IsZero() {
			created = now
		}
		if updated.IsZero() {
			updated = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO categories (id, name, parent, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Parent, nanos(created), nanos(updated)); err != nil {
			return fmt.Errorf("restore category %d: %w", c.ID, err)
		}
	}

	for _, f := range data.Media {
		created := f.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media_files (id, expense_id, name, mime_type, size_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, f.ExpenseID, f.Name, f.MimeType, f.SizeBytes, nanos(created)); err != nil {
			return fmt.Errorf("restore media file %d: %w", f.ID, err)
		}
	}

	for _, s := range data.Settings {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settings (key, value) VALUES (?, ?)`, s.Key, s.Value); err != nil {
			return fmt.Errorf("restore setting %q: %w", s.Key, err)
		}
	}

	// An empty snapshot leaves an unusable store; bring back the defaults.
	if len(data.Categories) == 0 {
		for _, name := range defaultCategories {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO categories (name, parent, created_at, updated_at) VALUES (?, '', ?, ?)`,
				name, nanos(now), nanos(now)); err != nil {
				return fmt.Errorf("seed default category %q: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}

	slog.InfoContext(ctx, "Store restored from snapshot",
		"expenses", len(data.Expenses),
		"categories", len(data.Categories),
		"media_files", len(data.Media),
		"settings", len(data.Settings))

	return nil
}
