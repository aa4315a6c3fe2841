// Package backup builds full-state snapshots of the store, exports them to
// disk (optionally password-encrypted), and restores them destructively.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conti/internal/core"
	"conti/internal/storage"
)

// SnapshotVersion is the backup file format version. Files sharing this
// version must round-trip field for field.
const SnapshotVersion = "1.0"

var (
	// ErrMalformedBackup means the file is not a usable backup document.
	ErrMalformedBackup = errors.New("malformed backup file")

	// ErrPasswordRequired means the file is encrypted and no password was given.
	ErrPasswordRequired = errors.New("password required for encrypted backup")
)

type (
	// Snapshot is an immutable point-in-time copy of the whole store.
	Snapshot struct {
		Version    string       `json:"version"`
		CreatedAt  time.Time    `json:"createdAt"`
		AppVersion string       `json:"appVersion"`
		Data       SnapshotData `json:"data"`
		Metadata   Metadata     `json:"metadata"`
	}

	SnapshotData struct {
		Expenses    []ExpenseRecord  `json:"expenses"`
		Categories  []CategoryRecord `json:"categories"`
		Settings    []SettingRecord  `json:"settings"`
		Preferences json.RawMessage  `json:"preferences,omitempty"`
		AppState    json.RawMessage  `json:"appState,omitempty"`
	}

	Metadata struct {
		TotalExpenses   int        `json:"totalExpenses"`
		TotalCategories int        `json:"totalCategories"`
		DateRange       *DateRange `json:"dateRange"`
		FileCount       int        `json:"fileCount"`
		MediaSize       int64      `json:"mediaSize"`
	}

	DateRange struct {
		From string `json:"from"` // YYYY-MM-DD
		To   string `json:"to"`
	}

	ExpenseRecord struct {
		ID          int64     `json:"id"`
		Date        string    `json:"date"` // YYYY-MM-DD
		Description string    `json:"description"`
		AmountCents int64     `json:"amountCents"`
		Primary     string    `json:"primary"`
		Secondary   string    `json:"secondary,omitempty"`
		SyncStatus  string    `json:"syncStatus"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
	}

	CategoryRecord struct {
		ID        int64     `json:"id"`
		Name      string    `json:"name"`
		Parent    string    `json:"parent,omitempty"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	SettingRecord struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
)

const dateLayout = "2006-01-02"

// kv keys for preference-style state carried along in snapshots.
const (
	kvPreferences = "preferences"
	kvAppState    = "appState"
)

// Builder reads and writes snapshots against a store.
type Builder struct {
	store      *storage.SQLiteRepository
	appVersion string
}

func NewBuilder(store *storage.SQLiteRepository, appVersion string) *Builder {
	return &Builder{store: store, appVersion: appVersion}
}

// CreateSnapshot assembles a snapshot from the current store contents.
// Pure read; the store is not mutated.
func (b *Builder) CreateSnapshot(ctx context.Context) (*Snapshot, error) {
	expenses, err := b.store.ListAllExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("read expenses: %w", err)
	}
	categories, err := b.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	settings, err := b.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	media, err := b.store.ListMediaFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("read media files: %w", err)
	}
	mediaSize, err := b.store.TotalMediaSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("read media size: %w", err)
	}

	snap := &Snapshot{
		Version:    SnapshotVersion,
		CreatedAt:  time.Now().UTC(),
		AppVersion: b.appVersion,
		Metadata: Metadata{
			TotalExpenses:   len(expenses),
			TotalCategories: len(categories),
			DateRange:       expenseDateRange(expenses),
			FileCount:       len(media),
			MediaSize:       mediaSize,
		},
	}

	snap.Data.Expenses = make([]ExpenseRecord, 0, len(expenses))
	for _, e := range expenses {
		snap.Data.Expenses = append(snap.Data.Expenses, ExpenseRecord{
			ID:          e.ID,
			Date:        e.Date.Format(dateLayout),
			Description: e.Description,
			AmountCents: e.Amount.Cents,
			Primary:     e.Primary,
			Secondary:   e.Secondary,
			SyncStatus:  string(e.SyncStatus),
			CreatedAt:   e.CreatedAt,
			UpdatedAt:   e.UpdatedAt,
		})
	}

	snap.Data.Categories = make([]CategoryRecord, 0, len(categories))
	for _, c := range categories {
		snap.Data.Categories = append(snap.Data.Categories, CategoryRecord{
			ID:        c.ID,
			Name:      c.Name,
			Parent:    c.Parent,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}

	snap.Data.Settings = make([]SettingRecord, 0, len(settings))
	for _, s := range settings {
		snap.Data.Settings = append(snap.Data.Settings, SettingRecord{Key: s.Key, Value: s.Value})
	}

	if prefs, err := b.store.GetKV(ctx, kvPreferences); err == nil {
		snap.Data.Preferences = json.RawMessage(prefs)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	if state, err := b.store.GetKV(ctx, kvAppState); err == nil {
		snap.Data.AppState = json.RawMessage(state)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("read app state: %w", err)
	}

	return snap, nil
}

// Restore destructively replaces the store contents with the snapshot.
// The underlying bulk apply is transactional: a failure leaves the store as
// it was. A version mismatch is tolerated with a warning; the rest of the
// document is applied best-effort.
func (b *Builder) Restore(ctx context.Context, snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		slog.WarnContext(ctx, "Backup version mismatch, attempting restore anyway",
			"file_version", snap.Version, "supported", SnapshotVersion)
	}

	data := storage.RestoreData{
		Expenses:   make([]core.Expense, 0, len(snap.Data.Expenses)),
		Categories: make([]core.Category, 0, len(snap.Data.Categories)),
		Settings:   make([]core.Setting, 0, len(snap.Data.Settings)),
	}

	for _, rec := range snap.Data.Expenses {
		d, err := time.Parse(dateLayout, rec.Date)
		if err != nil {
			return fmt.Errorf("%w: bad expense date %q", ErrMalformedBackup, rec.Date)
		}
		data.Expenses = append(data.Expenses, core.Expense{
			ID:          rec.ID,
			Date:        core.Date{Time: d},
			Description: rec.Description,
			Amount:      core.Money{Cents: rec.AmountCents},
			Primary:     rec.Primary,
			Secondary:   rec.Secondary,
			SyncStatus:  core.SyncStatus(rec.SyncStatus),
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
		})
	}

	for _, rec := range snap.Data.Categories {
		data.Categories = append(data.Categories, core.Category{
			ID:        rec.ID,
			Name:      rec.Name,
			Parent:    rec.Parent,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		})
	}

	for _, rec := range snap.Data.Settings {
		data.Settings = append(data.Settings, core.Setting{Key: rec.Key, Value: rec.Value})
	}

	if err := b.store.RestoreAll(ctx, data); err != nil {
		return fmt.Errorf("restore store contents: %w", err)
	}

	if len(snap.Data.Preferences) > 0 {
		if err := b.store.PutKV(ctx, kvPreferences, string(snap.Data.Preferences)); err != nil {
			return fmt.Errorf("restore preferences: %w", err)
		}
	}
	if len(snap.Data.AppState) > 0 {
		if err := b.store.PutKV(ctx, kvAppState, string(snap.Data.AppState)); err != nil {
			return fmt.Errorf("restore app state: %w", err)
		}
	}

	return nil
}

func expenseDateRange(expenses []core.Expense) *DateRange {
	if len(expenses) == 0 {
		return nil
	}
	min, max := expenses[0].Date.Time, expenses[0].Date.Time
	for _, e := range expenses[1:] {
		if e.Date.Before(min) {
			min = e.Date.Time
		}
		if e.Date.After(max) {
			max = e.Date.Time
		}
	}
	return &DateRange{From: min.Format(dateLayout), To: max.Format(dateLayout)}
}
