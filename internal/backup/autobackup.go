package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"conti/internal/core"
)

// Frequency controls how often automatic backups are taken.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) interval() (time.Duration, bool) {
	switch f {
	case FrequencyDaily:
		return 24 * time.Hour, true
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	case FrequencyMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// kv keys used by the scheduler.
const (
	kvFrequency    = "autobackup_frequency"
	kvLastBackupAt = "autobackup_last_at"
	snapshotPrefix = "autobackup:"
)

// MaxRetained is the number of automatic snapshots kept in the kv store.
// The oldest one is evicted when a new snapshot would exceed it.
const MaxRetained = 5

// Scheduler takes periodic snapshots and stores them in the kv store.
type Scheduler struct {
	builder *Builder
}

func NewScheduler(builder *Builder) *Scheduler {
	return &Scheduler{builder: builder}
}

// RunIfDue takes a snapshot if the configured frequency says one is due.
// Returns true when a snapshot was stored. A missing or unknown frequency
// setting disables automatic backups.
func (s *Scheduler) RunIfDue(ctx context.Context) (bool, error) {
	freq, err := s.builder.store.GetKV(ctx, kvFrequency)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read backup frequency: %w", err)
	}
	interval, ok := Frequency(freq).interval()
	if !ok {
		slog.WarnContext(ctx, "Unknown auto-backup frequency, skipping", "frequency", freq)
		return false, nil
	}

	last, err := s.lastBackupAt(ctx)
	if err != nil {
		return false, err
	}
	if !last.IsZero() && time.Since(last) < interval {
		return false, nil
	}

	if err := s.takeSnapshot(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) lastBackupAt(ctx context.Context) (time.Time, error) {
	raw, err := s.builder.store.GetKV(ctx, kvLastBackupAt)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read last backup time: %w", err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (s *Scheduler) takeSnapshot(ctx context.Context) error {
	snap, err := s.builder.CreateSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("create automatic snapshot: %w", err)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal automatic snapshot: %w", err)
	}

	// Fixed-width timestamp keys sort chronologically as strings. Nanosecond
	// precision keeps keys distinct even for snapshots taken back to back.
	key := snapshotPrefix + snap.CreatedAt.Format("20060102T150405.000000000")
	if err := s.builder.store.PutKV(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("store automatic snapshot: %w", err)
	}
	if err := s.builder.store.PutKV(ctx, kvLastBackupAt, snap.CreatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("record backup time: %w", err)
	}

	if err := s.evictOld(ctx); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Automatic backup stored",
		"key", key, "expenses", snap.Metadata.TotalExpenses)
	return nil
}

func (s *Scheduler) evictOld(ctx context.Context) error {
	keys, err := s.builder.store.ListKVKeys(ctx, snapshotPrefix)
	if err != nil {
		return fmt.Errorf("list stored snapshots: %w", err)
	}
	sort.Strings(keys)
	for len(keys) > MaxRetained {
		if err := s.builder.store.DeleteKV(ctx, keys[0]); err != nil {
			return fmt.Errorf("evict old snapshot: %w", err)
		}
		keys = keys[1:]
	}
	return nil
}

// StoredSnapshot is a retained automatic backup.
type StoredSnapshot struct {
	Key      string
	Snapshot *Snapshot
}

// ListStored returns retained automatic snapshots, oldest first.
func (s *Scheduler) ListStored(ctx context.Context) ([]StoredSnapshot, error) {
	keys, err := s.builder.store.ListKVKeys(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("list stored snapshots: %w", err)
	}
	sort.Strings(keys)

	out := make([]StoredSnapshot, 0, len(keys))
	for _, key := range keys {
		raw, err := s.builder.store.GetKV(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read stored snapshot %s: %w", key, err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode stored snapshot %s: %w", key, err)
		}
		out = append(out, StoredSnapshot{Key: key, Snapshot: &snap})
	}
	return out, nil
}

// SetFrequency persists the auto-backup frequency preference.
func (s *Scheduler) SetFrequency(ctx context.Context, freq Frequency) error {
	if _, ok := freq.interval(); !ok {
		return fmt.Errorf("unknown backup frequency %q", freq)
	}
	return s.builder.store.PutKV(ctx, kvFrequency, string(freq))
}
