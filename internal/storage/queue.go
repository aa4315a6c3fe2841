package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"conti/internal/core"
)

const (
	queuePending = "pending"
	queueFailed  = "failed"
)

// QueueEntry is one pending mutation in the sync queue.
type QueueEntry struct {
	ID         int64
	Operation  core.Operation
	EntityType core.EntityType
	EntityID   int64
	Data       []byte // JSON payload, nil when absent
	Timestamp  time.Time
	RetryCount int
	LastError  string
}

// QueueStats summarizes the queue for status reporting.
type QueueStats struct {
	Pending int64
	Failed  int64
	Oldest  time.Time // zero when the queue is empty
}

func enqueue(ctx context.Context, tx *sql.Tx, op core.Operation, entity core.EntityType, entityID int64, data []byte, at time.Time) error {
	var payload any
	if data != nil {
		payload = string(data)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_queue (operation, entity_type, entity_id, data, timestamp, retry_count, status)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		string(op), string(entity), entityID, payload, nanos(at), queuePending)
	if err != nil {
		return fmt.Errorf("enqueue sync entry: %w", err)
	}
	return nil
}

// PendingQueueBatch returns up to limit pending entries, oldest first.
func (r *SQLiteRepository) PendingQueueBatch(ctx context.Context, limit int) ([]QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, operation, entity_type, entity_id, data, timestamp, retry_count, COALESCE(last_error, '')
		FROM sync_queue WHERE status=? ORDER BY timestamp, id LIMIT ?`, queuePending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending queue batch: %w", err)
	}
	defer rows.Close()

	var result []QueueEntry
	for rows.Next() {
		var entry QueueEntry
		var op, entity string
		var data sql.NullString
		var ts int64
		if err := rows.Scan(&entry.ID, &op, &entity, &entry.EntityID, &data, &ts, &entry.RetryCount, &entry.LastError); err != nil {
			return nil, err
		}
		entry.Operation = core.Operation(op)
		entry.EntityType = core.EntityType(entity)
		if data.Valid {
			entry.Data = []byte(data.String)
		}
		entry.Timestamp = fromNanos(ts)
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// IncrementQueueRetry bumps retry_count by exactly one and records the error.
func (r *SQLiteRepository) IncrementQueueRetry(ctx context.Context, id int64, lastError string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET retry_count = retry_count + 1, last_error=? WHERE id=?`, lastError, id)
	if err != nil {
		return fmt.Errorf("increment queue retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// MarkQueueFailed takes the entry out of the drainable queue permanently;
// it stays on disk with status failed until retried manually or purged.
func (r *SQLiteRepository) MarkQueueFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status=?, last_error=? WHERE id=?`, queueFailed, lastError, id)
	if err != nil {
		return fmt.Errorf("mark queue entry failed: %w", err)
	}
	return nil
}

// RemoveQueueEntry deletes a delivered entry.
func (r *SQLiteRepository) RemoveQueueEntry(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("remove queue entry: %w", err)
	}
	return nil
}

// RetryFailedQueueEntries puts all failed entries back into the pending queue
// with a fresh retry budget. Returns the number of entries reset.
func (r *SQLiteRepository) RetryFailedQueueEntries(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status=?, retry_count=0, last_error=NULL WHERE status=?`,
		queuePending, queueFailed)
	if err != nil {
		return 0, fmt.Errorf("retry failed queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// PurgeFailedQueueEntries drops failed entries older than cutoff.
func (r *SQLiteRepository) PurgeFailedQueueEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE status=? AND timestamp < ?`, queueFailed, nanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge failed queue entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) QueueStats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	var oldest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status=? THEN 1 END),
			COUNT(CASE WHEN status=? THEN 1 END),
			MIN(CASE WHEN status=? THEN timestamp END)
		FROM sync_queue`, queuePending, queueFailed, queuePending).
		Scan(&stats.Pending, &stats.Failed, &oldest)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = fromNanos(oldest.Int64)
	}
	return stats, nil
}

func (r *SQLiteRepository) CountPendingQueueEntries(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status=?`, queuePending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending queue entries: %w", err)
	}
	return n, nil
}
