// Package syncqueue drains the persistent queue of pending mutations against
// the configured remote, with at-least-once delivery, per-entity ordering
// within a pass, and capped exponential-backoff retries.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conti/internal/core"
	"conti/internal/remote"
	"conti/internal/storage"
)

// ErrOffline is returned by ForceSync when no connection is assumed.
var ErrOffline = errors.New("cannot sync while offline")

// AbandonedError reports a queue entry dropped after exhausting its retries.
type AbandonedError struct {
	Operation  core.Operation
	EntityType core.EntityType
	EntityID   int64
	Attempts   int
	LastErr    string
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("sync abandoned after %d attempts: %s %s %d: %s",
		e.Attempts, e.Operation, e.EntityType, e.EntityID, e.LastErr)
}

// Config holds configuration for the sync processor
type Config struct {
	// DrainInterval is how often a periodic drain pass runs while online (default: 30s)
	DrainInterval time.Duration

	// BatchSize is the max number of entries fetched per drain pass (default: 50)
	BatchSize int

	// MaxRetries is the maximum delivery attempts before abandoning an entry (default: 3)
	MaxRetries int

	// BaseDelay is the first retry backoff; doubles per recorded retry (default: 5s)
	BaseDelay time.Duration

	// PurgeInterval is how often abandoned entries are purged (default: 1h)
	PurgeInterval time.Duration

	// PurgeAge is how old abandoned entries must be before purge (default: 7 days)
	PurgeAge time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DrainInterval: 30 * time.Second,
		BatchSize:     50,
		MaxRetries:    3,
		BaseDelay:     5 * time.Second,
		PurgeInterval: 1 * time.Hour,
		PurgeAge:      7 * 24 * time.Hour,
	}
}

// Processor drains the sync queue. At most one drain pass runs at a time;
// a drain request arriving while one is in flight is a no-op.
type Processor struct {
	storage   *storage.SQLiteRepository
	deliverer remote.Deliverer
	config    Config
	events    *broadcaster

	// Lifecycle management
	mu         sync.Mutex
	running    bool
	online     bool
	processing bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	drainCh    chan struct{}
}

func New(storage *storage.SQLiteRepository, deliverer remote.Deliverer, config Config) *Processor {
	return &Processor{
		storage:   storage,
		deliverer: deliverer,
		config:    config,
		events:    newBroadcaster(),
		online:    true,
	}
}

// Subscribe returns a status event channel and its unsubscribe func.
func (p *Processor) Subscribe() (<-chan Event, func()) {
	return p.events.subscribe()
}

// Start begins the drain loop. Returns an error if already running.
// One pass runs immediately to recover entries left from a previous run.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.drainCh = make(chan struct{}, 1)
	p.mu.Unlock()

	if stats, err := p.storage.QueueStats(ctx); err == nil && stats.Pending > 0 {
		slog.InfoContext(ctx, "Found pending sync entries on startup",
			"pending", stats.Pending, "failed", stats.Failed)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"drain_interval", p.config.DrainInterval,
		"batch_size", p.config.BatchSize,
		"max_retries", p.config.MaxRetries)

	return nil
}

// Stop gracefully stops the processor and waits for completion. It prevents
// new passes from starting but does not abort one already running.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.events.close()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Online returns the assumed connectivity state.
func (p *Processor) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// SetOnline records a connectivity change. Regaining connectivity triggers
// an immediate drain; going offline stops periodic draining until restored.
func (p *Processor) SetOnline(ctx context.Context, online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()

	if !changed {
		return
	}

	if online {
		slog.InfoContext(ctx, "Connectivity regained, scheduling drain")
		p.events.publish(Event{Kind: EventOnline})
		p.requestDrain()
	} else {
		slog.InfoContext(ctx, "Connectivity lost, pausing sync")
		p.events.publish(Event{Kind: EventOffline})
	}
}

// ForceSync runs a drain pass now. It fails fast when offline and does not
// queue itself for later. A pass already in flight makes this a no-op.
func (p *Processor) ForceSync(ctx context.Context) error {
	if !p.Online() {
		return ErrOffline
	}
	p.drainOnce(ctx)
	return nil
}

// RetryFailed puts abandoned entries back in the queue with a fresh retry
// budget and schedules a drain. Returns the number of entries reset.
func (p *Processor) RetryFailed(ctx context.Context) (int64, error) {
	n, err := p.storage.RetryFailedQueueEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset failed entries: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Reset failed sync entries for retry", "count", n)
		p.requestDrain()
	}
	return n, nil
}

// Stats returns current queue statistics
func (p *Processor) Stats(ctx context.Context) (storage.QueueStats, error) {
	return p.storage.QueueStats(ctx)
}

// requestDrain wakes the run loop without blocking; a request is dropped when
// one is already queued.
func (p *Processor) requestDrain() {
	p.mu.Lock()
	running := p.running
	drainCh := p.drainCh
	p.mu.Unlock()
	if !running {
		return
	}
	select {
	case drainCh <- struct{}{}:
	default:
	}
}

// runLoop is the main processing loop
func (p *Processor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	drainTicker := time.NewTicker(p.config.DrainInterval)
	defer drainTicker.Stop()

	purgeTicker := time.NewTicker(p.config.PurgeInterval)
	defer purgeTicker.Stop()

	// Recover whatever a previous run left behind.
	if p.Online() {
		p.drainOnce(ctx)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-drainTicker.C:
			if p.Online() {
				p.drainOnce(ctx)
			}
		case <-p.drainCh:
			if p.Online() {
				p.drainOnce(ctx)
			}
		case <-purgeTicker.C:
			p.purgeAbandoned(ctx)
		}
	}
}

// drainOnce processes one batch of pending entries, oldest first. The
// processing guard makes concurrent calls no-ops, which keeps per-entity
// mutation order intact across drain triggers.
func (p *Processor) drainOnce(ctx context.Context) {
	p.mu.Lock()
	if p.processing {
		p.mu.Unlock()
		return
	}
	p.processing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.processing = false
		p.mu.Unlock()
	}()

	entries, err := p.storage.PendingQueueBatch(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch pending sync entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	slog.DebugContext(ctx, "Draining sync queue", "count", len(entries))

	for _, entry := range entries {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		m := remote.Mutation{
			Operation:  entry.Operation,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Data:       entry.Data,
			Timestamp:  entry.Timestamp,
		}

		if err := p.deliverer.Deliver(ctx, m); err != nil {
			p.handleFailure(ctx, entry, err)
		} else {
			p.handleSuccess(ctx, entry)
		}
	}
}

func (p *Processor) handleSuccess(ctx context.Context, entry storage.QueueEntry) {
	if err := p.storage.RemoveQueueEntry(ctx, entry.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to remove delivered queue entry",
			"id", entry.ID, "error", err)
		return
	}

	// Deletes have no surviving record to flag.
	if entry.EntityType == core.EntityExpense && entry.Operation != core.OpDelete {
		if err := p.storage.MarkExpenseSynced(ctx, entry.EntityID); err != nil {
			slog.WarnContext(ctx, "Failed to mark expense synced",
				"expense_id", entry.EntityID, "error", err)
			// Delivery itself succeeded; do not re-queue.
		}
	}

	slog.InfoContext(ctx, "Delivered sync entry",
		"id", entry.ID,
		"operation", entry.Operation,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID)

	p.events.publish(Event{
		Kind:       EventDelivered,
		Operation:  entry.Operation,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
	})
}

func (p *Processor) handleFailure(ctx context.Context, entry storage.QueueEntry, deliverErr error) {
	attempt := entry.RetryCount + 1

	slog.WarnContext(ctx, "Sync delivery failed",
		"id", entry.ID,
		"operation", entry.Operation,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"attempt", attempt,
		"error", deliverErr)

	if attempt >= p.config.MaxRetries {
		p.abandon(ctx, entry, attempt, deliverErr)
		return
	}

	if err := p.storage.IncrementQueueRetry(ctx, entry.ID, deliverErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to increment retry count",
			"id", entry.ID, "error", err)
		return
	}

	// delay = baseDelay * 2^retryCount, computed from the pre-increment count.
	delay := p.config.BaseDelay << uint(entry.RetryCount)
	time.AfterFunc(delay, func() {
		if p.Online() {
			p.requestDrain()
		}
	})

	p.events.publish(Event{
		Kind:       EventRetryScheduled,
		Operation:  entry.Operation,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RetryCount: attempt,
		Err:        deliverErr,
	})
}

func (p *Processor) abandon(ctx context.Context, entry storage.QueueEntry, attempts int, deliverErr error) {
	if err := p.storage.MarkQueueFailed(ctx, entry.ID, deliverErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to mark queue entry failed",
			"id", entry.ID, "error", err)
		return
	}

	if entry.EntityType == core.EntityExpense && entry.Operation != core.OpDelete {
		if err := p.storage.MarkExpenseSyncError(ctx, entry.EntityID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark expense sync error",
				"expense_id", entry.EntityID, "error", err)
		}
	}

	abandoned := &AbandonedError{
		Operation:  entry.Operation,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Attempts:   attempts,
		LastErr:    deliverErr.Error(),
	}

	slog.ErrorContext(ctx, "Sync entry abandoned after max retries",
		"id", entry.ID,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"attempts", attempts)

	p.events.publish(Event{
		Kind:       EventAbandoned,
		Operation:  entry.Operation,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		RetryCount: attempts,
		Err:        abandoned,
	})
}

func (p *Processor) purgeAbandoned(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.PurgeAge)
	n, err := p.storage.PurgeFailedQueueEntries(ctx, cutoff)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to purge abandoned sync entries", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "Purged abandoned sync entries", "count", n)
	}
}
