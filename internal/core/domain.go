package core

import (
	"errors"
	"strings"
	"time"
)

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncFailed  SyncStatus = "failed"
)

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

const (
	EntityExpense  EntityType = "expense"
	EntityCategory EntityType = "category"
	EntityMedia    EntityType = "media"
)

type (
	// SyncStatus tracks whether an expense has been delivered to the remote.
	SyncStatus string

	// Operation is the kind of mutation recorded in the sync queue.
	Operation string

	// EntityType identifies which logical entity a queued mutation targets.
	EntityType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	Expense struct {
		ID          int64
		Date        Date
		Description string
		Amount      Money
		Primary     string // Primary category
		Secondary   string // Secondary category
		SyncStatus  SyncStatus
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	Category struct {
		ID        int64
		Name      string
		Parent    string // empty for primary categories
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// MediaFile is receipt metadata attached to an expense. The bytes
	// themselves live outside the store; only name, type and size are tracked.
	MediaFile struct {
		ID        int64
		ExpenseID int64
		Name      string
		MimeType  string
		SizeBytes int64
		CreatedAt time.Time
	}

	Setting struct {
		Key   string
		Value string
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyPrimary     = errors.New("empty primary category")
	ErrNotFound         = errors.New("not found")
)

func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncSynced, SyncPending, SyncFailed:
		return true
	}
	return false
}

func (o Operation) IsValid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

func (e EntityType) IsValid() bool {
	switch e {
	case EntityExpense, EntityCategory, EntityMedia:
		return true
	}
	return false
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Primary) == "" {
		return ErrEmptyPrimary
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("empty category name")
	}
	if len(c.Name) > 100 {
		return errors.New("category name too long (max 100 characters)")
	}
	return nil
}

func (f MediaFile) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return errors.New("empty media file name")
	}
	if f.SizeBytes < 0 {
		return errors.New("negative media size")
	}
	return nil
}
