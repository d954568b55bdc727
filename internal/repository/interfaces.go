package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hqmotech/forwarder/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a versioned write lost to a concurrent
	// writer. The scheduler treats it as "someone else already processed
	// this", never as a fatal error.
	ErrConflict = errors.New("version conflict")
)

// StateCounts is the per-repeater record tally shown to operators.
type StateCounts struct {
	Pending   int `json:"pending" db:"pending"`
	Success   int `json:"success" db:"success"`
	Cancelled int `json:"cancelled" db:"cancelled"`
	Failing   int `json:"failing" db:"failing"`
}

// All repository interfaces in one file
type (
	// RepeatRecordRepository persists the delivery engine's only mutable
	// entity.
	RepeatRecordRepository interface {
		Create(ctx context.Context, record *model.RepeatRecord) error
		Get(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error)
		// Update performs an optimistic-concurrency write: it matches on the
		// record's loaded version, increments it, and returns ErrConflict if
		// a concurrent writer got there first.
		Update(ctx context.Context, record *model.RepeatRecord) error
		// DueBatch returns pending records with next_check_at <= cutoff,
		// oldest due first.
		DueBatch(ctx context.Context, cutoff time.Time, limit int) ([]*model.RepeatRecord, error)
		AddAttempt(ctx context.Context, attempt *model.RepeatRecordAttempt) error
		ListAttempts(ctx context.Context, recordID uuid.UUID) ([]model.RepeatRecordAttempt, error)
		ListByRepeater(ctx context.Context, repeaterID uuid.UUID, state model.RecordState, limit, offset int) ([]*model.RepeatRecord, error)
		CountsByRepeater(ctx context.Context, repeaterID uuid.UUID) (*StateCounts, error)
		// DeleteTerminalBefore bulk-deletes SUCCESS/CANCELLED records older
		// than the retention cutoff.
		DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
	}

	RepeaterRepository interface {
		Create(ctx context.Context, repeater *model.Repeater) error
		Get(ctx context.Context, id uuid.UUID) (*model.Repeater, error)
		Update(ctx context.Context, repeater *model.Repeater) error
		// ListActive returns non-deleted, non-paused repeaters for a domain
		// and kind, for the dispatcher.
		ListActive(ctx context.Context, domain string, kind model.RepeaterKind) ([]*model.Repeater, error)
		ListByDomain(ctx context.Context, domain string) ([]*model.Repeater, error)
		// SoftDelete flags the repeater deleted; rows are never removed while
		// records still reference them.
		SoftDelete(ctx context.Context, id uuid.UUID) error
	}

	ConnectionSettingsRepository interface {
		Create(ctx context.Context, conn *model.ConnectionSettings) error
		Get(ctx context.Context, id uuid.UUID) (*model.ConnectionSettings, error)
		ListByDomain(ctx context.Context, domain string) ([]*model.ConnectionSettings, error)
	}

	// EntityRepository is the engine's read-only window onto the document
	// store owned by the application layer.
	EntityRepository interface {
		Get(ctx context.Context, domain, id string) (*model.Entity, error)
	}
)
