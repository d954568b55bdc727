package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
)

type repeatRecordRepository struct {
	BaseRepository
}

func NewRepeatRecordRepository(base BaseRepository) repository.RepeatRecordRepository {
	return &repeatRecordRepository{base}
}

func (r *repeatRecordRepository) Create(ctx context.Context, record *model.RepeatRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}

	query := `
		INSERT INTO repeat_records (
			id, repeater_id, domain, payload_entity_id, state, overall_tries,
			last_checked_at, next_check_at, failure_reason, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.RepeaterID,
		record.Domain,
		record.PayloadEntityID,
		record.State,
		record.OverallTries,
		record.LastCheckedAt,
		record.NextCheckAt,
		record.FailureReason,
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repeat record: %w", err)
	}
	return nil
}

func (r *repeatRecordRepository) Get(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error) {
	query := `
		SELECT id, repeater_id, domain, payload_entity_id, state, overall_tries,
			last_checked_at, next_check_at, failure_reason, version, created_at, updated_at
		FROM repeat_records
		WHERE id = $1
	`
	var record model.RepeatRecord
	err := r.db.GetContext(ctx, &record, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repeat record: %w", err)
	}
	return &record, nil
}

// Update matches on the loaded version and increments it. Zero rows affected
// means a concurrent writer won; the caller gets ErrConflict and must re-read.
func (r *repeatRecordRepository) Update(ctx context.Context, record *model.RepeatRecord) error {
	query := `
		UPDATE repeat_records
		SET state = $1,
			overall_tries = $2,
			last_checked_at = $3,
			next_check_at = $4,
			failure_reason = $5,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $6 AND version = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		record.State,
		record.OverallTries,
		record.LastCheckedAt,
		record.NextCheckAt,
		record.FailureReason,
		record.ID,
		record.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update repeat record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrConflict
	}
	record.Version++
	return nil
}

func (r *repeatRecordRepository) DueBatch(ctx context.Context, cutoff time.Time, limit int) ([]*model.RepeatRecord, error) {
	query := `
		SELECT id, repeater_id, domain, payload_entity_id, state, overall_tries,
			last_checked_at, next_check_at, failure_reason, version, created_at, updated_at
		FROM repeat_records
		WHERE state = $1 AND next_check_at <= $2
		ORDER BY next_check_at ASC
		LIMIT $3
	`
	var records []*model.RepeatRecord
	err := r.db.SelectContext(ctx, &records, query, model.RecordStatePending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due repeat records: %w", err)
	}
	return records, nil
}

func (r *repeatRecordRepository) AddAttempt(ctx context.Context, attempt *model.RepeatRecordAttempt) error {
	query := `
		INSERT INTO repeat_record_attempts (
			id, record_id, at, succeeded, cancelled, failure_reason, response_note, next_check_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.RecordID,
		attempt.At,
		attempt.Succeeded,
		attempt.Cancelled,
		attempt.FailureReason,
		attempt.ResponseNote,
		attempt.NextCheckAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add repeat record attempt: %w", err)
	}
	return nil
}

func (r *repeatRecordRepository) ListAttempts(ctx context.Context, recordID uuid.UUID) ([]model.RepeatRecordAttempt, error) {
	query := `
		SELECT id, record_id, at, succeeded, cancelled, failure_reason, response_note, next_check_at
		FROM repeat_record_attempts
		WHERE record_id = $1
		ORDER BY at ASC
	`
	var attempts []model.RepeatRecordAttempt
	if err := r.db.SelectContext(ctx, &attempts, query, recordID); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (r *repeatRecordRepository) ListByRepeater(ctx context.Context, repeaterID uuid.UUID, state model.RecordState, limit, offset int) ([]*model.RepeatRecord, error) {
	query := `
		SELECT id, repeater_id, domain, payload_entity_id, state, overall_tries,
			last_checked_at, next_check_at, failure_reason, version, created_at, updated_at
		FROM repeat_records
		WHERE repeater_id = $1
	`
	args := []interface{}{repeaterID}
	if state != "" {
		query += ` AND state = $2`
		args = append(args, state)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	var records []*model.RepeatRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list repeat records: %w", err)
	}
	return records, nil
}

func (r *repeatRecordRepository) CountsByRepeater(ctx context.Context, repeaterID uuid.UUID) (*repository.StateCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE state = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE state = 'SUCCESS') AS success,
			COUNT(*) FILTER (WHERE state = 'CANCELLED') AS cancelled,
			COUNT(*) FILTER (WHERE state = 'PENDING' AND failure_reason <> '') AS failing
		FROM repeat_records
		WHERE repeater_id = $1
	`
	var counts repository.StateCounts
	if err := r.db.GetContext(ctx, &counts, query, repeaterID); err != nil {
		return nil, fmt.Errorf("failed to count repeat records: %w", err)
	}
	return &counts, nil
}

func (r *repeatRecordRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM repeat_record_attempts
			WHERE record_id IN (
				SELECT id FROM repeat_records
				WHERE state IN ('SUCCESS', 'CANCELLED') AND updated_at < $1
			)
		`, before); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `
			DELETE FROM repeat_records
			WHERE state IN ('SUCCESS', 'CANCELLED') AND updated_at < $1
		`, before)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal records: %w", err)
	}
	return deleted, nil
}
