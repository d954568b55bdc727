package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
)

type repeaterRepository struct {
	BaseRepository
}

func NewRepeaterRepository(base BaseRepository) repository.RepeaterRepository {
	return &repeaterRepository{base}
}

const repeaterColumns = `
	id, domain, connection_id, kind, format,
	whitelisted_case_types, whitelisted_form_xmlns, blacklisted_user_ids,
	include_app_id_param, max_attempts, paused, deleted_at, created_at, updated_at
`

func (r *repeaterRepository) Create(ctx context.Context, repeater *model.Repeater) error {
	query := `
		INSERT INTO repeaters (` + repeaterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		repeater.ID,
		repeater.Domain,
		repeater.ConnectionID,
		repeater.Kind,
		repeater.Format,
		repeater.WhitelistedCaseTypes,
		repeater.WhitelistedFormXMLNS,
		repeater.BlacklistedUserIDs,
		repeater.IncludeAppIDParam,
		repeater.MaxAttempts,
		repeater.Paused,
		repeater.DeletedAt,
		repeater.CreatedAt,
		repeater.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create repeater: %w", err)
	}
	return nil
}

func (r *repeaterRepository) Get(ctx context.Context, id uuid.UUID) (*model.Repeater, error) {
	query := `SELECT ` + repeaterColumns + ` FROM repeaters WHERE id = $1`

	var repeater model.Repeater
	err := r.db.GetContext(ctx, &repeater, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repeater: %w", err)
	}
	return &repeater, nil
}

func (r *repeaterRepository) Update(ctx context.Context, repeater *model.Repeater) error {
	query := `
		UPDATE repeaters
		SET connection_id = $1, format = $2,
			whitelisted_case_types = $3, whitelisted_form_xmlns = $4, blacklisted_user_ids = $5,
			include_app_id_param = $6, max_attempts = $7, paused = $8, updated_at = NOW()
		WHERE id = $9
	`
	result, err := r.db.ExecContext(ctx, query,
		repeater.ConnectionID,
		repeater.Format,
		repeater.WhitelistedCaseTypes,
		repeater.WhitelistedFormXMLNS,
		repeater.BlacklistedUserIDs,
		repeater.IncludeAppIDParam,
		repeater.MaxAttempts,
		repeater.Paused,
		repeater.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update repeater: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *repeaterRepository) ListActive(ctx context.Context, domain string, kind model.RepeaterKind) ([]*model.Repeater, error) {
	query := `
		SELECT ` + repeaterColumns + `
		FROM repeaters
		WHERE domain = $1 AND kind = $2 AND paused = FALSE AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	var repeaters []*model.Repeater
	if err := r.db.SelectContext(ctx, &repeaters, query, domain, kind); err != nil {
		return nil, fmt.Errorf("failed to list active repeaters: %w", err)
	}
	return repeaters, nil
}

func (r *repeaterRepository) ListByDomain(ctx context.Context, domain string) ([]*model.Repeater, error) {
	query := `
		SELECT ` + repeaterColumns + `
		FROM repeaters
		WHERE domain = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`
	var repeaters []*model.Repeater
	if err := r.db.SelectContext(ctx, &repeaters, query, domain); err != nil {
		return nil, fmt.Errorf("failed to list repeaters: %w", err)
	}
	return repeaters, nil
}

func (r *repeaterRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE repeaters
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete repeater: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
