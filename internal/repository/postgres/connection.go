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

type connectionSettingsRepository struct {
	BaseRepository
}

func NewConnectionSettingsRepository(base BaseRepository) repository.ConnectionSettingsRepository {
	return &connectionSettingsRepository{base}
}

const connectionColumns = `
	id, domain, name, url, auth_type, username, encrypted_password,
	skip_cert_verify, notify_addresses, created_at, updated_at
`

func (r *connectionSettingsRepository) Create(ctx context.Context, conn *model.ConnectionSettings) error {
	query := `
		INSERT INTO connection_settings (` + connectionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		conn.ID,
		conn.Domain,
		conn.Name,
		conn.URL,
		conn.AuthType,
		conn.Username,
		conn.EncryptedPassword,
		conn.SkipCertVerify,
		conn.NotifyAddresses,
		conn.CreatedAt,
		conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create connection settings: %w", err)
	}
	return nil
}

func (r *connectionSettingsRepository) Get(ctx context.Context, id uuid.UUID) (*model.ConnectionSettings, error) {
	query := `SELECT ` + connectionColumns + ` FROM connection_settings WHERE id = $1`

	var conn model.ConnectionSettings
	err := r.db.GetContext(ctx, &conn, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection settings: %w", err)
	}
	return &conn, nil
}

func (r *connectionSettingsRepository) ListByDomain(ctx context.Context, domain string) ([]*model.ConnectionSettings, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connection_settings
		WHERE domain = $1
		ORDER BY name ASC
	`
	var conns []*model.ConnectionSettings
	if err := r.db.SelectContext(ctx, &conns, query, domain); err != nil {
		return nil, fmt.Errorf("failed to list connection settings: %w", err)
	}
	return conns, nil
}
