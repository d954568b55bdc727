package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
)

// entityRepository reads the application layer's document mirror. The engine
// never writes these rows.
type entityRepository struct {
	BaseRepository
}

func NewEntityRepository(base BaseRepository) repository.EntityRepository {
	return &entityRepository{base}
}

func (r *entityRepository) Get(ctx context.Context, domain, id string) (*model.Entity, error) {
	query := `
		SELECT id, domain, kind, doc, server_modified_on, received_on, deleted_at
		FROM entities
		WHERE domain = $1 AND id = $2
	`
	var entity model.Entity
	err := r.db.GetContext(ctx, &entity, query, domain, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &entity, nil
}
