// Package repeater implements operator management of repeaters and
// connection settings. The web UI itself lives elsewhere; this is the
// inbound surface it calls.
package repeater

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/registry"
	"github.com/hqmotech/forwarder/internal/repository"
	"github.com/hqmotech/forwarder/pkg/security"
)

type Service struct {
	repeaters   repository.RepeaterRepository
	connections repository.ConnectionSettingsRepository
	registry    *registry.Registry
	encryptor   security.Encryptor
}

func NewService(
	repeaters repository.RepeaterRepository,
	connections repository.ConnectionSettingsRepository,
	reg *registry.Registry,
	encryptor security.Encryptor,
) *Service {
	return &Service{
		repeaters:   repeaters,
		connections: connections,
		registry:    reg,
		encryptor:   encryptor,
	}
}

// CreateConnection encrypts the credential material and stores the endpoint
// configuration.
func (s *Service) CreateConnection(ctx context.Context, conn *model.ConnectionSettings, password string) error {
	now := time.Now().UTC()
	conn.ID = uuid.New()
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if err := conn.SetPassword(s.encryptor, password); err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return s.connections.Create(ctx, conn)
}

func (s *Service) GetConnection(ctx context.Context, id uuid.UUID) (*model.ConnectionSettings, error) {
	return s.connections.Get(ctx, id)
}

func (s *Service) ListConnections(ctx context.Context, domain string) ([]*model.ConnectionSettings, error) {
	return s.connections.ListByDomain(ctx, domain)
}

// CreateRepeater validates the chosen payload format against the registry
// before persisting. An unregistered format fails here, at configuration
// time, not during delivery.
func (s *Service) CreateRepeater(ctx context.Context, repeater *model.Repeater) error {
	if _, err := s.registry.Resolve(repeater.Kind, repeater.Format); err != nil {
		return err
	}
	if _, err := s.connections.Get(ctx, repeater.ConnectionID); err != nil {
		return fmt.Errorf("connection settings %s: %w", repeater.ConnectionID, err)
	}

	now := time.Now().UTC()
	repeater.ID = uuid.New()
	repeater.CreatedAt = now
	repeater.UpdatedAt = now
	return s.repeaters.Create(ctx, repeater)
}

func (s *Service) GetRepeater(ctx context.Context, id uuid.UUID) (*model.Repeater, error) {
	return s.repeaters.Get(ctx, id)
}

func (s *Service) ListRepeaters(ctx context.Context, domain string) ([]*model.Repeater, error) {
	return s.repeaters.ListByDomain(ctx, domain)
}

// SetPaused toggles dispatching for the repeater without touching its
// pending records.
func (s *Service) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	repeater, err := s.repeaters.Get(ctx, id)
	if err != nil {
		return err
	}
	repeater.Paused = paused
	return s.repeaters.Update(ctx, repeater)
}

// Disable soft-deletes the repeater. Its pending records are cancelled by the
// scheduler on their next pass; the row itself is kept so they can resolve.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) error {
	return s.repeaters.SoftDelete(ctx, id)
}
