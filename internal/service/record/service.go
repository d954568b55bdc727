// Package record implements delivery attempts and the manual operator
// actions on repeat records. The scheduler drives Attempt on due records;
// the admin API drives ForceRetry, Cancel and Requeue.
package record

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hqmotech/forwarder/internal/config"
	"github.com/hqmotech/forwarder/internal/delivery"
	"github.com/hqmotech/forwarder/internal/generator"
	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/registry"
	"github.com/hqmotech/forwarder/internal/repository"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/metrics"
	"github.com/hqmotech/forwarder/pkg/security"
)

// ErrTerminalRecord is returned when attempting a record already in a final
// state.
var ErrTerminalRecord = errors.New("record is in a terminal state")

// AttemptResult classifies what one Attempt call did, for the scheduler's
// run summary.
type AttemptResult string

const (
	ResultSucceeded       AttemptResult = "succeeded"
	ResultFailed          AttemptResult = "failed"
	ResultCancelled       AttemptResult = "cancelled"
	ResultRepeaterDeleted AttemptResult = "repeater_deleted"
)

type Service struct {
	records     repository.RepeatRecordRepository
	repeaters   repository.RepeaterRepository
	connections repository.ConnectionSettingsRepository
	entities    repository.EntityRepository
	registry    *registry.Registry
	client      *delivery.Client
	notifier    Notifier
	encryptor   security.Encryptor
	cfg         config.EngineConfig
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// Notifier reports terminal failures to operators. Satisfied by
// notify.Notifier.
type Notifier interface {
	RecordCancelled(record *model.RepeatRecord, conn *model.ConnectionSettings)
}

func NewService(
	records repository.RepeatRecordRepository,
	repeaters repository.RepeaterRepository,
	connections repository.ConnectionSettingsRepository,
	entities repository.EntityRepository,
	reg *registry.Registry,
	client *delivery.Client,
	notifier Notifier,
	encryptor security.Encryptor,
	cfg config.EngineConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		records:     records,
		repeaters:   repeaters,
		connections: connections,
		entities:    entities,
		registry:    reg,
		client:      client,
		notifier:    notifier,
		encryptor:   encryptor,
		cfg:         cfg,
		logger:      log,
		metrics:     m,
	}
}

func (s *Service) backoff() model.BackoffPolicy {
	return model.BackoffPolicy{MinWait: s.cfg.MinRetryWait, MaxWait: s.cfg.MaxRetryWait}
}

// Attempt performs one delivery attempt for the record and persists the
// outcome. force bypasses the client's failure cache. The persisted write is
// versioned: if the record changed concurrently (manual cancel, another
// worker), the write returns repository.ErrConflict and the outcome is
// dropped rather than resurrecting the newer state.
func (s *Service) Attempt(ctx context.Context, record *model.RepeatRecord, force bool) (AttemptResult, error) {
	if record.Terminal() {
		return "", ErrTerminalRecord
	}
	now := time.Now().UTC()

	repeater, err := s.repeaters.Get(ctx, record.RepeaterID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.cancelForDeletedRepeater(ctx, record, now)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load repeater: %w", err)
	}
	if repeater.Deleted() {
		return s.cancelForDeletedRepeater(ctx, record, now)
	}

	// Resolution failures are configuration errors: fail fast, leave the
	// record untouched.
	gen, err := s.registry.Resolve(repeater.Kind, repeater.Format)
	if err != nil {
		return "", err
	}
	conn, err := s.connections.Get(ctx, repeater.ConnectionID)
	if err != nil {
		return "", fmt.Errorf("failed to load connection settings: %w", err)
	}

	record.OverallTries++

	// The payload is regenerated from the live entity. A missing or deleted
	// entity is fatal, not retried.
	entity, err := s.entities.Get(ctx, record.Domain, record.PayloadEntityID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.finalize(ctx, record, conn,
			record.HandleFatal(fmt.Sprintf("document %s is missing", record.PayloadEntityID), now))
	}
	if err != nil {
		return "", fmt.Errorf("failed to load entity: %w", err)
	}
	if entity.Deleted() {
		return s.finalize(ctx, record, conn,
			record.HandleFatal(fmt.Sprintf("document %s is missing", record.PayloadEntityID), now))
	}

	payload, err := gen.Generate(ctx, entity)
	if errors.Is(err, generator.ErrIgnoreDocument) {
		// Not a failure: this entity is never forwarded.
		return s.finalize(ctx, record, conn, record.HandleSuccess("ignored document", now))
	}
	if err != nil {
		return s.finalize(ctx, record, conn,
			record.HandleFatal(fmt.Sprintf("payload generation failed: %v", err), now))
	}
	s.metrics.PayloadSize.Observe(float64(len(payload.Body)))

	password, err := conn.PlaintextPassword(s.encryptor)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	timer := time.Now()
	outcome := s.client.Send(ctx, delivery.Request{
		URL:            s.deliveryURL(conn, repeater, entity),
		Body:           payload.Body,
		ContentType:    payload.ContentType,
		Headers:        payload.Headers,
		Auth:           delivery.Auth{Type: conn.AuthType, Username: conn.Username, Password: password},
		SkipCertVerify: conn.SkipCertVerify,
		Force:          force,
	})
	s.metrics.AttemptLatency.WithLabelValues(string(repeater.Kind)).Observe(time.Since(timer).Seconds())
	s.metrics.DeliveryOutcomes.WithLabelValues(string(outcome.Kind)).Inc()

	var attempt model.RepeatRecordAttempt
	if outcome.Succeeded() {
		attempt = record.HandleSuccess(outcome.Description(), now)
	} else {
		maxTries := repeater.EffectiveMaxAttempts(s.cfg.MaxOverallTries)
		attempt = record.HandleFailure(outcome.Description(), maxTries, s.backoff(), now)
	}
	return s.finalize(ctx, record, conn, attempt)
}

// deliveryURL appends the form's app id as a query parameter when the
// repeater asks for it.
func (s *Service) deliveryURL(conn *model.ConnectionSettings, repeater *model.Repeater, entity *model.Entity) string {
	if !repeater.IncludeAppIDParam || entity.Kind != model.EntityKindForm {
		return conn.URL
	}
	appID := entity.AppID()
	if appID == "" {
		return conn.URL
	}
	u, err := url.Parse(conn.URL)
	if err != nil {
		return conn.URL
	}
	q := u.Query()
	q.Set("app_id", appID)
	u.RawQuery = q.Encode()
	return u.String()
}

// finalize persists the attempt's outcome. The versioned update is the
// correctness backstop against concurrent writers.
func (s *Service) finalize(ctx context.Context, record *model.RepeatRecord, conn *model.ConnectionSettings, attempt model.RepeatRecordAttempt) (AttemptResult, error) {
	if err := s.records.Update(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// A concurrent actor won the race; drop this outcome.
			s.logger.Warn("dropping delivery outcome after version conflict",
				"record_id", record.ID.String())
		}
		return "", err
	}
	if err := s.records.AddAttempt(ctx, &attempt); err != nil {
		// The record state is already persisted; a lost history row is
		// logged, not fatal.
		s.logger.Error(err, "failed to persist attempt history", "record_id", record.ID.String())
	}

	switch record.State {
	case model.RecordStateSuccess:
		s.metrics.RecordsSucceeded.Inc()
		return ResultSucceeded, nil
	case model.RecordStateCancelled:
		s.metrics.RecordsCancelled.Inc()
		if conn != nil {
			s.notifier.RecordCancelled(record, conn)
		}
		return ResultCancelled, nil
	default:
		s.metrics.RecordsFailed.Inc()
		return ResultFailed, nil
	}
}

func (s *Service) cancelForDeletedRepeater(ctx context.Context, record *model.RepeatRecord, now time.Time) (AttemptResult, error) {
	record.Cancel(now)
	record.FailureReason = "repeater was deleted"
	if err := s.records.Update(ctx, record); err != nil {
		return "", err
	}
	s.metrics.RecordsDeleted.Inc()
	return ResultRepeaterDeleted, nil
}

// ForceRetry attempts delivery immediately, regardless of next_check and
// bypassing the failure cache.
func (s *Service) ForceRetry(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.Attempt(ctx, record, true); err != nil {
		return nil, err
	}
	return record, nil
}

// Cancel finalizes the record manually. Idempotent: cancelling a cancelled
// record is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.State == model.RecordStateCancelled {
		return record, nil
	}
	record.Cancel(time.Now().UTC())
	if err := s.records.Update(ctx, record); err != nil {
		return nil, err
	}
	s.metrics.RecordsCancelled.Inc()
	return record, nil
}

// Requeue resurrects a record: state back to pending, tries reset, due now.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Requeue(time.Now().UTC())
	if err := s.records.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get returns a record with its attempt history.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error) {
	record, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.records.ListAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	record.Attempts = attempts
	return record, nil
}

func (s *Service) ListByRepeater(ctx context.Context, repeaterID uuid.UUID, state model.RecordState, limit, offset int) ([]*model.RepeatRecord, error) {
	return s.records.ListByRepeater(ctx, repeaterID, state, limit, offset)
}

func (s *Service) CountsByRepeater(ctx context.Context, repeaterID uuid.UUID) (*repository.StateCounts, error) {
	return s.records.CountsByRepeater(ctx, repeaterID)
}
