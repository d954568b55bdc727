// Package dispatcher turns entity-saved events into repeat records. The
// application layer calls OnEntitySaved synchronously after persisting a
// case, form, user or location; deduplication of the underlying save event is
// the caller's responsibility.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/metrics"
)

type Dispatcher struct {
	repeaters repository.RepeaterRepository
	records   repository.RepeatRecordRepository
	entities  repository.EntityRepository
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func New(
	repeaters repository.RepeaterRepository,
	records repository.RepeatRecordRepository,
	entities repository.EntityRepository,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		repeaters: repeaters,
		records:   records,
		entities:  entities,
		logger:    log,
		metrics:   m,
	}
}

// repeaterKindsFor maps an entity kind to the repeater kinds subscribed to it.
func repeaterKindsFor(kind model.EntityKind) []model.RepeaterKind {
	switch kind {
	case model.EntityKindCase:
		return []model.RepeaterKind{model.RepeaterKindCase}
	case model.EntityKindForm:
		return []model.RepeaterKind{model.RepeaterKindForm, model.RepeaterKindShortForm}
	case model.EntityKindUser:
		return []model.RepeaterKind{model.RepeaterKindUser}
	case model.EntityKindLocation:
		return []model.RepeaterKind{model.RepeaterKindLocation}
	}
	return nil
}

// OnEntitySaved creates one pending repeat record, due immediately, for every
// active repeater in the entity's domain whose kind matches and whose
// forwarding predicate accepts the entity.
func (d *Dispatcher) OnEntitySaved(ctx context.Context, entity *model.Entity) error {
	now := time.Now().UTC()

	for _, kind := range repeaterKindsFor(entity.Kind) {
		repeaters, err := d.repeaters.ListActive(ctx, entity.Domain, kind)
		if err != nil {
			return fmt.Errorf("failed to list repeaters for %s/%s: %w", entity.Domain, kind, err)
		}

		for _, repeater := range repeaters {
			if !repeater.AllowedToForward(entity) {
				continue
			}

			record := model.NewRepeatRecord(repeater, entity.ID, now)
			if err := d.records.Create(ctx, record); err != nil {
				// One repeater's failure must not block the others.
				d.logger.Error(err, "failed to register repeat record",
					"repeater_id", repeater.ID.String(), "entity_id", entity.ID)
				continue
			}
			d.metrics.RecordsCreated.WithLabelValues(string(kind)).Inc()
			d.logger.Debug("repeat record registered",
				"record_id", record.ID.String(),
				"repeater_id", repeater.ID.String(),
				"entity_id", entity.ID)
		}
	}
	return nil
}
