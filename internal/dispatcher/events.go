package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/messaging"
)

// ChannelEntitySaved carries EntitySavedEvent notifications between the
// ingestion side and the dispatcher.
const ChannelEntitySaved = "forwarder.entity.saved"

type EntitySavedEvent struct {
	Domain   string           `json:"domain"`
	EntityID string           `json:"entity_id"`
	Kind     model.EntityKind `json:"kind"`
}

// EventSink accepts entity-saved notifications. The Dispatcher implements it
// directly; BrokerSink forwards to a message broker instead.
type EventSink interface {
	EntitySaved(ctx context.Context, event EntitySavedEvent) error
}

// EntitySaved loads the saved entity and registers repeat records for it.
func (d *Dispatcher) EntitySaved(ctx context.Context, event EntitySavedEvent) error {
	entity, err := d.entities.Get(ctx, event.Domain, event.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s/%s: %w", event.Domain, event.EntityID, err)
	}
	return d.OnEntitySaved(ctx, entity)
}

// BrokerSink publishes entity-saved events instead of handling them inline,
// decoupling ingestion from record registration.
type BrokerSink struct {
	broker messaging.Broker
}

func NewBrokerSink(broker messaging.Broker) *BrokerSink {
	return &BrokerSink{broker: broker}
}

func (s *BrokerSink) EntitySaved(ctx context.Context, event EntitySavedEvent) error {
	return s.broker.Publish(ctx, ChannelEntitySaved, event)
}

// Listener consumes entity-saved events from a broker and feeds them to a
// sink, normally the Dispatcher itself.
type Listener struct {
	broker messaging.Broker
	sink   EventSink
	logger *logger.Logger
}

func NewListener(broker messaging.Broker, sink EventSink, log *logger.Logger) *Listener {
	return &Listener{broker: broker, sink: sink, logger: log}
}

// Run blocks consuming events until the context is cancelled or the
// subscription channel closes. Malformed or failed events are logged and
// skipped.
func (l *Listener) Run(ctx context.Context) error {
	messages, err := l.broker.Subscribe(ctx, ChannelEntitySaved)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", ChannelEntitySaved, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-messages:
			if !ok {
				return nil
			}
			var event EntitySavedEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				l.logger.Error(err, "dropping malformed entity-saved event")
				continue
			}
			if err := l.sink.EntitySaved(ctx, event); err != nil {
				l.logger.Error(err, "failed to handle entity-saved event",
					"domain", event.Domain, "entity_id", event.EntityID)
			}
		}
	}
}
