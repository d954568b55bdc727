package messaging

import (
	"context"
)

// Broker is a publish/subscribe transport for internal events.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
