// Package generator defines the pluggable payload-generation strategy: given
// the triggering entity, produce wire bytes plus headers. Integrations
// register their own generators; the engine only calls this interface.
package generator

import (
	"context"
	"errors"

	"github.com/hqmotech/forwarder/internal/model"
)

// ErrIgnoreDocument signals that this particular entity has no payload
// representation and should never be forwarded. The record is finalized as a
// success, not a failure.
var ErrIgnoreDocument = errors.New("document has no payload representation")

// Payload is the serialized body and transport metadata for one delivery.
type Payload struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// PayloadGenerator turns a domain entity into a Payload. Generate is called
// on every attempt with the live entity, so a payload always reflects the
// entity's current state.
type PayloadGenerator interface {
	Generate(ctx context.Context, entity *model.Entity) (*Payload, error)
}
