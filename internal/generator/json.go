package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hqmotech/forwarder/internal/model"
)

const contentTypeJSON = "application/json"

// CaseJSONGenerator forwards the full case document, stamped with the
// server-side modification time.
type CaseJSONGenerator struct{}

func (CaseJSONGenerator) Generate(_ context.Context, entity *model.Entity) (*Payload, error) {
	body, err := marshalDoc(entity)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Body:        body,
		ContentType: contentTypeJSON,
		Headers: map[string]string{
			"server-modified-on": entity.ServerModifiedOn.UTC().Format(time.RFC3339),
		},
	}, nil
}

// FormJSONGenerator forwards the full form document, stamped with the time
// the submission was received.
type FormJSONGenerator struct{}

func (FormJSONGenerator) Generate(_ context.Context, entity *model.Entity) (*Payload, error) {
	body, err := marshalDoc(entity)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Body:        body,
		ContentType: contentTypeJSON,
		Headers: map[string]string{
			"received-on": entity.ReceivedOn.UTC().Format(time.RFC3339),
		},
	}, nil
}

// ShortFormJSONGenerator forwards a stub instead of the full form: ids and
// receive time only.
type ShortFormJSONGenerator struct{}

func (ShortFormJSONGenerator) Generate(_ context.Context, entity *model.Entity) (*Payload, error) {
	stub := map[string]interface{}{
		"form_id":     entity.ID,
		"domain":      entity.Domain,
		"received_on": entity.ReceivedOn.UTC().Format(time.RFC3339),
		"user_id":     entity.SubmittingUserID(),
	}
	body, err := json.Marshal(stub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal form stub: %w", err)
	}
	return &Payload{Body: body, ContentType: contentTypeJSON}, nil
}

// UserJSONGenerator forwards user documents.
type UserJSONGenerator struct{}

func (UserJSONGenerator) Generate(_ context.Context, entity *model.Entity) (*Payload, error) {
	body, err := marshalDoc(entity)
	if err != nil {
		return nil, err
	}
	return &Payload{Body: body, ContentType: contentTypeJSON}, nil
}

// LocationJSONGenerator forwards location documents.
type LocationJSONGenerator struct{}

func (LocationJSONGenerator) Generate(_ context.Context, entity *model.Entity) (*Payload, error) {
	body, err := marshalDoc(entity)
	if err != nil {
		return nil, err
	}
	return &Payload{Body: body, ContentType: contentTypeJSON}, nil
}

func marshalDoc(entity *model.Entity) ([]byte, error) {
	if len(entity.Doc) == 0 {
		return nil, ErrIgnoreDocument
	}
	envelope := map[string]interface{}{
		"id":     entity.ID,
		"domain": entity.Domain,
		"doc":    json.RawMessage(entity.Doc),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", entity.Kind, err)
	}
	return body, nil
}
