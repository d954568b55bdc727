package generator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hqmotech/forwarder/internal/model"
)

func TestCaseJSONGenerator(t *testing.T) {
	modified := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	entity := &model.Entity{
		ID: "case-1", Domain: "d", Kind: model.EntityKindCase,
		Doc:              []byte(`{"case_id":"case-1","case_type":"pregnancy"}`),
		ServerModifiedOn: modified,
	}

	payload, err := CaseJSONGenerator{}.Generate(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, "application/json", payload.ContentType)
	assert.Equal(t, "2026-03-14T10:30:00Z", payload.Headers["server-modified-on"])

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload.Body, &envelope))
	assert.JSONEq(t, `{"case_id":"case-1","case_type":"pregnancy"}`, string(envelope["doc"]))
	assert.JSONEq(t, `"case-1"`, string(envelope["id"]))
	assert.JSONEq(t, `"d"`, string(envelope["domain"]))
}

func TestFormJSONGeneratorReceivedOnHeader(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	entity := &model.Entity{
		ID: "form-1", Domain: "d", Kind: model.EntityKindForm,
		Doc:        []byte(`{"xmlns":"http://openrosa.org/formdesigner/F1"}`),
		ReceivedOn: received,
	}

	payload, err := FormJSONGenerator{}.Generate(context.Background(), entity)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14T09:00:00Z", payload.Headers["received-on"])
}

func TestShortFormJSONGeneratorStub(t *testing.T) {
	entity := &model.Entity{
		ID: "form-1", Domain: "d", Kind: model.EntityKindForm,
		Doc:        []byte(`{"xmlns":"http://x","user_id":"u1","secret_answer":"42"}`),
		ReceivedOn: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	payload, err := ShortFormJSONGenerator{}.Generate(context.Background(), entity)
	require.NoError(t, err)

	var stub map[string]interface{}
	require.NoError(t, json.Unmarshal(payload.Body, &stub))
	assert.Equal(t, "form-1", stub["form_id"])
	assert.Equal(t, "d", stub["domain"])
	assert.Equal(t, "u1", stub["user_id"])
	assert.NotContains(t, string(payload.Body), "secret_answer",
		"the stub must not leak form answers")
}

func TestEmptyDocumentIgnored(t *testing.T) {
	entity := &model.Entity{ID: "case-1", Domain: "d", Kind: model.EntityKindCase}

	_, err := CaseJSONGenerator{}.Generate(context.Background(), entity)
	assert.ErrorIs(t, err, ErrIgnoreDocument)

	_, err = UserJSONGenerator{}.Generate(context.Background(), entity)
	assert.ErrorIs(t, err, ErrIgnoreDocument)
}
