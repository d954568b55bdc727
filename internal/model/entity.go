package model

import (
	"encoding/json"
	"time"
)

// EntityKind identifies the type of domain document a repeater subscribes to.
type EntityKind string

const (
	EntityKindCase     EntityKind = "case"
	EntityKindForm     EntityKind = "form"
	EntityKindUser     EntityKind = "user"
	EntityKindLocation EntityKind = "location"
)

// DeviceLogXMLNS marks device-log form submissions, which are never forwarded.
const DeviceLogXMLNS = "http://code.javarosa.org/devicereport"

// Entity is a read-only view of a domain document (case, form, user,
// location). The engine references entities by id only; the document may have
// changed or been deleted between record creation and delivery.
type Entity struct {
	ID               string          `json:"id" db:"id"`
	Domain           string          `json:"domain" db:"domain"`
	Kind             EntityKind      `json:"kind" db:"kind"`
	Doc              json.RawMessage `json:"doc" db:"doc"`
	ServerModifiedOn time.Time       `json:"server_modified_on" db:"server_modified_on"`
	ReceivedOn       time.Time       `json:"received_on" db:"received_on"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (e *Entity) Deleted() bool {
	return e.DeletedAt != nil
}

// docString pulls a top-level string property out of the raw document.
func (e *Entity) docString(key string) string {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(e.Doc, &doc); err != nil {
		return ""
	}
	raw, ok := doc[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// CaseType returns the case type of a case entity.
func (e *Entity) CaseType() string {
	return e.docString("case_type")
}

// XMLNS returns the form namespace of a form entity.
func (e *Entity) XMLNS() string {
	return e.docString("xmlns")
}

// SubmittingUserID returns the id of the user that submitted or last touched
// the entity.
func (e *Entity) SubmittingUserID() string {
	return e.docString("user_id")
}

// AppID returns the application id of a form entity, if any.
func (e *Entity) AppID() string {
	return e.docString("app_id")
}
