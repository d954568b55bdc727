package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RepeaterKind maps a repeater to the entity kind it forwards and the payload
// formats registered for it.
type RepeaterKind string

const (
	RepeaterKindCase      RepeaterKind = "case"
	RepeaterKindForm      RepeaterKind = "form"
	RepeaterKindShortForm RepeaterKind = "short_form"
	RepeaterKindUser      RepeaterKind = "user"
	RepeaterKindLocation  RepeaterKind = "location"
)

// EntityKind returns the entity kind this repeater kind subscribes to.
func (k RepeaterKind) EntityKind() EntityKind {
	switch k {
	case RepeaterKindCase:
		return EntityKindCase
	case RepeaterKindForm, RepeaterKindShortForm:
		return EntityKindForm
	case RepeaterKindUser:
		return EntityKindUser
	case RepeaterKindLocation:
		return EntityKindLocation
	}
	return ""
}

// Repeater is a standing subscription: forward entities of a given kind in a
// domain to a ConnectionSettings endpoint, serialized with a registered
// payload format. Repeaters are soft-deleted so in-flight repeat records can
// still resolve them.
type Repeater struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Domain       string       `json:"domain" db:"domain"`
	ConnectionID uuid.UUID    `json:"connection_id" db:"connection_id"`
	Kind         RepeaterKind `json:"kind" db:"kind"`
	// Format selects a payload format registered for Kind. Empty means the
	// kind's default format.
	Format string `json:"format" db:"format"`

	// Filters. Empty whitelists accept everything.
	WhitelistedCaseTypes pq.StringArray `json:"whitelisted_case_types" db:"whitelisted_case_types"`
	WhitelistedFormXMLNS pq.StringArray `json:"whitelisted_form_xmlns" db:"whitelisted_form_xmlns"`
	BlacklistedUserIDs   pq.StringArray `json:"blacklisted_user_ids" db:"blacklisted_user_ids"`
	IncludeAppIDParam    bool           `json:"include_app_id_param" db:"include_app_id_param"`

	// MaxAttempts overrides the engine-wide overall-tries ceiling when > 0.
	MaxAttempts int `json:"max_attempts" db:"max_attempts"`

	Paused    bool       `json:"paused" db:"paused"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

func (r *Repeater) Deleted() bool {
	return r.DeletedAt != nil
}

// Active reports whether the dispatcher should create new records for this
// repeater.
func (r *Repeater) Active() bool {
	return !r.Paused && !r.Deleted()
}

// EffectiveMaxAttempts returns the overall-tries ceiling for this repeater,
// falling back to the engine default when unset.
func (r *Repeater) EffectiveMaxAttempts(engineDefault int) int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return engineDefault
}

// AllowedToForward applies the per-kind forwarding predicate to an entity.
func (r *Repeater) AllowedToForward(e *Entity) bool {
	switch r.Kind {
	case RepeaterKindCase:
		return r.allowedCaseType(e) && r.allowedUser(e)
	case RepeaterKindForm:
		return e.XMLNS() != DeviceLogXMLNS && r.allowedFormXMLNS(e)
	case RepeaterKindShortForm:
		return e.XMLNS() != DeviceLogXMLNS
	default:
		return true
	}
}

func (r *Repeater) allowedCaseType(e *Entity) bool {
	if len(r.WhitelistedCaseTypes) == 0 {
		return true
	}
	return contains(r.WhitelistedCaseTypes, e.CaseType())
}

func (r *Repeater) allowedFormXMLNS(e *Entity) bool {
	if len(r.WhitelistedFormXMLNS) == 0 {
		return true
	}
	return contains(r.WhitelistedFormXMLNS, e.XMLNS())
}

func (r *Repeater) allowedUser(e *Entity) bool {
	return !contains(r.BlacklistedUserIDs, e.SubmittingUserID())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
