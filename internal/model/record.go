package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RecordState string

const (
	// RecordStatePending covers "not yet succeeded": never attempted, or
	// attempted and scheduled to retry.
	RecordStatePending   RecordState = "PENDING"
	RecordStateSuccess   RecordState = "SUCCESS"
	RecordStateCancelled RecordState = "CANCELLED"
)

// BackoffPolicy bounds the retry window between consecutive attempts.
type BackoffPolicy struct {
	MinWait time.Duration
	MaxWait time.Duration
}

// RepeatRecord is one durable unit of delivery work: a single triggering
// entity to be forwarded by a single repeater. The payload is regenerated
// from the live entity on every attempt; only the entity id is stored here.
//
// Version implements optimistic concurrency: every persisted write checks and
// increments it, so a stale writer loses with a conflict instead of silently
// clobbering a concurrent state change.
type RepeatRecord struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	RepeaterID      uuid.UUID   `json:"repeater_id" db:"repeater_id"`
	Domain          string      `json:"domain" db:"domain"`
	PayloadEntityID string      `json:"payload_entity_id" db:"payload_entity_id"`
	State           RecordState `json:"state" db:"state"`
	OverallTries    int         `json:"overall_tries" db:"overall_tries"`
	LastCheckedAt   *time.Time  `json:"last_checked_at,omitempty" db:"last_checked_at"`
	NextCheckAt     *time.Time  `json:"next_check_at,omitempty" db:"next_check_at"`
	FailureReason   string      `json:"failure_reason" db:"failure_reason"`
	Version         int         `json:"version" db:"version"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`

	// Attempts is the per-attempt history, loaded on demand.
	Attempts []RepeatRecordAttempt `json:"attempts,omitempty" db:"-"`
}

// RepeatRecordAttempt records the outcome of one delivery attempt.
type RepeatRecordAttempt struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	RecordID      uuid.UUID  `json:"record_id" db:"record_id"`
	At            time.Time  `json:"at" db:"at"`
	Succeeded     bool       `json:"succeeded" db:"succeeded"`
	Cancelled     bool       `json:"cancelled" db:"cancelled"`
	FailureReason string     `json:"failure_reason" db:"failure_reason"`
	ResponseNote  string     `json:"response_note" db:"response_note"`
	NextCheckAt   *time.Time `json:"next_check_at,omitempty" db:"next_check_at"`
}

// NewRepeatRecord creates a pending record due immediately.
func NewRepeatRecord(repeater *Repeater, entityID string, now time.Time) *RepeatRecord {
	next := now
	return &RepeatRecord{
		ID:              uuid.New(),
		RepeaterID:      repeater.ID,
		Domain:          repeater.Domain,
		PayloadEntityID: entityID,
		State:           RecordStatePending,
		NextCheckAt:     &next,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Terminal reports whether the record is in a final state.
func (r *RepeatRecord) Terminal() bool {
	return r.State == RecordStateSuccess || r.State == RecordStateCancelled
}

// Due reports whether the record should be attempted at the given time.
func (r *RepeatRecord) Due(now time.Time) bool {
	return r.State == RecordStatePending && r.NextCheckAt != nil && !r.NextCheckAt.After(now)
}

// nextRetryWait computes the wait before the next attempt. The window between
// the two most recent attempts grows by half each consecutive failure, clamped
// to the policy bounds. A first failure waits the minimum.
func (r *RepeatRecord) nextRetryWait(policy BackoffPolicy) time.Duration {
	window := time.Duration(0)
	if r.LastCheckedAt != nil && r.NextCheckAt != nil {
		window = r.NextCheckAt.Sub(*r.LastCheckedAt)
		window += window / 2
	}
	if window < policy.MinWait {
		window = policy.MinWait
	} else if window > policy.MaxWait {
		window = policy.MaxWait
	}
	return window
}

// HandleSuccess finalizes the record after a 2xx delivery.
func (r *RepeatRecord) HandleSuccess(note string, now time.Time) RepeatRecordAttempt {
	attempt := RepeatRecordAttempt{
		ID:           uuid.New(),
		RecordID:     r.ID,
		At:           now,
		Succeeded:    true,
		ResponseNote: note,
	}
	r.addAttempt(attempt)
	return attempt
}

// HandleFailure schedules a retry per the backoff policy, or cancels the
// record once the overall-tries ceiling is reached.
func (r *RepeatRecord) HandleFailure(reason string, maxTries int, policy BackoffPolicy, now time.Time) RepeatRecordAttempt {
	if r.OverallTries >= maxTries {
		return r.HandleFatal(fmt.Sprintf("automatically cancelled after %d tries: %s", r.OverallTries, reason), now)
	}
	next := now.Add(r.nextRetryWait(policy))
	attempt := RepeatRecordAttempt{
		ID:            uuid.New(),
		RecordID:      r.ID,
		At:            now,
		FailureReason: reason,
		NextCheckAt:   &next,
	}
	r.addAttempt(attempt)
	return attempt
}

// HandleFatal cancels the record immediately. Used for non-retryable outcomes
// such as a missing payload entity.
func (r *RepeatRecord) HandleFatal(reason string, now time.Time) RepeatRecordAttempt {
	attempt := RepeatRecordAttempt{
		ID:            uuid.New(),
		RecordID:      r.ID,
		At:            now,
		Cancelled:     true,
		FailureReason: reason,
	}
	r.addAttempt(attempt)
	return attempt
}

// addAttempt folds an attempt's outcome into the record's own state.
func (r *RepeatRecord) addAttempt(a RepeatRecordAttempt) {
	r.Attempts = append(r.Attempts, a)
	r.LastCheckedAt = &a.At
	r.NextCheckAt = a.NextCheckAt
	r.FailureReason = a.FailureReason
	r.UpdatedAt = a.At
	switch {
	case a.Succeeded:
		r.State = RecordStateSuccess
	case a.Cancelled:
		r.State = RecordStateCancelled
	default:
		r.State = RecordStatePending
	}
}

// Cancel is the manual operator action. Idempotent.
func (r *RepeatRecord) Cancel(now time.Time) {
	r.State = RecordStateCancelled
	r.NextCheckAt = nil
	r.UpdatedAt = now
}

// Requeue resurrects a record: tries reset to zero, due immediately.
func (r *RepeatRecord) Requeue(now time.Time) {
	next := now
	r.State = RecordStatePending
	r.OverallTries = 0
	r.FailureReason = ""
	r.NextCheckAt = &next
	r.UpdatedAt = now
}
