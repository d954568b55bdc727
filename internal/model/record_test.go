package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPolicy = BackoffPolicy{
	MinWait: time.Hour,
	MaxWait: 72 * time.Hour,
}

func newTestRecord(t *testing.T) *RepeatRecord {
	t.Helper()
	repeater := &Repeater{ID: uuid.New(), Domain: "nepal-cholera"}
	return NewRepeatRecord(repeater, "case-123", time.Now().UTC())
}

func TestNewRepeatRecordDueImmediately(t *testing.T) {
	now := time.Now().UTC()
	record := newTestRecord(t)

	assert.Equal(t, RecordStatePending, record.State)
	assert.Zero(t, record.OverallTries)
	require.NotNil(t, record.NextCheckAt)
	assert.True(t, record.Due(now.Add(time.Second)))
	assert.False(t, record.Terminal())
}

func TestHandleSuccessFinalizes(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	attempt := record.HandleSuccess("OK", now)

	assert.True(t, attempt.Succeeded)
	assert.Equal(t, RecordStateSuccess, record.State)
	assert.True(t, record.Terminal())
	assert.Nil(t, record.NextCheckAt, "terminal records must not be due again")
	assert.Empty(t, record.FailureReason)
}

func TestHandleFailureBackoffGrows(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	// First failure waits the minimum.
	record.OverallTries++
	record.HandleFailure("504: Gateway Timeout", 6, testPolicy, now)
	require.Equal(t, RecordStatePending, record.State)
	require.NotNil(t, record.NextCheckAt)
	assert.Equal(t, now.Add(testPolicy.MinWait), *record.NextCheckAt)
	assert.Equal(t, "504: Gateway Timeout", record.FailureReason)

	// Second failure grows the previous window by half.
	then := *record.NextCheckAt
	record.OverallTries++
	record.HandleFailure("504: Gateway Timeout", 6, testPolicy, then)
	require.NotNil(t, record.NextCheckAt)
	wait := record.NextCheckAt.Sub(then)
	assert.Equal(t, testPolicy.MinWait+testPolicy.MinWait/2, wait)

	// Waits keep growing but never exceed the maximum.
	for i := 0; i < 20; i++ {
		at := *record.NextCheckAt
		record.HandleFailure("504: Gateway Timeout", 100, testPolicy, at)
		require.NotNil(t, record.NextCheckAt)
		next := record.NextCheckAt.Sub(at)
		assert.GreaterOrEqual(t, next, wait)
		assert.LessOrEqual(t, next, testPolicy.MaxWait)
		wait = next
	}
	assert.Equal(t, testPolicy.MaxWait, wait)
}

func TestHandleFailureCancelsAtCeiling(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	record.OverallTries = 6
	attempt := record.HandleFailure("500: Internal Server Error", 6, testPolicy, now)

	assert.True(t, attempt.Cancelled)
	assert.Equal(t, RecordStateCancelled, record.State)
	assert.Nil(t, record.NextCheckAt)
	assert.Contains(t, record.FailureReason, "automatically cancelled after 6 tries")
	assert.Contains(t, record.FailureReason, "500: Internal Server Error")
}

func TestHandleFatalCancelsImmediately(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	record.OverallTries = 1
	record.HandleFatal("document case-123 is missing", now)

	assert.Equal(t, RecordStateCancelled, record.State)
	assert.Nil(t, record.NextCheckAt)
	assert.Equal(t, "document case-123 is missing", record.FailureReason)
}

func TestCancelIdempotent(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	record.Cancel(now)
	assert.Equal(t, RecordStateCancelled, record.State)
	assert.Nil(t, record.NextCheckAt)

	record.Cancel(now.Add(time.Minute))
	assert.Equal(t, RecordStateCancelled, record.State)
	assert.Nil(t, record.NextCheckAt)
}

func TestRequeueResetsTries(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	record.OverallTries = 6
	record.HandleFailure("503: Service Unavailable", 6, testPolicy, now)
	require.Equal(t, RecordStateCancelled, record.State)

	record.Requeue(now.Add(time.Minute))

	assert.Equal(t, RecordStatePending, record.State)
	assert.Zero(t, record.OverallTries)
	assert.Empty(t, record.FailureReason)
	require.NotNil(t, record.NextCheckAt)
	assert.True(t, record.Due(now.Add(2*time.Minute)))
}

func TestSuccessAfterFailuresKeepsHistory(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	record.OverallTries++
	record.HandleFailure("502: Bad Gateway", 6, testPolicy, now)
	record.OverallTries++
	record.HandleSuccess("OK", now.Add(time.Hour))

	assert.Equal(t, RecordStateSuccess, record.State)
	require.Len(t, record.Attempts, 2)
	assert.False(t, record.Attempts[0].Succeeded)
	assert.True(t, record.Attempts[1].Succeeded)
}

func TestDueRespectsNextCheck(t *testing.T) {
	record := newTestRecord(t)
	now := time.Now().UTC()

	record.OverallTries++
	record.HandleFailure("connection refused", 6, testPolicy, now)

	assert.False(t, record.Due(now.Add(time.Minute)))
	assert.True(t, record.Due(now.Add(testPolicy.MinWait+time.Second)))
}
