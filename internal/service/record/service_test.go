package record

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hqmotech/forwarder/internal/config"
	"github.com/hqmotech/forwarder/internal/delivery"
	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/registry"
	"github.com/hqmotech/forwarder/internal/repository"
	"github.com/hqmotech/forwarder/internal/repository/memory"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/metrics"
	"github.com/hqmotech/forwarder/pkg/security"
)

type capturingNotifier struct {
	cancelled atomic.Int64
}

func (n *capturingNotifier) RecordCancelled(record *model.RepeatRecord, conn *model.ConnectionSettings) {
	n.cancelled.Add(1)
}

type fixture struct {
	service   *Service
	records   *memory.RepeatRecordRepository
	repeaters *memory.RepeaterRepository
	conns     *memory.ConnectionSettingsRepository
	entities  *memory.EntityRepository
	notifier  *capturingNotifier
	encryptor security.Encryptor
	cfg       config.EngineConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	encryptor, err := security.NewAESEncryptor(security.DeriveKey("test-secret", "test-salt"))
	require.NoError(t, err)

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	cfg := config.EngineConfig{
		MinRetryWait:    time.Hour,
		MaxRetryWait:    72 * time.Hour,
		PostTimeout:     5 * time.Second,
		FailureCacheTTL: time.Minute,
		MaxOverallTries: 6,
	}

	f := &fixture{
		records:   memory.NewRepeatRecordRepository(),
		repeaters: memory.NewRepeaterRepository(),
		conns:     memory.NewConnectionSettingsRepository(),
		entities:  memory.NewEntityRepository(),
		notifier:  &capturingNotifier{},
		encryptor: encryptor,
		cfg:       cfg,
	}
	f.service = NewService(
		f.records, f.repeaters, f.conns, f.entities,
		registry.Bootstrap(),
		delivery.NewClient(cfg.PostTimeout, cfg.FailureCacheTTL, log),
		f.notifier, encryptor, cfg, log,
		metrics.New("forwarder_test", prometheus.NewRegistry()),
	)
	return f
}

// seed creates a connection, case repeater, entity and pending record wired
// together, pointed at url.
func (f *fixture) seed(t *testing.T, url string) *model.RepeatRecord {
	t.Helper()
	ctx := context.Background()

	conn := &model.ConnectionSettings{ID: uuid.New(), Domain: "d", Name: "remote", URL: url, AuthType: model.AuthTypeNone}
	require.NoError(t, f.conns.Create(ctx, conn))

	repeater := &model.Repeater{ID: uuid.New(), Domain: "d", ConnectionID: conn.ID, Kind: model.RepeaterKindCase}
	require.NoError(t, f.repeaters.Create(ctx, repeater))

	f.entities.Put(&model.Entity{
		ID: "case-1", Domain: "d", Kind: model.EntityKindCase,
		Doc: []byte(`{"case_id":"case-1","case_type":"pregnancy"}`),
	})

	record := model.NewRepeatRecord(repeater, "case-1", time.Now().UTC())
	require.NoError(t, f.records.Create(ctx, record))
	return record
}

func TestAttemptSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)

	result, err := f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	assert.Equal(t, ResultSucceeded, result)
	assert.Equal(t, model.RecordStateSuccess, record.State)
	assert.Equal(t, 1, record.OverallTries)

	stored, err := f.records.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateSuccess, stored.State)
	assert.Nil(t, stored.NextCheckAt)

	attempts, err := f.records.ListAttempts(context.Background(), record.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Succeeded)
}

func TestAttemptServerErrorSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)
	before := time.Now().UTC()

	result, err := f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, result)
	assert.Equal(t, model.RecordStatePending, record.State)
	assert.Equal(t, "500: Internal Server Error", record.FailureReason)
	require.NotNil(t, record.NextCheckAt)
	assert.True(t, record.NextCheckAt.After(before.Add(f.cfg.MinRetryWait-time.Minute)),
		"first retry waits at least the minimum")
}

func TestAttemptCancelsAtTryCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)
	record.OverallTries = 5
	require.NoError(t, f.records.Update(context.Background(), record))

	result, err := f.service.Attempt(context.Background(), record, true)
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, result)
	assert.Equal(t, model.RecordStateCancelled, record.State)
	assert.Contains(t, record.FailureReason, "automatically cancelled after 6 tries")
	assert.Equal(t, int64(1), f.notifier.cancelled.Load())
}

func TestAttemptMissingEntityCancels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a missing entity")
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)
	record.PayloadEntityID = "gone"
	require.NoError(t, f.records.Update(context.Background(), record))

	result, err := f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	assert.Equal(t, ResultCancelled, result)
	assert.Equal(t, "document gone is missing", record.FailureReason)
	assert.Equal(t, 1, record.OverallTries, "the conclusive attempt still counts")
}

func TestAttemptIgnoredDocumentSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an ignored document")
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)
	f.entities.Put(&model.Entity{ID: "case-1", Domain: "d", Kind: model.EntityKindCase})

	result, err := f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	assert.Equal(t, ResultSucceeded, result)
	assert.Equal(t, model.RecordStateSuccess, record.State)
}

func TestAttemptDeletedRepeaterCancels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a deleted repeater")
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)
	require.NoError(t, f.repeaters.SoftDelete(context.Background(), record.RepeaterID))

	result, err := f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	assert.Equal(t, ResultRepeaterDeleted, result)
	assert.Equal(t, model.RecordStateCancelled, record.State)
	assert.Equal(t, "repeater was deleted", record.FailureReason)
	assert.Zero(t, record.OverallTries, "no delivery was attempted")
}

func TestAttemptTerminalRecordRejected(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "http://example.invalid")
	record.HandleSuccess("OK", time.Now().UTC())

	_, err := f.service.Attempt(context.Background(), record, false)
	assert.ErrorIs(t, err, ErrTerminalRecord)
}

func TestAttemptConflictDropsOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)

	// A concurrent cancel bumps the stored version before the outcome lands.
	other, err := f.records.Get(context.Background(), record.ID)
	require.NoError(t, err)
	other.Cancel(time.Now().UTC())
	require.NoError(t, f.records.Update(context.Background(), other))

	_, err = f.service.Attempt(context.Background(), record, false)
	assert.ErrorIs(t, err, repository.ErrConflict)

	stored, err := f.records.Get(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateCancelled, stored.State, "the cancel must win the race")
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "http://example.invalid")

	cancelled, err := f.service.Cancel(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateCancelled, cancelled.State)

	again, err := f.service.Cancel(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateCancelled, again.State)
}

func TestRequeueAfterCancel(t *testing.T) {
	f := newFixture(t)
	record := f.seed(t, "http://example.invalid")

	_, err := f.service.Cancel(context.Background(), record.ID)
	require.NoError(t, err)

	requeued, err := f.service.Requeue(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatePending, requeued.State)
	assert.Zero(t, requeued.OverallTries)
	require.NotNil(t, requeued.NextCheckAt)
}

func TestForceRetryBypassesFailureCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)

	_, err := f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	require.Equal(t, model.RecordStatePending, record.State)

	retried, err := f.service.ForceRetry(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateSuccess, retried.State)
	assert.Equal(t, int64(2), hits.Load())
}

func TestAttemptSendsBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
	}))
	defer srv.Close()

	f := newFixture(t)
	record := f.seed(t, srv.URL)

	conn, err := f.conns.Get(context.Background(), mustRepeaterConn(t, f, record))
	require.NoError(t, err)
	conn.AuthType = model.AuthTypeBasic
	conn.Username = "forwarder"
	require.NoError(t, conn.SetPassword(f.encryptor, "s3cret"))
	require.NoError(t, f.conns.Create(context.Background(), conn))

	_, err = f.service.Attempt(context.Background(), record, false)
	require.NoError(t, err)
	assert.Equal(t, "forwarder", gotUser)
	assert.Equal(t, "s3cret", gotPass)
}

func mustRepeaterConn(t *testing.T, f *fixture, record *model.RepeatRecord) uuid.UUID {
	t.Helper()
	repeater, err := f.repeaters.Get(context.Background(), record.RepeaterID)
	require.NoError(t, err)
	return repeater.ConnectionID
}
