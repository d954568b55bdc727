package scheduler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
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
	"github.com/hqmotech/forwarder/internal/repository/memory"
	"github.com/hqmotech/forwarder/internal/service/record"
	"github.com/hqmotech/forwarder/pkg/lock"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/metrics"
	"github.com/hqmotech/forwarder/pkg/security"
)

type nopNotifier struct{}

func (nopNotifier) RecordCancelled(*model.RepeatRecord, *model.ConnectionSettings) {}

type env struct {
	records   *memory.RepeatRecordRepository
	repeaters *memory.RepeaterRepository
	conns     *memory.ConnectionSettingsRepository
	entities  *memory.EntityRepository
	service   *record.Service
	locker    lock.Locker
	cfg       config.EngineConfig
	log       *logger.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()

	encryptor, err := security.NewAESEncryptor(security.DeriveKey("secret", "salt"))
	require.NoError(t, err)

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	cfg := config.EngineConfig{
		CheckInterval:   time.Second,
		LockTTL:         time.Minute,
		MinRetryWait:    time.Hour,
		MaxRetryWait:    72 * time.Hour,
		PostTimeout:     5 * time.Second,
		FailureCacheTTL: time.Minute,
		BatchSize:       100,
		MaxOverallTries: 6,
	}

	e := &env{
		records:   memory.NewRepeatRecordRepository(),
		repeaters: memory.NewRepeaterRepository(),
		conns:     memory.NewConnectionSettingsRepository(),
		entities:  memory.NewEntityRepository(),
		locker:    lock.NewMemoryLocker(),
		cfg:       cfg,
		log:       log,
	}
	e.service = record.NewService(
		e.records, e.repeaters, e.conns, e.entities,
		registry.Bootstrap(),
		delivery.NewClient(cfg.PostTimeout, cfg.FailureCacheTTL, log),
		nopNotifier{}, encryptor, cfg, log,
		metrics.New("scheduler_test", prometheus.NewRegistry()),
	)
	return e
}

func (e *env) newScheduler() *Scheduler {
	return New(e.records, e.service, e.locker, e.cfg,
		e.log, metrics.New("scheduler_worker", prometheus.NewRegistry()))
}

func (e *env) seed(t *testing.T, url string) *model.RepeatRecord {
	t.Helper()
	ctx := context.Background()

	conn := &model.ConnectionSettings{ID: uuid.New(), Domain: "d", Name: "remote", URL: url, AuthType: model.AuthTypeNone}
	require.NoError(t, e.conns.Create(ctx, conn))

	repeater := &model.Repeater{ID: uuid.New(), Domain: "d", ConnectionID: conn.ID, Kind: model.RepeaterKindCase}
	require.NoError(t, e.repeaters.Create(ctx, repeater))

	e.entities.Put(&model.Entity{
		ID: "case-1", Domain: "d", Kind: model.EntityKindCase,
		Doc: []byte(`{"case_id":"case-1","case_type":"pregnancy"}`),
	})

	rec := model.NewRepeatRecord(repeater, "case-1", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, e.records.Create(ctx, rec))
	return rec
}

func TestCheckRecordsDeliversDueRecord(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	e := newEnv(t)
	rec := e.seed(t, srv.URL)

	summary := e.newScheduler().CheckRecords(context.Background())

	assert.Equal(t, int64(1), hits.Load())
	require.Len(t, summary.Succeeded, 1)
	assert.Equal(t, rec.ID, summary.Succeeded[0])

	stored, err := e.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateSuccess, stored.State)
}

func TestCheckRecordsSkipsNotYetDue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("record is not due; no request expected")
	}))
	defer srv.Close()

	e := newEnv(t)
	rec := e.seed(t, srv.URL)

	future := time.Now().UTC().Add(time.Hour)
	rec.NextCheckAt = &future
	require.NoError(t, e.records.Update(context.Background(), rec))

	summary := e.newScheduler().CheckRecords(context.Background())
	assert.Empty(t, summary.Succeeded)
	assert.Empty(t, summary.Failed)
}

func TestConcurrentWorkersDeliverOnce(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(10 * time.Millisecond)
	}))
	defer srv.Close()

	// Two workers share the lock backend and the store, as two processes
	// sharing redis and postgres would.
	e := newEnv(t)
	e.seed(t, srv.URL)
	workerA := e.newScheduler()
	workerB := e.newScheduler()

	var wg sync.WaitGroup
	summaries := make([]*RunSummary, 2)
	for i, w := range []*Scheduler{workerA, workerB} {
		wg.Add(1)
		go func(i int, w *Scheduler) {
			defer wg.Done()
			summaries[i] = w.CheckRecords(context.Background())
		}(i, w)
	}
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load(), "exactly one worker may deliver")
	assert.Equal(t, 1, len(summaries[0].Succeeded)+len(summaries[1].Succeeded))
}

func TestCheckRecordsCancelsForDeletedRepeater(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a deleted repeater")
	}))
	defer srv.Close()

	e := newEnv(t)
	rec := e.seed(t, srv.URL)
	require.NoError(t, e.repeaters.SoftDelete(context.Background(), rec.RepeaterID))

	summary := e.newScheduler().CheckRecords(context.Background())

	require.Len(t, summary.Deleted, 1)
	assert.Equal(t, rec.ID, summary.Deleted[0])

	stored, err := e.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStateCancelled, stored.State)
	assert.Equal(t, "repeater was deleted", stored.FailureReason)
}

func TestCheckRecordsFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := newEnv(t)
	rec := e.seed(t, srv.URL)

	summary := e.newScheduler().CheckRecords(context.Background())

	require.Len(t, summary.Failed, 1)
	stored, err := e.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatePending, stored.State)
	assert.Equal(t, 1, stored.OverallTries)
	require.NotNil(t, stored.NextCheckAt)
	assert.True(t, stored.NextCheckAt.After(time.Now()))
}

func TestCheckRecordsRateLimitsDomain(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	e := newEnv(t)
	e.cfg.DeliveriesPerSecond = 0.0001
	first := e.seed(t, srv.URL)
	second := model.NewRepeatRecord(&model.Repeater{ID: first.RepeaterID, Domain: "d"}, "case-1", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, e.records.Create(context.Background(), second))

	summary := e.newScheduler().CheckRecords(context.Background())

	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, 1, summary.RateLimited)
}

func TestCheckRecordsStopsWhenIntervalSpent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	e := newEnv(t)
	e.cfg.CheckInterval = 150 * time.Millisecond
	first := e.seed(t, srv.URL)
	due := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 9; i++ {
		rec := model.NewRepeatRecord(&model.Repeater{ID: first.RepeaterID, Domain: "d"}, "case-1", due)
		require.NoError(t, e.records.Create(context.Background(), rec))
	}

	summary := e.newScheduler().CheckRecords(context.Background())

	// Ten due records at 100ms each would take a full second; the pass must
	// give up after its own interval so the next scheduled run is not starved.
	processed := len(summary.Succeeded)
	assert.GreaterOrEqual(t, processed, 1)
	assert.Less(t, processed, 10)
	assert.Less(t, summary.Duration, 600*time.Millisecond)

	remaining, err := e.records.DueBatch(context.Background(), time.Now().UTC(), 100)
	require.NoError(t, err)
	assert.NotEmpty(t, remaining, "unprocessed records stay due for the next pass")
}

func TestCheckRecordsSkipsAlreadyTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a terminal record")
	}))
	defer srv.Close()

	e := newEnv(t)
	rec := e.seed(t, srv.URL)

	// The record turns terminal between the batch snapshot and the locked
	// re-read. Cancel it in the store, then feed the stale pending snapshot
	// straight to the per-record path.
	stored, err := e.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	stored.Cancel(time.Now().UTC())
	require.NoError(t, e.records.Update(context.Background(), stored))

	summary := &RunSummary{}
	e.newScheduler().processRecord(context.Background(), rec, summary)

	assert.Empty(t, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	assert.Empty(t, summary.Locked)
}
