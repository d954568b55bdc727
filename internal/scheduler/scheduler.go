// Package scheduler runs the periodic check loop: find due repeat records
// across all domains, lock each one, attempt delivery, and move on. Multiple
// worker processes may run the loop concurrently; the per-record try-lock
// keeps them from duplicating network calls and the versioned record writes
// keep them correct when the lock fails.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hqmotech/forwarder/internal/config"
	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
	"github.com/hqmotech/forwarder/internal/service/record"
	"github.com/hqmotech/forwarder/pkg/lock"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/metrics"
)

const lockKeyPrefix = "repeat_record:"

// RunSummary is the structured result of one check pass.
type RunSummary struct {
	Succeeded   []uuid.UUID   `json:"success"`
	Failed      []uuid.UUID   `json:"fail"`
	Locked      []uuid.UUID   `json:"locked"`
	Deleted     []uuid.UUID   `json:"deleted"`
	RateLimited int           `json:"rate_limited"`
	StartedAt   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
}

type Scheduler struct {
	records repository.RepeatRecordRepository
	service *record.Service
	locker  lock.Locker
	cfg     config.EngineConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(
	records repository.RepeatRecordRepository,
	service *record.Service,
	locker lock.Locker,
	cfg config.EngineConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Scheduler {
	return &Scheduler{
		records:  records,
		service:  service,
		locker:   locker,
		cfg:      cfg,
		logger:   log,
		metrics:  m,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start runs check passes on the configured period until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	s.logger.Info("starting delivery scheduler", "check_interval", s.cfg.CheckInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down delivery scheduler")
			return
		case <-ticker.C:
			s.CheckRecords(ctx)
		}
	}
}

// CheckRecords performs one pass: fetch due records in batches, oldest due
// first, and attempt each one under its lock. Records becoming due during the
// pass's expected duration are included via the cutoff. The pass stops once
// its wall-clock budget (one check interval) is spent, so the next scheduled
// run is never starved.
func (s *Scheduler) CheckRecords(ctx context.Context) *RunSummary {
	start := time.Now().UTC()
	cutoff := start.Add(s.cfg.CheckInterval)
	deadline := start.Add(s.cfg.CheckInterval)

	summary := &RunSummary{StartedAt: start}
	seen := make(map[uuid.UUID]struct{})

	for time.Now().Before(deadline) && ctx.Err() == nil {
		batch, err := s.records.DueBatch(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			s.metrics.DatabaseOperations.WithLabelValues("due_batch", "error").Inc()
			s.logger.Error(err, "failed to fetch due records")
			break
		}
		s.metrics.DatabaseOperations.WithLabelValues("due_batch", "success").Inc()
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, rec := range batch {
			if !time.Now().Before(deadline) || ctx.Err() != nil {
				break
			}
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			progressed = true
			s.processRecord(ctx, rec, summary)
		}
		// Every remaining due record was already visited this pass; stop
		// rather than spin on records left due (locked or rate limited).
		if !progressed {
			break
		}
	}

	summary.Duration = time.Since(start)
	s.metrics.CheckPassDuration.Observe(summary.Duration.Seconds())
	s.logSummary(summary)
	return summary
}

// processRecord isolates one record's attempt: a panic or error affects only
// this record, never the rest of the batch.
func (s *Scheduler) processRecord(ctx context.Context, rec *model.RepeatRecord, summary *RunSummary) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("panic: %v", r), "delivery attempt panicked",
				"record_id", rec.ID.String())
			summary.Failed = append(summary.Failed, rec.ID)
		}
	}()

	if !s.allowDomain(rec.Domain) {
		summary.RateLimited++
		return
	}

	release, ok, err := s.locker.TryLock(ctx, lockKeyPrefix+rec.ID.String(), s.cfg.LockTTL)
	if err != nil {
		s.logger.Error(err, "failed to acquire record lock", "record_id", rec.ID.String())
		summary.Locked = append(summary.Locked, rec.ID)
		s.metrics.RecordsLocked.Inc()
		return
	}
	if !ok {
		// Another worker is on it; not an error.
		summary.Locked = append(summary.Locked, rec.ID)
		s.metrics.RecordsLocked.Inc()
		return
	}
	defer release()

	// Re-read under the lock: the batch snapshot may be stale.
	fresh, err := s.records.Get(ctx, rec.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error(err, "failed to reload record", "record_id", rec.ID.String())
		summary.Failed = append(summary.Failed, rec.ID)
		return
	}
	if fresh.Terminal() {
		return
	}

	result, err := s.service.Attempt(ctx, fresh, false)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Someone else already processed this record.
			summary.Locked = append(summary.Locked, rec.ID)
			s.metrics.RecordsLocked.Inc()
			return
		}
		s.logger.Error(err, "delivery attempt errored", "record_id", rec.ID.String())
		summary.Failed = append(summary.Failed, rec.ID)
		return
	}

	switch result {
	case record.ResultSucceeded:
		summary.Succeeded = append(summary.Succeeded, rec.ID)
	case record.ResultRepeaterDeleted:
		summary.Deleted = append(summary.Deleted, rec.ID)
	default:
		summary.Failed = append(summary.Failed, rec.ID)
	}
}

// allowDomain applies the per-domain delivery rate limit.
func (s *Scheduler) allowDomain(domain string) bool {
	if s.cfg.DeliveriesPerSecond <= 0 {
		return true
	}
	s.mu.Lock()
	limiter, ok := s.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.DeliveriesPerSecond), 1)
		s.limiters[domain] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func (s *Scheduler) logSummary(summary *RunSummary) {
	s.logger.ZL.Info().
		Strs("success", idStrings(summary.Succeeded)).
		Strs("fail", idStrings(summary.Failed)).
		Strs("locked", idStrings(summary.Locked)).
		Strs("deleted", idStrings(summary.Deleted)).
		Int("number_locked", len(summary.Locked)).
		Int("rate_limited", summary.RateLimited).
		Time("timestamp", summary.StartedAt).
		Dur("duration", summary.Duration).
		Msg("check pass complete")
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
