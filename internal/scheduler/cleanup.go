package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hqmotech/forwarder/internal/repository"
	"github.com/hqmotech/forwarder/pkg/logger"
)

// CleanupWorker bulk-deletes terminal repeat records past the retention
// window. This is the only path that physically removes records.
type CleanupWorker struct {
	records   repository.RepeatRecordRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewCleanupWorker(records repository.RepeatRecordRepository, retention, interval time.Duration, log *logger.Logger) *CleanupWorker {
	return &CleanupWorker{
		records:   records,
		retention: retention,
		interval:  interval,
		logger:    log,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cleanup(ctx); err != nil {
				w.logger.Error(err, "record cleanup failed")
			}
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.retention)

	deleted, err := w.records.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old records: %w", err)
	}
	if deleted > 0 {
		w.logger.Info("deleted old terminal records", "count", deleted, "cutoff", cutoff.String())
	}
	return nil
}
