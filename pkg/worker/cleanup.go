package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/pkg/logger"
)

// OutboxCleanupWorker deletes published outbox events older than the
// retention period.
type OutboxCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retention, interval time.Duration, logger *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Cleanup(ctx)
		}
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) int64 {
	cutoff := time.Now().Add(-w.retention)
	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		w.logger.Error(err, "Failed to clean up outbox events")
		return 0
	}
	if rows > 0 {
		w.logger.Info("Cleaned up outbox events", "count", rows, "cutoff", cutoff)
	}
	return rows
}
