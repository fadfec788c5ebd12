package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
)

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

// GetPendingEvents returns unpublished events in commit order. Events
// waiting for a retry are included so the caller can keep the order.
func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := r.db.Rebind(`
		SELECT id, topic, event_type, payload, status, error_message,
			created_at, processed_at, updated_at, retry_count, retry_at
		FROM outbox_events
		WHERE status IN (?, ?)
		ORDER BY seq ASC
		LIMIT ?
	`)
	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query,
		string(model.OutboxStatusPending), string(model.OutboxStatusRetry), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error {
	now := time.Now().UTC()
	var processedAt *time.Time
	if status == model.OutboxStatusProcessed {
		processedAt = &now
	}
	retryInc := 0
	if status == model.OutboxStatusRetry || status == model.OutboxStatusFailed {
		retryInc = 1
	}
	if retryAt != nil {
		t := retryAt.UTC()
		retryAt = &t
	}

	query := r.db.Rebind(`
		UPDATE outbox_events
		SET status = ?,
			error_message = ?,
			retry_at = ?,
			retry_count = retry_count + ?,
			processed_at = COALESCE(?, processed_at),
			updated_at = ?
		WHERE id = ?
	`)
	_, err := r.db.ExecContext(ctx, query, string(status), errorMessage, retryAt, retryInc, processedAt, now, id.String())
	if err != nil {
		return fmt.Errorf("failed to update outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM outbox_events
		WHERE status = ?
		AND processed_at < ?
	`)
	result, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusProcessed), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
