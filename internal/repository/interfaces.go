package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/pkg/keycodec"
)

// Mutation edits a notification in place inside a storage transaction.
type Mutation func(n *model.Notification)

// All repository interfaces in one file
type (
	// NotificationRepository owns the notification table and its indexes.
	// Every write returns the committed changes; each change is also queued
	// on the outbox in the same transaction.
	NotificationRepository interface {
		Get(ctx context.Context, id string) (*model.Notification, error)
		Insert(ctx context.Context, n *model.Notification, event model.EventType) (*model.Change, error)
		Update(ctx context.Context, id string, event model.EventType, mutate Mutation) (*model.Change, error)
		Delete(ctx context.Context, id string, event model.EventType) (*model.Change, error)
		// UpdateMany applies mutate to every listed notification of owner;
		// missing ids and other owners' notifications are skipped.
		UpdateMany(ctx context.Context, owner model.Owner, ids []string, event model.EventType, mutate Mutation) ([]*model.Change, error)
		// UpdateByReadState and DeleteByReadState sweep the owner's
		// (owner, readState) index range.
		UpdateByReadState(ctx context.Context, owner model.Owner, state model.ReadState, event model.EventType, mutate Mutation) ([]*model.Change, error)
		DeleteByReadState(ctx context.Context, owner model.Owner, state model.ReadState, event model.EventType) ([]*model.Change, error)
		// ScanRange reads the owner's (owner, time) index.
		ScanRange(ctx context.Context, owner model.Owner, r keycodec.Range) ([]*model.Notification, error)
		// ListByEmailState reads the user's (user, emailState) index.
		ListByEmailState(ctx context.Context, user string, state model.EmailState) ([]*model.Notification, error)
	}

	// CounterRepository is written only by the counter aggregator.
	CounterRepository interface {
		Get(ctx context.Context, owner model.Owner) (*model.UnreadCounter, error)
		// CreateIfAbsent initializes count=1, lastUpdate=ts unless a row exists.
		CreateIfAbsent(ctx context.Context, owner model.Owner, ts int64, display model.JSONMap) (bool, error)
		// AddIfFresh adds delta and advances lastUpdate only when ts > lastUpdate.
		AddIfFresh(ctx context.Context, owner model.Owner, delta int64, ts int64) (bool, error)
		MergeDisplay(ctx context.Context, owner model.Owner, display model.JSONMap) error
	}

	OutboxRepository interface {
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string, retryAt *time.Time) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
