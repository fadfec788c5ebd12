package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
)

type counterRepository struct {
	BaseRepository
}

func NewCounterRepository(base BaseRepository) repository.CounterRepository {
	return &counterRepository{base}
}

// Get returns the owner's counter, or a zero counter when none exists yet.
func (r *counterRepository) Get(ctx context.Context, owner model.Owner) (*model.UnreadCounter, error) {
	query := r.db.Rebind(`
		SELECT owner_kind, owner_id, count, last_update, display
		FROM unread_counters
		WHERE owner_kind = ? AND owner_id = ?
	`)

	var c model.UnreadCounter
	if err := r.db.GetContext(ctx, &c, query, string(owner.Kind), owner.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.UnreadCounter{OwnerKind: owner.Kind, OwnerID: owner.ID, Display: model.JSONMap{}}, nil
		}
		return nil, fmt.Errorf("failed to get unread counter: %w", err)
	}
	return &c, nil
}

func (r *counterRepository) CreateIfAbsent(ctx context.Context, owner model.Owner, ts int64, display model.JSONMap) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO unread_counters (owner_kind, owner_id, count, last_update, display)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (owner_kind, owner_id) DO NOTHING
	`)
	result, err := r.db.ExecContext(ctx, query, string(owner.Kind), owner.ID, ts, display)
	if err != nil {
		return false, fmt.Errorf("failed to create unread counter: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *counterRepository) AddIfFresh(ctx context.Context, owner model.Owner, delta int64, ts int64) (bool, error) {
	query := r.db.Rebind(`
		UPDATE unread_counters
		SET count = count + ?, last_update = ?
		WHERE owner_kind = ? AND owner_id = ? AND last_update < ?
	`)
	result, err := r.db.ExecContext(ctx, query, delta, ts, string(owner.Kind), owner.ID, ts)
	if err != nil {
		return false, fmt.Errorf("failed to update unread counter: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MergeDisplay overwrites the listed display keys and keeps the rest. The
// count and lastUpdate are left alone. A missing counter is a no-op.
func (r *counterRepository) MergeDisplay(ctx context.Context, owner model.Owner, display model.JSONMap) error {
	if len(display) == 0 {
		return nil
	}
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`
			SELECT display FROM unread_counters
			WHERE owner_kind = ? AND owner_id = ?` + r.forUpdate())

		var current model.JSONMap
		if err := tx.GetContext(ctx, &current, query, string(owner.Kind), owner.ID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to read counter display: %w", err)
		}
		if current == nil {
			current = model.JSONMap{}
		}
		for k, v := range display {
			current[k] = v
		}

		update := tx.Rebind(`UPDATE unread_counters SET display = ? WHERE owner_kind = ? AND owner_id = ?`)
		if _, err := tx.ExecContext(ctx, update, current, string(owner.Kind), owner.ID); err != nil {
			return fmt.Errorf("failed to merge counter display: %w", err)
		}
		return nil
	})
}
