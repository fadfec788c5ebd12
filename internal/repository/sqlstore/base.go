package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-service/internal/model"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

func (r *BaseRepository) isPostgres() bool {
	return r.db.DriverName() == DriverPostgres
}

// forUpdate is appended to reads that precede a write in the same
// transaction. sqlite locks the whole database instead.
func (r *BaseRepository) forUpdate() string {
	if r.isPostgres() {
		return " FOR UPDATE"
	}
	return ""
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// lockOwner serializes writers of one owner until the transaction ends, so
// change timestamps taken inside the transaction follow commit order.
func (r *BaseRepository) lockOwner(ctx context.Context, tx *sqlx.Tx, owner model.Owner) error {
	if !r.isPostgres() {
		return nil
	}
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", owner.String())
	if err != nil {
		return fmt.Errorf("failed to lock owner %s: %w", owner, err)
	}
	return nil
}

// stamp returns the owner's next change timestamp: the proposed one, or one
// past the owner's last stamp when the proposal is not ahead of it. The
// stored mark makes stamps increase in commit order across processes.
func (r *BaseRepository) stamp(ctx context.Context, tx *sqlx.Tx, owner model.Owner, proposed int64) (int64, error) {
	query := tx.Rebind(`
		INSERT INTO owner_clocks (owner_kind, owner_id, last_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (owner_kind, owner_id) DO UPDATE SET last_ts = CASE
			WHEN owner_clocks.last_ts >= excluded.last_ts THEN owner_clocks.last_ts + 1
			ELSE excluded.last_ts
		END
		RETURNING last_ts
	`)
	var ts int64
	if err := tx.GetContext(ctx, &ts, query, string(owner.Kind), owner.ID, proposed); err != nil {
		return 0, fmt.Errorf("failed to stamp change for %s: %w", owner, err)
	}
	return ts, nil
}

// enqueue writes one outbox row per change in the caller's transaction.
func (r *BaseRepository) enqueue(ctx context.Context, tx *sqlx.Tx, changes ...*model.Change) error {
	query := tx.Rebind(`
		INSERT INTO outbox_events (
			id, seq, topic, event_type, payload, status, retry_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`)
	now := time.Now().UTC()
	for _, c := range changes {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode change %s: %w", c.ID, err)
		}
		_, err = tx.ExecContext(ctx, query,
			uuid.New().String(),
			c.TS,
			model.ChangesTopic,
			string(c.Event),
			payload,
			string(model.OutboxStatusPending),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
	}
	return nil
}
