package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/pkg/clock"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/keycodec"
)

const notificationColumns = `id, owner_kind, owner_id, user_id, session_id, created_at, state,
	read_state, email_state, notification_type, fields, time_key, read_key, email_key`

// notificationRow is the stored shape of a notification. The three keys are
// the (owner, time), (owner, readState) and (user, emailState) indexes.
type notificationRow struct {
	ID               string        `db:"id"`
	OwnerKind        string        `db:"owner_kind"`
	OwnerID          string        `db:"owner_id"`
	UserID           string        `db:"user_id"`
	SessionID        string        `db:"session_id"`
	CreatedAt        int64         `db:"created_at"`
	State            string        `db:"state"`
	ReadState        string        `db:"read_state"`
	EmailState       string        `db:"email_state"`
	NotificationType string        `db:"notification_type"`
	Fields           model.JSONMap `db:"fields"`
	TimeKey          []byte        `db:"time_key"`
	ReadKey          []byte        `db:"read_key"`
	EmailKey         []byte        `db:"email_key"`
}

func toRow(n *model.Notification) *notificationRow {
	owner := n.Owner()
	return &notificationRow{
		ID:               n.ID,
		OwnerKind:        string(owner.Kind),
		OwnerID:          owner.ID,
		UserID:           n.User,
		SessionID:        n.Session,
		CreatedAt:        n.Time.UnixMilli(),
		State:            n.State,
		ReadState:        string(n.ReadState),
		EmailState:       string(n.EmailState),
		NotificationType: n.NotificationType,
		Fields:           n.Fields,
		TimeKey:          []byte(keycodec.Key(owner.ID, n.Time, n.ID)),
		ReadKey:          []byte(keycodec.StateKey(owner.ID, string(n.ReadState), n.Time, n.ID)),
		EmailKey:         []byte(keycodec.StateKey(owner.ID, string(n.EmailState), n.Time, n.ID)),
	}
}

func (row *notificationRow) owner() model.Owner {
	return model.Owner{Kind: model.OwnerKind(row.OwnerKind), ID: row.OwnerID}
}

func (row *notificationRow) toModel() *model.Notification {
	n := &model.Notification{
		ID:               row.ID,
		User:             row.UserID,
		Session:          row.SessionID,
		Time:             time.UnixMilli(row.CreatedAt).UTC(),
		State:            row.State,
		ReadState:        model.ReadState(row.ReadState),
		EmailState:       model.EmailState(row.EmailState),
		NotificationType: row.NotificationType,
		Fields:           row.Fields,
	}
	n.Cursor = keycodec.Key(row.OwnerID, n.Time, n.ID)
	return n
}

type notificationRepository struct {
	BaseRepository
	clock clock.Clock
}

func NewNotificationRepository(base BaseRepository, clk clock.Clock) repository.NotificationRepository {
	return &notificationRepository{BaseRepository: base, clock: clk}
}

func (r *notificationRepository) Get(ctx context.Context, id string) (*model.Notification, error) {
	var row notificationRow
	query := r.db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotificationNotFound(id)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return row.toModel(), nil
}

func (r *notificationRepository) Insert(ctx context.Context, n *model.Notification, event model.EventType) (*model.Change, error) {
	var change *model.Change
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.lockOwner(ctx, tx, n.Owner()); err != nil {
			return err
		}
		row := toRow(n)
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO notifications (`+notificationColumns+`)
			VALUES (:id, :owner_kind, :owner_id, :user_id, :session_id, :created_at, :state,
				:read_state, :email_state, :notification_type, :fields, :time_key, :read_key, :email_key)
		`, row)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}

		ts, err := r.stamp(ctx, tx, n.Owner(), r.clock.Tick())
		if err != nil {
			return err
		}
		change = &model.Change{ID: n.ID, Event: event, New: row.toModel(), TS: ts}
		return r.enqueue(ctx, tx, change)
	})
	if err != nil {
		return nil, err
	}
	n.Cursor = change.New.Cursor
	return change, nil
}

func (r *notificationRepository) Update(ctx context.Context, id string, event model.EventType, mutate repository.Mutation) (*model.Change, error) {
	var change *model.Change
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.NewNotificationNotFound(id)
		}
		change, err = r.updateRow(ctx, tx, current, event, mutate)
		if err != nil {
			return err
		}
		return r.enqueue(ctx, tx, change)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (r *notificationRepository) Delete(ctx context.Context, id string, event model.EventType) (*model.Change, error) {
	var change *model.Change
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		current, err := r.lockRow(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return apperrors.NewNotificationNotFound(id)
		}
		change, err = r.deleteRow(ctx, tx, current, event)
		if err != nil {
			return err
		}
		return r.enqueue(ctx, tx, change)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (r *notificationRepository) UpdateMany(ctx context.Context, owner model.Owner, ids []string, event model.EventType, mutate repository.Mutation) ([]*model.Change, error) {
	var changes []*model.Change
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		changes = changes[:0]
		for _, id := range ids {
			current, err := r.lockRow(ctx, tx, id)
			if err != nil {
				return err
			}
			if current == nil || current.owner() != owner {
				continue
			}
			change, err := r.updateRow(ctx, tx, current, event, mutate)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return r.enqueue(ctx, tx, changes...)
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *notificationRepository) UpdateByReadState(ctx context.Context, owner model.Owner, state model.ReadState, event model.EventType, mutate repository.Mutation) ([]*model.Change, error) {
	var changes []*model.Change
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		changes = changes[:0]
		rows, err := r.sweep(ctx, tx, owner, state)
		if err != nil {
			return err
		}
		for _, row := range rows {
			change, err := r.updateRow(ctx, tx, row, event, mutate)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return r.enqueue(ctx, tx, changes...)
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *notificationRepository) DeleteByReadState(ctx context.Context, owner model.Owner, state model.ReadState, event model.EventType) ([]*model.Change, error) {
	var changes []*model.Change
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		changes = changes[:0]
		rows, err := r.sweep(ctx, tx, owner, state)
		if err != nil {
			return err
		}
		for _, row := range rows {
			change, err := r.deleteRow(ctx, tx, row, event)
			if err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return r.enqueue(ctx, tx, changes...)
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *notificationRepository) ScanRange(ctx context.Context, owner model.Owner, rng keycodec.Range) ([]*model.Notification, error) {
	var (
		conds = []string{"owner_kind = ?", "owner_id = ?"}
		args  = []interface{}{string(owner.Kind), owner.ID}
	)
	bound := func(op, v string) {
		if v != "" {
			conds = append(conds, "time_key "+op+" ?")
			args = append(args, []byte(v))
		}
	}
	bound(">", rng.GT)
	bound(">=", rng.GTE)
	bound("<", rng.LT)
	bound("<=", rng.LTE)

	order := "ASC"
	if rng.Reverse {
		order = "DESC"
	}
	args = append(args, rng.Limit)

	query := r.db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY time_key ` + order + ` LIMIT ?`)

	var rows []*notificationRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	out := make([]*model.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (r *notificationRepository) ListByEmailState(ctx context.Context, user string, state model.EmailState) ([]*model.Notification, error) {
	lower := keycodec.StatePrefix(user, string(state))
	query := r.db.Rebind(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE owner_kind = ? AND email_key >= ? AND email_key < ?
		ORDER BY email_key ASC`)

	var rows []*notificationRow
	err := r.db.SelectContext(ctx, &rows, query, string(model.OwnerUser), []byte(lower), []byte(lower+keycodec.MaxSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications by email state: %w", err)
	}
	out := make([]*model.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// lockRow reads a row for update after taking its owner's lock. A missing
// row returns nil.
func (r *notificationRepository) lockRow(ctx context.Context, tx *sqlx.Tx, id string) (*notificationRow, error) {
	query := tx.Rebind(`SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`)

	var peek notificationRow
	if err := tx.GetContext(ctx, &peek, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	if !r.isPostgres() {
		return &peek, nil
	}

	if err := r.lockOwner(ctx, tx, peek.owner()); err != nil {
		return nil, err
	}
	var row notificationRow
	if err := tx.GetContext(ctx, &row, query+r.forUpdate(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock notification: %w", err)
	}
	return &row, nil
}

// sweep locks the owner and reads its (owner, readState) index range.
func (r *notificationRepository) sweep(ctx context.Context, tx *sqlx.Tx, owner model.Owner, state model.ReadState) ([]*notificationRow, error) {
	if err := r.lockOwner(ctx, tx, owner); err != nil {
		return nil, err
	}
	lower := keycodec.StatePrefix(owner.ID, string(state))
	query := tx.Rebind(`SELECT ` + notificationColumns + ` FROM notifications
		WHERE owner_kind = ? AND read_key >= ? AND read_key < ?
		ORDER BY read_key ASC` + r.forUpdate())

	var rows []*notificationRow
	err := tx.SelectContext(ctx, &rows, query, string(owner.Kind), []byte(lower), []byte(lower+keycodec.MaxSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to sweep notifications: %w", err)
	}
	return rows, nil
}

func (r *notificationRepository) updateRow(ctx context.Context, tx *sqlx.Tx, current *notificationRow, event model.EventType, mutate repository.Mutation) (*model.Change, error) {
	old := current.toModel()
	next := old.Clone()
	mutate(next)
	// identity and creation time are immutable
	next.ID, next.User, next.Session, next.Time = old.ID, old.User, old.Session, old.Time

	row := toRow(next)
	_, err := tx.NamedExecContext(ctx, `
		UPDATE notifications SET
			state = :state,
			read_state = :read_state,
			email_state = :email_state,
			fields = :fields,
			read_key = :read_key,
			email_key = :email_key
		WHERE id = :id
	`, row)
	if err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	ts, err := r.stamp(ctx, tx, current.owner(), r.clock.Tick())
	if err != nil {
		return nil, err
	}
	return &model.Change{ID: old.ID, Event: event, Old: old, New: row.toModel(), TS: ts}, nil
}

func (r *notificationRepository) deleteRow(ctx context.Context, tx *sqlx.Tx, current *notificationRow, event model.EventType) (*model.Change, error) {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM notifications WHERE id = ?`), current.ID); err != nil {
		return nil, fmt.Errorf("failed to delete notification: %w", err)
	}
	ts, err := r.stamp(ctx, tx, current.owner(), r.clock.Tick())
	if err != nil {
		return nil, err
	}
	return &model.Change{ID: current.ID, Event: event, Old: current.toModel(), TS: ts}, nil
}
