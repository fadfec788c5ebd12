package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/pkg/clock"
	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/keycodec"
	"github.com/jwalitptl/notification-service/pkg/logger"
)

// Scheduler arms a deferred digest check for a user.
type Scheduler interface {
	Schedule(user string)
}

// CounterReader reads materialized unread counters.
type CounterReader interface {
	Get(ctx context.Context, owner model.Owner) (*model.UnreadCounter, error)
}

type Service interface {
	Notify(ctx context.Context, req *model.NotifyRequest) (string, error)
	Mark(ctx context.Context, caller model.Owner, id, state string) error
	SetReadState(ctx context.Context, caller model.Owner, id string, readState model.ReadState) error
	Remove(ctx context.Context, caller model.Owner, id string) error
	MarkAllRead(ctx context.Context, owner model.Owner) (int, error)
	RemoveAll(ctx context.Context, owner model.Owner) (int, error)
	MarkEmailed(ctx context.Context, user string, ids []string) error
	List(ctx context.Context, owner model.Owner, req keycodec.PageRequest) ([]*model.Notification, error)
	UnreadCount(ctx context.Context, owner model.Owner) (*model.UnreadCounter, error)
	Pending(ctx context.Context, user string) ([]*model.Notification, error)
}

type Config struct {
	// Fields are the caller extension fields copied onto new notifications.
	Fields []string
}

type service struct {
	repo      repository.NotificationRepository
	counters  CounterReader
	planner   *keycodec.Planner
	scheduler Scheduler
	clock     clock.Clock
	config    Config
	logger    *logger.Logger
}

func NewService(
	repo repository.NotificationRepository,
	counters CounterReader,
	planner *keycodec.Planner,
	scheduler Scheduler,
	clk clock.Clock,
	config Config,
	logger *logger.Logger,
) Service {
	return &service{
		repo:      repo,
		counters:  counters,
		planner:   planner,
		scheduler: scheduler,
		clock:     clk,
		config:    config,
		logger:    logger,
	}
}

func (s *service) Notify(ctx context.Context, req *model.NotifyRequest) (string, error) {
	if req.User == "" && req.Session == "" {
		return "", apperrors.IdentityRequired
	}
	if req.NotificationType == "" {
		return "", apperrors.NewBadRequest("notificationType is required", nil)
	}

	n := &model.Notification{
		ID:               uuid.NewString(),
		User:             req.User,
		Time:             s.clock.Now().Truncate(time.Millisecond),
		ReadState:        model.ReadStateNew,
		EmailState:       model.EmailStateNew,
		NotificationType: req.NotificationType,
		Fields:           req.Fields.Pick(s.config.Fields),
	}
	// exactly one owner: a user wins over a session
	if n.User == "" {
		n.Session = req.Session
	}

	data := Apply(model.Event{Type: model.EventNotificationCreated, Data: n}, nil)
	if _, err := s.repo.Insert(ctx, data, model.EventNotificationCreated); err != nil {
		return "", fmt.Errorf("failed to create notification: %w", err)
	}

	if data.User != "" && s.scheduler != nil {
		s.scheduler.Schedule(data.User)
	}
	s.logger.Debug("notification created", "id", data.ID, "owner", data.Owner().String(), "type", data.NotificationType)
	return data.ID, nil
}

func (s *service) Mark(ctx context.Context, caller model.Owner, id, state string) error {
	ev := model.Event{Type: model.EventMarked, Notification: id, State: state}
	return s.updateOwned(ctx, caller, ev)
}

func (s *service) SetReadState(ctx context.Context, caller model.Owner, id string, readState model.ReadState) error {
	if readState != model.ReadStateNew && readState != model.ReadStateRead {
		return apperrors.NewBadRequest(fmt.Sprintf("invalid read state %q", readState), nil)
	}
	ev := model.Event{Type: model.EventReadState, Notification: id, ReadState: readState}
	return s.updateOwned(ctx, caller, ev)
}

func (s *service) Remove(ctx context.Context, caller model.Owner, id string) error {
	if err := s.authorize(ctx, caller, id); err != nil {
		return err
	}
	if _, err := s.repo.Delete(ctx, id, model.EventRemoved); err != nil {
		return err
	}
	return nil
}

// MarkAllRead sweeps only the owner's unread notifications.
func (s *service) MarkAllRead(ctx context.Context, owner model.Owner) (int, error) {
	if owner.IsZero() {
		return 0, apperrors.IdentityRequired
	}
	ev := model.Event{Type: model.EventAllRead, Owner: owner}
	changes, err := s.repo.UpdateByReadState(ctx, owner, model.ReadStateNew, ev.Type, mutation(ev))
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

// RemoveAll deletes only the owner's unread notifications; read ones are
// kept as history.
func (s *service) RemoveAll(ctx context.Context, owner model.Owner) (int, error) {
	if owner.IsZero() {
		return 0, apperrors.IdentityRequired
	}
	changes, err := s.repo.DeleteByReadState(ctx, owner, model.ReadStateNew, model.EventAllRemoved)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}

func (s *service) MarkEmailed(ctx context.Context, user string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ev := model.Event{Type: model.EventEmailNotification, Owner: model.UserOwner(user), Notifications: ids}
	_, err := s.repo.UpdateMany(ctx, ev.Owner, ids, ev.Type, mutation(ev))
	return err
}

func (s *service) List(ctx context.Context, owner model.Owner, req keycodec.PageRequest) ([]*model.Notification, error) {
	if owner.IsZero() {
		return nil, apperrors.IdentityRequired
	}
	rng, err := s.planner.Plan(owner.ID, req)
	if err != nil {
		return nil, err
	}
	return s.repo.ScanRange(ctx, owner, rng)
}

func (s *service) UnreadCount(ctx context.Context, owner model.Owner) (*model.UnreadCounter, error) {
	if owner.IsZero() {
		return nil, apperrors.IdentityRequired
	}
	return s.counters.Get(ctx, owner)
}

// Pending lists the user's notifications not yet included in a digest.
func (s *service) Pending(ctx context.Context, user string) ([]*model.Notification, error) {
	return s.repo.ListByEmailState(ctx, user, model.EmailStateNew)
}

func (s *service) updateOwned(ctx context.Context, caller model.Owner, ev model.Event) error {
	if err := s.authorize(ctx, caller, ev.Notification); err != nil {
		return err
	}
	if _, err := s.repo.Update(ctx, ev.Notification, ev.Type, mutation(ev)); err != nil {
		return err
	}
	return nil
}

// authorize checks the caller owns the notification.
func (s *service) authorize(ctx context.Context, caller model.Owner, id string) error {
	if caller.IsZero() {
		return apperrors.IdentityRequired
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Owner() != caller {
		return apperrors.NewForbidden("notification belongs to another owner")
	}
	return nil
}
