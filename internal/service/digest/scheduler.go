// Package digest sends batched emails about notifications a user has not
// been emailed about yet. A notification arms a deferred check; when it
// fires, everything still pending for the user goes out in one email.
package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/notification-service/internal/email"
	"github.com/jwalitptl/notification-service/internal/identity"
	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/render"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

const (
	resultSent   = "sent"
	resultEmpty  = "empty"
	resultFailed = "failed"
	resultMerged = "merged"
	resultBusy   = "busy"
)

// Source reads and settles the email state of a user's notifications.
type Source interface {
	Pending(ctx context.Context, user string) ([]*model.Notification, error)
	MarkEmailed(ctx context.Context, user string, ids []string) error
}

// Locker serializes runs for one user across processes.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}

type Renderers interface {
	Lookup(notificationType string) (render.Renderer, bool)
}

type Config struct {
	// Delay plus CheckDelay is how long a new notification waits before
	// the digest check fires.
	Delay      time.Duration
	CheckDelay time.Duration
	// RunTimeout bounds a single run including rendering and sending.
	RunTimeout time.Duration
	// Locker is optional. When another process holds a user's lock the
	// check is re-armed after CheckDelay.
	Locker Locker
}

type Scheduler struct {
	source    Source
	directory identity.Directory
	renderers Renderers
	composer  *email.Composer
	mailer    email.Mailer
	config    Config
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	// running holds users with a run in flight; the value records whether
	// another trigger arrived meanwhile.
	running map[string]bool
	closed  bool
	wg      sync.WaitGroup
}

func NewScheduler(
	source Source,
	directory identity.Directory,
	renderers Renderers,
	composer *email.Composer,
	mailer email.Mailer,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Scheduler {
	if config.RunTimeout <= 0 {
		config.RunTimeout = time.Minute
	}
	return &Scheduler{
		source:    source,
		directory: directory,
		renderers: renderers,
		composer:  composer,
		mailer:    mailer,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		timers:    make(map[*time.Timer]struct{}),
		running:   make(map[string]bool),
	}
}

// SetSource wires the notification side after construction, since the
// notification service itself needs the scheduler.
func (s *Scheduler) SetSource(source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
}

// Schedule arms a one-shot check for user. Repeated calls arm more timers;
// the admission queue in Trigger keeps them from piling up work.
func (s *Scheduler) Schedule(user string) {
	s.arm(user, s.config.Delay+s.config.CheckDelay)
}

func (s *Scheduler) arm(user string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.Trigger(user)
	})
	s.timers[t] = struct{}{}
}

// Trigger runs the digest for user now, unless a run is already in flight,
// in which case exactly one more run follows it.
func (s *Scheduler) Trigger(user string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, busy := s.running[user]; busy {
		s.running[user] = true
		s.mu.Unlock()
		s.metrics.DigestRuns.WithLabelValues(resultMerged).Inc()
		return
	}
	s.running[user] = false
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(user)
}

func (s *Scheduler) loop(user string) {
	defer s.wg.Done()
	for {
		s.runOnce(user)

		s.mu.Lock()
		if s.running[user] {
			s.running[user] = false
			s.mu.Unlock()
			continue
		}
		delete(s.running, user)
		s.mu.Unlock()
		return
	}
}

func (s *Scheduler) runOnce(user string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	log := s.logger.With("user", user)
	if s.config.Locker != nil {
		unlock, ok, err := s.config.Locker.TryLock(ctx, "digest:"+user)
		if err != nil {
			s.metrics.DigestRuns.WithLabelValues(resultFailed).Inc()
			log.Error(err, "digest lock failed")
			return
		}
		if !ok {
			s.metrics.DigestRuns.WithLabelValues(resultBusy).Inc()
			retry := s.config.CheckDelay
			if retry <= 0 {
				retry = time.Second
			}
			s.arm(user, retry)
			return
		}
		defer unlock()
	}

	start := time.Now()
	result, err := s.run(ctx, user)
	s.metrics.DigestLatency.Observe(time.Since(start).Seconds())
	s.metrics.DigestRuns.WithLabelValues(result).Inc()

	if err != nil {
		log.Error(err, "digest run failed")
		return
	}
	log.Debug("digest run finished", "result", result)
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Wait blocks until no run is in flight.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close stops armed timers and waits for in-flight runs.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	s.mu.Unlock()

	s.wg.Wait()
}

// run sends one digest. Nothing is marked unless the email went out, so a
// failed run is retried by the next trigger for the same user.
func (s *Scheduler) run(ctx context.Context, user string) (string, error) {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()

	pending, err := source.Pending(ctx, user)
	if err != nil {
		return resultFailed, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	if len(pending) == 0 {
		return resultEmpty, nil
	}

	profile, err := s.directory.Profile(ctx, user)
	if err != nil {
		return resultFailed, fmt.Errorf("failed to load profile: %w", err)
	}

	var (
		fragments []render.Fragment
		ids       []string
		seen      = make(map[string]bool)
	)
	for _, n := range pending {
		renderer, ok := s.renderers.Lookup(n.NotificationType)
		if !ok {
			s.logger.Warn("no renderer for notification type", "type", n.NotificationType, "id", n.ID)
			continue
		}
		out, err := renderer.Render(ctx, n.Clone(), profile)
		if err != nil {
			return resultFailed, err
		}
		for _, f := range out {
			if f.IsEmpty() {
				continue
			}
			if f.NotificationID == "" {
				f.NotificationID = n.ID
			}
			fragments = append(fragments, f)
			if !seen[n.ID] {
				seen[n.ID] = true
				ids = append(ids, n.ID)
			}
		}
	}
	if len(fragments) == 0 {
		return resultEmpty, nil
	}

	msg, err := s.composer.Compose(profile, fragments)
	if err != nil {
		return resultFailed, err
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return resultFailed, err
	}
	if err := source.MarkEmailed(ctx, user, ids); err != nil {
		return resultFailed, fmt.Errorf("failed to mark notifications emailed: %w", err)
	}
	return resultSent, nil
}
