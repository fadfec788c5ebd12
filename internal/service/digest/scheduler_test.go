package digest_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/email"
	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/render"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/service/digest"
	"github.com/jwalitptl/notification-service/internal/service/notification"
	"github.com/jwalitptl/notification-service/internal/testutil"
	"github.com/jwalitptl/notification-service/pkg/clock"
	"github.com/jwalitptl/notification-service/pkg/keycodec"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

type fakeDirectory struct {
	calls int32
}

func (d *fakeDirectory) Profile(ctx context.Context, userID string) (*model.UserProfile, error) {
	atomic.AddInt32(&d.calls, 1)
	return &model.UserProfile{ID: userID, Display: "Ann", Email: userID + "@example.com", Language: "en"}, nil
}

type fakeMailer struct {
	mu      sync.Mutex
	sent    []*email.Message
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *fakeMailer) Send(ctx context.Context, msg *email.Message) error {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) messages() []*email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*email.Message(nil), m.sent...)
}

func (m *fakeMailer) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// countingSource counts Pending reads, one per digest run.
type countingSource struct {
	digest.Source
	runs int32
}

func (s *countingSource) Pending(ctx context.Context, user string) ([]*model.Notification, error) {
	atomic.AddInt32(&s.runs, 1)
	return s.Source.Pending(ctx, user)
}

type fixture struct {
	svc       notification.Service
	repo      repository.NotificationRepository
	scheduler *digest.Scheduler
	source    *countingSource
	directory *fakeDirectory
	mailer    *fakeMailer
}

type flakyLocker struct {
	mu       sync.Mutex
	busy     int
	attempts int
	held     map[string]bool
}

func (l *flakyLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.busy > 0 {
		l.busy--
		return nil, false, nil
	}
	if l.held[name] {
		return nil, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}, true, nil
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	return newFixtureWithConfig(t, digest.Config{Delay: delay})
}

func newFixtureWithConfig(t *testing.T, config digest.Config) *fixture {
	clk := clock.NewMonotonic()
	base := sqlstore.NewBaseRepository(testutil.NewTestDB(t))
	repo := sqlstore.NewNotificationRepository(base, clk)

	renderers := render.NewRegistry()
	renderers.Register("comment", render.RendererFunc(func(ctx context.Context, n *model.Notification, p *model.UserProfile) ([]render.Fragment, error) {
		return []render.Fragment{{Title: "Comment " + n.ID, Body: "by someone"}}, nil
	}))
	renderers.Register("silent", render.RendererFunc(func(ctx context.Context, n *model.Notification, p *model.UserProfile) ([]render.Fragment, error) {
		return []render.Fragment{{}}, nil
	}))
	renderers.Register("broken", render.RendererFunc(func(ctx context.Context, n *model.Notification, p *model.UserProfile) ([]render.Fragment, error) {
		return nil, errors.New("renderer down")
	}))

	f := &fixture{repo: repo, directory: &fakeDirectory{}, mailer: &fakeMailer{}}
	f.scheduler = digest.NewScheduler(nil, f.directory, renderers, email.NewComposer([]string{"en"}, ""), f.mailer,
		config, logger.Nop(), metrics.New("test"))
	f.svc = notification.NewService(repo, sqlstore.NewCounterRepository(base), keycodec.NewPlanner(0, 0),
		f.scheduler, clk, notification.Config{}, logger.Nop())
	f.source = &countingSource{Source: f.svc}
	f.scheduler.SetSource(f.source)
	t.Cleanup(f.scheduler.Close)
	return f
}

func (f *fixture) notify(t *testing.T, user, notificationType string) string {
	t.Helper()
	id, err := f.svc.Notify(context.Background(), &model.NotifyRequest{User: user, NotificationType: notificationType})
	require.NoError(t, err)
	return id
}

func (f *fixture) emailState(t *testing.T, id string) model.EmailState {
	t.Helper()
	n, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return n.EmailState
}

func (f *fixture) runNow(user string) {
	f.scheduler.Trigger(user)
	f.scheduler.Wait()
}

func TestDigestBatchesPendingNotifications(t *testing.T) {
	f := newFixture(t, time.Hour)
	ids := []string{f.notify(t, "u1", "comment"), f.notify(t, "u1", "comment"), f.notify(t, "u1", "comment")}
	other := f.notify(t, "u2", "comment")

	f.runNow("u1")

	msgs := f.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "u1@example.com", msgs[0].To)
	for _, id := range ids {
		assert.Contains(t, msgs[0].HTML, "Comment "+id)
		assert.Equal(t, model.EmailStateSent, f.emailState(t, id))
	}
	assert.Equal(t, model.EmailStateNew, f.emailState(t, other))

	// everything is settled, so a second check sends nothing
	f.runNow("u1")
	assert.Len(t, f.mailer.messages(), 1)
}

func TestDigestSendFailureLeavesNotificationsPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	ids := []string{f.notify(t, "u1", "comment"), f.notify(t, "u1", "comment"), f.notify(t, "u1", "comment")}

	f.mailer.fail(errors.New("smtp down"))
	f.runNow("u1")
	for _, id := range ids {
		assert.Equal(t, model.EmailStateNew, f.emailState(t, id))
	}

	f.mailer.fail(nil)
	f.runNow("u1")
	require.Len(t, f.mailer.messages(), 1)
	for _, id := range ids {
		assert.Equal(t, model.EmailStateSent, f.emailState(t, id))
	}
}

func TestDigestRendererFailureMarksNothing(t *testing.T) {
	f := newFixture(t, time.Hour)
	ok := f.notify(t, "u1", "comment")
	f.notify(t, "u1", "broken")

	f.runNow("u1")

	assert.Empty(t, f.mailer.messages())
	assert.Equal(t, model.EmailStateNew, f.emailState(t, ok))
}

func TestDigestNothingPending(t *testing.T) {
	f := newFixture(t, time.Hour)

	f.runNow("u1")

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.source.runs))
	assert.Zero(t, atomic.LoadInt32(&f.directory.calls))
	assert.Empty(t, f.mailer.messages())
}

func TestDigestMarksOnlyRenderedNotifications(t *testing.T) {
	f := newFixture(t, time.Hour)
	rendered := f.notify(t, "u1", "comment")
	unknown := f.notify(t, "u1", "unknownType")
	empty := f.notify(t, "u1", "silent")

	f.runNow("u1")

	msgs := f.mailer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.EmailStateSent, f.emailState(t, rendered))
	assert.Equal(t, model.EmailStateNew, f.emailState(t, unknown))
	assert.Equal(t, model.EmailStateNew, f.emailState(t, empty))
}

func TestDigestNothingRenderableSendsNothing(t *testing.T) {
	f := newFixture(t, time.Hour)
	id := f.notify(t, "u1", "silent")

	f.runNow("u1")

	assert.Empty(t, f.mailer.messages())
	assert.Equal(t, model.EmailStateNew, f.emailState(t, id))
}

func TestDigestMergesConcurrentTriggers(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.notify(t, "u1", "comment")
	f.mailer.entered = make(chan struct{})
	f.mailer.release = make(chan struct{})

	f.scheduler.Trigger("u1")
	<-f.mailer.entered

	// both arrive while the first run is sending and collapse into one rerun
	f.scheduler.Trigger("u1")
	f.scheduler.Trigger("u1")
	close(f.mailer.release)
	f.scheduler.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&f.source.runs))
	assert.Len(t, f.mailer.messages(), 1)
}

func TestScheduleFiresAfterDelay(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	id := f.notify(t, "u1", "comment")

	require.Eventually(t, func() bool {
		return len(f.mailer.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	f.scheduler.Wait()
	assert.Equal(t, model.EmailStateSent, f.emailState(t, id))
}

func TestCloseStopsArmedTimers(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.notify(t, "u1", "comment")
	f.notify(t, "u2", "comment")
	assert.Equal(t, 2, f.scheduler.Pending())

	f.scheduler.Close()
	assert.Zero(t, f.scheduler.Pending())

	f.scheduler.Trigger("u1")
	f.scheduler.Schedule("u1")
	assert.Zero(t, f.scheduler.Pending())
	assert.Zero(t, atomic.LoadInt32(&f.source.runs))
}

func TestDigestRetriesWhenLockedElsewhere(t *testing.T) {
	locker := &flakyLocker{busy: 1, held: map[string]bool{}}
	f := newFixtureWithConfig(t, digest.Config{Delay: time.Hour, CheckDelay: 10 * time.Millisecond, Locker: locker})
	id := f.notify(t, "u1", "comment")

	f.scheduler.Trigger("u1")

	require.Eventually(t, func() bool {
		return len(f.mailer.messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	f.scheduler.Wait()
	assert.Equal(t, model.EmailStateSent, f.emailState(t, id))

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Equal(t, 2, locker.attempts)
	assert.Empty(t, locker.held)
}
