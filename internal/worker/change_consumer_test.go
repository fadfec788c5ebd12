package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied map[string][]int64
	fail    map[string]int
	gate    chan struct{}
	entered chan struct{}
}

func (a *recordingApplier) Apply(ctx context.Context, change *model.Change) error {
	if a.gate != nil {
		a.entered <- struct{}{}
		<-a.gate
	}
	// a store refuses work on a cancelled context
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail[change.ID] > 0 {
		a.fail[change.ID]--
		return errors.New("transient")
	}
	key := ownerKey(change)
	a.applied[key] = append(a.applied[key], change.TS)
	return nil
}

func (a *recordingApplier) total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ts := range a.applied {
		n += len(ts)
	}
	return n
}

// queueBroker buffers published messages for one subscriber and records
// acknowledgements.
type queueBroker struct {
	msgs       chan *messaging.Message
	subscribed chan struct{}

	mu      sync.Mutex
	seq     int
	handled int
	acked   []string
}

func newQueueBroker() *queueBroker {
	return &queueBroker{msgs: make(chan *messaging.Message, 100), subscribed: make(chan struct{})}
}

func (b *queueBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.seq++
	id := strconv.Itoa(b.seq)
	b.mu.Unlock()
	b.msgs <- messaging.NewMessage(id, topic, payload, func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.acked = append(b.acked, id)
		return nil
	})
	return nil
}

func (b *queueBroker) Subscribe(ctx context.Context, _ string, handler messaging.Handler) error {
	close(b.subscribed)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-b.msgs:
			_ = handler(ctx, msg)
			b.mu.Lock()
			b.handled++
			b.mu.Unlock()
		}
	}
}

func (b *queueBroker) Close() error { return nil }

func (b *queueBroker) counts() (handled, acked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handled, len(b.acked)
}

// startConsumer runs a consumer until the returned stop is called or the
// test ends. stop waits for Run to return.
func startConsumer(t *testing.T, broker *queueBroker, applier ChangeApplier, workers int) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	consumer := NewChangeConsumer(broker, applier, workers, logger.Nop(), metrics.New("test"))
	go func() {
		defer close(done)
		consumer.Run(ctx)
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(stop)
	select {
	case <-broker.subscribed:
	case <-time.After(time.Second):
		t.Fatal("consumer did not subscribe")
	}
	return stop
}

func publish(t *testing.T, broker *queueBroker, change *model.Change) {
	t.Helper()
	payload, err := json.Marshal(change)
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), model.ChangesTopic, payload))
}

func TestChangeConsumerKeepsOwnerOrder(t *testing.T) {
	broker := newQueueBroker()
	applier := &recordingApplier{applied: map[string][]int64{}}
	startConsumer(t, broker, applier, 4)

	owners := []string{"u1", "u2", "u3", "u4", "u5"}
	for ts := int64(1); ts <= 20; ts++ {
		user := owners[int(ts)%len(owners)]
		publish(t, broker, &model.Change{ID: "c", Event: model.EventMarked, TS: ts,
			New: &model.Notification{ID: "n-" + user, User: user}})
	}
	require.NoError(t, broker.Publish(context.Background(), model.ChangesTopic, []byte("not json")))

	require.Eventually(t, func() bool { return applier.total() == 20 }, time.Second, 5*time.Millisecond)
	applier.mu.Lock()
	defer applier.mu.Unlock()
	for key, ts := range applier.applied {
		assert.IsIncreasing(t, ts, key)
	}
	require.Eventually(t, func() bool {
		_, acked := broker.counts()
		return acked == 21
	}, time.Second, 5*time.Millisecond)
}

func TestChangeConsumerRetriesTransientFailures(t *testing.T) {
	broker := newQueueBroker()
	applier := &recordingApplier{applied: map[string][]int64{}, fail: map[string]int{"c1": 2}}
	startConsumer(t, broker, applier, 1)

	publish(t, broker, &model.Change{ID: "c1", Event: model.EventNotificationCreated, TS: 1,
		New: &model.Notification{ID: "n1", User: "u1"}})

	require.Eventually(t, func() bool { return applier.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestChangeConsumerLeavesFailedChangesUnacked(t *testing.T) {
	broker := newQueueBroker()
	applier := &recordingApplier{applied: map[string][]int64{}, fail: map[string]int{"c1": applyAttempts}}
	stop := startConsumer(t, broker, applier, 1)

	publish(t, broker, &model.Change{ID: "c1", Event: model.EventNotificationCreated, TS: 1,
		New: &model.Notification{ID: "n1", User: "u1"}})
	publish(t, broker, &model.Change{ID: "c2", Event: model.EventNotificationCreated, TS: 2,
		New: &model.Notification{ID: "n2", User: "u1"}})

	require.Eventually(t, func() bool { return applier.total() == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()
	_, acked := broker.counts()
	assert.Equal(t, 1, acked)
}

func TestChangeConsumerDrainsShardsOnShutdown(t *testing.T) {
	broker := newQueueBroker()
	applier := &recordingApplier{
		applied: map[string][]int64{},
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 10),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	consumer := NewChangeConsumer(broker, applier, 1, logger.Nop(), metrics.New("test"))
	go func() { done <- consumer.Run(ctx) }()
	<-broker.subscribed

	for ts := int64(1); ts <= 3; ts++ {
		publish(t, broker, &model.Change{ID: "c", Event: model.EventNotificationCreated, TS: ts,
			New: &model.Notification{ID: "n", User: "u1"}})
	}
	<-applier.entered
	require.Eventually(t, func() bool {
		handled, _ := broker.counts()
		return handled == 3
	}, time.Second, time.Millisecond)

	// shut down while the first change is still being applied
	cancel()
	close(applier.gate)
	require.NoError(t, <-done)

	assert.Equal(t, 3, applier.total())
	_, acked := broker.counts()
	assert.Equal(t, 3, acked)
}

func TestShardOfIsStablePerOwner(t *testing.T) {
	created := &model.Change{New: &model.Notification{ID: "n1", Session: "s1"}}
	removed := &model.Change{Old: &model.Notification{ID: "n2", Session: "s1"}}
	assert.Equal(t, shardOf(created, 8), shardOf(removed, 8))
	assert.Equal(t, 0, shardOf(created, 1))
}
