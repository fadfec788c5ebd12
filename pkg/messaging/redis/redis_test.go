package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-service/pkg/messaging"
)

// newTestBroker connects to NOTIFY_TEST_REDIS_URL and skips without it.
func newTestBroker(t *testing.T, consumer string) *RedisBroker {
	t.Helper()
	url := os.Getenv("NOTIFY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NOTIFY_TEST_REDIS_URL not set")
	}
	b, err := NewRedisBroker(Config{URL: url, Group: "test", Consumer: consumer, Block: 100 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRedisBrokerRedeliversUnacked(t *testing.T) {
	topic := "test-" + uuid.NewString()
	b := newTestBroker(t, "c1")
	ctx := context.Background()

	// create the group before publishing
	first, cancel := context.WithCancel(ctx)
	got := make(chan *messaging.Message, 10)
	go b.Subscribe(first, topic, func(_ context.Context, msg *messaging.Message) error {
		got <- msg
		return nil
	})
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, topic, []byte(`{"n":1}`)))
	msg := <-got
	assert.Equal(t, `{"n":1}`, string(msg.Payload))
	cancel()
	time.Sleep(200 * time.Millisecond)

	// not acknowledged, so a new subscription replays it
	second, cancel2 := context.WithCancel(ctx)
	defer cancel2()
	go b.Subscribe(second, topic, func(ctx context.Context, msg *messaging.Message) error {
		got <- msg
		return msg.Ack(ctx)
	})

	select {
	case msg := <-got:
		assert.Equal(t, `{"n":1}`, string(msg.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("pending message was not redelivered")
	}
}
