package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/jwalitptl/notification-service/pkg/messaging"
)

const payloadField = "payload"

// RedisBroker publishes on redis streams and consumes through a consumer
// group, so unacknowledged messages survive a consumer restart.
type RedisBroker struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	cfg    Config
	logger *zerolog.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	// Group and Consumer name the stream consumer group and this member.
	Group    string
	Consumer string
	// MaxLen caps each stream, approximately. Zero keeps everything.
	MaxLen    int64
	BatchSize int64
	Block     time.Duration
}

func NewRedisBroker(config Config, logger *zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newBroker(client, config, logger), nil
}

func newBroker(client *redis.Client, config Config, logger *zerolog.Logger) *RedisBroker {
	if config.Group == "" {
		config.Group = "notification-service"
	}
	if config.Consumer == "" {
		config.Consumer = "consumer-1"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.Block <= 0 {
		config.Block = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-broker",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RedisBroker{
		client: client,
		cb:     cb,
		cfg:    config,
		logger: logger,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		args := &redis.XAddArgs{
			Stream: topic,
			Values: map[string]interface{}{payloadField: payload},
		}
		if b.cfg.MaxLen > 0 {
			args.MaxLen = b.cfg.MaxLen
			args.Approx = true
		}
		return nil, b.client.XAdd(ctx, args).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe first replays this consumer's pending (delivered but not
// acknowledged) messages, then reads new ones.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string, handler messaging.Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	start := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{topic, start},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error().Err(err).Str("topic", topic).Msg("failed to read stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.cfg.Block):
			}
			continue
		}

		last := ""
		for _, stream := range streams {
			for _, xm := range stream.Messages {
				last = xm.ID
				msg := b.toMessage(topic, xm)
				if err := handler(ctx, msg); err != nil {
					b.logger.Error().Err(err).Str("topic", topic).Str("id", xm.ID).Msg("handler failed")
				}
			}
		}
		// pending replay walks forward from the last replayed id and ends
		// once it comes back empty
		if start != ">" {
			if last == "" {
				start = ">"
			} else {
				start = last
			}
		}
	}
}

func (b *RedisBroker) toMessage(topic string, xm redis.XMessage) *messaging.Message {
	var payload []byte
	switch v := xm.Values[payloadField].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	}
	id := xm.ID
	return messaging.NewMessage(id, topic, payload, func(ctx context.Context) error {
		return b.client.XAck(ctx, topic, b.cfg.Group, id).Err()
	})
}

// Client exposes the connection pool for other redis users in the process.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
