// Package worker runs the background consumers of the change stream.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

const applyAttempts = 3

// ChangeApplier folds a committed change into a read model.
type ChangeApplier interface {
	Apply(ctx context.Context, change *model.Change) error
}

type delivery struct {
	msg    *messaging.Message
	change *model.Change
}

// ChangeConsumer reads the change topic and hands each change to the
// applier. Changes are sharded by owner so one owner's changes are applied
// in order while different owners proceed in parallel.
type ChangeConsumer struct {
	broker  messaging.Broker
	applier ChangeApplier
	workers int
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewChangeConsumer(broker messaging.Broker, applier ChangeApplier, workers int, logger *logger.Logger, metrics *metrics.Metrics) *ChangeConsumer {
	if workers <= 0 {
		workers = 1
	}
	return &ChangeConsumer{
		broker:  broker,
		applier: applier,
		workers: workers,
		logger:  logger,
		metrics: metrics,
	}
}

// Run blocks until ctx is done or the broker closes. Deliveries already
// handed to a shard are still applied and acknowledged after ctx is done.
func (c *ChangeConsumer) Run(ctx context.Context) error {
	drainCtx := context.WithoutCancel(ctx)
	shards := make([]chan delivery, c.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan delivery, 64)
		wg.Add(1)
		go func(ch <-chan delivery) {
			defer wg.Done()
			for d := range ch {
				c.handle(drainCtx, d)
			}
		}(shards[i])
	}

	c.logger.Info("Starting change consumer", "workers", c.workers)
	err := c.broker.Subscribe(ctx, model.ChangesTopic, func(ctx context.Context, msg *messaging.Message) error {
		c.metrics.BrokerMessages.WithLabelValues(msg.Topic, "received").Inc()

		change, err := decodeChange(msg.Payload)
		if err != nil {
			c.logger.Error(err, "dropping undecodable change", "message", msg.ID)
			return msg.Ack(ctx)
		}

		select {
		case shards[shardOf(change, len(shards))] <- delivery{msg: msg, change: change}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	c.logger.Info("Change consumer stopped")
	return err
}

// handle applies with a short retry. A change that still fails stays
// unacknowledged and is redelivered when the consumer restarts; the
// counter guards make the repeat harmless.
func (c *ChangeConsumer) handle(ctx context.Context, d delivery) {
	var err error
	for attempt := 1; attempt <= applyAttempts; attempt++ {
		if err = c.applier.Apply(ctx, d.change); err == nil {
			break
		}
		if attempt == applyAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	if err != nil {
		c.logger.Error(err, "failed to apply change", "change", d.change.ID, "event", string(d.change.Event))
		return
	}
	if err := d.msg.Ack(ctx); err != nil {
		c.logger.Error(err, "failed to ack change", "message", d.msg.ID)
	}
}

// decodeChange fails only on payloads that will never decode.
func decodeChange(payload []byte) (*model.Change, error) {
	var change model.Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return nil, fmt.Errorf("failed to decode change: %w", err)
	}
	return &change, nil
}

func shardOf(change *model.Change, n int) int {
	h := fnv.New32a()
	h.Write([]byte(ownerKey(change)))
	return int(h.Sum32() % uint32(n))
}

func ownerKey(change *model.Change) string {
	n := change.New
	if n == nil {
		n = change.Old
	}
	if n == nil {
		return change.ID
	}
	return fmt.Sprintf("%s/%s", n.User, n.Session)
}
