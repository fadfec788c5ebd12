package worker

import (
	"context"
	"fmt"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

// DirectPublisher hands changes straight to the applier as the outbox
// publishes them. It replaces the broker when the outbox and the counters
// run in one process: an event counts as published only once its change has
// been applied, so a failed apply stays in the outbox for a retry.
type DirectPublisher struct {
	applier ChangeApplier
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewDirectPublisher(applier ChangeApplier, logger *logger.Logger, metrics *metrics.Metrics) *DirectPublisher {
	return &DirectPublisher{applier: applier, logger: logger, metrics: metrics}
}

func (p *DirectPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic != model.ChangesTopic {
		return fmt.Errorf("no in-process consumer for topic %s", topic)
	}
	p.metrics.BrokerMessages.WithLabelValues(topic, "received").Inc()

	change, err := decodeChange(payload)
	if err != nil {
		p.logger.Error(err, "dropping undecodable change")
		return nil
	}
	if err := p.applier.Apply(ctx, change); err != nil {
		return fmt.Errorf("failed to apply change %s: %w", change.ID, err)
	}
	return nil
}
