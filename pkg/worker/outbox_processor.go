package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

// Publisher is the part of a broker the outbox needs. An event is marked
// processed only after Publish returns nil.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// Retention is how long processed events are kept before cleanup.
	Retention time.Duration
}

// OutboxProcessor publishes committed changes to the broker in commit
// order. A failing event holds back everything after it until it is
// published or given up on.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  Publisher
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker Publisher,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch publishes pending events in order and returns how many were
// published. It stops at the first event that is waiting for a retry.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.OutboxQueueSize.Set(float64(len(events)))

	published := 0
	for _, event := range events {
		if event.RetryAt != nil && event.RetryAt.After(p.now()) {
			break
		}
		sent, next, err := p.processEvent(ctx, event)
		if err != nil {
			return published, err
		}
		if sent {
			published++
		}
		if !next {
			break
		}
	}
	return published, nil
}

// processEvent reports whether the event was published and whether the
// batch may continue past it.
func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) (sent, next bool, err error) {
	pubErr := p.broker.Publish(ctx, event.Topic, event.Payload)
	if pubErr == nil {
		p.metrics.OutboxEventsProcessed.Inc()
		if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
			return true, false, fmt.Errorf("failed to update event status: %w", err)
		}
		return true, true, nil
	}

	errStr := pubErr.Error()
	attempt := event.RetryCount + 1
	if attempt >= p.config.RetryAttempts {
		p.metrics.OutboxEventsFailed.Inc()
		p.logger.Error(pubErr, "Giving up on outbox event",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"attempts", attempt)
		if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusFailed, &errStr, nil); err != nil {
			return false, false, fmt.Errorf("failed to update event status: %w", err)
		}
		return false, true, nil
	}

	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	retryAt := p.now().Add(p.config.RetryDelay << uint(event.RetryCount))
	p.logger.Warn("Outbox publish failed, will retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"retry_at", retryAt,
		"error", errStr)
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusRetry, &errStr, &retryAt); err != nil {
		return false, false, fmt.Errorf("failed to update event status: %w", err)
	}
	return false, false, nil
}
