// Package counter materializes per-owner unread counters from the change
// stream. Every write is guarded by the change timestamp, so duplicate and
// reordered deliveries are absorbed instead of double counted.
package counter

import (
	"context"
	"fmt"

	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/repository"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/metrics"
)

const (
	resultCreated  = "created"
	resultApplied  = "applied"
	resultAbsorbed = "absorbed"
	resultMerged   = "merged"
)

type Aggregator struct {
	repo          repository.CounterRepository
	displayFields []string
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

func NewAggregator(repo repository.CounterRepository, displayFields []string, logger *logger.Logger, metrics *metrics.Metrics) *Aggregator {
	return &Aggregator{
		repo:          repo,
		displayFields: displayFields,
		logger:        logger,
		metrics:       metrics,
	}
}

// Apply folds one committed change into the counters of the owners it
// touches. Only a transition into or out of the unread state matters.
func (a *Aggregator) Apply(ctx context.Context, change *model.Change) error {
	for _, owner := range owners(change) {
		wasUnread := change.Old.Unread(owner)
		isUnread := change.New.Unread(owner)

		var err error
		switch {
		case isUnread && !wasUnread:
			err = a.increase(ctx, owner, change)
		case wasUnread && !isUnread:
			err = a.decrease(ctx, owner, change)
		}
		if err != nil {
			return fmt.Errorf("counter %s: %w", owner, err)
		}
	}
	return nil
}

// Get returns the owner's counter; owners without one have zero unread.
func (a *Aggregator) Get(ctx context.Context, owner model.Owner) (*model.UnreadCounter, error) {
	return a.repo.Get(ctx, owner)
}

func (a *Aggregator) increase(ctx context.Context, owner model.Owner, change *model.Change) error {
	display := change.New.Fields.Pick(a.displayFields)

	created, err := a.repo.CreateIfAbsent(ctx, owner, change.TS, display)
	if err != nil {
		return err
	}
	if created {
		a.record(owner, resultCreated)
		return nil
	}

	applied, err := a.repo.AddIfFresh(ctx, owner, 1, change.TS)
	if err != nil {
		return err
	}
	a.guarded(owner, change, applied)

	// display fields follow the latest unread notification even when the
	// count itself was stale
	if len(display) > 0 {
		if err := a.repo.MergeDisplay(ctx, owner, display); err != nil {
			return err
		}
		a.record(owner, resultMerged)
	}
	return nil
}

// decrease never creates a counter: a decrease cannot be the first event
// seen for an owner.
func (a *Aggregator) decrease(ctx context.Context, owner model.Owner, change *model.Change) error {
	applied, err := a.repo.AddIfFresh(ctx, owner, -1, change.TS)
	if err != nil {
		return err
	}
	a.guarded(owner, change, applied)
	return nil
}

func (a *Aggregator) guarded(owner model.Owner, change *model.Change, applied bool) {
	if applied {
		a.record(owner, resultApplied)
		return
	}
	a.record(owner, resultAbsorbed)
	a.logger.Debug("stale counter update absorbed",
		"owner", owner.String(),
		"notification", change.ID,
		"ts", change.TS)
}

func (a *Aggregator) record(owner model.Owner, result string) {
	a.metrics.CounterUpdates.WithLabelValues(string(owner.Kind), result).Inc()
}

// owners lists the distinct owners of the change's snapshots.
func owners(change *model.Change) []model.Owner {
	var out []model.Owner
	for _, n := range []*model.Notification{change.Old, change.New} {
		if n == nil {
			continue
		}
		o := n.Owner()
		if o.IsZero() || (len(out) > 0 && out[0] == o) {
			continue
		}
		out = append(out, o)
	}
	return out
}
