package workers

import (
	"context"
	"log/slog"
	"time"
	"trade-chat/contract"
	"trade-chat/domain/event"
)

// DeliveryWorker drains one dispatcher shard and hands every event to the
// live session of its target, if any.
//
// Delivery is best effort: no retries, no durability. Events for the same
// target always land on the same shard, so they reach the session in push order.
type DeliveryWorker struct {
	log         *slog.Logger
	registry    contract.IRegistry
	events      <-chan event.DomainEvent
	sinkTimeout time.Duration
}

func NewDeliveryWorker(log *slog.Logger, registry contract.IRegistry,
	events <-chan event.DomainEvent, sinkTimeout time.Duration) *DeliveryWorker {
	return &DeliveryWorker{log: log, registry: registry, events: events, sinkTimeout: sinkTimeout}
}

func (w *DeliveryWorker) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-w.events:
			w.Deliver(ctx, evt)
		case <-ctx.Done():
			w.log.Debug("Context done, stopping delivery")
			return nil
		}
	}
}

// Deliver bounds a single sink call by sinkTimeout so a slow client
// only delays its own shard.
func (w *DeliveryWorker) Deliver(ctx context.Context, evt event.DomainEvent) {
	sink, ok := w.registry.SinkFor(evt.TargetID())
	if !ok {
		w.log.Debug("No live session, event skipped", "target", evt.TargetID(), "kind", evt.Kind())
		return
	}
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.log.Warn("Delivery failed", "target", evt.TargetID(), "kind", evt.Kind(), "error", err)
	}
}
