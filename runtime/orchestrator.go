// Package runtime moves events from committed writes to live sessions.
// It orchestrates delivery without containing business logic or domain rules.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"trade-chat/contract"
	"trade-chat/domain/event"
	"trade-chat/runtime/workers"
)

var _ contract.IDispatcher = (*Orchestrator)(nil)

// Orchestrator owns the dispatcher shards and the supervised workers draining them.
type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	supervisor     contract.ISupervisor
	registry       contract.IRegistry
	dispatcher     *Dispatcher
	sinkTimeout    time.Duration
	metricInterval time.Duration
	running        bool
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, registry contract.IRegistry,
	numWorkers, bufferSize int, sinkTimeout, metricInterval time.Duration) *Orchestrator {
	return &Orchestrator{
		log:            log,
		supervisor:     supervisor,
		registry:       registry,
		dispatcher:     NewDispatcher(log, numWorkers, bufferSize),
		sinkTimeout:    sinkTimeout,
		metricInterval: metricInterval,
	}
}

// Push hands the event to the dispatcher. Safe before Start: events wait in
// the shard buffers until workers run.
func (o *Orchestrator) Push(e event.DomainEvent) {
	o.dispatcher.Push(e)
}

// Running reports whether the supervised workers are up.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start registers one delivery worker per shard plus the capacity sampler,
// then blocks in the supervisor until ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	for _, shard := range o.dispatcher.shards {
		o.supervisor.Add(workers.NewDeliveryWorker(o.log, o.registry, shard, o.sinkTimeout))
	}
	if o.metricInterval > 0 {
		o.supervisor.Add(workers.NewChannelCapacityWorker(o.log, o.dispatcher.Channels(), o.metricInterval))
	}
	o.running = true
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers", "shards", len(o.dispatcher.shards))
	o.supervisor.Run(ctx)

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return nil
}

// Stop cancels the supervised context. Events still buffered are dropped.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}
