package runtime

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"trade-chat/contract"
	"trade-chat/domain/event"
	"trade-chat/runtime/workers"
)

var _ contract.IDispatcher = (*Dispatcher)(nil)

// Dispatcher routes events onto shards keyed by target user.
// One target always maps to the same shard, which keeps its events in order.
type Dispatcher struct {
	log    *slog.Logger
	shards []chan event.DomainEvent
}

func NewDispatcher(log *slog.Logger, numShards, bufferSize int) *Dispatcher {
	if numShards < 1 {
		numShards = 1
	}
	shards := make([]chan event.DomainEvent, numShards)
	for i := range shards {
		shards[i] = make(chan event.DomainEvent, bufferSize)
	}
	return &Dispatcher{log: log, shards: shards}
}

// Push never blocks: when the target's shard is full the event is dropped.
func (d *Dispatcher) Push(e event.DomainEvent) {
	select {
	case d.shards[d.shardOf(e.TargetID())] <- e:
	default:
		d.log.Warn("Delivery shard full, dropping event", "target", e.TargetID(), "kind", e.Kind())
	}
}

func (d *Dispatcher) shardOf(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Channels exposes the shards for capacity sampling.
func (d *Dispatcher) Channels() []workers.NamedChannel {
	channels := make([]workers.NamedChannel, len(d.shards))
	for i, shard := range d.shards {
		channels[i] = workers.NamedChannel{Name: fmt.Sprintf("delivery-%d", i), Channel: shard}
	}
	return channels
}
