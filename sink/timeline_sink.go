package sink

import (
	"context"
	"sync"
	"trade-chat/contract"
	"trade-chat/domain/event"
)

var _ contract.EventSink = (*Timeline)(nil)

// Timeline keeps in memory every event delivered to one user.
// Used by local tools and tests in place of a websocket.
type Timeline struct {
	mu     sync.Mutex
	Owner  string
	events []event.DomainEvent
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{Owner: owner}
}

func (t *Timeline) Consume(_ context.Context, e event.DomainEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return nil
}

// Events returns a copy of what was received so far.
func (t *Timeline) Events() []event.DomainEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]event.DomainEvent(nil), t.events...)
}

// Messages keeps only the CHAT events, in arrival order.
func (t *Timeline) Messages() []event.MessageSent {
	var messages []event.MessageSent
	for _, e := range t.Events() {
		if m, ok := e.(event.MessageSent); ok {
			messages = append(messages, m)
		}
	}
	return messages
}
