package runtime

import (
	"context"
	"testing"
	"trade-chat/domain/event"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type Sink struct {
	name string
}

func (s *Sink) Consume(_ context.Context, _ event.DomainEvent) error {
	return nil
}

func TestRegistry_Subscribe_One_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	sink := &Sink{name: "first"}

	// Given no user is connected
	req.Zero(registry.Online())
	_, ok := registry.SinkFor(userID)
	req.False(ok)

	// When the user connects
	_, replaced := registry.Subscribe(userID, sink)
	req.False(replaced)

	// Then its sink is found
	found, ok := registry.SinkFor(userID)
	req.True(ok)
	req.Same(sink, found)
	req.Equal(1, registry.Online())
}

func TestRegistry_Subscribe_Replaces_Previous_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	first, second := &Sink{name: "first"}, &Sink{name: "second"}

	registry.Subscribe(userID, first)
	previous, replaced := registry.Subscribe(userID, second)
	req.True(replaced)
	req.Same(first, previous)

	found, ok := registry.SinkFor(userID)
	req.True(ok)
	req.Same(second, found)
	req.Equal(1, registry.Online())

	// When the replaced connection closes late
	registry.Unsubscribe(userID, first)

	// Then the newer session survives
	found, ok = registry.SinkFor(userID)
	req.True(ok)
	req.Same(second, found)

	registry.Unsubscribe(userID, second)
	_, ok = registry.SinkFor(userID)
	req.False(ok)
	req.Zero(registry.Online())
}

func TestRegistry_Unsubscribe_Unknown_User(t *testing.T) {
	registry := NewRegistry()
	registry.Unsubscribe(uuid.NewString(), &Sink{})
	require.Zero(t, registry.Online())
}
