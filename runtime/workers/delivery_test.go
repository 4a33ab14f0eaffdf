package workers

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
	"trade-chat/domain/event"
	"trade-chat/mocks"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDeliveryWorker_Deliver_To_Live_Session(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)
	sink := mocks.NewMockEventSink(ctrl)
	evt := event.TypingStarted{Target: "20", ConversationID: "c1", SenderID: "10"}

	registry.EXPECT().SinkFor("20").Return(sink, true)
	sink.EXPECT().Consume(gomock.Any(), evt).Return(nil)

	worker := NewDeliveryWorker(logs.GetLoggerFromLevel(slog.LevelDebug), registry, nil, time.Second)
	worker.Deliver(context.Background(), evt)
}

func TestDeliveryWorker_Deliver_Offline_Target(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)
	registry.EXPECT().SinkFor("20").Return(nil, false)

	worker := NewDeliveryWorker(logs.GetLoggerFromLevel(slog.LevelDebug), registry, nil, time.Second)
	worker.Deliver(context.Background(), event.TypingStarted{Target: "20"})
}

func TestDeliveryWorker_SinkTimeout(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)
	sink := mocks.NewMockEventSink(ctrl)

	registry.EXPECT().SinkFor("20").Return(sink, true)
	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ event.DomainEvent) error {
			// Waiting for timeout to trigger cancellation
			<-ctx.Done()
			return ctx.Err()
		})

	worker := NewDeliveryWorker(log, registry, nil, 20*time.Millisecond)
	start := time.Now()
	worker.Deliver(context.Background(), event.TypingStarted{Target: "20"})
	req.Less(time.Since(start), time.Second)
}

func TestDeliveryWorker_Run_Keeps_Order_And_Survives_Failures(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockIRegistry(ctrl)
	sink := mocks.NewMockEventSink(ctrl)
	events := make(chan event.DomainEvent, 10)

	var received []string
	done := make(chan struct{})
	registry.EXPECT().SinkFor("20").Return(sink, true).Times(3)
	sink.EXPECT().Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e event.DomainEvent) error {
			received = append(received, e.(event.MessageSent).ID)
			if len(received) == 3 {
				close(done)
			}
			if len(received) == 2 {
				return errors.New("socket closed")
			}
			return nil
		}).Times(3)

	for _, id := range []string{"m1", "m2", "m3"} {
		events <- event.MessageSent{Target: "20", ID: id}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := NewDeliveryWorker(logs.GetLoggerFromLevel(slog.LevelDebug), registry, events, time.Second)
	go func() { _ = worker.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Events were not delivered in time")
	}
	req.Equal([]string{"m1", "m2", "m3"}, received)
}

func TestChannelCapacityWorker_Sample(t *testing.T) {
	worker := NewChannelCapacityWorker(logs.GetLoggerFromLevel(slog.LevelDebug), []NamedChannel{
		{Name: "shard-0", Channel: make(chan event.DomainEvent, 1)},
		{Name: "not-a-channel", Channel: 42},
	}, time.Second)
	worker.Sample()
}
