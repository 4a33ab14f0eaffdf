//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"trade-chat/domain"
	"trade-chat/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the live session channel of one user.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry keeps at most one live sink per user.
// Subscribe returns the sink it replaced, if any.
type IRegistry interface {
	Subscribe(userID string, sink EventSink) (EventSink, bool)
	Unsubscribe(userID string, sink EventSink)
	SinkFor(userID string) (EventSink, bool)
}

// IDispatcher pushes events to live sessions without ever blocking the caller.
type IDispatcher interface {
	Push(e event.DomainEvent)
}

// IdentityLookup is the boundary with the identity directory.
// Implementations return errors.ErrUnknownUser when the user does not exist.
type IdentityLookup interface {
	Lookup(ctx context.Context, userID string) (domain.Identity, error)
}

// IRoleResolver classifies two users into (buyerID, supplierID). It never fails.
type IRoleResolver interface {
	Resolve(ctx context.Context, u1, u2 string) (buyerID, supplierID string)
	DisplayName(ctx context.Context, userID string) string
}
