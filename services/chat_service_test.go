package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
	"trade-chat/domain"
	"trade-chat/domain/event"
	"trade-chat/errors"
	"trade-chat/identity"
	"trade-chat/mocks"
	"trade-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	buyerID     = "10"
	supplierID  = "20"
	supplier2ID = "30"
)

// clock ticks one second on every read so successive writes are strictly ordered.
type clock struct {
	mu sync.Mutex
	at time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(time.Second)
	return c.at
}

// recorder captures what the service pushes.
type recorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *recorder) Push(e event.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) last() event.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) sent() []event.MessageSent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sent []event.MessageSent
	for _, e := range r.events {
		if m, ok := e.(event.MessageSent); ok {
			sent = append(sent, m)
		}
	}
	return sent
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	service    *ChatService
	registry   *ConversationRegistry
	messages   *MessageLog
	repository *repositories.ConversationRepository
	pushed     *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	directory := identity.NewStaticDirectory(
		domain.Identity{UserID: buyerID, UserType: domain.UserTypeBuyer, DisplayName: "Jane", CompanyName: "Doe Hardware"},
		domain.Identity{UserID: supplierID, UserType: domain.UserTypeSupplier, DisplayName: "John", CompanyName: "Roe Steel"},
		domain.Identity{UserID: supplier2ID, UserType: domain.UserTypeSupplier, DisplayName: "Ann"},
	)
	resolver := identity.NewRoleResolver(directory, log, time.Second)
	repository := repositories.NewConversationRepository(db, log, 1000)

	clk := &clock{at: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	registry := NewConversationRegistry(repository, resolver, log, time.Second)
	registry.now = clk.Now
	messages := NewMessageLog(repository, 100)
	messages.now = clk.Now

	pushed := &recorder{}
	return fixture{
		service:    NewChatService(registry, messages, pushed, log),
		registry:   registry,
		messages:   messages,
		repository: repository,
		pushed:     pushed,
	}
}

func TestChatService_Scenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	// 1. Buyer 10 sends "Need 500 units" to Supplier 20, no prior conversation
	message, err := f.service.SendMessage(ctx, buyerID, supplierID, "Need 500 units")
	req.NoError(err)
	conversation, err := f.repository.Get(ctx, message.ConversationID)
	req.NoError(err)
	req.Equal(buyerID, conversation.BuyerID)
	req.Equal(supplierID, conversation.SupplierID)
	req.Equal(1, conversation.UnreadCountSupplier)
	req.Zero(conversation.UnreadCountBuyer)

	sent, ok := f.pushed.last().(event.MessageSent)
	req.True(ok)
	req.Equal(supplierID, sent.TargetID())
	req.Equal(message.ID, sent.ID)
	req.Equal(message.Seq, sent.Seq)

	// 2. getOrCreate(20, 10) resolves to the same conversation
	same, err := f.service.GetOrCreateConversation(ctx, supplierID, buyerID)
	req.NoError(err)
	req.Equal(conversation.ID, same.ID)
	req.Equal(buyerID, same.BuyerID)

	// 3. Supplier 20 marks the conversation read
	req.NoError(f.service.MarkRead(ctx, conversation.ID, supplierID))
	conversation, err = f.repository.Get(ctx, conversation.ID)
	req.NoError(err)
	req.Zero(conversation.UnreadCountSupplier)
	messages, err := f.service.ListMessages(ctx, conversation.ID, supplierID)
	req.NoError(err)
	req.Len(messages, 1)
	req.True(messages[0].Read)
	req.NotNil(messages[0].ReadAt)

	receipt, ok := f.pushed.last().(event.ReadReceipt)
	req.True(ok)
	req.Equal(buyerID, receipt.TargetID())
	req.Equal([]string{message.ID}, receipt.MessageIDs)

	// 4. Buyer 10 clears at T1: absent from the buyer's listing only
	req.NoError(f.service.ClearConversation(ctx, conversation.ID, buyerID))
	views, err := f.service.ListConversations(ctx, buyerID)
	req.NoError(err)
	req.Empty(views)
	views, err = f.service.ListConversations(ctx, supplierID)
	req.NoError(err)
	req.Len(views, 1)

	cleared, err := f.repository.Get(ctx, conversation.ID)
	req.NoError(err)
	req.NotNil(cleared.ClearedByBuyer)
	t1 := *cleared.ClearedByBuyer

	// 5. Supplier 20 answers at T2 > T1: the conversation reappears
	_, err = f.service.SendMessage(ctx, supplierID, buyerID, "500 units available")
	req.NoError(err)
	views, err = f.service.ListConversations(ctx, buyerID)
	req.NoError(err)
	req.Len(views, 1)
	req.Equal(1, views[0].UnreadCount)
	req.Equal(domain.RoleBuyer, views[0].Role)
	req.Equal(supplierID, views[0].CounterpartID)
	req.Equal("Roe Steel", views[0].CounterpartName)
	req.NotNil(views[0].ClearedByBuyer)
	req.True(t1.Equal(*views[0].ClearedByBuyer))
	req.True(views[0].UpdatedAt.After(t1))

	// 6. Buyer 10 restores: visible and the clear timestamp is gone
	req.NoError(f.service.ClearConversation(ctx, conversation.ID, buyerID))
	views, err = f.service.ListConversations(ctx, buyerID)
	req.NoError(err)
	req.Empty(views)

	req.NoError(f.service.RestoreConversation(ctx, conversation.ID, buyerID))
	views, err = f.service.ListConversations(ctx, buyerID)
	req.NoError(err)
	req.Len(views, 1)
	req.Nil(views[0].ClearedByBuyer)
}

func TestChatService_GetOrCreate_Is_Symmetric_Under_Concurrency(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	const callers = 20
	ids := make(chan string, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u1, u2 := buyerID, supplierID
			if i%2 == 0 {
				u1, u2 = u2, u1
			}
			conversation, err := f.service.GetOrCreateConversation(ctx, u1, u2)
			errs <- err
			ids <- conversation.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)
	for err := range errs {
		req.NoError(err)
	}
	seen := map[string]struct{}{}
	for id := range ids {
		seen[id] = struct{}{}
	}
	req.Len(seen, 1)

	conversations, err := f.repository.ListByParticipant(ctx, buyerID)
	req.NoError(err)
	req.Len(conversations, 1)
}

func TestChatService_GetOrCreate_Finds_Swapped_Legacy_Row(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	// A row stored with the roles inverted
	legacy, err := f.repository.Create(ctx, domain.NewConversation(uuid.NewString(), supplierID, buyerID, time.Now().UTC()))
	req.NoError(err)

	conversation, err := f.service.GetOrCreateConversation(ctx, buyerID, supplierID)
	req.NoError(err)
	req.Equal(legacy.ID, conversation.ID)

	conversations, err := f.repository.ListByParticipant(ctx, buyerID)
	req.NoError(err)
	req.Len(conversations, 1)
}

func TestChatService_GetOrCreate_Positional_Fallback(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// Neither user is known to the directory
	conversation, err := f.service.GetOrCreateConversation(context.Background(), "40", "50")
	req.NoError(err)
	req.Equal("40", conversation.BuyerID)
	req.Equal("50", conversation.SupplierID)

	// Two suppliers
	conversation, err = f.service.GetOrCreateConversation(context.Background(), supplier2ID, supplierID)
	req.NoError(err)
	req.Equal(supplier2ID, conversation.BuyerID)
}

func TestChatService_GetOrCreate_Rejects_Invalid_Parties(t *testing.T) {
	f := newFixture(t)
	for _, pair := range [][2]string{{buyerID, buyerID}, {"", supplierID}, {buyerID, ""}} {
		_, err := f.service.GetOrCreateConversation(context.Background(), pair[0], pair[1])
		require.ErrorIs(t, err, errors.ErrInvalidParties)
	}
}

func TestChatService_SendMessage_Validation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.SendMessage(ctx, buyerID, buyerID, "hello me")
	req.ErrorIs(err, errors.ErrInvalidParties)
	_, err = f.service.SendMessage(ctx, buyerID, supplierID, "   ")
	req.ErrorIs(err, errors.ErrInvalidContent)
	_, err = f.service.SendMessage(ctx, buyerID, supplierID, string(make([]rune, 101)))
	req.ErrorIs(err, errors.ErrInvalidContent)

	// Nothing was created nor pushed
	conversations, err := f.repository.ListByParticipant(ctx, buyerID)
	req.NoError(err)
	req.Empty(conversations)
	req.Zero(f.pushed.count())
}

func TestChatService_Concurrent_Sends_Count_Every_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	const perSide = 15
	errs := make(chan error, 2*perSide)
	var wg sync.WaitGroup
	for i := 0; i < perSide; i++ {
		for _, pair := range [][2]string{{buyerID, supplierID}, {supplierID, buyerID}} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.service.SendMessage(ctx, pair[0], pair[1], fmt.Sprintf("%s #%d", pair[0], i))
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	conversations, err := f.repository.ListByParticipant(ctx, buyerID)
	req.NoError(err)
	req.Len(conversations, 1)
	req.Equal(perSide, conversations[0].UnreadCountBuyer)
	req.Equal(perSide, conversations[0].UnreadCountSupplier)
	req.Equal(2*perSide, f.pushed.count())

	// Pushes may interleave but every commit position is announced once
	seqs := make([]uint64, 0, 2*perSide)
	for _, sent := range f.pushed.sent() {
		seqs = append(seqs, sent.Seq)
	}
	slices.Sort(seqs)
	for i, seq := range seqs {
		req.Equal(uint64(i+1), seq)
	}

	messages, err := f.service.ListMessages(ctx, conversations[0].ID, buyerID)
	req.NoError(err)
	req.Len(messages, 2*perSide)
	for i := 1; i < len(messages); i++ {
		req.False(messages[i].SentAt.Before(messages[i-1].SentAt))
	}
}

func TestChatService_MarkRead_Without_Unread_Sends_No_Receipt(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	message, err := f.service.SendMessage(ctx, buyerID, supplierID, "quote please")
	req.NoError(err)
	pushed := f.pushed.count()

	// The sender has nothing unread
	req.NoError(f.service.MarkRead(ctx, message.ConversationID, buyerID))
	req.Equal(pushed, f.pushed.count())

	req.NoError(f.service.MarkRead(ctx, message.ConversationID, supplierID))
	req.Equal(pushed+1, f.pushed.count())

	// Idempotent: a second read changes nothing
	req.NoError(f.service.MarkRead(ctx, message.ConversationID, supplierID))
	req.Equal(pushed+1, f.pushed.count())
}

func TestChatService_Rejects_Non_Participants(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	message, err := f.service.SendMessage(ctx, buyerID, supplierID, "quote please")
	req.NoError(err)
	conversationID := message.ConversationID

	_, err = f.service.ListMessages(ctx, conversationID, supplier2ID)
	req.ErrorIs(err, errors.ErrNotParticipant)
	req.ErrorIs(f.service.MarkRead(ctx, conversationID, supplier2ID), errors.ErrNotParticipant)
	req.ErrorIs(f.service.ClearConversation(ctx, conversationID, supplier2ID), errors.ErrNotParticipant)
	req.ErrorIs(f.service.RestoreConversation(ctx, conversationID, supplier2ID), errors.ErrNotParticipant)
	req.ErrorIs(f.service.SendTypingIndicator(ctx, conversationID, supplier2ID, buyerID), errors.ErrNotParticipant)
	req.ErrorIs(f.service.SendTypingIndicator(ctx, conversationID, buyerID, supplier2ID), errors.ErrNotParticipant)

	_, err = f.service.ListMessages(ctx, "missing", buyerID)
	req.ErrorIs(err, errors.ErrConversationNotFound)
	req.ErrorIs(f.service.ClearConversation(ctx, "missing", buyerID), errors.ErrConversationNotFound)
}

func TestChatService_SendTypingIndicator(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	conversation, err := f.service.GetOrCreateConversation(ctx, buyerID, supplierID)
	req.NoError(err)

	req.NoError(f.service.SendTypingIndicator(ctx, conversation.ID, supplierID, buyerID))
	typing, ok := f.pushed.last().(event.TypingStarted)
	req.True(ok)
	req.Equal(buyerID, typing.TargetID())
	req.Equal(supplierID, typing.SenderID)

	req.ErrorIs(f.service.SendTypingIndicator(ctx, "", supplierID, buyerID), errors.ErrInvalidRequest)

	// Typing is never stored
	messages, err := f.service.ListMessages(ctx, conversation.ID, buyerID)
	req.NoError(err)
	req.Empty(messages)
}

func TestChatService_Clear_And_Restore_Are_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	message, err := f.service.SendMessage(ctx, supplierID, buyerID, "catalog attached")
	req.NoError(err)

	for i := 0; i < 2; i++ {
		req.NoError(f.service.ClearConversation(ctx, message.ConversationID, buyerID))
		conversation, err := f.repository.Get(ctx, message.ConversationID)
		req.NoError(err)
		req.Zero(conversation.UnreadCountBuyer)
		req.False(conversation.VisibleTo(buyerID))
		req.True(conversation.VisibleTo(supplierID))
	}

	for i := 0; i < 2; i++ {
		req.NoError(f.service.RestoreConversation(ctx, message.ConversationID, buyerID))
		conversation, err := f.repository.Get(ctx, message.ConversationID)
		req.NoError(err)
		req.Nil(conversation.ClearedByBuyer)
		req.True(conversation.VisibleTo(buyerID))
	}

	// Messages survive a clear
	messages, err := f.service.ListMessages(ctx, message.ConversationID, buyerID)
	req.NoError(err)
	req.Len(messages, 1)
}

func TestChatService_Send_Stamped_Before_A_Committed_Clear_Reappears(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	// The message clock lags the registry clock, so every send is stamped
	// before a clear that commits ahead of it.
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	f.messages.now = (&clock{at: base}).Now
	f.registry.now = (&clock{at: base.Add(time.Hour)}).Now

	first, err := f.service.SendMessage(ctx, buyerID, supplierID, "Need 500 units")
	req.NoError(err)
	cleared, err := f.registry.Clear(ctx, first.ConversationID, buyerID)
	req.NoError(err)
	req.NotNil(cleared.ClearedByBuyer)

	late, err := f.service.SendMessage(ctx, supplierID, buyerID, "Quote attached")
	req.NoError(err)
	req.True(late.SentAt.After(*cleared.ClearedByBuyer))

	views, err := f.service.ListConversations(ctx, buyerID)
	req.NoError(err)
	req.Len(views, 1)
	req.Equal(1, views[0].UnreadCount)
	req.True(views[0].UpdatedAt.After(*views[0].ClearedByBuyer))
}

func TestChatService_ListConversations_Unknown_Counterpart(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.SendMessage(ctx, buyerID, "99", "are you a supplier?")
	req.NoError(err)
	_, err = f.service.SendMessage(ctx, buyerID, supplierID, "second contact")
	req.NoError(err)

	views, err := f.service.ListConversations(ctx, buyerID)
	req.NoError(err)
	req.Len(views, 2)
	// Newest first
	req.Equal(supplierID, views[0].CounterpartID)
	req.Equal("Roe Steel", views[0].CounterpartName)
	req.Equal("99", views[1].CounterpartID)
	req.Equal(domain.UnknownName, views[1].CounterpartName)
	req.Zero(views[0].UnreadCount)

	_, err = f.service.ListConversations(ctx, "")
	req.ErrorIs(err, errors.ErrInvalidParties)
}

func TestChatService_SendMessage_Store_Contention_Is_Retryable(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIConversationRepository(ctrl)
	resolver := mocks.NewMockIRoleResolver(ctrl)
	dispatcher := mocks.NewMockIDispatcher(ctrl)
	conversation := domain.NewConversation("c1", buyerID, supplierID, time.Now())

	resolver.EXPECT().Resolve(gomock.Any(), buyerID, supplierID).Return(buyerID, supplierID)
	repository.EXPECT().FindByPair(gomock.Any(), buyerID, supplierID).Return(conversation, nil)
	repository.EXPECT().AppendMessage(gomock.Any(), "c1", gomock.Any()).
		Return(domain.Message{}, domain.Conversation{}, errors.ErrConcurrentUpdate)
	// Nothing is pushed for a write that did not commit
	dispatcher.EXPECT().Push(gomock.Any()).Times(0)

	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	service := NewChatService(
		NewConversationRegistry(repository, resolver, log, time.Second),
		NewMessageLog(repository, 100),
		dispatcher, log)

	_, err := service.SendMessage(context.Background(), buyerID, supplierID, "hello")
	req.ErrorIs(err, errors.ErrConcurrentUpdate)
	req.True(errors.IsRetryable(err))
}

func TestConversationRegistry_GetOrCreate_Lost_Race_Rereads(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIConversationRepository(ctrl)
	resolver := mocks.NewMockIRoleResolver(ctrl)
	winner := domain.NewConversation("winner", buyerID, supplierID, time.Now())

	resolver.EXPECT().Resolve(gomock.Any(), supplierID, buyerID).Return(buyerID, supplierID)
	gomock.InOrder(
		repository.EXPECT().FindByPair(gomock.Any(), buyerID, supplierID).Return(domain.Conversation{}, errors.ErrConversationNotFound),
		repository.EXPECT().FindByPair(gomock.Any(), supplierID, buyerID).Return(domain.Conversation{}, errors.ErrConversationNotFound),
		repository.EXPECT().Create(gomock.Any(), gomock.Any()).Return(domain.Conversation{}, errors.ErrConversationExists),
		repository.EXPECT().FindByPair(gomock.Any(), buyerID, supplierID).Return(winner, nil),
	)

	registry := NewConversationRegistry(repository, resolver, logs.GetLoggerFromLevel(slog.LevelDebug), time.Second)
	conversation, err := registry.GetOrCreate(context.Background(), supplierID, buyerID)
	req.NoError(err)
	req.Equal("winner", conversation.ID)
}
