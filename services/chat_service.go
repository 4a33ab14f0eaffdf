//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"trade-chat/auth"
	"trade-chat/contract"
	"trade-chat/domain"
	"trade-chat/domain/event"
	"trade-chat/errors"

	"github.com/samber/lo"
)

// IChatService is the boundary used by the HTTP and websocket layers.
// Every write commits first and notifies after; a notification can never
// fail or roll back the write.
type IChatService interface {
	GetOrCreateConversation(ctx context.Context, user1ID, user2ID string) (domain.Conversation, error)
	SendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error)
	SendTypingIndicator(ctx context.Context, conversationID, senderID, receiverID string) error
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationView, error)
	ListMessages(ctx context.Context, conversationID, userID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
	ClearConversation(ctx context.Context, conversationID, userID string) error
	RestoreConversation(ctx context.Context, conversationID, userID string) error
}

var _ IChatService = (*ChatService)(nil)

type ChatService struct {
	registry   *ConversationRegistry
	messages   *MessageLog
	dispatcher contract.IDispatcher
	log        *slog.Logger
}

func NewChatService(registry *ConversationRegistry, messages *MessageLog,
	dispatcher contract.IDispatcher, log *slog.Logger) *ChatService {
	return &ChatService{registry: registry, messages: messages, dispatcher: dispatcher, log: log}
}

func (s *ChatService) GetOrCreateConversation(ctx context.Context, user1ID, user2ID string) (domain.Conversation, error) {
	return s.registry.GetOrCreate(ctx, user1ID, user2ID)
}

// SendMessage appends to the pair's conversation, creating it on first contact,
// then pushes CHAT to the receiver.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	if err := auth.ValidateCommand(domain.SendMessageCommand{
		SenderID: senderID, ReceiverID: receiverID, Content: content,
	}); err != nil {
		return domain.Message{}, err
	}
	if err := s.messages.ValidateContent(content); err != nil {
		return domain.Message{}, err
	}
	conversation, err := s.registry.GetOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return domain.Message{}, err
	}
	message, err := s.messages.Append(ctx, conversation, senderID, receiverID, content)
	if err != nil {
		return domain.Message{}, err
	}

	s.dispatcher.Push(event.MessageSent{
		Target:         receiverID,
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		ReceiverID:     message.ReceiverID,
		Content:        message.Content,
		SentAt:         message.SentAt,
		Seq:            message.Seq,
	})
	return message, nil
}

// SendTypingIndicator is ephemeral: nothing is stored.
func (s *ChatService) SendTypingIndicator(ctx context.Context, conversationID, senderID, receiverID string) error {
	if err := auth.ValidateCommand(domain.TypingCommand{
		ConversationID: conversationID, SenderID: senderID, ReceiverID: receiverID,
	}); err != nil {
		return err
	}
	conversation, err := s.registry.Participant(ctx, conversationID, senderID)
	if err != nil {
		return err
	}
	if conversation.Counterpart(senderID) != receiverID {
		return fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, receiverID, conversationID)
	}
	s.dispatcher.Push(event.TypingStarted{
		Target:         receiverID,
		ConversationID: conversationID,
		SenderID:       senderID,
		At:             time.Now().UTC(),
	})
	return nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", errors.ErrInvalidParties)
	}
	return s.registry.ListForUser(ctx, userID)
}

// ListMessages is restricted to the two parties.
func (s *ChatService) ListMessages(ctx context.Context, conversationID, userID string) ([]domain.Message, error) {
	if _, err := s.registry.Participant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.messages.ListForConversation(ctx, conversationID)
}

// MarkRead sends a READ_RECEIPT to the counterpart only when at least one
// message actually changed state.
func (s *ChatService) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := auth.ValidateCommand(domain.MarkReadCommand{ConversationID: conversationID, ReaderID: userID}); err != nil {
		return err
	}
	transitioned, conversation, err := s.messages.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if len(transitioned) == 0 {
		return nil
	}
	at := *transitioned[0].ReadAt
	s.dispatcher.Push(event.ReadReceipt{
		Target:         conversation.Counterpart(userID),
		ConversationID: conversationID,
		ReaderID:       userID,
		MessageIDs:     lo.Map(transitioned, func(m domain.Message, _ int) string { return m.ID }),
		At:             at,
	})
	return nil
}

func (s *ChatService) ClearConversation(ctx context.Context, conversationID, userID string) error {
	_, err := s.registry.Clear(ctx, conversationID, userID)
	return err
}

func (s *ChatService) RestoreConversation(ctx context.Context, conversationID, userID string) error {
	_, err := s.registry.Restore(ctx, conversationID, userID)
	return err
}
