package services

import (
	"context"
	"fmt"
	"time"
	"trade-chat/auth"
	"trade-chat/domain"
	"trade-chat/errors"
	"trade-chat/repositories"

	"github.com/google/uuid"
)

// MessageLog is the durable, append only history of a conversation.
type MessageLog struct {
	repository       repositories.IConversationRepository
	maxContentLength int
	now              func() time.Time
}

func NewMessageLog(repository repositories.IConversationRepository, maxContentLength int) *MessageLog {
	return &MessageLog{
		repository:       repository,
		maxContentLength: maxContentLength,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Append stores the message and bumps the receiver's unread counter in the
// same store transaction. The returned message carries its final sentAt.
func (l *MessageLog) Append(ctx context.Context, conversation domain.Conversation,
	senderID, receiverID, content string) (domain.Message, error) {
	if senderID == receiverID {
		return domain.Message{}, fmt.Errorf("%w: sender is the receiver", errors.ErrInvalidParties)
	}
	if !conversation.HasParties(senderID, receiverID) {
		return domain.Message{}, fmt.Errorf("%w: %s -> %s in %s",
			errors.ErrNotParticipant, senderID, receiverID, conversation.ID)
	}
	if err := l.ValidateContent(content); err != nil {
		return domain.Message{}, err
	}

	message, _, err := l.repository.AppendMessage(ctx, conversation.ID, domain.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     l.now(),
	})
	return message, err
}

// ValidateContent rejects blank and oversized content.
func (l *MessageLog) ValidateContent(content string) error {
	return auth.ValidateContent(content, l.maxContentLength)
}

// ListForConversation returns every message, sentAt ascending.
func (l *MessageLog) ListForConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return l.repository.ListMessages(ctx, conversationID)
}

// MarkRead flips every unread message addressed to readerID and zeroes their
// counter atomically. It returns only the messages that changed.
func (l *MessageLog) MarkRead(ctx context.Context, conversationID, readerID string) ([]domain.Message, domain.Conversation, error) {
	return l.repository.MarkRead(ctx, conversationID, readerID, l.now())
}
