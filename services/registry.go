package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"trade-chat/contract"
	"trade-chat/domain"
	"trade-chat/errors"
	"trade-chat/repositories"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ConversationRegistry guarantees one conversation per pair of parties and
// serves the per-party listing.
type ConversationRegistry struct {
	repository  repositories.IConversationRepository
	resolver    contract.IRoleResolver
	log         *slog.Logger
	listTimeout time.Duration
	now         func() time.Time
}

func NewConversationRegistry(repository repositories.IConversationRepository, resolver contract.IRoleResolver,
	log *slog.Logger, listTimeout time.Duration) *ConversationRegistry {
	return &ConversationRegistry{
		repository:  repository,
		resolver:    resolver,
		log:         log,
		listTimeout: listTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the conversation between u1 and u2, creating it when
// neither ordering of the resolved pair exists yet.
// A concurrent creator losing the race re-reads the winner's row.
func (r *ConversationRegistry) GetOrCreate(ctx context.Context, u1, u2 string) (domain.Conversation, error) {
	if u1 == "" || u2 == "" || u1 == u2 {
		return domain.Conversation{}, fmt.Errorf("%w: %q and %q", errors.ErrInvalidParties, u1, u2)
	}
	buyerID, supplierID := r.resolver.Resolve(ctx, u1, u2)

	conversation, err := r.find(ctx, buyerID, supplierID)
	if err == nil || !stderrors.Is(err, errors.ErrConversationNotFound) {
		return conversation, err
	}

	created, err := r.repository.Create(ctx, domain.NewConversation(uuid.NewString(), buyerID, supplierID, r.now()))
	switch {
	case err == nil:
		r.log.Debug("Conversation created", "conversation_id", created.ID, "buyer_id", buyerID, "supplier_id", supplierID)
		return created, nil
	case stderrors.Is(err, errors.ErrConversationExists):
		return r.find(ctx, buyerID, supplierID)
	default:
		return domain.Conversation{}, err
	}
}

// find tries the primary key, then the swapped legacy key. It never writes.
func (r *ConversationRegistry) find(ctx context.Context, buyerID, supplierID string) (domain.Conversation, error) {
	conversation, err := r.repository.FindByPair(ctx, buyerID, supplierID)
	if !stderrors.Is(err, errors.ErrConversationNotFound) {
		return conversation, err
	}
	conversation, err = r.repository.FindByPair(ctx, supplierID, buyerID)
	if err == nil {
		r.log.Info("Conversation found under swapped roles", "conversation_id", conversation.ID,
			"buyer_id", conversation.BuyerID, "supplier_id", conversation.SupplierID)
	}
	return conversation, err
}

// Participant loads a conversation on behalf of userID.
func (r *ConversationRegistry) Participant(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	conversation, err := r.repository.Get(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if _, ok := conversation.RoleOf(userID); !ok {
		return domain.Conversation{}, fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, userID, conversationID)
	}
	return conversation, nil
}

// ListForUser returns the visible conversations of userID, newest first.
// Counterpart names are resolved concurrently; a slow or failing directory
// only degrades the name of the entry concerned.
func (r *ConversationRegistry) ListForUser(ctx context.Context, userID string) ([]domain.ConversationView, error) {
	conversations, err := r.repository.ListByParticipant(ctx, userID)
	if err != nil {
		return nil, err
	}
	visible := lo.Filter(conversations, func(c domain.Conversation, _ int) bool {
		return c.VisibleTo(userID)
	})

	listCtx, cancel := context.WithTimeout(ctx, r.listTimeout)
	defer cancel()

	views := make([]domain.ConversationView, len(visible))
	var wg sync.WaitGroup
	for i, conversation := range visible {
		wg.Add(1)
		go func() {
			defer wg.Done()
			views[i] = conversation.View(userID, r.resolver.DisplayName(listCtx, conversation.Counterpart(userID)))
		}()
	}
	wg.Wait()
	return views, nil
}

// Clear hides the conversation from userID's listing and zeroes their counter.
// Messages are kept. The timestamp is read inside the transaction, so a retry
// after a conflict never commits a stale one.
func (r *ConversationRegistry) Clear(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	return r.repository.Update(ctx, conversationID, func(c *domain.Conversation) error {
		role, ok := c.RoleOf(userID)
		if !ok {
			return fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, userID, conversationID)
		}
		c.Clear(role, r.now())
		return nil
	})
}

func (r *ConversationRegistry) Restore(ctx context.Context, conversationID, userID string) (domain.Conversation, error) {
	return r.repository.Update(ctx, conversationID, func(c *domain.Conversation) error {
		role, ok := c.RoleOf(userID)
		if !ok {
			return fmt.Errorf("%w: %s in %s", errors.ErrNotParticipant, userID, conversationID)
		}
		c.Restore(role)
		return nil
	})
}
