//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"
	"trade-chat/domain"
	"trade-chat/errors"

	"github.com/dgraph-io/badger/v4"
)

// IConversationRepository persists conversations together with their message log.
// Every method that changes a conversation runs as one atomic unit, so the
// message, the snapshot and the unread counters never disagree.
type IConversationRepository interface {
	Get(ctx context.Context, conversationID string) (domain.Conversation, error)
	// FindByPair looks up the exact (buyerID, supplierID) key only.
	FindByPair(ctx context.Context, buyerID, supplierID string) (domain.Conversation, error)
	// Create fails with errors.ErrConversationExists when the unordered pair is already taken.
	Create(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error)
	Update(ctx context.Context, conversationID string, fn func(*domain.Conversation) error) (domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, message domain.Message) (domain.Message, domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]domain.Message, domain.Conversation, error)
}

var _ IConversationRepository = (*ConversationRepository)(nil)

const (
	conflictBackoff = 5 * time.Millisecond
	seqFormat       = "%020d"
)

type ConversationRepository struct {
	db         *badger.DB
	log        *slog.Logger
	maxRetries int
}

func NewConversationRepository(db *badger.DB, log *slog.Logger, maxRetries int) *ConversationRepository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &ConversationRepository{db: db, log: log, maxRetries: maxRetries}
}

// Keys layout. User ids are opaque strings, so they are quoted to keep
// prefixes unambiguous.
//
//	conv:{id}                        -> conversation
//	pair:{buyer}:{supplier}          -> conversation id
//	part:{user}:{id}                 -> participation index
//	msg:{id}:{seq}                   -> message, seq zero padded for lexicographic order
//	unread:{id}:{receiver}:{seq}     -> unread index
func conversationKey(id string) []byte { return []byte("conv:" + id) }

func pairKey(buyerID, supplierID string) []byte {
	return []byte(fmt.Sprintf("pair:%q:%q", buyerID, supplierID))
}

func participantPrefix(userID string) []byte {
	return []byte(fmt.Sprintf("part:%q:", userID))
}

func participantKey(userID, conversationID string) []byte {
	return append(participantPrefix(userID), conversationID...)
}

func messagePrefix(conversationID string) []byte {
	return []byte("msg:" + conversationID + ":")
}

func messageKey(conversationID string, seq uint64) []byte {
	return append(messagePrefix(conversationID), fmt.Sprintf(seqFormat, seq)...)
}

func unreadPrefix(conversationID, receiverID string) []byte {
	return []byte(fmt.Sprintf("unread:%s:%q:", conversationID, receiverID))
}

func unreadKey(conversationID, receiverID string, seq uint64) []byte {
	return append(unreadPrefix(conversationID, receiverID), fmt.Sprintf(seqFormat, seq)...)
}

// update runs fn in a read-write transaction and retries it when badger
// detects a conflicting commit on a key fn has read.
func (r *ConversationRepository) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = r.db.Update(fn)
		if !stderrors.Is(err, badger.ErrConflict) {
			return err
		}
		r.log.Debug("Transaction conflict, retrying", "op", op, "attempt", attempt)
		time.Sleep(conflictBackoff*time.Duration(attempt) + rand.N(conflictBackoff))
	}
	r.log.Warn("Giving up after repeated conflicts", "op", op, "attempts", r.maxRetries)
	return fmt.Errorf("%s: %w: %v", op, errors.ErrConcurrentUpdate, err)
}

func (r *ConversationRepository) Get(_ context.Context, conversationID string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, conversationID)
		return err
	})
	return conversation, err
}

func (r *ConversationRepository) FindByPair(_ context.Context, buyerID, supplierID string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		id, err := getPair(txn, buyerID, supplierID)
		if err != nil {
			return err
		}
		conversation, err = getConversation(txn, id)
		return err
	})
	return conversation, err
}

// Create reads both orderings of the pair inside the transaction, so two
// concurrent creations for the same users conflict and the loser sees the winner.
func (r *ConversationRepository) Create(ctx context.Context, conversation domain.Conversation) (domain.Conversation, error) {
	err := r.update(ctx, "create conversation", func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			pairKey(conversation.BuyerID, conversation.SupplierID),
			pairKey(conversation.SupplierID, conversation.BuyerID),
		} {
			_, err := txn.Get(key)
			if err == nil {
				return errors.ErrConversationExists
			}
			if !stderrors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := putConversation(txn, conversation); err != nil {
			return err
		}
		if err := txn.Set(pairKey(conversation.BuyerID, conversation.SupplierID), []byte(conversation.ID)); err != nil {
			return err
		}
		if err := txn.Set(participantKey(conversation.BuyerID, conversation.ID), nil); err != nil {
			return err
		}
		return txn.Set(participantKey(conversation.SupplierID, conversation.ID), nil)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	r.log.Debug("Conversation created", "id", conversation.ID,
		"buyer", conversation.BuyerID, "supplier", conversation.SupplierID)
	return conversation, nil
}

// ListByParticipant returns the user's conversations, most recently updated first.
func (r *ConversationRepository) ListByParticipant(_ context.Context, userID string) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := participantPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			conversation, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

func (r *ConversationRepository) Update(ctx context.Context, conversationID string,
	fn func(*domain.Conversation) error) (domain.Conversation, error) {
	var updated domain.Conversation
	err := r.update(ctx, "update conversation", func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		if err = fn(&conversation); err != nil {
			return err
		}
		updated = conversation
		return putConversation(txn, conversation)
	})
	return updated, err
}

// AppendMessage stores the message, its unread index entry and the updated
// conversation in a single transaction.
func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID string,
	message domain.Message) (domain.Message, domain.Conversation, error) {
	var stored domain.Message
	var updated domain.Conversation
	err := r.update(ctx, "append message", func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		if !conversation.HasParties(message.SenderID, message.ReceiverID) {
			return errors.ErrNotParticipant
		}
		stored = conversation.Append(message)
		bytes, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err = txn.Set(messageKey(conversationID, stored.Seq), bytes); err != nil {
			return err
		}
		if err = txn.Set(unreadKey(conversationID, stored.ReceiverID, stored.Seq), nil); err != nil {
			return err
		}
		updated = conversation
		return putConversation(txn, conversation)
	})
	if err != nil {
		return domain.Message{}, domain.Conversation{}, err
	}
	return stored, updated, nil
}

// ListMessages returns the whole log, oldest first, thanks to the padded sequence in the key.
func (r *ConversationRepository) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	var byteMessages [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		if _, err := getConversation(txn, conversationID); err != nil {
			return err
		}
		prefix := messagePrefix(conversationID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			byteMessages = append(byteMessages, value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(byteMessages))
	for _, b := range byteMessages {
		var message domain.Message
		if err = json.Unmarshal(b, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// MarkRead walks the unread index of the reader, flips every message once,
// drops the index entries and resets the reader's counter to zero.
func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, readerID string,
	at time.Time) ([]domain.Message, domain.Conversation, error) {
	var transitioned []domain.Message
	var updated domain.Conversation
	err := r.update(ctx, "mark read", func(txn *badger.Txn) error {
		transitioned = nil
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		role, ok := conversation.RoleOf(readerID)
		if !ok {
			return errors.ErrNotParticipant
		}

		prefix := unreadPrefix(conversationID, readerID)
		var indexKeys [][]byte
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			indexKeys = append(indexKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, indexKey := range indexKeys {
			seq, err := strconv.ParseUint(string(indexKey[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupted unread index %q: %w", indexKey, err)
			}
			key := messageKey(conversationID, seq)
			message, err := getMessage(txn, key)
			if err != nil {
				return err
			}
			if message.MarkRead(at) {
				bytes, err := json.Marshal(message)
				if err != nil {
					return err
				}
				if err = txn.Set(key, bytes); err != nil {
					return err
				}
				transitioned = append(transitioned, message)
			}
			if err = txn.Delete(indexKey); err != nil {
				return err
			}
		}

		conversation.ResetUnread(role)
		updated = conversation
		return putConversation(txn, conversation)
	})
	if err != nil {
		return nil, domain.Conversation{}, err
	}
	r.log.Debug("Messages marked as read", "conversation", conversationID,
		"reader", readerID, "count", len(transitioned))
	return transitioned, updated, nil
}

func getConversation(txn *badger.Txn, id string) (domain.Conversation, error) {
	var conversation domain.Conversation
	item, err := txn.Get(conversationKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return conversation, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, id)
	}
	if err != nil {
		return conversation, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &conversation)
	})
	return conversation, err
}

func getPair(txn *badger.Txn, buyerID, supplierID string) (string, error) {
	item, err := txn.Get(pairKey(buyerID, supplierID))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return "", errors.ErrConversationNotFound
	}
	if err != nil {
		return "", err
	}
	value, err := item.ValueCopy(nil)
	return string(value), err
}

func getMessage(txn *badger.Txn, key []byte) (domain.Message, error) {
	var message domain.Message
	item, err := txn.Get(key)
	if err != nil {
		return message, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &message)
	})
	return message, err
}

func putConversation(txn *badger.Txn, conversation domain.Conversation) error {
	bytes, err := json.Marshal(conversation)
	if err != nil {
		return err
	}
	return txn.Set(conversationKey(conversation.ID), bytes)
}
