package postgres

import (
	"cmp"
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"
	"trade-chat/domain"
	"trade-chat/errors"
	"trade-chat/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	conflictBackoff          = 5 * time.Millisecond
)

const conversationColumns = `id, buyer_id, supplier_id, last_message, last_message_id, created_at, updated_at,
	unread_count_buyer, unread_count_supplier, cleared_by_buyer, cleared_by_supplier, message_count`

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, sent_at, read, read_at, seq`

var _ repositories.IConversationRepository = (*ConversationRepository)(nil)

// ConversationRepository stores conversations in postgres. Every write locks
// the conversation row with SELECT ... FOR UPDATE for the whole transaction.
type ConversationRepository struct {
	pool       *pgxpool.Pool
	log        *slog.Logger
	maxRetries int
}

func NewConversationRepository(pool *pgxpool.Pool, log *slog.Logger, maxRetries int) *ConversationRepository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &ConversationRepository{pool: pool, log: log, maxRetries: maxRetries}
}

// Migrate creates the tables and indexes when they are missing.
func (r *ConversationRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (domain.Conversation, error) {
	var c domain.Conversation
	var messageCount int64
	err := row.Scan(&c.ID, &c.BuyerID, &c.SupplierID, &c.LastMessage, &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt,
		&c.UnreadCountBuyer, &c.UnreadCountSupplier, &c.ClearedByBuyer, &c.ClearedBySupplier, &messageCount)
	c.MessageCount = uint64(messageCount)
	return c, err
}

func scanMessage(row scanner) (domain.Message, error) {
	var m domain.Message
	var seq int64
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.SentAt, &m.Read, &m.ReadAt, &seq)
	m.Seq = uint64(seq)
	return m, err
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// inTx runs fn in a transaction and retries it on deadlocks and serialization failures.
func (r *ConversationRepository) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, fn)
		if !retryable(err) {
			return err
		}
		r.log.Debug("Transaction conflict, retrying", "op", op, "attempt", attempt)
		time.Sleep(conflictBackoff*time.Duration(attempt) + rand.N(conflictBackoff))
	}
	r.log.Warn("Giving up after repeated conflicts", "op", op, "attempts", r.maxRetries)
	return fmt.Errorf("%s: %w: %v", op, errors.ErrConcurrentUpdate, err)
}

func (r *ConversationRepository) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, conversationID)
	return notFound(scanConversation(row))(conversationID)
}

func (r *ConversationRepository) FindByPair(ctx context.Context, buyerID, supplierID string) (domain.Conversation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE buyer_id = $1 AND supplier_id = $2`, buyerID, supplierID)
	return notFound(scanConversation(row))(buyerID + "/" + supplierID)
}

func notFound(c domain.Conversation, err error) func(string) (domain.Conversation, error) {
	return func(key string) (domain.Conversation, error) {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return c, fmt.Errorf("%w: %s", errors.ErrConversationNotFound, key)
		}
		return c, err
	}
}

// Create relies on the unique index over the unordered pair.
func (r *ConversationRepository) Create(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.BuyerID, c.SupplierID, c.LastMessage, c.LastMessageID, c.CreatedAt, c.UpdatedAt,
		c.UnreadCountBuyer, c.UnreadCountSupplier, c.ClearedByBuyer, c.ClearedBySupplier, int64(c.MessageCount))
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return domain.Conversation{}, errors.ErrConversationExists
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	r.log.Debug("Conversation created", "id", c.ID, "buyer", c.BuyerID, "supplier", c.SupplierID)
	return c, nil
}

func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]domain.Conversation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+conversationColumns+` FROM conversations
		WHERE buyer_id = $1 OR supplier_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func lockConversation(ctx context.Context, tx pgx.Tx, conversationID string) (domain.Conversation, error) {
	row := tx.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, conversationID)
	return notFound(scanConversation(row))(conversationID)
}

func saveConversation(ctx context.Context, tx pgx.Tx, c domain.Conversation) error {
	_, err := tx.Exec(ctx, `UPDATE conversations SET
		last_message = $2, last_message_id = $3, updated_at = $4,
		unread_count_buyer = $5, unread_count_supplier = $6,
		cleared_by_buyer = $7, cleared_by_supplier = $8, message_count = $9
		WHERE id = $1`,
		c.ID, c.LastMessage, c.LastMessageID, c.UpdatedAt,
		c.UnreadCountBuyer, c.UnreadCountSupplier, c.ClearedByBuyer, c.ClearedBySupplier, int64(c.MessageCount))
	return err
}

func (r *ConversationRepository) Update(ctx context.Context, conversationID string,
	fn func(*domain.Conversation) error) (domain.Conversation, error) {
	var updated domain.Conversation
	err := r.inTx(ctx, "update conversation", func(tx pgx.Tx) error {
		c, err := lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if err = fn(&c); err != nil {
			return err
		}
		updated = c
		return saveConversation(ctx, tx, c)
	})
	return updated, err
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID string,
	message domain.Message) (domain.Message, domain.Conversation, error) {
	var stored domain.Message
	var updated domain.Conversation
	err := r.inTx(ctx, "append message", func(tx pgx.Tx) error {
		c, err := lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if !c.HasParties(message.SenderID, message.ReceiverID) {
			return errors.ErrNotParticipant
		}
		stored = c.Append(message)
		_, err = tx.Exec(ctx, `INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			stored.ID, stored.ConversationID, stored.SenderID, stored.ReceiverID, stored.Content,
			stored.SentAt, stored.Read, stored.ReadAt, int64(stored.Seq))
		if err != nil {
			return err
		}
		updated = c
		return saveConversation(ctx, tx, c)
	})
	if err != nil {
		return domain.Message{}, domain.Conversation{}, err
	}
	return stored, updated, nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if _, err := r.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, readerID string,
	at time.Time) ([]domain.Message, domain.Conversation, error) {
	var transitioned []domain.Message
	var updated domain.Conversation
	err := r.inTx(ctx, "mark read", func(tx pgx.Tx) error {
		transitioned = nil
		c, err := lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		role, ok := c.RoleOf(readerID)
		if !ok {
			return errors.ErrNotParticipant
		}
		rows, err := tx.Query(ctx, `UPDATE messages SET read = TRUE, read_at = $3
			WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read
			RETURNING `+messageColumns, conversationID, readerID, at)
		if err != nil {
			return err
		}
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				rows.Close()
				return err
			}
			transitioned = append(transitioned, m)
		}
		rows.Close()
		if err = rows.Err(); err != nil {
			return err
		}
		c.ResetUnread(role)
		updated = c
		return saveConversation(ctx, tx, c)
	})
	if err != nil {
		return nil, domain.Conversation{}, err
	}
	slices.SortFunc(transitioned, func(a, b domain.Message) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	r.log.Debug("Messages marked as read", "conversation", conversationID,
		"reader", readerID, "count", len(transitioned))
	return transitioned, updated, nil
}
