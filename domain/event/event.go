// Package event defines what the dispatcher pushes to live sessions.
// Events are ephemeral: none of them is a system of record.
package event

import (
	"time"
)

type Kind string

const (
	KindChat        Kind = "CHAT"
	KindTyping      Kind = "TYPING"
	KindReadReceipt Kind = "READ_RECEIPT"
)

// DomainEvent is addressed to exactly one user.
type DomainEvent interface {
	TargetID() string
	Kind() Kind
}

// MessageSent carries a freshly appended message to its receiver.
// Pushes of concurrent sends may overtake each other; Seq is the commit
// order inside the conversation and lets clients reorder.
type MessageSent struct {
	Target         string    `json:"-"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sentAt"`
	Seq            uint64    `json:"seq"`
}

func (e MessageSent) TargetID() string { return e.Target }
func (e MessageSent) Kind() Kind       { return KindChat }

type TypingStarted struct {
	Target         string    `json:"-"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	At             time.Time `json:"at"`
}

func (e TypingStarted) TargetID() string { return e.Target }
func (e TypingStarted) Kind() Kind       { return KindTyping }

// ReadReceipt tells a sender that the counterpart read the conversation.
type ReadReceipt struct {
	Target         string    `json:"-"`
	ConversationID string    `json:"conversationId"`
	ReaderID       string    `json:"readerId"`
	MessageIDs     []string  `json:"messageIds"`
	At             time.Time `json:"at"`
}

func (e ReadReceipt) TargetID() string { return e.Target }
func (e ReadReceipt) Kind() Kind       { return KindReadReceipt }
