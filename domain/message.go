// Package domain contains core concepts of the trade chat.
// This file defines Message records and their read transition.
// Messages are immutable once appended, except for the read flag.
package domain

import "time"

// Message is one entry of a conversation log.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	ReceiverID     string     `json:"receiverId"`
	Content        string     `json:"content"`
	SentAt         time.Time  `json:"sentAt"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	// Seq is the insertion position inside the conversation, starting at 1.
	Seq uint64 `json:"seq"`
}

// MarkRead flips the message to read once. It reports whether a transition happened.
func (m *Message) MarkRead(at time.Time) bool {
	if m.Read {
		return false
	}
	m.Read = true
	m.ReadAt = &at
	return true
}

// AddressedTo reports whether the message is unread and waiting for userID.
func (m Message) AddressedTo(userID string) bool {
	return !m.Read && m.ReceiverID == userID
}
