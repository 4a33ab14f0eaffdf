// Package domain contains core concepts of the trade chat.
// This file defines the Conversation aggregate: the one channel between a buyer
// and a supplier, its unread counters and its per-party visibility.
// Every store applies these transitions inside its own transaction.
package domain

import "time"

type Conversation struct {
	ID                  string     `json:"id"`
	BuyerID             string     `json:"buyerId"`
	SupplierID          string     `json:"supplierId"`
	LastMessage         string     `json:"lastMessage"`
	LastMessageID       string     `json:"lastMessageId"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	UnreadCountBuyer    int        `json:"unreadCountBuyer"`
	UnreadCountSupplier int        `json:"unreadCountSupplier"`
	ClearedByBuyer      *time.Time `json:"clearedByBuyer,omitempty"`
	ClearedBySupplier   *time.Time `json:"clearedBySupplier,omitempty"`
	// MessageCount is the sequence of the last appended message.
	MessageCount uint64 `json:"messageCount"`
}

// ConversationView is a conversation as seen by one of its parties.
type ConversationView struct {
	Conversation
	Role            Role   `json:"role"`
	CounterpartID   string `json:"counterpartId"`
	CounterpartName string `json:"counterpartName"`
	UnreadCount     int    `json:"unreadCount"`
}

func NewConversation(id, buyerID, supplierID string, now time.Time) Conversation {
	return Conversation{
		ID:         id,
		BuyerID:    buyerID,
		SupplierID: supplierID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RoleOf returns the role userID holds, false when userID is not a party.
func (c Conversation) RoleOf(userID string) (Role, bool) {
	switch userID {
	case c.BuyerID:
		return RoleBuyer, true
	case c.SupplierID:
		return RoleSupplier, true
	default:
		return "", false
	}
}

// Counterpart returns the other party. It assumes userID is a party.
func (c Conversation) Counterpart(userID string) string {
	if userID == c.BuyerID {
		return c.SupplierID
	}
	return c.BuyerID
}

// HasParties reports whether a and b are exactly the two parties, in any order.
func (c Conversation) HasParties(a, b string) bool {
	return (a == c.BuyerID && b == c.SupplierID) || (a == c.SupplierID && b == c.BuyerID)
}

func (c Conversation) UnreadFor(role Role) int {
	if role == RoleBuyer {
		return c.UnreadCountBuyer
	}
	return c.UnreadCountSupplier
}

func (c Conversation) ClearedAt(role Role) *time.Time {
	if role == RoleBuyer {
		return c.ClearedByBuyer
	}
	return c.ClearedBySupplier
}

// VisibleTo is the computed visibility of the conversation in userID's listing.
// A cleared conversation stays hidden until a message makes updatedAt move
// strictly past the clear timestamp. The timestamp itself is left untouched.
func (c Conversation) VisibleTo(userID string) bool {
	role, ok := c.RoleOf(userID)
	if !ok {
		return false
	}
	clearedAt := c.ClearedAt(role)
	return clearedAt == nil || c.UpdatedAt.After(*clearedAt)
}

// View projects the conversation for one of its parties.
func (c Conversation) View(userID, counterpartName string) ConversationView {
	role, _ := c.RoleOf(userID)
	return ConversationView{
		Conversation:    c,
		Role:            role,
		CounterpartID:   c.Counterpart(userID),
		CounterpartName: counterpartName,
		UnreadCount:     c.UnreadFor(role),
	}
}

// clockStep is the smallest step both stores keep (postgres has microseconds).
const clockStep = time.Microsecond

// NextSentAt clamps now so that message timestamps never go backwards
// inside a conversation, even if the wall clock does, and land strictly after
// every clear timestamp already committed, so a new message always reappears.
func (c Conversation) NextSentAt(now time.Time) time.Time {
	if now.Before(c.UpdatedAt) {
		now = c.UpdatedAt
	}
	for _, clearedAt := range []*time.Time{c.ClearedByBuyer, c.ClearedBySupplier} {
		if clearedAt != nil && !now.After(*clearedAt) {
			now = clearedAt.Add(clockStep)
		}
	}
	return now
}

// NextSeq reserves the next insertion position.
func (c *Conversation) NextSeq() uint64 {
	c.MessageCount++
	return c.MessageCount
}

// RecordMessage updates the snapshot and bumps the receiver's unread counter by one.
func (c *Conversation) RecordMessage(m Message) {
	c.LastMessage = m.Content
	c.LastMessageID = m.ID
	if m.SentAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.SentAt
	}
	switch m.ReceiverID {
	case c.BuyerID:
		c.UnreadCountBuyer++
	case c.SupplierID:
		c.UnreadCountSupplier++
	}
}

// Append stamps m with its position and timestamp inside the conversation
// and records it. Stores call it while holding the conversation for update.
func (c *Conversation) Append(m Message) Message {
	m.ConversationID = c.ID
	m.SentAt = c.NextSentAt(m.SentAt)
	m.Seq = c.NextSeq()
	m.Read = false
	m.ReadAt = nil
	c.RecordMessage(m)
	return m
}

// ResetUnread sets the counter to zero rather than decrementing it,
// so a drifted counter realigns with the real unread count.
func (c *Conversation) ResetUnread(role Role) {
	if role == RoleBuyer {
		c.UnreadCountBuyer = 0
		return
	}
	c.UnreadCountSupplier = 0
}

// Clear never stamps before the last message, so what the party saw is hidden.
func (c *Conversation) Clear(role Role, at time.Time) {
	if at.Before(c.UpdatedAt) {
		at = c.UpdatedAt
	}
	if role == RoleBuyer {
		c.ClearedByBuyer = &at
	} else {
		c.ClearedBySupplier = &at
	}
	c.ResetUnread(role)
}

func (c *Conversation) Restore(role Role) {
	if role == RoleBuyer {
		c.ClearedByBuyer = nil
		return
	}
	c.ClearedBySupplier = nil
}
