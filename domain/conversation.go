// Package domain contains core concepts of the conversation-delivery system.
// This file defines Conversation entities and their invariants.
// No runtime, network, or storage logic should be added here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation links exactly two participants.
// At most one Conversation exists per unordered pair.
type Conversation struct {
	ID           uuid.UUID
	Sender       UserID
	Receiver     UserID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount uint64
}

// Involves reports whether the user is one of the two participants.
func (c Conversation) Involves(user UserID) bool {
	return c.Sender == user || c.Receiver == user
}

// Peer returns the other participant from the point of view of user.
func (c Conversation) Peer(user UserID) UserID {
	if c.Sender == user {
		return c.Receiver
	}
	return c.Sender
}

// CanonicalPair orders two participants so that {a,b} and {b,a} share a key.
func CanonicalPair(a, b UserID) (UserID, UserID) {
	if b < a {
		return b, a
	}
	return a, b
}

// Thread is the materialized read-join of a conversation and its messages,
// in append order.
type Thread struct {
	Conversation Conversation
	Messages     []Message
}

// LastMessage returns nil on an empty thread.
func (t Thread) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	last := t.Messages[len(t.Messages)-1]
	return &last
}

// UnreadFor counts unseen messages that were not written by viewer.
func (t Thread) UnreadFor(viewer UserID) int {
	count := 0
	for _, m := range t.Messages {
		if !m.Seen && m.AuthorID != viewer {
			count++
		}
	}
	return count
}

// UserProfile is what the user directory exposes about a participant.
type UserProfile struct {
	ID        UserID `validate:"required"`
	Name      string `validate:"required,max=128"`
	Email     string `validate:"omitempty,email"`
	AvatarRef string `validate:"omitempty,uri"`
}

// ConversationSummary is one entry of a user's sidebar.
type ConversationSummary struct {
	ConversationID   uuid.UUID
	OtherParticipant UserProfile
	LastMessage      *Message
	UnreadCount      int
	Online           bool
	UpdatedAt        time.Time
}
