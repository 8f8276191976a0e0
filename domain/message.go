// Package domain contains core concepts of the conversation-delivery system.
// This file defines Message values and related rules.
// Messages are immutable once appended, except for the Seen flag.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserID is an opaque user key owned by the external user store.
type UserID string

func (u UserID) String() string { return string(u) }

// Content is the payload variant of a message. At least one field is set.
type Content struct {
	Text     string `validate:"omitempty,max=4096"`
	ImageRef string `validate:"omitempty,uri"`
	VideoRef string `validate:"omitempty,uri"`
}

func (c Content) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && c.ImageRef == "" && c.VideoRef == ""
}

// Message represents a chat message owned by exactly one Conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Seq            uint64 // 1-based position inside the conversation
	AuthorID       UserID
	Content        Content
	Lang           string // ISO 639-1, empty when unknown
	Seen           bool
	CreatedAt      time.Time
}
