package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchHit is one message matching a full-text query.
type SearchHit struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	AuthorID       UserID
	Text           string
	Score          float64
	CreatedAt      time.Time
}
