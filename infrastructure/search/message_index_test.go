package search

import (
	"chat-relay/domain"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *MessageIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewMessageIndex(writer, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func message(conversation domain.Conversation, author domain.UserID, text string) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		AuthorID:       author,
		Content:        domain.Content{Text: text},
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMessageIndex_Search_Restricted_To_Participant(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := newTestIndex(t)

	aliceBob := domain.Conversation{ID: uuid.New(), Sender: "alice", Receiver: "bob"}
	bobCarol := domain.Conversation{ID: uuid.New(), Sender: "bob", Receiver: "carol"}

	// Given the same word in two conversations
	visible := message(aliceBob, "bob", "the invoice is ready")
	hidden := message(bobCarol, "carol", "another invoice for bob")
	req.NoError(index.Index(ctx, aliceBob, visible))
	req.NoError(index.Index(ctx, bobCarol, hidden))

	// When alice searches
	hits, err := index.Search(ctx, "alice", "Invoice", 10)
	req.NoError(err)

	// Then only the conversation of the searcher is returned
	req.Len(hits, 1)
	req.Equal(visible.ID, hits[0].MessageID)
	req.Equal(aliceBob.ID, hits[0].ConversationID)
	req.Equal(domain.UserID("bob"), hits[0].AuthorID)
	req.Equal("the invoice is ready", hits[0].Text)

	// And bob sees both
	hits, err = index.Search(ctx, "bob", "invoice", 10)
	req.NoError(err)
	req.ElementsMatch([]uuid.UUID{visible.ID, hidden.ID},
		lo.Map(hits, func(h domain.SearchHit, _ int) uuid.UUID { return h.MessageID }))
}

func TestMessageIndex_Skips_Media_Only_Messages(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := newTestIndex(t)
	conversation := domain.Conversation{ID: uuid.New(), Sender: "alice", Receiver: "bob"}

	media := message(conversation, "alice", "")
	media.Content.ImageRef = "https://cdn.example.com/cat.png"
	req.NoError(index.Index(ctx, conversation, media))

	hits, err := index.Search(ctx, "alice", "cat", 10)
	req.NoError(err)
	req.Empty(hits)
}

func TestMessageIndex_Empty_Query(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)

	hits, err := index.Search(context.Background(), "alice", "   ", 10)
	req.NoError(err)
	req.Nil(hits)
}
