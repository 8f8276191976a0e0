package search

import (
	"chat-relay/contract"
	"chat-relay/domain"
	errs "chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

const (
	fieldConversation = "conversation_id"
	fieldParticipant  = "participant"
	fieldAuthor       = "author_id"
	fieldText         = "text"
	fieldCreatedAt    = "created_at"

	defaultLimit = 20
)

var _ contract.IMessageIndex = (*MessageIndex)(nil)

// MessageIndex keeps a Bluge full-text index of text messages.
// Each document carries both participants so a search can be restricted
// to the conversations of the requesting user.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log.With("component", "message_index")}
}

// Index adds or replaces the message document. Messages without text are skipped.
func (m *MessageIndex) Index(ctx context.Context, conversation domain.Conversation, message domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(message.Content.Text) == "" {
		return nil
	}
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewKeywordField(fieldConversation, conversation.ID.String()).StoreValue()).
		AddField(bluge.NewKeywordField(fieldParticipant, string(conversation.Sender))).
		AddField(bluge.NewKeywordField(fieldParticipant, string(conversation.Receiver))).
		AddField(bluge.NewKeywordField(fieldAuthor, string(message.AuthorID)).StoreValue()).
		AddField(bluge.NewTextField(fieldText, message.Content.Text).StoreValue()).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, message.CreatedAt).StoreValue())

	if err := m.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("%w: index message %s: %w", errs.ErrStorage, message.ID, err)
	}
	return nil
}

// Search returns the best matches among the conversations userID takes part in.
func (m *MessageIndex) Search(ctx context.Context, userID domain.UserID, query string, limit int) ([]domain.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	reader, err := m.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("%w: open index reader: %w", errs.ErrStorage, err)
	}
	defer func() { _ = reader.Close() }()

	q := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(query).SetField(fieldText)).
		AddMust(bluge.NewTermQuery(string(userID)).SetField(fieldParticipant))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, q))
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", errs.ErrStorage, err)
	}

	var hits []domain.SearchHit
	match, err := iterator.Next()
	for err == nil && match != nil {
		hit := domain.SearchHit{Score: match.Score}
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID, _ = uuid.ParseBytes(value)
			case fieldConversation:
				hit.ConversationID, _ = uuid.ParseBytes(value)
			case fieldAuthor:
				hit.AuthorID = domain.UserID(value)
			case fieldText:
				hit.Text = string(value)
			case fieldCreatedAt:
				if at, decodeErr := bluge.DecodeDateTime(value); decodeErr == nil {
					hit.CreatedAt = at.UTC()
				}
			}
			return true
		})
		if visitErr != nil {
			m.log.Warn("Unreadable search hit", "error", visitErr)
		} else {
			hits = append(hits, hit)
		}
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: iterate hits: %w", errs.ErrStorage, err)
	}
	return hits, nil
}
