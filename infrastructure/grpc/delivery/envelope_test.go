package delivery

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	errs "chat-relay/errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestDecodeInbound_Send_Message(t *testing.T) {
	req := require.New(t)
	envelope, err := structpb.NewStruct(map[string]any{
		"event": "send-message",
		"payload": map[string]any{
			"senderId":   "alice",
			"receiverId": "bob",
			"content":    map[string]any{"text": "hi", "imageRef": "https://cdn.example.com/a.png"},
		},
	})
	req.NoError(err)

	name, cmd, err := DecodeInbound(envelope)

	req.NoError(err)
	req.Equal(domain.SendMessageEvent, name)
	req.Equal(domain.SendMessageCommand{
		SenderID:   "alice",
		ReceiverID: "bob",
		Content:    domain.Content{Text: "hi", ImageRef: "https://cdn.example.com/a.png"},
	}, cmd)
}

func TestDecodeInbound_String_Payloads(t *testing.T) {
	tests := []struct {
		event string
		want  domain.Command
	}{
		{"open-thread", domain.OpenThreadCommand{PeerID: "bob"}},
		{"request-sidebar", domain.RequestSidebarCommand{UserID: "bob"}},
		{"mark-seen", domain.MarkSeenCommand{AuthorID: "bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			req := require.New(t)
			envelope, err := structpb.NewStruct(map[string]any{"event": tt.event, "payload": "bob"})
			req.NoError(err)

			_, cmd, err := DecodeInbound(envelope)
			req.NoError(err)
			req.Equal(tt.want, cmd)
		})
	}
}

func TestDecodeInbound_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		envelope map[string]any
		want     error
	}{
		{"no event", map[string]any{"payload": "bob"}, errs.ErrInvalidPayload},
		{"unknown event", map[string]any{"event": "dance"}, errs.ErrUnknownEvent},
		{"number instead of id", map[string]any{"event": "open-thread", "payload": 42}, errs.ErrInvalidPayload},
		{"empty id", map[string]any{"event": "mark-seen", "payload": ""}, errs.ErrInvalidPayload},
		{"string instead of object", map[string]any{"event": "send-message", "payload": "hi"}, errs.ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			envelope, err := structpb.NewStruct(tt.envelope)
			req.NoError(err)

			_, _, err = DecodeInbound(envelope)
			req.ErrorIs(err, tt.want)
		})
	}
}

func TestEncodeInbound_Is_Read_Back(t *testing.T) {
	req := require.New(t)
	cmd := domain.SearchMessagesCommand{Query: "pizza", Limit: 5}

	envelope, err := EncodeInbound(cmd)
	req.NoError(err)
	_, decoded, err := DecodeInbound(envelope)

	req.NoError(err)
	req.Equal(cmd, decoded)

	_, err = EncodeInbound(domain.ConnectCommand{})
	req.ErrorIs(err, errs.ErrUnknownEvent)
}

func TestEncodeOutbound_Sidebar(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := domain.Message{ID: uuid.New(), Seq: 3, AuthorID: "bob", Content: domain.Content{Text: "hi"}, CreatedAt: at}
	sidebar := event.Sidebar{Conversations: []domain.ConversationSummary{
		{ConversationID: uuid.New(), OtherParticipant: domain.UserProfile{ID: "bob", Name: "Bob"}, LastMessage: &last, UnreadCount: 2, Online: true, UpdatedAt: at},
		{ConversationID: uuid.New(), OtherParticipant: domain.UserProfile{ID: "carol"}, UpdatedAt: at.Add(-time.Hour)},
	}}

	envelope, err := EncodeOutbound(sidebar)
	req.NoError(err)
	req.Equal("sidebar", envelope.GetFields()["event"].GetStringValue())

	decoded, err := DecodeOutbound(envelope)
	req.NoError(err)
	req.Equal(sidebar, decoded)
}

func TestEncodeOutbound_Empty_History(t *testing.T) {
	req := require.New(t)

	envelope, err := EncodeOutbound(event.MessageHistory{PeerID: "bob", Messages: []domain.Message{}})
	req.NoError(err)

	payload := envelope.GetFields()["payload"].GetStructValue().GetFields()
	req.Equal("", payload["conversationId"].GetStringValue())
	req.NotNil(payload["messages"].GetListValue())
	req.Empty(payload["messages"].GetListValue().GetValues())
}

func TestEncodeOutbound_Failure(t *testing.T) {
	req := require.New(t)

	envelope, err := EncodeOutbound(event.Failure{Event: domain.MarkSeenEvent, Message: "not found"})
	req.NoError(err)

	fields := envelope.GetFields()
	req.Equal("error", fields["event"].GetStringValue())
	req.Equal("not found", fields["payload"].GetStringValue())
	req.Equal("mark-seen", fields["origin"].GetStringValue())
}
