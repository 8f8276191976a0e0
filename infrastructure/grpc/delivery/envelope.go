package delivery

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	errs "chat-relay/errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope keys.
const (
	EventKey   = "event"
	PayloadKey = "payload"
	OriginKey  = "origin" // error envelopes only: the inbound event that failed
)

// DecodeInbound parses a client envelope. The event name is returned even
// when the payload is invalid so the failure can be attributed.
func DecodeInbound(envelope *structpb.Struct) (domain.EventName, domain.Command, error) {
	fields := envelope.GetFields()
	name := domain.EventName(fields[EventKey].GetStringValue())
	payload := fields[PayloadKey]

	switch name {
	case domain.OpenThreadEvent:
		peer, err := userIDPayload(name, payload)
		return name, domain.OpenThreadCommand{PeerID: peer}, err
	case domain.RequestSidebarEvent:
		user, err := userIDPayload(name, payload)
		return name, domain.RequestSidebarCommand{UserID: user}, err
	case domain.MarkSeenEvent:
		author, err := userIDPayload(name, payload)
		return name, domain.MarkSeenCommand{AuthorID: author}, err
	case domain.SendMessageEvent:
		p, err := structPayload(name, payload)
		if err != nil {
			return name, nil, err
		}
		return name, domain.SendMessageCommand{
			SenderID:   domain.UserID(p["senderId"].GetStringValue()),
			ReceiverID: domain.UserID(p["receiverId"].GetStringValue()),
			Content:    decodeContent(p["content"].GetStructValue()),
		}, nil
	case domain.SearchMessagesEvent:
		p, err := structPayload(name, payload)
		if err != nil {
			return name, nil, err
		}
		return name, domain.SearchMessagesCommand{
			Query: p["query"].GetStringValue(),
			Limit: int(p["limit"].GetNumberValue()),
		}, nil
	case "":
		return name, nil, fmt.Errorf("%w: envelope has no event name", errs.ErrInvalidPayload)
	default:
		return name, nil, fmt.Errorf("%w: %s", errs.ErrUnknownEvent, name)
	}
}

func userIDPayload(name domain.EventName, v *structpb.Value) (domain.UserID, error) {
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok || s.StringValue == "" {
		return "", fmt.Errorf("%w: %s expects a user id", errs.ErrInvalidPayload, name)
	}
	return domain.UserID(s.StringValue), nil
}

func structPayload(name domain.EventName, v *structpb.Value) (map[string]*structpb.Value, error) {
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("%w: %s expects an object", errs.ErrInvalidPayload, name)
	}
	return s.GetFields(), nil
}

func decodeContent(s *structpb.Struct) domain.Content {
	f := s.GetFields()
	return domain.Content{
		Text:     f["text"].GetStringValue(),
		ImageRef: f["imageRef"].GetStringValue(),
		VideoRef: f["videoRef"].GetStringValue(),
	}
}

// EncodeInbound builds the envelope a client sends for cmd.
func EncodeInbound(cmd domain.Command) (*structpb.Struct, error) {
	var payload any
	switch c := cmd.(type) {
	case domain.OpenThreadCommand:
		payload = c.PeerID.String()
	case domain.RequestSidebarCommand:
		payload = c.UserID.String()
	case domain.MarkSeenCommand:
		payload = c.AuthorID.String()
	case domain.SendMessageCommand:
		payload = map[string]any{
			"senderId":   c.SenderID.String(),
			"receiverId": c.ReceiverID.String(),
			"content":    encodeContent(c.Content),
		}
	case domain.SearchMessagesCommand:
		payload = map[string]any{"query": c.Query, "limit": c.Limit}
	default:
		return nil, fmt.Errorf("%w: %s cannot be sent by a client", errs.ErrUnknownEvent, cmd.Name())
	}
	return structpb.NewStruct(map[string]any{
		EventKey:   string(cmd.Name()),
		PayloadKey: payload,
	})
}

// EncodeOutbound builds the envelope pushed to a client for e.
func EncodeOutbound(e event.Outbound) (*structpb.Struct, error) {
	envelope := map[string]any{EventKey: string(e.Name())}

	switch evt := e.(type) {
	case event.PeerProfile:
		envelope[PayloadKey] = map[string]any{
			"profile": encodeProfile(evt.Profile),
			"online":  evt.Online,
		}
	case event.MessageHistory:
		envelope[PayloadKey] = map[string]any{
			"peerId":         evt.PeerID.String(),
			"conversationId": encodeID(evt.ConversationID),
			"messages":       lo.Map(evt.Messages, func(m domain.Message, _ int) any { return encodeMessage(m) }),
		}
	case event.Sidebar:
		envelope[PayloadKey] = map[string]any{
			"conversations": lo.Map(evt.Conversations, func(c domain.ConversationSummary, _ int) any {
				return encodeSummary(c)
			}),
		}
	case event.OnlineUsers:
		envelope[PayloadKey] = map[string]any{
			"userIds": lo.Map(evt.UserIDs, func(u domain.UserID, _ int) any { return u.String() }),
		}
	case event.SearchResults:
		envelope[PayloadKey] = map[string]any{
			"query": evt.Query,
			"hits":  lo.Map(evt.Hits, func(h domain.SearchHit, _ int) any { return encodeHit(h) }),
		}
	case event.Failure:
		envelope[PayloadKey] = evt.Message
		if evt.Event != "" {
			envelope[OriginKey] = string(evt.Event)
		}
	default:
		return nil, fmt.Errorf("%w: outbound %T", errs.ErrUnknownEvent, e)
	}
	return structpb.NewStruct(envelope)
}

func encodeID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeContent(c domain.Content) map[string]any {
	content := map[string]any{}
	if c.Text != "" {
		content["text"] = c.Text
	}
	if c.ImageRef != "" {
		content["imageRef"] = c.ImageRef
	}
	if c.VideoRef != "" {
		content["videoRef"] = c.VideoRef
	}
	return content
}

func encodeProfile(p domain.UserProfile) map[string]any {
	return map[string]any{
		"id":        p.ID.String(),
		"name":      p.Name,
		"email":     p.Email,
		"avatarRef": p.AvatarRef,
	}
}

func encodeMessage(m domain.Message) map[string]any {
	return map[string]any{
		"id":             encodeID(m.ID),
		"conversationId": encodeID(m.ConversationID),
		"seq":            m.Seq,
		"authorId":       m.AuthorID.String(),
		"content":        encodeContent(m.Content),
		"lang":           m.Lang,
		"seen":           m.Seen,
		"createdAt":      encodeTime(m.CreatedAt),
	}
}

func encodeSummary(c domain.ConversationSummary) map[string]any {
	var last any
	if c.LastMessage != nil {
		last = encodeMessage(*c.LastMessage)
	}
	return map[string]any{
		"conversationId":   encodeID(c.ConversationID),
		"otherParticipant": encodeProfile(c.OtherParticipant),
		"lastMessage":      last,
		"unreadCount":      c.UnreadCount,
		"online":           c.Online,
		"updatedAt":        encodeTime(c.UpdatedAt),
	}
}

func encodeHit(h domain.SearchHit) map[string]any {
	return map[string]any{
		"conversationId": encodeID(h.ConversationID),
		"messageId":      encodeID(h.MessageID),
		"authorId":       h.AuthorID.String(),
		"text":           h.Text,
		"score":          h.Score,
		"createdAt":      encodeTime(h.CreatedAt),
	}
}
