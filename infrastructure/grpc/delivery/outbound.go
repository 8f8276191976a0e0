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

// DecodeOutbound is the client side of EncodeOutbound.
// Malformed ids and timestamps decode to their zero value.
func DecodeOutbound(envelope *structpb.Struct) (event.Outbound, error) {
	fields := envelope.GetFields()
	name := event.Name(fields[EventKey].GetStringValue())
	payload := fields[PayloadKey]
	p := payload.GetStructValue().GetFields()

	switch name {
	case event.PeerProfileName:
		return event.PeerProfile{
			Profile: decodeProfile(p["profile"].GetStructValue()),
			Online:  p["online"].GetBoolValue(),
		}, nil
	case event.MessageHistoryName:
		return event.MessageHistory{
			PeerID:         domain.UserID(p["peerId"].GetStringValue()),
			ConversationID: decodeID(p["conversationId"]),
			Messages: lo.Map(p["messages"].GetListValue().GetValues(), func(v *structpb.Value, _ int) domain.Message {
				return decodeMessage(v.GetStructValue())
			}),
		}, nil
	case event.SidebarName:
		return event.Sidebar{
			Conversations: lo.Map(p["conversations"].GetListValue().GetValues(), func(v *structpb.Value, _ int) domain.ConversationSummary {
				return decodeSummary(v.GetStructValue())
			}),
		}, nil
	case event.OnlineUsersName:
		return event.OnlineUsers{
			UserIDs: lo.Map(p["userIds"].GetListValue().GetValues(), func(v *structpb.Value, _ int) domain.UserID {
				return domain.UserID(v.GetStringValue())
			}),
		}, nil
	case event.SearchResultsName:
		return event.SearchResults{
			Query: p["query"].GetStringValue(),
			Hits: lo.Map(p["hits"].GetListValue().GetValues(), func(v *structpb.Value, _ int) domain.SearchHit {
				h := v.GetStructValue().GetFields()
				return domain.SearchHit{
					ConversationID: decodeID(h["conversationId"]),
					MessageID:      decodeID(h["messageId"]),
					AuthorID:       domain.UserID(h["authorId"].GetStringValue()),
					Text:           h["text"].GetStringValue(),
					Score:          h["score"].GetNumberValue(),
					CreatedAt:      decodeTime(h["createdAt"]),
				}
			}),
		}, nil
	case event.ErrorName:
		return event.Failure{
			Event:   domain.EventName(fields[OriginKey].GetStringValue()),
			Message: payload.GetStringValue(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: outbound %q", errs.ErrUnknownEvent, name)
	}
}

func decodeID(v *structpb.Value) uuid.UUID {
	id, err := uuid.Parse(v.GetStringValue())
	if err != nil {
		return uuid.Nil
	}
	return id
}

func decodeTime(v *structpb.Value) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v.GetStringValue())
	if err != nil {
		return time.Time{}
	}
	return t
}

func decodeProfile(s *structpb.Struct) domain.UserProfile {
	f := s.GetFields()
	return domain.UserProfile{
		ID:        domain.UserID(f["id"].GetStringValue()),
		Name:      f["name"].GetStringValue(),
		Email:     f["email"].GetStringValue(),
		AvatarRef: f["avatarRef"].GetStringValue(),
	}
}

func decodeMessage(s *structpb.Struct) domain.Message {
	f := s.GetFields()
	return domain.Message{
		ID:             decodeID(f["id"]),
		ConversationID: decodeID(f["conversationId"]),
		Seq:            uint64(f["seq"].GetNumberValue()),
		AuthorID:       domain.UserID(f["authorId"].GetStringValue()),
		Content:        decodeContent(f["content"].GetStructValue()),
		Lang:           f["lang"].GetStringValue(),
		Seen:           f["seen"].GetBoolValue(),
		CreatedAt:      decodeTime(f["createdAt"]),
	}
}

func decodeSummary(s *structpb.Struct) domain.ConversationSummary {
	f := s.GetFields()
	summary := domain.ConversationSummary{
		ConversationID:   decodeID(f["conversationId"]),
		OtherParticipant: decodeProfile(f["otherParticipant"].GetStructValue()),
		UnreadCount:      int(f["unreadCount"].GetNumberValue()),
		Online:           f["online"].GetBoolValue(),
		UpdatedAt:        decodeTime(f["updatedAt"]),
	}
	if last := f["lastMessage"].GetStructValue(); last != nil {
		summary.LastMessage = lo.ToPtr(decodeMessage(last))
	}
	return summary
}
