package storage

import (
	"chat-relay/domain"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Records are stored with the protobuf wire format. Field numbers are part of
// the on-disk contract: never reuse or renumber them.

const (
	convFieldID           protowire.Number = 1
	convFieldSender       protowire.Number = 2
	convFieldReceiver     protowire.Number = 3
	convFieldCreatedAt    protowire.Number = 4
	convFieldUpdatedAt    protowire.Number = 5
	convFieldMessageCount protowire.Number = 6
)

const (
	msgFieldID             protowire.Number = 1
	msgFieldConversationID protowire.Number = 2
	msgFieldSeq            protowire.Number = 3
	msgFieldAuthor         protowire.Number = 4
	msgFieldText           protowire.Number = 5
	msgFieldImageRef       protowire.Number = 6
	msgFieldVideoRef       protowire.Number = 7
	msgFieldLang           protowire.Number = 8
	msgFieldSeen           protowire.Number = 9
	msgFieldCreatedAt      protowire.Number = 10
)

const (
	profileFieldID        protowire.Number = 1
	profileFieldName      protowire.Number = 2
	profileFieldEmail     protowire.Number = 3
	profileFieldAvatarRef protowire.Number = 4
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendVarint(b, num, uint64(t.UnixNano()))
}

func decodeTime(v uint64) time.Time {
	return time.Unix(0, int64(v)).UTC()
}

// fieldVisitor receives either a varint or a string value for a field.
type fieldVisitor func(num protowire.Number, varint uint64, str string) error

// walkFields iterates over every field of a wire-encoded record.
// Unknown wire types are skipped to stay forward compatible.
func walkFields(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := visit(num, v, ""); err != nil {
				return err
			}
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := visit(num, 0, s); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func encodeConversation(c domain.Conversation) []byte {
	var b []byte
	b = appendString(b, convFieldID, c.ID.String())
	b = appendString(b, convFieldSender, string(c.Sender))
	b = appendString(b, convFieldReceiver, string(c.Receiver))
	b = appendTime(b, convFieldCreatedAt, c.CreatedAt)
	b = appendTime(b, convFieldUpdatedAt, c.UpdatedAt)
	b = appendVarint(b, convFieldMessageCount, c.MessageCount)
	return b
}

func decodeConversation(b []byte) (domain.Conversation, error) {
	var c domain.Conversation
	err := walkFields(b, func(num protowire.Number, v uint64, s string) error {
		switch num {
		case convFieldID:
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("conversation id: %w", err)
			}
			c.ID = id
		case convFieldSender:
			c.Sender = domain.UserID(s)
		case convFieldReceiver:
			c.Receiver = domain.UserID(s)
		case convFieldCreatedAt:
			c.CreatedAt = decodeTime(v)
		case convFieldUpdatedAt:
			c.UpdatedAt = decodeTime(v)
		case convFieldMessageCount:
			c.MessageCount = v
		}
		return nil
	})
	return c, err
}

func encodeMessage(m domain.Message) []byte {
	var b []byte
	b = appendString(b, msgFieldID, m.ID.String())
	b = appendString(b, msgFieldConversationID, m.ConversationID.String())
	b = appendVarint(b, msgFieldSeq, m.Seq)
	b = appendString(b, msgFieldAuthor, string(m.AuthorID))
	b = appendString(b, msgFieldText, m.Content.Text)
	b = appendString(b, msgFieldImageRef, m.Content.ImageRef)
	b = appendString(b, msgFieldVideoRef, m.Content.VideoRef)
	b = appendString(b, msgFieldLang, m.Lang)
	b = appendVarint(b, msgFieldSeen, protowire.EncodeBool(m.Seen))
	b = appendTime(b, msgFieldCreatedAt, m.CreatedAt)
	return b
}

func decodeMessage(b []byte) (domain.Message, error) {
	var m domain.Message
	err := walkFields(b, func(num protowire.Number, v uint64, s string) error {
		switch num {
		case msgFieldID:
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("message id: %w", err)
			}
			m.ID = id
		case msgFieldConversationID:
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("message conversation id: %w", err)
			}
			m.ConversationID = id
		case msgFieldSeq:
			m.Seq = v
		case msgFieldAuthor:
			m.AuthorID = domain.UserID(s)
		case msgFieldText:
			m.Content.Text = s
		case msgFieldImageRef:
			m.Content.ImageRef = s
		case msgFieldVideoRef:
			m.Content.VideoRef = s
		case msgFieldLang:
			m.Lang = s
		case msgFieldSeen:
			m.Seen = protowire.DecodeBool(v)
		case msgFieldCreatedAt:
			m.CreatedAt = decodeTime(v)
		}
		return nil
	})
	return m, err
}

func encodeProfile(p domain.UserProfile) []byte {
	var b []byte
	b = appendString(b, profileFieldID, string(p.ID))
	b = appendString(b, profileFieldName, p.Name)
	b = appendString(b, profileFieldEmail, p.Email)
	b = appendString(b, profileFieldAvatarRef, p.AvatarRef)
	return b
}

func decodeProfile(b []byte) (domain.UserProfile, error) {
	var p domain.UserProfile
	err := walkFields(b, func(num protowire.Number, _ uint64, s string) error {
		switch num {
		case profileFieldID:
			p.ID = domain.UserID(s)
		case profileFieldName:
			p.Name = s
		case profileFieldEmail:
			p.Email = s
		case profileFieldAvatarRef:
			p.AvatarRef = s
		}
		return nil
	})
	return p, err
}
