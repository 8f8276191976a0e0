package storage

import (
	"fmt"
	"strings"
)

// Record is a human readable view of one raw Badger entry.
type Record struct {
	Kind   string
	Entity string
	Detail string
}

// DescribeRecord decodes key and val according to the key layout of the repositories.
// Unknown keys are reported as RAW.
func DescribeRecord(key string, val []byte) Record {
	switch {
	case strings.HasPrefix(key, "conv:"):
		c, err := decodeConversation(val)
		if err != nil {
			return Record{Kind: "CONVERSATION", Entity: strings.TrimPrefix(key, "conv:"), Detail: err.Error()}
		}
		return Record{
			Kind:   "CONVERSATION",
			Entity: c.ID.String(),
			Detail: fmt.Sprintf("%s <-> %s, %d messages, updated %s", c.Sender, c.Receiver, c.MessageCount, c.UpdatedAt.Format("2006-01-02 15:04:05")),
		}
	case strings.HasPrefix(key, "msg:"):
		m, err := decodeMessage(val)
		if err != nil {
			return Record{Kind: "MESSAGE", Entity: key, Detail: err.Error()}
		}
		return Record{
			Kind:   "MESSAGE",
			Entity: m.ID.String(),
			Detail: fmt.Sprintf("#%d by %s seen=%t %q", m.Seq, m.AuthorID, m.Seen, m.Content.Text),
		}
	case strings.HasPrefix(key, "user:"):
		p, err := decodeProfile(val)
		if err != nil {
			return Record{Kind: "PROFILE", Entity: strings.TrimPrefix(key, "user:"), Detail: err.Error()}
		}
		return Record{Kind: "PROFILE", Entity: p.ID.String(), Detail: fmt.Sprintf("%s <%s>", p.Name, p.Email)}
	case strings.HasPrefix(key, "pair:"):
		return Record{Kind: "PAIR", Entity: string(val), Detail: key}
	case strings.HasPrefix(key, "uconv:"):
		return Record{Kind: "USER_INDEX", Entity: key[strings.LastIndex(key, ":")+1:], Detail: key}
	default:
		return Record{Kind: "RAW", Entity: key, Detail: fmt.Sprintf("Size: %d bytes", len(val))}
	}
}
