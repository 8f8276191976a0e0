package event

import (
	"chat-relay/domain"

	"github.com/google/uuid"
)

// Name is the wire name of an outbound event.
type Name string

const (
	PeerProfileName    Name = "peer-profile"
	MessageHistoryName Name = "message-history"
	SidebarName        Name = "sidebar"
	OnlineUsersName    Name = "online-users"
	SearchResultsName  Name = "search-results"
	ErrorName          Name = "error"
)

// Outbound is anything the dispatcher pushes to a channel.
type Outbound interface {
	Name() Name
}

type PeerProfile struct {
	Profile domain.UserProfile
	Online  bool
}

func (PeerProfile) Name() Name { return PeerProfileName }

// MessageHistory is the full ordered message list of one conversation.
// PeerID is the other participant from the receiving user's perspective.
type MessageHistory struct {
	PeerID         domain.UserID
	ConversationID uuid.UUID // uuid.Nil when no conversation exists yet
	Messages       []domain.Message
}

func (MessageHistory) Name() Name { return MessageHistoryName }

type Sidebar struct {
	Conversations []domain.ConversationSummary
}

func (Sidebar) Name() Name { return SidebarName }

type OnlineUsers struct {
	UserIDs []domain.UserID
}

func (OnlineUsers) Name() Name { return OnlineUsersName }

type SearchResults struct {
	Query string
	Hits  []domain.SearchHit
}

func (SearchResults) Name() Name { return SearchResultsName }

// Failure is only ever sent to the channel that originated the faulty event.
type Failure struct {
	Event   domain.EventName
	Message string
}

func (Failure) Name() Name { return ErrorName }
