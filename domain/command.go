package domain

// EventName is the wire name of an inbound session event.
type EventName string

const (
	OpenThreadEvent     EventName = "open-thread"
	SendMessageEvent    EventName = "send-message"
	RequestSidebarEvent EventName = "request-sidebar"
	MarkSeenEvent       EventName = "mark-seen"
	SearchMessagesEvent EventName = "search-messages"
	ConnectEvent        EventName = "connect"
	DisconnectEvent     EventName = "disconnect"
)

// Command is the tagged variant of everything a session can trigger.
// The dispatcher switches on the concrete type.
type Command interface {
	Name() EventName
}

type OpenThreadCommand struct {
	PeerID UserID `validate:"required"`
}

func (OpenThreadCommand) Name() EventName { return OpenThreadEvent }

type SendMessageCommand struct {
	SenderID   UserID `validate:"required"`
	ReceiverID UserID `validate:"required"`
	Content    Content
}

func (SendMessageCommand) Name() EventName { return SendMessageEvent }

type RequestSidebarCommand struct {
	UserID UserID `validate:"required"`
}

func (RequestSidebarCommand) Name() EventName { return RequestSidebarEvent }

// MarkSeenCommand flags every message written by AuthorID in the
// conversation shared with the session user as seen.
type MarkSeenCommand struct {
	AuthorID UserID `validate:"required"`
}

func (MarkSeenCommand) Name() EventName { return MarkSeenEvent }

type SearchMessagesCommand struct {
	Query string `validate:"required,max=256"`
	Limit int    `validate:"gte=0,lte=100"`
}

func (SearchMessagesCommand) Name() EventName { return SearchMessagesEvent }

// ConnectCommand is emitted by the transport once the identity of a new
// channel has been resolved.
type ConnectCommand struct{}

func (ConnectCommand) Name() EventName { return ConnectEvent }

// DisconnectCommand is emitted by the transport when a channel closes.
type DisconnectCommand struct{}

func (DisconnectCommand) Name() EventName { return DisconnectEvent }
