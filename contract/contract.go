//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"reflect"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Channel is one live delivery sink of a session.
// Push must never block past ctx and must be a harmless failure once closed.
type Channel interface {
	ID() string
	UserID() domain.UserID
	Push(ctx context.Context, e event.Outbound) error
}

type IConversationStore interface {
	FindConversation(ctx context.Context, a, b domain.UserID) (*domain.Conversation, error)
	CreateConversation(ctx context.Context, a, b domain.UserID) (domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uuid.UUID, message domain.Message) (domain.Message, error)
	MarkSeen(ctx context.Context, conversationID uuid.UUID, authorID domain.UserID) (int, error)
	ListConversationsForUser(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error)
	GetThread(ctx context.Context, conversationID uuid.UUID) (domain.Thread, error)
}

type IPresenceRegistry interface {
	MarkOnline(userID domain.UserID)
	MarkOffline(userID domain.UserID)
	IsOnline(userID domain.UserID) bool
	Snapshot() []domain.UserID
}

type ISessionDirectory interface {
	AddChannel(userID domain.UserID, ch Channel) int
	RemoveChannel(userID domain.UserID, ch Channel) int
	ChannelsFor(userID domain.UserID) []Channel
	IsEmpty(userID domain.UserID) bool
	All() []Channel
}

type ISynchronizer interface {
	BuildSidebar(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error)
}

type IUserDirectory interface {
	FetchUserProfile(ctx context.Context, userID domain.UserID) (domain.UserProfile, error)
}

type IIdentityResolver interface {
	ResolveIdentity(ctx context.Context, credential string) (domain.UserID, error)
}

type IMessageIndex interface {
	Index(ctx context.Context, conversation domain.Conversation, message domain.Message) error
	Search(ctx context.Context, userID domain.UserID, query string, limit int) ([]domain.SearchHit, error)
}

type IModerator interface {
	Moderate(content domain.Content) (domain.Content, string)
}

// Inbound is one queued session event with the channel it came from.
type Inbound struct {
	Origin  Channel
	Command domain.Command
}

type IDispatcher interface {
	Handle(ctx context.Context, origin Channel, cmd domain.Command)
	Submit(ctx context.Context, origin Channel, cmd domain.Command) error
}

// IOrchestrator is what the transport sees of the delivery core.
// Connect and Disconnect are applied synchronously, everything else is queued.
type IOrchestrator interface {
	Connect(ctx context.Context, ch Channel)
	Disconnect(ctx context.Context, ch Channel)
	Submit(ctx context.Context, ch Channel, cmd domain.Command) error
}
