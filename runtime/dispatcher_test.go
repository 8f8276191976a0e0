package runtime

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	errs "chat-relay/errors"
	"chat-relay/infrastructure/storage"
	"chat-relay/mocks"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type harness struct {
	dispatcher *Dispatcher
	store      *storage.ConversationRepository
	directory  *SessionDirectory
	presence   *PresenceRegistry
}

func newHarness(t *testing.T) harness {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := storage.NewConversationRepository(db, log, nil)
	users := storage.NewUserRepository(db)
	for _, id := range []domain.UserID{"alice", "bob", "carol"} {
		require.NoError(t, users.PutProfile(context.Background(), domain.UserProfile{ID: id, Name: string(id)}))
	}

	directory := NewSessionDirectory()
	presence := NewPresenceRegistry()
	dispatcher := NewDispatcher(DispatcherDeps{
		Store:     store,
		Directory: directory,
		Presence:  presence,
		Sidebar:   services.NewSidebarService(store, users, presence, log),
		Users:     users,
	}, log, 2, 8, 0)
	return harness{dispatcher: dispatcher, store: store, directory: directory, presence: presence}
}

func (h harness) connect(userID domain.UserID) *fakeChannel {
	ch := newFakeChannel(userID)
	h.dispatcher.Handle(context.Background(), ch, domain.ConnectCommand{})
	return ch
}

func lastOf[T event.Outbound](events []event.Outbound) (T, bool) {
	var zero T
	for i := len(events) - 1; i >= 0; i-- {
		if e, ok := events[i].(T); ok {
			return e, true
		}
	}
	return zero, false
}

func failures(events []event.Outbound) []event.Failure {
	var out []event.Failure
	for _, e := range events {
		if f, ok := e.(event.Failure); ok {
			out = append(out, f)
		}
	}
	return out
}

func TestDispatcher_Send_Message_Creates_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := h.connect("alice"), h.connect("bob")
	alice.Reset()
	bob.Reset()

	// When alice sends "hi" to bob with no prior conversation
	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{
		SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "hi"},
	})

	// Then exactly one conversation holds one unseen message
	conversation, err := h.store.FindConversation(ctx, "bob", "alice")
	req.NoError(err)
	req.NotNil(conversation)
	thread, err := h.store.GetThread(ctx, conversation.ID)
	req.NoError(err)
	req.Len(thread.Messages, 1)
	req.Equal("hi", thread.Messages[0].Content.Text)
	req.Equal(domain.UserID("alice"), thread.Messages[0].AuthorID)
	req.False(thread.Messages[0].Seen)

	// And both parties got the history then the sidebar
	for _, ch := range []*fakeChannel{alice, bob} {
		req.Equal([]event.Name{event.MessageHistoryName, event.SidebarName}, ch.Names())
		history, _ := lastOf[event.MessageHistory](ch.Events())
		req.Equal(conversation.ID, history.ConversationID)
		req.Len(history.Messages, 1)

		sidebar, _ := lastOf[event.Sidebar](ch.Events())
		req.Len(sidebar.Conversations, 1)
		req.Equal("hi", sidebar.Conversations[0].LastMessage.Content.Text)
		req.True(sidebar.Conversations[0].Online)
	}
	aliceHistory, _ := lastOf[event.MessageHistory](alice.Events())
	bobHistory, _ := lastOf[event.MessageHistory](bob.Events())
	req.Equal(domain.UserID("bob"), aliceHistory.PeerID)
	req.Equal(domain.UserID("alice"), bobHistory.PeerID)

	bobSidebar, _ := lastOf[event.Sidebar](bob.Events())
	req.Equal(1, bobSidebar.Conversations[0].UnreadCount)
	req.Equal(domain.UserID("alice"), bobSidebar.Conversations[0].OtherParticipant.ID)
}

func TestDispatcher_Send_Message_Reuses_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := h.connect("alice"), h.connect("bob")

	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "hi"}})
	h.dispatcher.Handle(ctx, bob, domain.SendMessageCommand{SenderID: "bob", ReceiverID: "alice", Content: domain.Content{Text: "hello"}})

	conversations, err := h.store.ListConversationsForUser(ctx, "alice")
	req.NoError(err)
	req.Len(conversations, 1)

	thread, err := h.store.GetThread(ctx, conversations[0].ID)
	req.NoError(err)
	req.Equal([]uint64{1, 2}, []uint64{thread.Messages[0].Seq, thread.Messages[1].Seq})
	req.Empty(failures(alice.Events()))
	req.Empty(failures(bob.Events()))
}

func TestDispatcher_Send_Message_To_Offline_Receiver(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := h.connect("alice")
	alice.Reset()

	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "are you there"}})

	// Then the message is stored and only alice is notified
	req.Equal([]event.Name{event.MessageHistoryName, event.SidebarName}, alice.Names())
	sidebar, _ := lastOf[event.Sidebar](alice.Events())
	req.False(sidebar.Conversations[0].Online)
}

func TestDispatcher_Send_Message_As_Someone_Else(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := h.connect("alice"), h.connect("bob")
	alice.Reset()
	bob.Reset()

	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "bob", ReceiverID: "carol", Content: domain.Content{Text: "hi"}})

	// Then only the origin gets an error and nothing is stored
	req.Equal([]event.Name{event.ErrorName}, alice.Names())
	req.Empty(bob.Events())
	req.Contains(failures(alice.Events())[0].Message, errs.ErrForbidden.Error())
	found, err := h.store.FindConversation(ctx, "bob", "carol")
	req.NoError(err)
	req.Nil(found)
}

func TestDispatcher_Send_Empty_Message(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect("alice")
	alice.Reset()

	h.dispatcher.Handle(context.Background(), alice, domain.SendMessageCommand{
		SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "   "},
	})

	req.Equal([]event.Name{event.ErrorName}, alice.Names())
	req.Equal(domain.SendMessageEvent, failures(alice.Events())[0].Event)
}

func TestDispatcher_Mark_Seen_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := h.connect("alice"), h.connect("bob")
	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "hi"}})
	alice.Reset()
	bob.Reset()

	// When bob marks alice's messages as seen
	h.dispatcher.Handle(ctx, bob, domain.MarkSeenCommand{AuthorID: "alice"})

	// Then both parties receive a sidebar and bob has nothing unread
	req.Equal([]event.Name{event.SidebarName}, alice.Names())
	req.Equal([]event.Name{event.SidebarName}, bob.Names())
	bobSidebar, _ := lastOf[event.Sidebar](bob.Events())
	req.Zero(bobSidebar.Conversations[0].UnreadCount)

	conversation, err := h.store.FindConversation(ctx, "alice", "bob")
	req.NoError(err)
	thread, err := h.store.GetThread(ctx, conversation.ID)
	req.NoError(err)
	req.True(thread.Messages[0].Seen)

	// When bob marks them again nothing changes
	h.dispatcher.Handle(ctx, bob, domain.MarkSeenCommand{AuthorID: "alice"})
	count, err := h.store.MarkSeen(ctx, conversation.ID, "alice")
	req.NoError(err)
	req.Zero(count)
	req.Empty(failures(bob.Events()))
}

func TestDispatcher_Mark_Seen_Without_Conversation(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	bob := h.connect("bob")
	bob.Reset()

	h.dispatcher.Handle(context.Background(), bob, domain.MarkSeenCommand{AuthorID: "carol"})

	req.Equal([]event.Name{event.ErrorName}, bob.Names())
	req.Contains(failures(bob.Events())[0].Message, errs.ErrNotFound.Error())
}

func TestDispatcher_Two_Channels_Presence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	bob := h.connect("bob")

	// Given alice connected from two channels
	first, second := h.connect("alice"), h.connect("alice")
	online, _ := lastOf[event.OnlineUsers](bob.Events())
	req.Equal([]domain.UserID{"alice", "bob"}, online.UserIDs)

	// When one channel closes alice is still online
	h.dispatcher.Handle(ctx, first, domain.DisconnectCommand{})
	req.True(h.presence.IsOnline("alice"))
	req.Len(h.directory.ChannelsFor("alice"), 1)

	// When the second one closes alice is offline
	bob.Reset()
	h.dispatcher.Handle(ctx, second, domain.DisconnectCommand{})
	req.False(h.presence.IsOnline("alice"))
	req.True(h.directory.IsEmpty("alice"))

	online, ok := lastOf[event.OnlineUsers](bob.Events())
	req.True(ok)
	req.Equal([]domain.UserID{"bob"}, online.UserIDs)
}

// gatedChannel holds its first push once armed, until release is closed.
type gatedChannel struct {
	*fakeChannel
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedChannel(userID domain.UserID) *gatedChannel {
	return &gatedChannel{fakeChannel: newFakeChannel(userID), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedChannel) Push(ctx context.Context, e event.Outbound) error {
	if g.armed.Load() {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.fakeChannel.Push(ctx, e)
}

func TestDispatcher_Presence_Broadcasts_Never_Overtake(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	bob := newGatedChannel("bob")
	h.dispatcher.Handle(ctx, bob, domain.ConnectCommand{})
	firstTab := h.connect("alice")

	// Given the offline broadcast of alice is stuck on the channel of bob
	bob.armed.Store(true)
	disconnected := make(chan struct{})
	go func() {
		h.dispatcher.Handle(ctx, firstTab, domain.DisconnectCommand{})
		close(disconnected)
	}()
	<-bob.entered

	// When alice reconnects from a second tab meanwhile
	reconnected := make(chan struct{})
	go func() {
		h.connect("alice")
		close(reconnected)
	}()
	time.Sleep(50 * time.Millisecond)
	close(bob.release)
	<-disconnected
	<-reconnected

	// Then the last set seen by bob matches the registry
	req.True(h.presence.IsOnline("alice"))
	online, ok := lastOf[event.OnlineUsers](bob.Events())
	req.True(ok)
	req.Equal([]domain.UserID{"alice", "bob"}, online.UserIDs)
}

func TestDispatcher_Connect_Broadcasts_To_Everyone(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	aliceOnline, _ := lastOf[event.OnlineUsers](alice.Events())
	bobOnline, _ := lastOf[event.OnlineUsers](bob.Events())
	req.Equal([]domain.UserID{"alice", "bob"}, aliceOnline.UserIDs)
	req.Equal(aliceOnline, bobOnline)
}

func TestDispatcher_Open_Thread_Without_Conversation(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect("alice")
	alice.Reset()

	h.dispatcher.Handle(context.Background(), alice, domain.OpenThreadCommand{PeerID: "carol"})

	// Then the profile comes first and the history is empty, not an error
	req.Equal([]event.Name{event.PeerProfileName, event.MessageHistoryName}, alice.Names())
	profile, _ := lastOf[event.PeerProfile](alice.Events())
	req.Equal("carol", profile.Profile.Name)
	req.False(profile.Online)

	history, _ := lastOf[event.MessageHistory](alice.Events())
	req.Equal(uuid.Nil, history.ConversationID)
	req.NotNil(history.Messages)
	req.Empty(history.Messages)
}

func TestDispatcher_Open_Thread_Unknown_Peer(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect("alice")
	alice.Reset()

	h.dispatcher.Handle(context.Background(), alice, domain.OpenThreadCommand{PeerID: "nobody"})

	req.Equal([]event.Name{event.ErrorName}, alice.Names())
	req.Contains(failures(alice.Events())[0].Message, errs.ErrNotFound.Error())
}

func TestDispatcher_Request_Sidebar_Sorted_By_Activity(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice := h.connect("alice")
	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "first"}})
	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "carol", Content: domain.Content{Text: "second"}})
	alice.Reset()

	h.dispatcher.Handle(ctx, alice, domain.RequestSidebarCommand{UserID: "alice"})

	sidebar, ok := lastOf[event.Sidebar](alice.Events())
	req.True(ok)
	req.Len(sidebar.Conversations, 2)
	req.Equal(domain.UserID("carol"), sidebar.Conversations[0].OtherParticipant.ID)
	req.Equal(domain.UserID("bob"), sidebar.Conversations[1].OtherParticipant.ID)
	req.False(sidebar.Conversations[0].UpdatedAt.Before(sidebar.Conversations[1].UpdatedAt))
}

func TestDispatcher_Request_Sidebar_Of_Someone_Else(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := h.connect("alice")
	alice.Reset()

	h.dispatcher.Handle(context.Background(), alice, domain.RequestSidebarCommand{UserID: "bob"})

	req.Equal([]event.Name{event.ErrorName}, alice.Names())
}

func TestDispatcher_Failed_Push_Does_Not_Reach_Others(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	h := newHarness(t)
	alice, bob := h.connect("alice"), h.connect("bob")
	alice.Reset()
	bob.err = errs.ErrChannelClosed

	h.dispatcher.Handle(ctx, alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "hi"}})

	// Then the unreachable receiver is ignored and the sender gets no error
	req.Equal([]event.Name{event.MessageHistoryName, event.SidebarName}, alice.Names())
	req.Positive(h.dispatcher.Monitor.GetLatest().PushFailures)
}

func TestDispatcher_Storage_Failure_Hides_Internals(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIConversationStore(ctrl)
	users := mocks.NewMockIUserDirectory(ctrl)
	directory := NewSessionDirectory()
	presence := NewPresenceRegistry()
	dispatcher := NewDispatcher(DispatcherDeps{
		Store: store, Directory: directory, Presence: presence, Users: users,
		Sidebar: mocks.NewMockISynchronizer(ctrl),
	}, logs.GetLoggerFromLevel(slog.LevelDebug), 1, 1, 0)
	alice := newFakeChannel("alice")
	directory.AddChannel("alice", alice)
	presence.MarkOnline("alice")

	// Given a store that fails on write
	store.EXPECT().FindConversation(gomock.Any(), domain.UserID("alice"), domain.UserID("bob")).Return(nil, nil)
	store.EXPECT().CreateConversation(gomock.Any(), domain.UserID("alice"), domain.UserID("bob")).
		Return(domain.Conversation{}, fmt.Errorf("%w: %w", errs.ErrStorage, fmt.Errorf("value log corrupted at offset 42")))

	dispatcher.Handle(context.Background(), alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob", Content: domain.Content{Text: "hi"}})

	// Then the origin only learns there was a storage failure
	req.Equal([]event.Failure{{Event: domain.SendMessageEvent, Message: errs.ErrStorage.Error()}}, failures(alice.Events()))
	// And the registries are untouched
	req.True(presence.IsOnline("alice"))
	req.Len(directory.ChannelsFor("alice"), 1)
}

func TestDispatcher_Panic_Becomes_Error_Event(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	users := mocks.NewMockIUserDirectory(ctrl)
	dispatcher := NewDispatcher(DispatcherDeps{
		Store:     mocks.NewMockIConversationStore(ctrl),
		Directory: NewSessionDirectory(),
		Presence:  NewPresenceRegistry(),
		Users:     users,
		Sidebar:   mocks.NewMockISynchronizer(ctrl),
	}, logs.GetLoggerFromLevel(slog.LevelDebug), 1, 1, 0)
	alice := newFakeChannel("alice")

	users.EXPECT().FetchUserProfile(gomock.Any(), domain.UserID("bob")).
		DoAndReturn(func(context.Context, domain.UserID) (domain.UserProfile, error) { panic("nil map") })

	req.NotPanics(func() {
		dispatcher.Handle(context.Background(), alice, domain.OpenThreadCommand{PeerID: "bob"})
	})
	req.Equal([]event.Failure{{Event: domain.OpenThreadEvent, Message: "internal error"}}, failures(alice.Events()))
	req.Equal(uint64(1), dispatcher.Monitor.GetLatest().HandlerPanics)
}

func TestDispatcher_Submit_On_Full_Queue(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := NewDispatcher(DispatcherDeps{
		Store:     mocks.NewMockIConversationStore(ctrl),
		Directory: NewSessionDirectory(),
		Presence:  NewPresenceRegistry(),
		Users:     mocks.NewMockIUserDirectory(ctrl),
		Sidebar:   mocks.NewMockISynchronizer(ctrl),
	}, logs.GetLoggerFromLevel(slog.LevelDebug), 1, 1, 0)
	alice := newFakeChannel("alice")

	// Given a queue of one slot and no worker draining it
	req.NoError(dispatcher.Submit(context.Background(), alice, domain.RequestSidebarCommand{UserID: "alice"}))

	// When a second event arrives
	err := dispatcher.Submit(context.Background(), alice, domain.RequestSidebarCommand{UserID: "alice"})

	// Then the origin is told the server is busy
	req.ErrorIs(err, errs.ErrServerBusy)
	req.Equal([]event.Failure{{Event: domain.RequestSidebarEvent, Message: errs.ErrServerBusy.Error()}}, failures(alice.Events()))
	size, capacity := dispatcher.QueueSize()
	req.Equal(1, size)
	req.Equal(1, capacity)
}

func TestDispatcher_Shards_Conversation_Events_By_Pair(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := NewDispatcher(DispatcherDeps{
		Store:     mocks.NewMockIConversationStore(ctrl),
		Directory: NewSessionDirectory(),
		Presence:  NewPresenceRegistry(),
		Users:     mocks.NewMockIUserDirectory(ctrl),
		Sidebar:   mocks.NewMockISynchronizer(ctrl),
	}, logs.GetLoggerFromLevel(slog.LevelDebug), 8, 1, 0)
	alice, bob := newFakeChannel("alice"), newFakeChannel("bob")

	fromAlice := dispatcher.shard(alice, domain.SendMessageCommand{SenderID: "alice", ReceiverID: "bob"})
	fromBob := dispatcher.shard(bob, domain.SendMessageCommand{SenderID: "bob", ReceiverID: "alice"})
	seen := dispatcher.shard(bob, domain.MarkSeenCommand{AuthorID: "alice"})

	req.Equal(fromAlice, fromBob)
	req.Equal(fromAlice, seen)
	req.Len(dispatcher.Workers(), 8)
}

func TestDispatcher_Unknown_Command(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	alice := newFakeChannel("alice")

	h.dispatcher.Handle(context.Background(), alice, unknownCommand{})

	req.Contains(failures(alice.Events())[0].Message, errs.ErrUnknownEvent.Error())
}

type unknownCommand struct{}

func (unknownCommand) Name() domain.EventName { return "dance" }
