package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	errs "chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/runtime/workers"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var _ contract.IDispatcher = (*Dispatcher)(nil)

// DispatcherDeps are the collaborators of the dispatcher.
// Index and Moderator are optional.
type DispatcherDeps struct {
	Store     contract.IConversationStore
	Directory contract.ISessionDirectory
	Presence  contract.IPresenceRegistry
	Sidebar   contract.ISynchronizer
	Users     contract.IUserDirectory
	Index     contract.IMessageIndex
	Moderator contract.IModerator
	Monitor   *observability.MonitoringManager
}

// Dispatcher turns session events into store mutations and pushes.
//
// Queued events are sharded over one queue per worker. Events touching a
// conversation are routed by participant pair, every other event by origin
// channel, so both per-conversation and per-session order match submission order.
type Dispatcher struct {
	DispatcherDeps
	queues      []chan contract.Inbound
	bufferSize  int
	sinkTimeout time.Duration
	validate    *validator.Validate
	log         *slog.Logger

	// presenceMu keeps directory and presence moves of connect/disconnect atomic.
	presenceMu sync.Mutex
	// broadcastMu spans the online snapshot and its fan-out, so a newer set
	// is never overtaken by an older one on any channel.
	broadcastMu sync.Mutex
}

func NewDispatcher(deps DispatcherDeps, log *slog.Logger, numWorkers, bufferSize int, sinkTimeout time.Duration) *Dispatcher {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if deps.Monitor == nil {
		deps.Monitor = observability.NewMonitoringManager(log)
	}
	queues := make([]chan contract.Inbound, numWorkers)
	for i := range queues {
		queues[i] = make(chan contract.Inbound, bufferSize)
	}
	return &Dispatcher{
		DispatcherDeps: deps,
		queues:         queues,
		bufferSize:     bufferSize,
		sinkTimeout:    sinkTimeout,
		validate:       validator.New(),
		log:            log.With("component", "dispatcher"),
	}
}

// Workers returns one dispatch worker per queue, to be run under supervision.
func (d *Dispatcher) Workers() []contract.Worker {
	return lo.Map(d.queues, func(q chan contract.Inbound, _ int) contract.Worker {
		return workers.NewDispatchWorker(d, q, d.log)
	})
}

// QueueSize returns the number of queued events and the total capacity.
func (d *Dispatcher) QueueSize() (int, int) {
	size := lo.SumBy(d.queues, func(q chan contract.Inbound) int { return len(q) })
	return size, d.bufferSize * len(d.queues)
}

// Submit queues cmd without blocking the session reader.
// A full queue answers the origin with a server busy error.
func (d *Dispatcher) Submit(ctx context.Context, origin contract.Channel, cmd domain.Command) error {
	queue := d.queues[d.shard(origin, cmd)]
	select {
	case queue <- contract.Inbound{Origin: origin, Command: cmd}:
		return nil
	default:
		d.Monitor.IncrEventsRejected()
		d.log.Warn("Inbound queue full", "event", cmd.Name(), "channel_id", origin.ID())
		d.fail(ctx, origin, cmd.Name(), errs.ErrServerBusy)
		return errs.ErrServerBusy
	}
}

func (d *Dispatcher) shard(origin contract.Channel, cmd domain.Command) int {
	if len(d.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	switch c := cmd.(type) {
	case domain.SendMessageCommand:
		a, b := domain.CanonicalPair(c.SenderID, c.ReceiverID)
		_, _ = fmt.Fprintf(h, "%d:%s:%s", len(a), a, b)
	case domain.MarkSeenCommand:
		a, b := domain.CanonicalPair(origin.UserID(), c.AuthorID)
		_, _ = fmt.Fprintf(h, "%d:%s:%s", len(a), a, b)
	default:
		_, _ = h.Write([]byte(origin.ID()))
	}
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Handle runs one event inside a supervision boundary: every fault,
// panics included, becomes an error event on the origin channel only.
func (d *Dispatcher) Handle(ctx context.Context, origin contract.Channel, cmd domain.Command) {
	log := d.log.With("event", cmd.Name(), "user_id", origin.UserID(), "channel_id", origin.ID())
	defer func() {
		if r := recover(); r != nil {
			d.Monitor.IncrHandlerPanics()
			log.Error("Handler panicked", "panic", r)
			d.fail(ctx, origin, cmd.Name(), errs.ErrWorkerPanic)
		}
	}()

	d.Monitor.IncrEventsHandled()
	if err := d.route(ctx, origin, cmd); err != nil {
		d.Monitor.IncrHandlerFailures()
		log.Warn("Handler failed", "error", err)
		d.fail(ctx, origin, cmd.Name(), err)
	}
}

func (d *Dispatcher) route(ctx context.Context, origin contract.Channel, cmd domain.Command) error {
	switch c := cmd.(type) {
	case domain.OpenThreadCommand:
		return d.openThread(ctx, origin, c)
	case domain.SendMessageCommand:
		return d.sendMessage(ctx, origin, c)
	case domain.RequestSidebarCommand:
		return d.requestSidebar(ctx, origin, c)
	case domain.MarkSeenCommand:
		return d.markSeen(ctx, origin, c)
	case domain.SearchMessagesCommand:
		return d.searchMessages(ctx, origin, c)
	case domain.ConnectCommand:
		d.connect(ctx, origin)
		return nil
	case domain.DisconnectCommand:
		d.disconnect(ctx, origin)
		return nil
	default:
		return fmt.Errorf("%w: %T", errs.ErrUnknownEvent, cmd)
	}
}

func (d *Dispatcher) check(cmd any) error {
	if err := d.validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidPayload, err)
	}
	return nil
}

// openThread is read-only: no conversation is created.
func (d *Dispatcher) openThread(ctx context.Context, origin contract.Channel, c domain.OpenThreadCommand) error {
	if err := d.check(c); err != nil {
		return err
	}
	profile, err := d.Users.FetchUserProfile(ctx, c.PeerID)
	if err != nil {
		return err
	}
	history := event.MessageHistory{PeerID: c.PeerID, Messages: []domain.Message{}}
	conversation, err := d.Store.FindConversation(ctx, origin.UserID(), c.PeerID)
	if err != nil {
		return err
	}
	if conversation != nil {
		thread, err := d.Store.GetThread(ctx, conversation.ID)
		if err != nil {
			return err
		}
		history.ConversationID = conversation.ID
		history.Messages = nonNil(thread.Messages)
	}

	d.push(ctx, origin, event.PeerProfile{Profile: profile, Online: d.Presence.IsOnline(c.PeerID)})
	d.push(ctx, origin, history)
	return nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, origin contract.Channel, c domain.SendMessageCommand) error {
	if err := d.check(c); err != nil {
		return err
	}
	if c.SenderID != origin.UserID() {
		return fmt.Errorf("%w: cannot send as %s", errs.ErrForbidden, c.SenderID)
	}
	if c.Content.IsEmpty() {
		return fmt.Errorf("%w: message content is empty", errs.ErrInvalidPayload)
	}

	content, lang := c.Content, ""
	if d.Moderator != nil {
		content, lang = d.Moderator.Moderate(content)
	}

	conversation, err := d.findOrCreate(ctx, c.SenderID, c.ReceiverID)
	if err != nil {
		return err
	}
	stored, err := d.Store.AppendMessage(ctx, conversation.ID, domain.Message{
		AuthorID: c.SenderID,
		Content:  content,
		Lang:     lang,
	})
	if err != nil {
		return err
	}
	d.Monitor.IncrMessagesAppended()

	if d.Index != nil {
		if err := d.Index.Index(ctx, conversation, stored); err != nil {
			d.log.Warn("Message not indexed", "conversation_id", conversation.ID, "error", err)
		}
	}

	thread, err := d.Store.GetThread(ctx, conversation.ID)
	if err != nil {
		return err
	}
	for _, party := range parties(c.SenderID, c.ReceiverID) {
		d.broadcast(ctx, d.Directory.ChannelsFor(party), event.MessageHistory{
			PeerID:         thread.Conversation.Peer(party),
			ConversationID: conversation.ID,
			Messages:       nonNil(thread.Messages),
		})
	}
	return d.pushSidebars(ctx, parties(c.SenderID, c.ReceiverID))
}

// findOrCreate relies on the store to keep a single conversation per pair.
func (d *Dispatcher) findOrCreate(ctx context.Context, a, b domain.UserID) (domain.Conversation, error) {
	conversation, err := d.Store.FindConversation(ctx, a, b)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conversation != nil {
		return *conversation, nil
	}
	return d.Store.CreateConversation(ctx, a, b)
}

func (d *Dispatcher) requestSidebar(ctx context.Context, origin contract.Channel, c domain.RequestSidebarCommand) error {
	if err := d.check(c); err != nil {
		return err
	}
	if c.UserID != origin.UserID() {
		return fmt.Errorf("%w: sidebar of %s", errs.ErrForbidden, c.UserID)
	}
	summaries, err := d.Sidebar.BuildSidebar(ctx, c.UserID)
	if err != nil {
		return err
	}
	d.push(ctx, origin, event.Sidebar{Conversations: summaries})
	return nil
}

func (d *Dispatcher) markSeen(ctx context.Context, origin contract.Channel, c domain.MarkSeenCommand) error {
	if err := d.check(c); err != nil {
		return err
	}
	viewer := origin.UserID()
	conversation, err := d.Store.FindConversation(ctx, viewer, c.AuthorID)
	if err != nil {
		return err
	}
	if conversation == nil {
		return fmt.Errorf("%w: no conversation with %s", errs.ErrNotFound, c.AuthorID)
	}
	count, err := d.Store.MarkSeen(ctx, conversation.ID, c.AuthorID)
	if err != nil {
		return err
	}
	d.log.Debug("Messages marked as seen", "conversation_id", conversation.ID, "count", count)
	return d.pushSidebars(ctx, parties(viewer, c.AuthorID))
}

func (d *Dispatcher) searchMessages(ctx context.Context, origin contract.Channel, c domain.SearchMessagesCommand) error {
	if err := d.check(c); err != nil {
		return err
	}
	if d.Index == nil {
		return fmt.Errorf("%w: search is disabled", errs.ErrUnknownEvent)
	}
	hits, err := d.Index.Search(ctx, origin.UserID(), c.Query, c.Limit)
	if err != nil {
		return err
	}
	d.push(ctx, origin, event.SearchResults{Query: c.Query, Hits: nonNil(hits)})
	return nil
}

// connect runs after the identity of origin has been resolved.
func (d *Dispatcher) connect(ctx context.Context, origin contract.Channel) {
	d.presenceMu.Lock()
	if d.Directory.AddChannel(origin.UserID(), origin) == 1 {
		d.Presence.MarkOnline(origin.UserID())
	}
	d.presenceMu.Unlock()
	d.broadcastPresence(ctx)
}

func (d *Dispatcher) disconnect(ctx context.Context, origin contract.Channel) {
	d.presenceMu.Lock()
	if d.Directory.RemoveChannel(origin.UserID(), origin) == 0 {
		d.Presence.MarkOffline(origin.UserID())
	}
	d.presenceMu.Unlock()
	d.broadcastPresence(ctx)
}

func (d *Dispatcher) broadcastPresence(ctx context.Context) {
	d.broadcastMu.Lock()
	defer d.broadcastMu.Unlock()
	d.broadcast(ctx, d.Directory.All(), event.OnlineUsers{UserIDs: d.Presence.Snapshot()})
}

func (d *Dispatcher) pushSidebars(ctx context.Context, users []domain.UserID) error {
	for _, user := range users {
		channels := d.Directory.ChannelsFor(user)
		if len(channels) == 0 {
			continue
		}
		summaries, err := d.Sidebar.BuildSidebar(ctx, user)
		if err != nil {
			return err
		}
		d.broadcast(ctx, channels, event.Sidebar{Conversations: summaries})
	}
	return nil
}

// broadcast is best effort: a failing channel is logged and skipped.
func (d *Dispatcher) broadcast(ctx context.Context, channels []contract.Channel, e event.Outbound) {
	for _, ch := range channels {
		d.push(ctx, ch, e)
	}
}

func (d *Dispatcher) push(ctx context.Context, ch contract.Channel, e event.Outbound) {
	pushCtx := ctx
	if d.sinkTimeout > 0 {
		var cancel context.CancelFunc
		pushCtx, cancel = context.WithTimeout(ctx, d.sinkTimeout)
		defer cancel()
	}
	if err := ch.Push(pushCtx, e); err != nil {
		d.Monitor.IncrPushFailures()
		d.log.Debug("Push dropped", "event", e.Name(), "channel_id", ch.ID(), "user_id", ch.UserID(),
			"error", fmt.Errorf("%w: %w", errs.ErrBroadcast, err))
		return
	}
	d.Monitor.IncrPushes()
}

func (d *Dispatcher) fail(ctx context.Context, origin contract.Channel, name domain.EventName, err error) {
	d.push(ctx, origin, event.Failure{Event: name, Message: failureMessage(err)})
}

// failureMessage hides storage internals from clients.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrStorage):
		return errs.ErrStorage.Error()
	case errors.Is(err, errs.ErrWorkerPanic):
		return "internal error"
	default:
		return err.Error()
	}
}

func parties(a, b domain.UserID) []domain.UserID {
	return lo.Uniq([]domain.UserID{a, b})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
