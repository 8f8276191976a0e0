// Package runtime holds the transient state of the delivery core: who is
// connected, through which channels, and the dispatcher driving the store.
package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var _ contract.IOrchestrator = (*Orchestrator)(nil)

type Settings struct {
	NumberOfWorkers  int
	BufferSize       int
	SinkTimeout      time.Duration
	MetricInterval   time.Duration
	EnableModeration bool
	CharReplacement  rune
}

// Collaborators are the durable dependencies, built by the caller.
type Collaborators struct {
	Store contract.IConversationStore
	Users contract.IUserDirectory
	Index contract.IMessageIndex
}

type Orchestrator struct {
	mu         sync.Mutex
	log        *slog.Logger
	settings   Settings
	supervisor contract.ISupervisor
	directory  *SessionDirectory
	presence   *PresenceRegistry
	monitoring *observability.MonitoringManager
	dispatcher *Dispatcher
	started    bool
	done       chan struct{}
}

// NewOrchestrator wires the registries, the sidebar service and the dispatcher.
// The dictionaries are loaded and the moderation automaton built here, before any worker starts.
func NewOrchestrator(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	collaborators Collaborators,
	settings Settings,
) (*Orchestrator, error) {
	directory := NewSessionDirectory()
	presence := NewPresenceRegistry()
	monitoring := observability.NewMonitoringManager(log)

	var moderator contract.IModerator
	if settings.EnableModeration {
		m, err := prepareModeration(log, settings.CharReplacement)
		if err != nil {
			return nil, err
		}
		moderator = m
	}

	dispatcher := NewDispatcher(DispatcherDeps{
		Store:     collaborators.Store,
		Directory: directory,
		Presence:  presence,
		Sidebar:   services.NewSidebarService(collaborators.Store, collaborators.Users, presence, log),
		Users:     collaborators.Users,
		Index:     collaborators.Index,
		Moderator: moderator,
		Monitor:   monitoring,
	}, log, settings.NumberOfWorkers, settings.BufferSize, settings.SinkTimeout)

	return &Orchestrator{
		log:        log.With("component", "orchestrator"),
		settings:   settings,
		supervisor: supervisor,
		directory:  directory,
		presence:   presence,
		monitoring: monitoring,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}, nil
}

// prepareModeration loads censored words and builds the Aho-Corasick automaton.
func prepareModeration(log *slog.Logger, charReplacement rune) (*moderation.Moderator, error) {
	data, err := moderation.NewEmbeddedLoader().LoadAll("censored")
	if err != nil {
		return nil, err
	}
	log.Info(fmt.Sprintf("%d censored files loaded [%s]",
		len(data.Languages), strings.Join(data.Languages, ",")))
	log.Info(fmt.Sprintf("%d unique censored words loaded", len(data.Words)))

	return moderation.NewModerator(data.Words, charReplacement, log)
}

// Start registers the dispatch workers and the health worker, then runs the
// supervisor in the background. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return fmt.Errorf("orchestrator already started")
	}
	o.started = true

	o.supervisor.Add(o.dispatcher.Workers()...)
	if o.settings.MetricInterval > 0 {
		o.supervisor.Add(workers.NewHealthMonitoringWorker(o.log, o.monitoring, o.topology, o.settings.MetricInterval))
	}

	o.log.Info("Starting orchestrator and all supervised workers", "workers", o.settings.NumberOfWorkers)
	go func() {
		defer close(o.done)
		o.supervisor.Run(ctx)
	}()
	return nil
}

// Stop cancels the workers and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()

	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if started {
		<-o.done
	}
}

func (o *Orchestrator) Connect(ctx context.Context, ch contract.Channel) {
	o.dispatcher.Handle(ctx, ch, domain.ConnectCommand{})
}

func (o *Orchestrator) Disconnect(ctx context.Context, ch contract.Channel) {
	o.dispatcher.Handle(ctx, ch, domain.DisconnectCommand{})
}

func (o *Orchestrator) Submit(ctx context.Context, ch contract.Channel, cmd domain.Command) error {
	return o.dispatcher.Submit(ctx, ch, cmd)
}

func (o *Orchestrator) Presence() contract.IPresenceRegistry { return o.presence }

func (o *Orchestrator) Directory() contract.ISessionDirectory { return o.directory }

func (o *Orchestrator) Monitoring() *observability.MonitoringManager { return o.monitoring }

func (o *Orchestrator) topology() (int, int, int, int) {
	queued, capacity := o.dispatcher.QueueSize()
	return o.presence.Count(), o.directory.ChannelCount(), queued, capacity
}

// Stats refreshes the topology gauges and returns the monitoring snapshot.
func (o *Orchestrator) Stats() map[string]any {
	o.monitoring.UpdateTopology(o.topology())
	return o.monitoring.AsMap()
}
