package workers

import (
	"chat-relay/contract"
	"context"
	"log/slog"
)

var _ contract.Worker = (*DispatchWorker)(nil)

// DispatchWorker drains one inbound queue. Events of a queue are handled
// one after the other, so shard order is preserved.
type DispatchWorker struct {
	dispatcher contract.IDispatcher
	inbound    <-chan contract.Inbound
	log        *slog.Logger
}

func NewDispatchWorker(dispatcher contract.IDispatcher, inbound <-chan contract.Inbound, log *slog.Logger) *DispatchWorker {
	return &DispatchWorker{dispatcher: dispatcher, inbound: inbound, log: log}
}

func (w *DispatchWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case in, ok := <-w.inbound:
			if !ok {
				w.log.Debug("Channel is closed")
				return nil
			}
			// Mutations are not bound to the session that triggered them
			w.dispatcher.Handle(context.WithoutCancel(ctx), in.Origin, in.Command)
		}
	}
}
