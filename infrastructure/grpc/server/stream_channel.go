package server

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	errs "chat-relay/errors"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var _ contract.Channel = (*StreamChannel)(nil)

// StreamChannel buffers outbound events of one gRPC stream.
// The Connect handler drains Events and writes them to the wire.
type StreamChannel struct {
	id     string
	userID domain.UserID
	events chan event.Outbound
	done   chan struct{}
	once   sync.Once
}

func NewStreamChannel(userID domain.UserID, bufferSize int) *StreamChannel {
	return &StreamChannel{
		id:     uuid.NewString(),
		userID: userID,
		events: make(chan event.Outbound, bufferSize),
		done:   make(chan struct{}),
	}
}

func (c *StreamChannel) ID() string            { return c.id }
func (c *StreamChannel) UserID() domain.UserID { return c.userID }

func (c *StreamChannel) Events() <-chan event.Outbound { return c.events }

// Push waits for room in the buffer until ctx expires.
// Without a deadline on ctx a full buffer fails at once.
func (c *StreamChannel) Push(ctx context.Context, e event.Outbound) error {
	select {
	case <-c.done:
		return errs.ErrChannelClosed
	default:
	}

	if _, ok := ctx.Deadline(); !ok {
		select {
		case c.events <- e:
			return nil
		case <-c.done:
			return errs.ErrChannelClosed
		default:
			return fmt.Errorf("%w: buffer of channel %s is full", errs.ErrBroadcast, c.id)
		}
	}

	select {
	case c.events <- e:
		return nil
	case <-c.done:
		return errs.ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errs.ErrBroadcast, ctx.Err())
	}
}

// Close makes every further Push fail with ErrChannelClosed. Safe to call twice.
func (c *StreamChannel) Close() {
	c.once.Do(func() { close(c.done) })
}
