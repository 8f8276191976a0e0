// Package client is a small Go client of the delivery service.
package client

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/infrastructure/grpc/delivery"
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Session is one open delivery stream.
// Send may be called from any goroutine; Next must be called from a single one.
type Session struct {
	mu     sync.Mutex
	stream grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
	cancel context.CancelFunc
}

// Open starts a session authenticated by token on conn.
func Open(ctx context.Context, conn grpc.ClientConnInterface, token string) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	stream, err := delivery.NewDeliveryServiceClient(conn).Connect(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return &Session{stream: stream, cancel: cancel}, nil
}

func (s *Session) Send(cmd domain.Command) error {
	envelope, err := delivery.EncodeInbound(cmd)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(envelope)
}

func (s *Session) OpenThread(peer domain.UserID) error {
	return s.Send(domain.OpenThreadCommand{PeerID: peer})
}

func (s *Session) SendText(from, to domain.UserID, text string) error {
	return s.Send(domain.SendMessageCommand{SenderID: from, ReceiverID: to, Content: domain.Content{Text: text}})
}

func (s *Session) RequestSidebar(user domain.UserID) error {
	return s.Send(domain.RequestSidebarCommand{UserID: user})
}

func (s *Session) MarkSeen(author domain.UserID) error {
	return s.Send(domain.MarkSeenCommand{AuthorID: author})
}

func (s *Session) Search(query string, limit int) error {
	return s.Send(domain.SearchMessagesCommand{Query: query, Limit: limit})
}

// Next blocks until the server pushes an event or the stream ends.
func (s *Session) Next() (event.Outbound, error) {
	envelope, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return delivery.DecodeOutbound(envelope)
}

// Await skips events until one called name arrives.
func (s *Session) Await(name event.Name) (event.Outbound, error) {
	for {
		e, err := s.Next()
		if err != nil {
			return nil, err
		}
		if e.Name() == name {
			return e, nil
		}
	}
}

// CloseSend half-closes the stream. Events already due keep arriving through
// Next until it returns io.EOF.
func (s *Session) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.CloseSend()
}

// Close half-closes the stream then cancels it.
func (s *Session) Close() error {
	s.mu.Lock()
	err := s.stream.CloseSend()
	s.mu.Unlock()
	s.cancel()
	return err
}
