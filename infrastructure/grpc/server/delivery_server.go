package server

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain/event"
	errs "chat-relay/errors"
	"chat-relay/infrastructure/grpc/delivery"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var _ delivery.DeliveryServiceServer = (*DeliveryServer)(nil)

const (
	// drainIdle ends a half-closed session once no event arrived for that long.
	drainIdle = 250 * time.Millisecond
	// drainGrace bounds the whole drain of a half-closed session.
	drainGrace = 5 * time.Second
)

type DeliveryServer struct {
	orchestrator         contract.IOrchestrator
	connectionBufferSize int
	log                  *slog.Logger
}

func NewDeliveryServer(log *slog.Logger, orchestrator contract.IOrchestrator, connectionBufferSize int) *DeliveryServer {
	return &DeliveryServer{
		orchestrator:         orchestrator,
		connectionBufferSize: connectionBufferSize,
		log:                  log.With("component", "delivery_server"),
	}
}

// NewGrpcServer builds a gRPC server resolving identities on every stream
// and serving the delivery service.
func NewGrpcServer(log *slog.Logger, resolver contract.IIdentityResolver, srv *DeliveryServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.StreamInterceptor(auth.StreamInterceptor(resolver, log)))
	server := grpc.NewServer(opts...)
	delivery.RegisterDeliveryServiceServer(server, srv)
	return server
}

// Connect serves one session for its whole life.
// The channel is registered only once the identity is known, and removed when
// the stream ends whatever the reason.
func (s *DeliveryServer) Connect(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	ctx := stream.Context()
	userID, err := auth.IdentityFromContext(ctx)
	if err != nil {
		s.log.Warn("Session rejected", "error", err)
		if envelope, encErr := delivery.EncodeOutbound(event.Failure{Message: errs.ErrAuth.Error()}); encErr == nil {
			_ = stream.Send(envelope)
		}
		return errs.MapToGRPCError(errs.ErrAuth)
	}

	channel := NewStreamChannel(userID, s.connectionBufferSize)
	log := s.log.With("user_id", userID, "channel_id", channel.ID())
	s.orchestrator.Connect(ctx, channel)
	log.Info("Session connected")
	defer func() {
		channel.Close()
		s.orchestrator.Disconnect(context.WithoutCancel(ctx), channel)
		log.Info("Session disconnected")
	}()

	received := make(chan error, 1)
	go func() { received <- s.receive(ctx, stream, channel) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-received:
			if errors.Is(err, io.EOF) {
				log.Debug("Client half-closed, draining pending events")
				return errs.MapToGRPCError(s.drain(ctx, stream, channel, log))
			}
			return errs.MapToGRPCError(err)
		case e := <-channel.Events():
			if err := s.forward(stream, e, log); err != nil {
				return errs.MapToGRPCError(err)
			}
		}
	}
}

// drain forwards the events still due after a half-close. It stops once the
// channel stayed idle for drainIdle, or after drainGrace.
func (s *DeliveryServer) drain(
	ctx context.Context,
	stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct],
	channel *StreamChannel,
	log *slog.Logger) error {
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()
	idle := time.NewTimer(drainIdle)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-grace.C:
			return nil
		case <-idle.C:
			return nil
		case e := <-channel.Events():
			if err := s.forward(stream, e, log); err != nil {
				return err
			}
			idle.Reset(drainIdle)
		}
	}
}

func (s *DeliveryServer) forward(
	stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct],
	e event.Outbound,
	log *slog.Logger) error {
	envelope, err := delivery.EncodeOutbound(e)
	if err != nil {
		log.Error("Outbound event not encoded", "event", e.Name(), "error", err)
		return nil
	}
	if err := stream.Send(envelope); err != nil {
		log.Debug("Failed to push event to stream", "event", e.Name(), "error", err)
		return err
	}
	return nil
}

// receive reads envelopes until the client half-closes the stream, which is
// reported as io.EOF. A cancelled stream returns nil.
func (s *DeliveryServer) receive(
	ctx context.Context,
	stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct],
	channel *StreamChannel) error {
	for {
		envelope, err := stream.Recv()
		if err != nil {
			switch {
			case ctx.Err() != nil, status.Code(err) == codes.Canceled:
				return nil
			case errors.Is(err, io.EOF):
				return io.EOF
			default:
				return err
			}
		}

		name, cmd, err := delivery.DecodeInbound(envelope)
		if err != nil {
			s.log.Debug("Inbound envelope rejected", "event", name, "channel_id", channel.ID(), "error", err)
			_ = channel.Push(ctx, event.Failure{Event: name, Message: err.Error()})
			continue
		}
		// A full queue is already reported to the channel
		_ = s.orchestrator.Submit(ctx, channel, cmd)
	}
}
