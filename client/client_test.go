package client

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/infrastructure/grpc/delivery"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// echoServer answers every open-thread with the peer profile and reports the token it saw.
type echoServer struct {
	tokens chan string
}

func (e echoServer) Connect(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	e.tokens <- md.Get("authorization")[0]
	for {
		envelope, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		_, cmd, err := delivery.DecodeInbound(envelope)
		if err != nil {
			return err
		}
		if open, ok := cmd.(domain.OpenThreadCommand); ok {
			reply, err := delivery.EncodeOutbound(event.PeerProfile{Profile: domain.UserProfile{ID: open.PeerID}})
			if err != nil {
				return err
			}
			if err := stream.Send(reply); err != nil {
				return err
			}
		}
	}
}

func TestSession_Open_Send_And_Await(t *testing.T) {
	req := require.New(t)
	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	srv := echoServer{tokens: make(chan string, 1)}
	delivery.RegisterDeliveryServiceServer(server, srv)
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	req.NoError(err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Given an open session
	session, err := Open(ctx, conn, "token-123")
	req.NoError(err)
	defer session.Close()

	// When a thread is opened
	req.NoError(session.OpenThread("bob"))

	// Then the bearer token was sent and the reply is decoded
	req.Equal("Bearer token-123", <-srv.tokens)
	e, err := session.Await(event.PeerProfileName)
	req.NoError(err)
	req.Equal(domain.UserID("bob"), e.(event.PeerProfile).Profile.ID)
}

func TestSession_Rejects_Server_Only_Commands(t *testing.T) {
	req := require.New(t)
	session := &Session{}

	req.Error(session.Send(domain.ConnectCommand{}))
}

func TestSession_CloseSend_Keeps_Receiving(t *testing.T) {
	req := require.New(t)
	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	delivery.RegisterDeliveryServiceServer(server, echoServer{tokens: make(chan string, 1)})
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	req.NoError(err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := Open(ctx, conn, "token-123")
	req.NoError(err)
	defer session.Close()

	// Given a command followed by a half-close
	req.NoError(session.OpenThread("bob"))
	req.NoError(session.CloseSend())

	// Then the reply is still received, then the stream ends
	e, err := session.Await(event.PeerProfileName)
	req.NoError(err)
	req.Equal(domain.UserID("bob"), e.(event.PeerProfile).Profile.ID)
	_, err = session.Next()
	req.ErrorIs(err, io.EOF)
}
