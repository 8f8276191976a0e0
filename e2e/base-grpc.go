package e2e

import (
	"chat-relay/auth"
	"chat-relay/client"
	"chat-relay/domain"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

type BaseGrpcSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseGrpcSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.DeliveryAddr == "" {
		s.T().Skip("DELIVERY_ADDR is not set")
	}
	s.Require().NotEmpty(s.Config.Secret, "E2E_SECRET is required with DELIVERY_ADDR")
}

// GrpcConn initializes a gRPC connection with logging, colors, and JSON debugging
func (s *BaseGrpcSuite) GrpcConn(t *testing.T, name string, addr string) *grpc.ClientConn {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	marshaler := protojson.MarshalOptions{
		UseProtoNames:   true,
		Multiline:       true,
		EmitUnpopulated: true,
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			t.Logf("GRPC %s opened", method)
			stream, err := streamer(ctx, desc, cc, method, opts...)
			if err != nil || !s.Config.DebugJSON {
				return stream, err
			}
			return &loggedStream{ClientStream: stream, t: t, format: marshaler.Format}, nil
		}),
	)
	s.Require().NoError(err, "Failed to connect to gRPC server at "+addr)
	return conn
}

// loggedStream dumps every envelope when E2E_DEBUG_JSON is enabled
type loggedStream struct {
	grpc.ClientStream
	t      *testing.T
	format func(proto.Message) string
}

func (l *loggedStream) SendMsg(m any) error {
	l.t.Log("SENT:\n" + l.format(m.(proto.Message)))
	return l.ClientStream.SendMsg(m)
}

func (l *loggedStream) RecvMsg(m any) error {
	err := l.ClientStream.RecvMsg(m)
	if err == nil {
		l.t.Log("RECEIVED:\n" + l.format(m.(proto.Message)))
	}
	return err
}

// WithSession provides an authenticated delivery session within a contextual test step
func (s *BaseGrpcSuite) WithSession(name string, userID domain.UserID, fn func(ctx context.Context, session *client.Session)) {
	conn := s.GrpcConn(s.T(), name, s.Config.DeliveryAddr)
	defer conn.Close()

	token, err := auth.NewTokenResolver(s.Config.Secret).GenerateToken(userID, time.Hour)
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := client.Open(ctx, conn, token)
	s.Require().NoError(err)
	defer session.Close()

	fn(ctx, session)
}
