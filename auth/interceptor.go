package auth

import (
	"chat-relay/contract"
	"chat-relay/domain"
	errs "chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type contextKey string

const identityKey contextKey = "identity"

type identity struct {
	userID domain.UserID
	err    error
}

// CredentialFromMetadata extracts the bearer token of the authorization header.
func CredentialFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("%w: metadata is missing", errs.ErrAuth)
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", fmt.Errorf("%w: authorization token is missing", errs.ErrAuth)
	}
	credential, found := strings.CutPrefix(values[0], "Bearer ")
	if !found || credential == "" {
		return "", fmt.Errorf("%w: expected a bearer token", errs.ErrAuth)
	}
	return credential, nil
}

// StreamInterceptor resolves the identity of every incoming stream.
// The outcome, success or failure, is attached to the stream context: the
// handler decides how to reject the session so the client still gets an error event.
func StreamInterceptor(resolver contract.IIdentityResolver, log *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		credential, err := CredentialFromMetadata(ctx)
		var userID domain.UserID
		if err == nil {
			userID, err = resolver.ResolveIdentity(ctx, credential)
		}
		if err != nil {
			log.Debug("Identity not resolved", "method", info.FullMethod, "error", err)
		}
		enriched := context.WithValue(ctx, identityKey, identity{userID: userID, err: err})
		return handler(srv, &identifiedStream{ServerStream: ss, ctx: enriched})
	}
}

// IdentityFromContext returns the user resolved by StreamInterceptor.
func IdentityFromContext(ctx context.Context) (domain.UserID, error) {
	id, ok := ctx.Value(identityKey).(identity)
	if !ok {
		return "", fmt.Errorf("%w: no identity on context", errs.ErrAuth)
	}
	return id.userID, id.err
}

type identifiedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identifiedStream) Context() context.Context { return s.ctx }
