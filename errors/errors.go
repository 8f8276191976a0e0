package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrWorkerPanic    = fmt.Errorf("worker panic")
	ErrEmptyWords     = fmt.Errorf("no words have been found")
	ErrAuth           = fmt.Errorf("authentication failed")
	ErrNotFound       = fmt.Errorf("not found")
	ErrStorage        = fmt.Errorf("storage failure")
	ErrBroadcast      = fmt.Errorf("broadcast failed")
	ErrChannelClosed  = fmt.Errorf("channel is closed")
	ErrInvalidPayload = fmt.Errorf("invalid payload")
	ErrForbidden      = fmt.Errorf("operation not allowed for this session")
	ErrServerBusy     = fmt.Errorf("server busy")
	ErrUnknownEvent   = fmt.Errorf("unknown event")
)

// MapToGRPCError translates domain sentinels into gRPC status errors.
// Anything unrecognised becomes codes.Internal.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}
	switch {
	case errors.Is(err, ErrAuth):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownEvent):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ErrServerBusy):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrStorage):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
