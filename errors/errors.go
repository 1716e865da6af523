package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrTransportUnavailable = fmt.Errorf("relay transport unavailable")
	ErrStoreUnavailable     = fmt.Errorf("message store unavailable")
	ErrDuplicateDelivery    = fmt.Errorf("duplicate delivery")
	ErrInvalidParticipant   = fmt.Errorf("invalid participant identifier")
	ErrSelfConversation     = fmt.Errorf("a conversation needs two distinct participants")
	ErrInvalidMessage       = fmt.Errorf("invalid message")
	ErrInvalidChannel       = fmt.Errorf("not a conversation channel")
	ErrConversationClosed   = fmt.Errorf("conversation closed")
	ErrUnknownEntry         = fmt.Errorf("no such entry in conversation")
	ErrUnauthenticated      = fmt.Errorf("unauthenticated")
	ErrEmptyWords           = fmt.Errorf("no censored words found")
)

// MapToGRPCError converts relay errors into gRPC status errors.
// Operational failures map to Unavailable so that clients retry them.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && !isRelayError(err) {
		return err
	}
	switch {
	case stderrors.Is(err, ErrTransportUnavailable), stderrors.Is(err, ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case stderrors.Is(err, ErrInvalidParticipant), stderrors.Is(err, ErrSelfConversation),
		stderrors.Is(err, ErrInvalidMessage), stderrors.Is(err, ErrInvalidChannel):
		return status.Error(codes.InvalidArgument, err.Error())
	case stderrors.Is(err, ErrConversationClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case stderrors.Is(err, ErrUnknownEntry):
		return status.Error(codes.NotFound, err.Error())
	case stderrors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func isRelayError(err error) bool {
	for _, target := range []error{
		ErrWorkerPanic, ErrTransportUnavailable, ErrStoreUnavailable, ErrDuplicateDelivery,
		ErrInvalidParticipant, ErrSelfConversation, ErrInvalidMessage, ErrInvalidChannel,
		ErrConversationClosed, ErrUnknownEntry, ErrUnauthenticated,
	} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}
