package api

import (
	"context"
	"errors"

	"github.com/matheus3301/chatsync/internal/activity"
	"github.com/matheus3301/chatsync/internal/chat"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// ErrInvalidArgument marks malformed requests.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgument(err error) error {
	return grpcstatus.Error(codes.InvalidArgument, err.Error())
}

// Code maps an engine error to a gRPC code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := grpcstatus.FromError(err); ok {
		return s.Code()
	}
	switch {
	case errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, activity.ErrStatusNotFound),
		errors.Is(err, activity.ErrCallNotFound):
		return codes.NotFound
	case errors.Is(err, chat.ErrUnknownUser),
		errors.Is(err, chat.ErrInvalidParticipants),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, chat.ErrNotCancellable),
		errors.Is(err, chat.ErrInvalidTransition),
		errors.Is(err, chat.ErrNoActiveConversation),
		errors.Is(err, activity.ErrCallEnded):
		return codes.FailedPrecondition
	case errors.Is(err, chat.ErrTransmissionFailed):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(Code(err), err.Error())
}
