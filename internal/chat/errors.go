package chat

import "errors"

var (
	ErrUnknownUser          = errors.New("unknown user")
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrTransmissionFailed   = errors.New("transmission failed")
	ErrRetryExhausted       = errors.New("retry attempts exhausted")

	ErrMessageNotFound      = errors.New("message not found")
	ErrNotCancellable       = errors.New("message can no longer be cancelled")
	ErrEmptyMessage         = errors.New("message has no content")
	ErrNoActiveConversation = errors.New("no active conversation")
)
