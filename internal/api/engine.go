package api

import (
	"context"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/outbox"
)

// Engine is what the services and the web gateway drive. *engine.Engine
// implements it.
type Engine interface {
	Self() string
	Snapshot() engine.Snapshot
	Watch(ctx context.Context) <-chan engine.Snapshot
	HighWaterMark(conversationID string) int64
	Outbox() []outbox.Entry

	SelectConversation(conversationID string) error
	SetSearchTerm(term string)
	Conversation(conversationID string) (chat.Conversation, error)
	Title(c chat.Conversation) string
	CreateGroup(name string, participantIDs []string) (chat.Conversation, error)
	CreateDirect(peerID string) (chat.Conversation, error)
	AddParticipant(conversationID, userID string) error
	RemoveParticipant(conversationID, userID string) error
	MarkRead(conversationID string, uptoSeq int64) (int, error)

	Send(d chat.Draft) (string, error)
	SendTo(conversationID string, d chat.Draft) (string, error)
	Message(messageID string) (chat.Message, error)
	Resend(messageID string) error
	Cancel(messageID string) error
	SearchMessages(term, conversationID string, limit int) []chat.Message

	SetPresence(p chat.Presence) error
	PostStatus(content, mediaRef string) (chat.StatusUpdate, error)
	ViewStatus(statusID string) error
	StartCall(conversationID string, kind chat.CallKind) (chat.Call, error)
	EndCall(callID string, answered bool) (chat.Call, error)
}

var _ Engine = (*engine.Engine)(nil)
