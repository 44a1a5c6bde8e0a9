// Package transport defines the collaborator that carries messages and
// events between this client and the server.
package transport

import (
	"context"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// EventType tags the payload of an Event.
type EventType string

const (
	NewMessage      EventType = "new_message"
	DeliveryReceipt EventType = "delivery_receipt"
	ReadReceipt     EventType = "read_receipt"
	RosterChange    EventType = "roster_change"
	PresenceChange  EventType = "presence_change"
)

// RosterOp is the kind of roster change.
type RosterOp string

const (
	RosterCreated RosterOp = "created"
	RosterAdded   RosterOp = "added"
	RosterRemoved RosterOp = "removed"
)

// Receipt acknowledges every message up to and including UptoSeq.
type Receipt struct {
	UserID  string
	UptoSeq int64
}

// Roster describes a membership change. Created carries the full
// conversation header; Added/Removed carry the affected user ids.
type Roster struct {
	Op           RosterOp
	Kind         chat.ConversationKind
	Name         string
	Participants []string
	UserIDs      []string
}

// Presence is a user's presence broadcast. Presence events carry no
// conversation id; Seq is a per-user sequence.
type Presence struct {
	UserID      string
	DisplayName string
	Presence    chat.Presence
}

// Event is one server-pushed event. Exactly one payload pointer is set,
// matching Type. Seq is assigned by the server and shared by all events of
// a conversation.
type Event struct {
	Type           EventType
	ConversationID string
	Seq            int64
	At             time.Time
	Message        *chat.Message
	Receipt        *Receipt
	Roster         *Roster
	Presence       *Presence
}

// Ack is the server's acknowledgment of a sent message.
type Ack struct {
	Seq   int64
	AckAt time.Time
}

// Connectivity is the link signal that drives outbox flushing.
type Connectivity string

const (
	Online  Connectivity = "online"
	Offline Connectivity = "offline"
)

// Transport is implemented by the loopback relay and the JetStream client.
type Transport interface {
	// Send transmits m and waits for its sequence. Sending a message id the
	// server already holds returns the original Ack.
	Send(ctx context.Context, m chat.Message) (Ack, error)
	// Publish sends a receipt, roster or presence event.
	Publish(ctx context.Context, e Event) error
	// Events delivers server events in per-conversation order, at least once.
	Events() <-chan Event
	// Connectivity reports link changes. The current state is sent first.
	Connectivity() <-chan Connectivity
	Close() error
}
