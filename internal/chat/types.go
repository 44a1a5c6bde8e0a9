package chat

import (
	"slices"
	"time"
)

// Presence is a user's best-effort availability indicator.
type Presence string

const (
	Online  Presence = "online"
	Away    Presence = "away"
	Offline Presence = "offline"
)

// Valid reports whether p is one of the known presence values.
func (p Presence) Valid() bool {
	switch p {
	case Online, Away, Offline:
		return true
	}
	return false
}

// ConversationKind distinguishes one-to-one from group conversations.
type ConversationKind string

const (
	Direct ConversationKind = "direct"
	Group  ConversationKind = "group"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	Text     MessageType = "text"
	Image    MessageType = "image"
	Audio    MessageType = "audio"
	Video    MessageType = "video"
	Document MessageType = "document"
)

// Valid reports whether t is a supported message type.
func (t MessageType) Valid() bool {
	switch t {
	case Text, Image, Audio, Video, Document:
		return true
	}
	return false
}

// Status is the delivery state of a message.
type Status string

const (
	Queued    Status = "queued"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// User is a known identity and its presence.
type User struct {
	ID          string
	DisplayName string
	AvatarRef   string
	Presence    Presence
	LastSeenAt  time.Time
}

// Message is a single entry of a conversation log.
type Message struct {
	ID             string
	Ref            SeqRef
	ConversationID string
	SenderID       string
	Content        string
	MediaRef       string
	ReplyTo        string
	Type           MessageType
	Status         Status
	CreatedAt      time.Time
	AckAt          time.Time
	DeliveredAt    time.Time
	ReadAt         time.Time
	DeliveredTo    []string
	ReadBy         []string
}

// Seq returns the server-assigned sequence, or 0 while the message is pending.
func (m *Message) Seq() int64 {
	seq, _ := m.Ref.Seq()
	return seq
}

// Committed reports whether the server has assigned a sequence to the message.
func (m *Message) Committed() bool {
	return m.Ref.Committed()
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.DeliveredTo = slices.Clone(m.DeliveredTo)
	m.ReadBy = slices.Clone(m.ReadBy)
	return m
}

// Draft is the user-provided part of an outgoing message.
type Draft struct {
	Content  string
	Type     MessageType
	MediaRef string
	ReplyTo  string
}

// Conversation is a direct or group conversation with its ordered log.
type Conversation struct {
	ID           string
	Kind         ConversationKind
	Name         string
	AvatarRef    string
	Participants []string
	Messages     []Message
	UnreadCount  int
	LastMessage  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	_, found := slices.BinarySearch(c.Participants, userID)
	return found
}

// Last returns the tail of the log, or nil when empty.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// LastCommitted returns the highest-seq committed entry. Pending messages
// sort after every committed one, so it differs from Last only while a send
// is outstanding.
func (c *Conversation) LastCommitted() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Committed() {
			return &c.Messages[i]
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	c.Messages = msgs
	return c
}

// StatusUpdate is an ephemeral status broadcast.
type StatusUpdate struct {
	ID        string
	UserID    string
	Content   string
	MediaRef  string
	PostedAt  time.Time
	ExpiresAt time.Time
	ViewedBy  []string
}

// CallKind is the media of a call.
type CallKind string

const (
	AudioCall CallKind = "audio"
	VideoCall CallKind = "video"
)

// CallState is the lifecycle state of a call record.
type CallState string

const (
	CallOngoing   CallState = "ongoing"
	CallMissed    CallState = "missed"
	CallCompleted CallState = "completed"
)

// Call is an audio or video session record.
type Call struct {
	ID           string
	Kind         CallKind
	Participants []string
	State        CallState
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}
