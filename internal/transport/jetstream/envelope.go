package jetstream

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
)

const (
	subjectRoot     = "chatsync"
	convPrefix      = subjectRoot + ".conv."
	presencePrefix  = subjectRoot + ".presence."
	envelopeVersion = 1
)

// ConversationSubject is the subject carrying a conversation's events.
func ConversationSubject(conversationID string) string {
	return convPrefix + conversationID
}

// PresenceSubject is the subject carrying a user's presence.
func PresenceSubject(userID string) string {
	return presencePrefix + userID
}

// envelope is the JSON body of every stream message. Sequence and time come
// from the stream metadata, not from the body.
type envelope struct {
	V        int                 `json:"v"`
	Type     transport.EventType `json:"type"`
	Conv     string              `json:"conversation_id,omitempty"`
	Message  *wireMessage        `json:"message,omitempty"`
	Receipt  *wireReceipt        `json:"receipt,omitempty"`
	Roster   *wireRoster         `json:"roster,omitempty"`
	Presence *wirePresence       `json:"presence,omitempty"`
}

type wireMessage struct {
	ID        string           `json:"id"`
	SenderID  string           `json:"sender_id"`
	Content   string           `json:"content,omitempty"`
	MediaRef  string           `json:"media_ref,omitempty"`
	ReplyTo   string           `json:"reply_to,omitempty"`
	Type      chat.MessageType `json:"type"`
	CreatedAt int64            `json:"created_at"`
}

type wireReceipt struct {
	UserID  string `json:"user_id"`
	UptoSeq int64  `json:"upto_seq"`
}

type wireRoster struct {
	Op           transport.RosterOp    `json:"op"`
	Kind         chat.ConversationKind `json:"kind,omitempty"`
	Name         string                `json:"name,omitempty"`
	Participants []string              `json:"participants,omitempty"`
	UserIDs      []string              `json:"user_ids,omitempty"`
}

type wirePresence struct {
	UserID      string        `json:"user_id"`
	DisplayName string        `json:"display_name,omitempty"`
	Presence    chat.Presence `json:"presence"`
}

func encodeMessage(m chat.Message) ([]byte, error) {
	return json.Marshal(envelope{
		V:    envelopeVersion,
		Type: transport.NewMessage,
		Conv: m.ConversationID,
		Message: &wireMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			MediaRef:  m.MediaRef,
			ReplyTo:   m.ReplyTo,
			Type:      m.Type,
			CreatedAt: m.CreatedAt.UnixMilli(),
		},
	})
}

// encodeEvent returns the subject and body for a receipt, roster or
// presence event.
func encodeEvent(e transport.Event) (string, []byte, error) {
	env := envelope{V: envelopeVersion, Type: e.Type, Conv: e.ConversationID}
	subject := ConversationSubject(e.ConversationID)

	switch e.Type {
	case transport.DeliveryReceipt, transport.ReadReceipt:
		if e.Receipt == nil {
			return "", nil, fmt.Errorf("encode %s: receipt missing", e.Type)
		}
		env.Receipt = &wireReceipt{UserID: e.Receipt.UserID, UptoSeq: e.Receipt.UptoSeq}
	case transport.RosterChange:
		if e.Roster == nil {
			return "", nil, fmt.Errorf("encode %s: roster missing", e.Type)
		}
		r := e.Roster
		env.Roster = &wireRoster{Op: r.Op, Kind: r.Kind, Name: r.Name, Participants: r.Participants, UserIDs: r.UserIDs}
	case transport.PresenceChange:
		if e.Presence == nil {
			return "", nil, fmt.Errorf("encode %s: presence missing", e.Type)
		}
		p := e.Presence
		env.Conv = ""
		env.Presence = &wirePresence{UserID: p.UserID, DisplayName: p.DisplayName, Presence: p.Presence}
		subject = PresenceSubject(p.UserID)
	default:
		return "", nil, fmt.Errorf("encode: unsupported event type %q", e.Type)
	}
	if env.Conv == "" && e.Type != transport.PresenceChange {
		return "", nil, fmt.Errorf("encode %s: conversation id missing", e.Type)
	}
	body, err := json.Marshal(env)
	return subject, body, err
}

// decode turns a stream message into an event stamped with its stream
// sequence and timestamp.
func decode(subject string, data []byte, seq uint64, at time.Time) (transport.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return transport.Event{}, fmt.Errorf("decode %s: %w", subject, err)
	}
	if env.V != envelopeVersion {
		return transport.Event{}, fmt.Errorf("decode %s: unsupported envelope version %d", subject, env.V)
	}

	e := transport.Event{Type: env.Type, ConversationID: env.Conv, Seq: int64(seq), At: at}
	if e.ConversationID == "" {
		e.ConversationID = strings.TrimPrefix(subject, convPrefix)
	}

	switch env.Type {
	case transport.NewMessage:
		if env.Message == nil {
			return transport.Event{}, fmt.Errorf("decode %s: message missing", subject)
		}
		w := env.Message
		e.Message = &chat.Message{
			ID:             w.ID,
			Ref:            chat.Committed(int64(seq)),
			ConversationID: e.ConversationID,
			SenderID:       w.SenderID,
			Content:        w.Content,
			MediaRef:       w.MediaRef,
			ReplyTo:        w.ReplyTo,
			Type:           w.Type,
			CreatedAt:      time.UnixMilli(w.CreatedAt),
			AckAt:          at,
		}
	case transport.DeliveryReceipt, transport.ReadReceipt:
		if env.Receipt == nil {
			return transport.Event{}, fmt.Errorf("decode %s: receipt missing", subject)
		}
		e.Receipt = &transport.Receipt{UserID: env.Receipt.UserID, UptoSeq: env.Receipt.UptoSeq}
	case transport.RosterChange:
		if env.Roster == nil {
			return transport.Event{}, fmt.Errorf("decode %s: roster missing", subject)
		}
		r := env.Roster
		e.Roster = &transport.Roster{Op: r.Op, Kind: r.Kind, Name: r.Name, Participants: r.Participants, UserIDs: r.UserIDs}
	case transport.PresenceChange:
		if env.Presence == nil {
			return transport.Event{}, fmt.Errorf("decode %s: presence missing", subject)
		}
		p := env.Presence
		e.ConversationID = ""
		e.Presence = &transport.Presence{UserID: p.UserID, DisplayName: p.DisplayName, Presence: p.Presence}
	default:
		return transport.Event{}, fmt.Errorf("decode %s: unknown event type %q", subject, env.Type)
	}
	return e, nil
}
