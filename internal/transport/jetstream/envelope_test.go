package jetstream

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
)

func TestSubjects(t *testing.T) {
	if got := ConversationSubject("c1"); got != "chatsync.conv.c1" {
		t.Errorf("conversation subject = %q", got)
	}
	if got := PresenceSubject("bob"); got != "chatsync.presence.bob" {
		t.Errorf("presence subject = %q", got)
	}
}

func TestDecodeMessageTakesSequenceFromStream(t *testing.T) {
	created := time.UnixMilli(1_700_000_000_000)
	body, err := encodeMessage(chat.Message{
		ID: "m1", ConversationID: "c1", SenderID: "alice", Content: "hi",
		ReplyTo: "m0", Type: chat.Text, CreatedAt: created,
	})
	if err != nil {
		t.Fatal(err)
	}

	at := created.Add(time.Second)
	e, err := decode(ConversationSubject("c1"), body, 42, at)
	if err != nil {
		t.Fatal(err)
	}
	if e.Type != transport.NewMessage || e.Seq != 42 || e.ConversationID != "c1" {
		t.Fatalf("event = %+v", e)
	}
	m := e.Message
	if m.Seq() != 42 || m.SenderID != "alice" || m.ReplyTo != "m0" || !m.CreatedAt.Equal(created) || !m.AckAt.Equal(at) {
		t.Errorf("message = %+v", m)
	}
}

func TestEncodePresenceUsesUserSubject(t *testing.T) {
	subject, body, err := encodeEvent(transport.Event{
		Type:     transport.PresenceChange,
		Presence: &transport.Presence{UserID: "bob", Presence: chat.Away},
	})
	if err != nil {
		t.Fatal(err)
	}
	if subject != "chatsync.presence.bob" {
		t.Errorf("subject = %q", subject)
	}
	e, err := decode(subject, body, 7, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if e.ConversationID != "" || e.Presence.Presence != chat.Away || e.Seq != 7 {
		t.Errorf("event = %+v", e)
	}
}

func TestEncodeEventRejectsIncompleteEvents(t *testing.T) {
	tests := []struct {
		name string
		evt  transport.Event
	}{
		{"receipt without payload", transport.Event{Type: transport.ReadReceipt, ConversationID: "c1"}},
		{"receipt without conversation", transport.Event{Type: transport.ReadReceipt, Receipt: &transport.Receipt{UserID: "a", UptoSeq: 1}}},
		{"messages go through Send", transport.Event{Type: transport.NewMessage, ConversationID: "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := encodeEvent(tt.evt); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDecodeRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", "{", "decode"},
		{"wrong version", `{"v":9,"type":"new_message"}`, "version"},
		{"unknown type", `{"v":1,"type":"typing"}`, "unknown event type"},
		{"missing payload", `{"v":1,"type":"roster_change","conversation_id":"c1"}`, "roster missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode("chatsync.conv.c1", []byte(tt.body), 1, time.Now())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
