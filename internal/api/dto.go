package api

import (
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/outbox"
)

// The wire views below are shared by the gRPC services and the web gateway.
// Times are unix milliseconds; zero means unset.

type UserView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	Presence    string `json:"presence"`
	LastSeenMs  int64  `json:"last_seen_ms,omitempty"`
}

type MessageView struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Seq            int64    `json:"seq"`
	Pending        bool     `json:"pending"`
	SenderID       string   `json:"sender_id"`
	Content        string   `json:"content,omitempty"`
	MediaRef       string   `json:"media_ref,omitempty"`
	ReplyTo        string   `json:"reply_to,omitempty"`
	Type           string   `json:"type"`
	Status         string   `json:"status"`
	CreatedMs      int64    `json:"created_ms"`
	AckMs          int64    `json:"ack_ms,omitempty"`
	DeliveredMs    int64    `json:"delivered_ms,omitempty"`
	ReadMs         int64    `json:"read_ms,omitempty"`
	DeliveredTo    []string `json:"delivered_to,omitempty"`
	ReadBy         []string `json:"read_by,omitempty"`
}

type ConversationView struct {
	ID           string        `json:"id"`
	Kind         string        `json:"kind"`
	Title        string        `json:"title"`
	Name         string        `json:"name,omitempty"`
	AvatarRef    string        `json:"avatar_ref,omitempty"`
	Participants []string      `json:"participants"`
	UnreadCount  int           `json:"unread_count"`
	Last         *MessageView  `json:"last,omitempty"`
	Messages     []MessageView `json:"messages,omitempty"`
	CreatedMs    int64         `json:"created_ms"`
	UpdatedMs    int64         `json:"updated_ms"`
}

type StatusView struct {
	ID        string   `json:"id"`
	UserID    string   `json:"user_id"`
	Content   string   `json:"content,omitempty"`
	MediaRef  string   `json:"media_ref,omitempty"`
	PostedMs  int64    `json:"posted_ms"`
	ExpiresMs int64    `json:"expires_ms"`
	ViewedBy  []string `json:"viewed_by,omitempty"`
}

type CallView struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Participants []string `json:"participants"`
	State        string   `json:"state"`
	StartedMs    int64    `json:"started_ms"`
	EndedMs      int64    `json:"ended_ms,omitempty"`
	DurationMs   int64    `json:"duration_ms,omitempty"`
}

type OutboxEntryView struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Order          uint64 `json:"order"`
	Attempts       int    `json:"attempts"`
	NextRetryMs    int64  `json:"next_retry_ms,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// SnapshotView is the rendered engine state.
type SnapshotView struct {
	Version       uint64             `json:"version"`
	Self          UserView           `json:"self"`
	Link          string             `json:"link"`
	OutboxDepth   int                `json:"outbox_depth"`
	SearchTerm    string             `json:"search_term,omitempty"`
	Users         []UserView         `json:"users"`
	Conversations []ConversationView `json:"conversations"`
	Active        *ConversationView  `json:"active,omitempty"`
	Statuses      []StatusView       `json:"statuses,omitempty"`
	Calls         []CallView         `json:"calls,omitempty"`
}

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func NewUserView(u chat.User) UserView {
	return UserView{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarRef:   u.AvatarRef,
		Presence:    string(u.Presence),
		LastSeenMs:  ms(u.LastSeenAt),
	}
}

func NewMessageView(m chat.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq(),
		Pending:        !m.Committed(),
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaRef:       m.MediaRef,
		ReplyTo:        m.ReplyTo,
		Type:           string(m.Type),
		Status:         string(m.Status),
		CreatedMs:      ms(m.CreatedAt),
		AckMs:          ms(m.AckAt),
		DeliveredMs:    ms(m.DeliveredAt),
		ReadMs:         ms(m.ReadAt),
		DeliveredTo:    m.DeliveredTo,
		ReadBy:         m.ReadBy,
	}
}

// NewMessageViews renders a list of messages.
func NewMessageViews(msgs []chat.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NewMessageView(m))
	}
	return out
}

func newRowView(v engine.ConversationView) ConversationView {
	cv := ConversationView{
		ID:           v.ID,
		Kind:         string(v.Kind),
		Title:        v.Title,
		Name:         v.Name,
		AvatarRef:    v.AvatarRef,
		Participants: v.Participants,
		UnreadCount:  v.UnreadCount,
		CreatedMs:    ms(v.CreatedAt),
		UpdatedMs:    ms(v.UpdatedAt),
	}
	if v.Last != nil {
		last := NewMessageView(*v.Last)
		cv.Last = &last
	}
	return cv
}

// NewConversationView renders a full conversation. title may be empty.
func NewConversationView(c chat.Conversation, title string) ConversationView {
	if title == "" {
		title = c.Name
	}
	cv := ConversationView{
		ID:           c.ID,
		Kind:         string(c.Kind),
		Title:        title,
		Name:         c.Name,
		AvatarRef:    c.AvatarRef,
		Participants: c.Participants,
		UnreadCount:  c.UnreadCount,
		Messages:     NewMessageViews(c.Messages),
		CreatedMs:    ms(c.CreatedAt),
		UpdatedMs:    ms(c.UpdatedAt),
	}
	if last := c.Last(); last != nil {
		lv := NewMessageView(*last)
		cv.Last = &lv
	}
	return cv
}

func NewStatusView(s chat.StatusUpdate) StatusView {
	return StatusView{
		ID:        s.ID,
		UserID:    s.UserID,
		Content:   s.Content,
		MediaRef:  s.MediaRef,
		PostedMs:  ms(s.PostedAt),
		ExpiresMs: ms(s.ExpiresAt),
		ViewedBy:  s.ViewedBy,
	}
}

func NewCallView(c chat.Call) CallView {
	return CallView{
		ID:           c.ID,
		Kind:         string(c.Kind),
		Participants: c.Participants,
		State:        string(c.State),
		StartedMs:    ms(c.StartedAt),
		EndedMs:      ms(c.EndedAt),
		DurationMs:   c.Duration.Milliseconds(),
	}
}

// NewOutboxViews renders queued outbox entries.
func NewOutboxViews(entries []outbox.Entry) []OutboxEntryView {
	out := make([]OutboxEntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, OutboxEntryView{
			MessageID:      e.Message.ID,
			ConversationID: e.Message.ConversationID,
			Order:          e.Order,
			Attempts:       e.Attempts,
			NextRetryMs:    ms(e.NextRetryAt),
			LastError:      e.LastError,
		})
	}
	return out
}

// NewSnapshotView renders an engine snapshot.
func NewSnapshotView(s engine.Snapshot) SnapshotView {
	v := SnapshotView{
		Version:       s.Version,
		Self:          NewUserView(s.Self),
		Link:          string(s.Link),
		OutboxDepth:   s.OutboxDepth,
		SearchTerm:    s.SearchTerm,
		Users:         make([]UserView, 0, len(s.Users)),
		Conversations: make([]ConversationView, 0, len(s.Conversations)),
	}
	for _, u := range s.Users {
		v.Users = append(v.Users, NewUserView(u))
	}
	title := ""
	for _, c := range s.Conversations {
		v.Conversations = append(v.Conversations, newRowView(c))
		if c.ID == s.ActiveID {
			title = c.Title
		}
	}
	if s.Active != nil {
		active := NewConversationView(*s.Active, title)
		v.Active = &active
	}
	for _, st := range s.Statuses {
		v.Statuses = append(v.Statuses, NewStatusView(st))
	}
	for _, c := range s.Calls {
		v.Calls = append(v.Calls, NewCallView(c))
	}
	return v
}
