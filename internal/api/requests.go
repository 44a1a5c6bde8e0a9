package api

// Fully qualified service names.
const (
	SessionServiceName  = "chatsync.v1.SessionService"
	ChatServiceName     = "chatsync.v1.ChatService"
	MessageServiceName  = "chatsync.v1.MessageService"
	SyncServiceName     = "chatsync.v1.SyncService"
	ActivityServiceName = "chatsync.v1.ActivityService"
)

type SessionStatus struct {
	Session           string `json:"session"`
	UserID            string `json:"user_id"`
	Link              string `json:"link"`
	UptimeMs          int64  `json:"uptime_ms"`
	OutboxDepth       int    `json:"outbox_depth"`
	ConversationCount int    `json:"conversation_count"`
	UnreadCount       int    `json:"unread_count"`
}

type PresenceRequest struct {
	Presence string `json:"presence"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ConversationList struct {
	Conversations []ConversationView `json:"conversations"`
}

type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type CreateDirectRequest struct {
	PeerID string `json:"peer_id"`
}

type ParticipantRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type MarkReadRequest struct {
	ConversationID string `json:"conversation_id"`
	UptoSeq        int64  `json:"upto_seq"`
}

type MarkReadResponse struct {
	Changed int `json:"changed"`
}

type SearchTermRequest struct {
	Term string `json:"term"`
}

// SendRequest sends to ConversationID, or to the open conversation when it
// is empty.
type SendRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	MediaRef       string `json:"media_ref,omitempty"`
	ReplyTo        string `json:"reply_to,omitempty"`
}

type MessageRequest struct {
	MessageID string `json:"message_id"`
}

type SearchRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type MessageList struct {
	Messages []MessageView `json:"messages"`
}

type OutboxList struct {
	Entries []OutboxEntryView `json:"entries"`
}

type SyncStatus struct {
	Link           string           `json:"link"`
	OutboxDepth    int              `json:"outbox_depth"`
	HighWaterMarks map[string]int64 `json:"high_water_marks"`
}

type WatchEventsRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// EventView is a bus event as streamed to clients.
type EventView struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id,omitempty"`
	OccurredMs     int64  `json:"occurred_ms"`
	Payload        any    `json:"payload,omitempty"`
}

type PostStatusRequest struct {
	Content  string `json:"content"`
	MediaRef string `json:"media_ref,omitempty"`
}

type StatusRequest struct {
	StatusID string `json:"status_id"`
}

type StatusList struct {
	Statuses []StatusView `json:"statuses"`
}

type StartCallRequest struct {
	ConversationID string `json:"conversation_id"`
	Kind           string `json:"kind"`
}

type EndCallRequest struct {
	CallID   string `json:"call_id"`
	Answered bool   `json:"answered"`
}

type CallList struct {
	Calls []CallView `json:"calls"`
}
