package bus

import "time"

// Event kinds published by the engine. Subscribers filter by prefix, so the
// part before the dot is the namespace.
const (
	KindSnapshotChanged = "snapshot.changed"

	KindMessageQueued    = "message.queued"
	KindMessageCommitted = "message.committed"
	KindMessageStatus    = "message.status_changed"
	KindMessageCancelled = "message.cancelled"

	KindOutboxAttemptFailed = "outbox.attempt_failed"
	KindOutboxSent          = "outbox.sent"
	KindOutboxExhausted     = "outbox.exhausted"

	KindSyncDuplicate = "sync.duplicate"
	KindSyncGap       = "sync.gap"
	KindSyncDropped   = "sync.dropped"

	KindLinkChanged = "link.changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind           string
	ConversationID string
	Timestamp      time.Time
	Payload        any
}
