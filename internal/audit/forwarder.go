package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// RoutingPrefix is prepended to the bus event kind to form the routing key,
// e.g. "chatsync.message.committed".
const RoutingPrefix = "chatsync."

// Envelope is the JSON body of an audit message.
type Envelope struct {
	ID             string    `json:"id"`
	EventType      string    `json:"event_type"`
	Service        string    `json:"service"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	Payload        any       `json:"payload,omitempty"`
}

// forwarded lists the bus namespaces that reach the exchange. Sync
// diagnostics and snapshot ticks stay local.
var forwarded = []string{"message.", "outbox.exhausted", "link."}

// Forwarder subscribes to the bus and publishes matching events.
type Forwarder struct {
	pub     Publisher
	bus     *bus.Bus
	logger  *zap.Logger
	userID  string
	timeout time.Duration
}

// NewForwarder creates a forwarder publishing on behalf of userID.
func NewForwarder(pub Publisher, b *bus.Bus, userID string, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{pub: pub, bus: b, logger: logger, userID: userID, timeout: 5 * time.Second}
}

// Run forwards events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	events, unsubscribe := f.bus.Subscribe("", 256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			if !Forwarded(evt.Kind) {
				continue
			}
			f.forward(ctx, evt)
		}
	}
}

// Forwarded reports whether events of kind are sent to the exchange.
func Forwarded(kind string) bool {
	for _, prefix := range forwarded {
		if strings.HasPrefix(kind, prefix) {
			return true
		}
	}
	return false
}

func (f *Forwarder) forward(ctx context.Context, evt bus.Event) {
	env := Envelope{
		ID:             uuid.NewString(),
		EventType:      evt.Kind,
		Service:        "chatsyncd",
		UserID:         f.userID,
		ConversationID: evt.ConversationID,
		OccurredAt:     evt.Timestamp.UTC(),
		Payload:        evt.Payload,
	}
	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.pub.Publish(pctx, RoutingPrefix+evt.Kind, env); err != nil {
		metrics.IncAMQPPublishError()
		f.logger.Warn("audit publish failed", zap.Error(err), zap.String("event_type", evt.Kind))
	}
}
