package sync

import (
	"cmp"
	"context"
	"errors"
	"slices"
	stdsync "sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// ConversationStore is the part of conversation.Store the reconciler drives.
type ConversationStore interface {
	ApplyServerMessage(conversationID string, m chat.Message) (bool, error)
	ApplyReceipt(conversationID string, trigger delivery.Trigger, userID string, uptoSeq int64, at time.Time) (int, error)
	EnsureConversation(c chat.Conversation) (bool, error)
	ApplyRoster(conversationID string, added, removed []string) error
}

// PresenceRegistry is the part of presence.Registry the reconciler drives.
type PresenceRegistry interface {
	ApplyPresence(userID string, p chat.Presence, seq uint64, at time.Time) (bool, error)
	Known(id string) bool
}

// Checkpointer persists per-conversation high-water marks.
type Checkpointer interface {
	SaveHighWaterMark(conversationID string, seq int64) error
}

// Outcome is how an event was handled.
type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
	Dropped   Outcome = "dropped"
)

// Options configures a Reconciler.
type Options struct {
	Self       string
	Store      ConversationStore
	Presence   PresenceRegistry
	Checkpoint Checkpointer
	Bus        *bus.Bus
	Logger     *zap.Logger
	// DetectGaps reports skipped sequences. Only meaningful when the
	// transport numbers each conversation contiguously.
	DetectGaps bool
	// OnIncoming is called after a message from another user is applied.
	// It must not block.
	OnIncoming func(conversationID string, seq int64)
}

// maxParked bounds how many early messages are held per unknown conversation.
const maxParked = 256

// SyncEvent is the bus payload for reconciler diagnostics.
type SyncEvent struct {
	Type     transport.EventType `json:"type"`
	Seq      int64               `json:"seq"`
	HWM      int64               `json:"hwm"`
	Reason   string              `json:"reason,omitempty"`
	Expected int64               `json:"expected,omitempty"`
}

// Reconciler merges the transport event stream into local state. All events
// pass through one intake goroutine; a per-conversation high-water mark
// makes redelivery harmless.
type Reconciler struct {
	opts   Options
	logger *zap.Logger

	mu  stdsync.Mutex
	hwm map[string]int64
	// Messages that arrived before the roster event creating their
	// conversation, sorted by seq.
	parked map[string][]transport.Event

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler creates a new reconciler.
func NewReconciler(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		opts:   opts,
		logger: logger,
		hwm:    make(map[string]int64),
		parked: make(map[string][]transport.Event),
	}
}

// Restore seeds high-water marks loaded from the store.
func (r *Reconciler) Restore(marks map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, seq := range marks {
		if seq > r.hwm[id] {
			r.hwm[id] = seq
		}
	}
}

// HighWaterMark returns the highest sequence applied for a conversation.
func (r *Reconciler) HighWaterMark(conversationID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hwm[conversationID]
}

// Start consumes events until ctx is cancelled or the channel closes.
func (r *Reconciler) Start(ctx context.Context, events <-chan transport.Event) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				r.Apply(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the intake and waits for the current event to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Apply handles a single event. It is safe to call directly but events of
// one conversation must not be applied concurrently.
func (r *Reconciler) Apply(evt transport.Event) Outcome {
	outcome := r.apply(evt)
	metrics.IncSyncEvent(string(evt.Type), string(outcome))
	return outcome
}

func (r *Reconciler) apply(evt transport.Event) Outcome {
	if evt.Type == transport.PresenceChange {
		return r.applyPresence(evt)
	}
	if evt.ConversationID == "" || evt.Seq <= 0 {
		return r.drop(evt, 0, errors.New("missing conversation or sequence"))
	}

	r.mu.Lock()
	hwm := r.hwm[evt.ConversationID]
	r.mu.Unlock()

	if evt.Seq <= hwm {
		r.logger.Debug("duplicate event discarded",
			zap.String("conversation_id", evt.ConversationID),
			zap.String("type", string(evt.Type)),
			zap.Int64("seq", evt.Seq),
			zap.Int64("hwm", hwm),
		)
		r.publish(bus.KindSyncDuplicate, evt, SyncEvent{Type: evt.Type, Seq: evt.Seq, HWM: hwm})
		return Duplicate
	}
	if r.opts.DetectGaps && hwm > 0 && evt.Seq > hwm+1 {
		metrics.IncSyncGap()
		r.logger.Warn("sequence gap",
			zap.String("conversation_id", evt.ConversationID),
			zap.Int64("expected", hwm+1),
			zap.Int64("seq", evt.Seq),
		)
		r.publish(bus.KindSyncGap, evt, SyncEvent{Type: evt.Type, Seq: evt.Seq, HWM: hwm, Expected: hwm + 1})
	}

	outcome, err := r.route(evt)
	if outcome == Dropped && evt.Type == transport.NewMessage && errors.Is(err, chat.ErrConversationNotFound) {
		// The mark stays put so the message can still land once the
		// conversation exists.
		r.park(evt)
		return r.drop(evt, hwm, err)
	}
	r.advance(evt.ConversationID, evt.Seq)
	if outcome == Dropped {
		return r.drop(evt, hwm, err)
	}
	if evt.Type == transport.RosterChange && evt.Roster.Op == transport.RosterCreated {
		r.replay(evt.ConversationID)
	}
	return outcome
}

func (r *Reconciler) park(evt transport.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.parked[evt.ConversationID]
	i, found := slices.BinarySearchFunc(held, evt.Seq, func(e transport.Event, seq int64) int {
		return cmp.Compare(e.Seq, seq)
	})
	if found || len(held) >= maxParked {
		return
	}
	r.parked[evt.ConversationID] = slices.Insert(held, i, evt)
}

// replay applies messages parked for a conversation that now exists.
func (r *Reconciler) replay(conversationID string) {
	r.mu.Lock()
	held := r.parked[conversationID]
	delete(r.parked, conversationID)
	r.mu.Unlock()

	for _, evt := range held {
		outcome, err := r.route(evt)
		metrics.IncSyncEvent(string(evt.Type), string(outcome))
		if outcome == Dropped {
			r.drop(evt, r.HighWaterMark(conversationID), err)
			continue
		}
		r.advance(conversationID, evt.Seq)
	}
	if len(held) > 0 {
		r.logger.Debug("replayed early messages",
			zap.String("conversation_id", conversationID), zap.Int("count", len(held)))
	}
}

func (r *Reconciler) route(evt transport.Event) (Outcome, error) {
	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	switch evt.Type {
	case transport.NewMessage:
		if evt.Message == nil {
			return Dropped, errors.New("message payload missing")
		}
		m := evt.Message.Clone()
		m.Ref = chat.Committed(evt.Seq)
		m.ConversationID = evt.ConversationID
		if m.AckAt.IsZero() {
			m.AckAt = at
		}
		applied, err := r.opts.Store.ApplyServerMessage(evt.ConversationID, m)
		if err != nil {
			return Dropped, err
		}
		if applied && m.SenderID != r.opts.Self && r.opts.OnIncoming != nil {
			r.opts.OnIncoming(evt.ConversationID, evt.Seq)
		}
		return Applied, nil

	case transport.DeliveryReceipt, transport.ReadReceipt:
		if evt.Receipt == nil {
			return Dropped, errors.New("receipt payload missing")
		}
		trigger := delivery.DeliveryReceipt
		if evt.Type == transport.ReadReceipt {
			trigger = delivery.ReadReceipt
		}
		if _, err := r.opts.Store.ApplyReceipt(evt.ConversationID, trigger, evt.Receipt.UserID, evt.Receipt.UptoSeq, at); err != nil {
			return Dropped, err
		}
		return Applied, nil

	case transport.RosterChange:
		return r.applyRoster(evt)
	}
	return Dropped, errors.New("unknown event type")
}

func (r *Reconciler) applyRoster(evt transport.Event) (Outcome, error) {
	ro := evt.Roster
	if ro == nil {
		return Dropped, errors.New("roster payload missing")
	}
	switch ro.Op {
	case transport.RosterCreated:
		_, err := r.opts.Store.EnsureConversation(chat.Conversation{
			ID:           evt.ConversationID,
			Kind:         ro.Kind,
			Name:         ro.Name,
			Participants: ro.Participants,
			CreatedAt:    evt.At,
			UpdatedAt:    evt.At,
		})
		if err != nil {
			return Dropped, err
		}
		return Applied, nil

	case transport.RosterAdded:
		known := make([]string, 0, len(ro.UserIDs))
		for _, id := range ro.UserIDs {
			if r.opts.Presence == nil || r.opts.Presence.Known(id) {
				known = append(known, id)
				continue
			}
			r.logger.Warn("roster change names unknown user", zap.String("user_id", id),
				zap.String("conversation_id", evt.ConversationID))
		}
		if len(known) == 0 {
			return Dropped, chat.ErrUnknownUser
		}
		if err := r.opts.Store.ApplyRoster(evt.ConversationID, known, nil); err != nil {
			return Dropped, err
		}
		return Applied, nil

	case transport.RosterRemoved:
		if err := r.opts.Store.ApplyRoster(evt.ConversationID, nil, ro.UserIDs); err != nil {
			return Dropped, err
		}
		return Applied, nil
	}
	return Dropped, errors.New("unknown roster operation")
}

func (r *Reconciler) applyPresence(evt transport.Event) Outcome {
	p := evt.Presence
	if p == nil || r.opts.Presence == nil {
		return r.drop(evt, 0, errors.New("presence payload missing"))
	}
	seq := uint64(0)
	if evt.Seq > 0 {
		seq = uint64(evt.Seq)
	}
	applied, err := r.opts.Presence.ApplyPresence(p.UserID, p.Presence, seq, evt.At)
	switch {
	case err != nil:
		return r.drop(evt, 0, err)
	case !applied:
		return Duplicate
	}
	return Applied
}

func (r *Reconciler) advance(conversationID string, seq int64) {
	r.mu.Lock()
	if seq <= r.hwm[conversationID] {
		r.mu.Unlock()
		return
	}
	r.hwm[conversationID] = seq
	r.mu.Unlock()

	if r.opts.Checkpoint == nil {
		return
	}
	if err := r.opts.Checkpoint.SaveHighWaterMark(conversationID, seq); err != nil {
		r.logger.Error("failed to checkpoint high-water mark", zap.Error(err),
			zap.String("conversation_id", conversationID), zap.Int64("seq", seq))
	}
}

func (r *Reconciler) drop(evt transport.Event, hwm int64, cause error) Outcome {
	fields := []zap.Field{
		zap.Error(cause),
		zap.String("type", string(evt.Type)),
		zap.String("conversation_id", evt.ConversationID),
		zap.Int64("seq", evt.Seq),
	}
	// Unknown entities usually mean local state is behind; worth a warning.
	if errors.Is(cause, chat.ErrConversationNotFound) || errors.Is(cause, chat.ErrUnknownUser) {
		r.logger.Warn("event dropped", fields...)
	} else {
		r.logger.Debug("event dropped", fields...)
	}
	r.publish(bus.KindSyncDropped, evt, SyncEvent{Type: evt.Type, Seq: evt.Seq, HWM: hwm, Reason: cause.Error()})
	return Dropped
}

func (r *Reconciler) publish(kind string, evt transport.Event, payload SyncEvent) {
	r.opts.Bus.Publish(bus.Event{
		Kind:           kind,
		ConversationID: evt.ConversationID,
		Payload:        payload,
	})
}
