package outbox

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Sender transmits a message and returns the server acknowledgment.
type Sender interface {
	Send(ctx context.Context, m chat.Message) (transport.Ack, error)
}

// Committer is told about the outcome of each entry. conversation.Store
// implements it.
type Committer interface {
	ApplyServerMessage(conversationID string, m chat.Message) (bool, error)
	Fail(messageID string) (bool, error)
	Message(messageID string) (chat.Message, bool)
}

// Journal persists outbox entries so queued sends survive a restart.
type Journal interface {
	SaveOutboxEntry(e Entry) error
	DeleteOutboxEntry(messageID string) error
}

// Config controls retry pacing.
type Config struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Factor         float64
	Jitter         float64
	MaxAttempts    int
	AttemptTimeout time.Duration
}

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Factor:         2,
		Jitter:         0.2,
		MaxAttempts:    5,
		AttemptTimeout: 10 * time.Second,
	}
}

// ValidJitter reports whether j is a usable jitter fraction.
func ValidJitter(j float64) bool {
	return j >= 0 && j < 1
}

// withDefaults fills unset fields. A zero Config means the default policy;
// otherwise a zero Jitter is taken as an explicit request for none.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c == (Config{}) {
		return d
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Factor < 1 {
		c.Factor = d.Factor
	}
	if !ValidJitter(c.Jitter) {
		c.Jitter = d.Jitter
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Entry is a message waiting for acknowledgment.
type Entry struct {
	Message     chat.Message
	Order       uint64
	EnqueuedAt  time.Time
	Attempts    int
	NextRetryAt time.Time
	LastError   string

	backoff *backoff.ExponentialBackOff
}

// AttemptEvent is the bus payload for outbox events.
type AttemptEvent struct {
	MessageID string `json:"message_id"`
	Attempt   int    `json:"attempt"`
	Seq       int64  `json:"seq,omitempty"`
	Error     string `json:"error,omitempty"`
	RetryIn   string `json:"retry_in,omitempty"`
}

type lane struct {
	conversationID string
	entries        []*Entry
	running        bool
	inflight       string
}

// Queue holds one FIFO lane per conversation. Each lane is drained by at
// most one worker, so a conversation's messages are transmitted strictly in
// enqueue order while lanes proceed independently.
type Queue struct {
	cfg       Config
	sender    Sender
	committer Committer
	journal   Journal
	bus       *bus.Bus
	logger    *zap.Logger
	clock     func() time.Time

	mu        sync.Mutex
	lanes     map[string]*lane
	nextOrder uint64
	online    bool
	offline   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewQueue creates a stopped, offline queue. journal and b may be nil.
func NewQueue(cfg Config, sender Sender, committer Committer, journal Journal, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	offline := make(chan struct{})
	close(offline)
	return &Queue{
		cfg:       cfg.withDefaults(),
		sender:    sender,
		committer: committer,
		journal:   journal,
		bus:       b,
		logger:    logger,
		clock:     time.Now,
		lanes:     make(map[string]*lane),
		nextOrder: 1,
		offline:   offline,
	}
}

// Start enables workers. Nothing is sent until the queue is online.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight attempts and waits for workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue appends m to its conversation lane. It never blocks on the network.
func (q *Queue) Enqueue(m chat.Message) error {
	if m.ID == "" || m.ConversationID == "" {
		return errors.New("outbox: message id and conversation id are required")
	}
	q.mu.Lock()
	l := q.laneLocked(m.ConversationID)
	if slices.ContainsFunc(l.entries, func(e *Entry) bool { return e.Message.ID == m.ID }) {
		q.mu.Unlock()
		return nil
	}
	e := &Entry{
		Message:    m.Clone(),
		Order:      q.nextOrder,
		EnqueuedAt: q.clock(),
		backoff:    q.newBackOff(),
	}
	q.nextOrder++
	q.save(e)
	l.entries = append(l.entries, e)
	depth := q.depthLocked()
	q.startLocked(l)
	q.mu.Unlock()

	metrics.SetOutboxDepth(depth)
	return nil
}

// Restore loads persisted entries in their original global order.
func (q *Queue) Restore(entries []Entry) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b Entry) int { return cmp.Compare(a.Order, b.Order) })

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range sorted {
		e := sorted[i]
		e.backoff = q.newBackOff()
		l := q.laneLocked(e.Message.ConversationID)
		l.entries = append(l.entries, &e)
		if e.Order >= q.nextOrder {
			q.nextOrder = e.Order + 1
		}
	}
	metrics.SetOutboxDepth(q.depthLocked())
}

// Cancel removes a queued entry. An entry whose transmission is in flight
// cannot be cancelled. Unknown ids are ignored.
func (q *Queue) Cancel(messageID string) error {
	q.mu.Lock()
	for _, l := range q.lanes {
		idx := slices.IndexFunc(l.entries, func(e *Entry) bool { return e.Message.ID == messageID })
		if idx < 0 {
			continue
		}
		if l.inflight == messageID {
			q.mu.Unlock()
			return fmt.Errorf("%w: transmission in flight", chat.ErrNotCancellable)
		}
		l.entries = slices.Delete(l.entries, idx, idx+1)
		depth := q.depthLocked()
		q.mu.Unlock()

		q.delete(messageID)
		metrics.SetOutboxDepth(depth)
		return nil
	}
	q.mu.Unlock()
	return nil
}

// SetOnline records the link state. Going online flushes every lane; going
// offline lets workers finish their current attempt and park.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	if q.online == online {
		q.mu.Unlock()
		return
	}
	q.online = online
	if online {
		q.offline = make(chan struct{})
	} else {
		close(q.offline)
	}
	q.mu.Unlock()

	if online {
		q.Flush()
	}
}

// Flush starts a worker for every non-empty idle lane, oldest head first.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		if len(l.entries) > 0 {
			lanes = append(lanes, l)
		}
	}
	slices.SortFunc(lanes, func(a, b *lane) int { return cmp.Compare(a.entries[0].Order, b.entries[0].Order) })
	for _, l := range lanes {
		q.startLocked(l)
	}
}

// Depth returns the number of entries waiting across all lanes.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

// Entries returns a copy of all entries in global order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	var out []Entry
	for _, l := range q.lanes {
		for _, e := range l.entries {
			cp := *e
			cp.backoff = nil
			cp.Message = e.Message.Clone()
			out = append(out, cp)
		}
	}
	q.mu.Unlock()
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

func (q *Queue) laneLocked(conversationID string) *lane {
	l, ok := q.lanes[conversationID]
	if !ok {
		l = &lane{conversationID: conversationID}
		q.lanes[conversationID] = l
	}
	return l
}

func (q *Queue) depthLocked() int {
	n := 0
	for _, l := range q.lanes {
		n += len(l.entries)
	}
	return n
}

func (q *Queue) startLocked(l *lane) {
	if l.running || !q.online || q.ctx == nil || q.ctx.Err() != nil || len(l.entries) == 0 {
		return
	}
	l.running = true
	q.wg.Add(1)
	go q.drain(q.ctx, l)
}

func (q *Queue) drain(ctx context.Context, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if !q.online || ctx.Err() != nil || len(l.entries) == 0 {
			l.running = false
			q.mu.Unlock()
			return
		}
		e := l.entries[0]
		offline := q.offline
		wait := e.NextRetryAt.Sub(q.clock())
		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-offline:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
			}
			continue
		}

		q.mu.Lock()
		if len(l.entries) == 0 || l.entries[0] != e {
			// Cancelled while waiting.
			q.mu.Unlock()
			continue
		}
		l.inflight = e.Message.ID
		q.mu.Unlock()

		q.attempt(ctx, l, e)
	}
}

func (q *Queue) attempt(ctx context.Context, l *lane, e *Entry) {
	attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
	ack, err := q.sender.Send(attemptCtx, e.Message)
	cancel()
	if err == nil && ack.Seq <= 0 {
		err = fmt.Errorf("%w: acknowledgment without sequence", chat.ErrTransmissionFailed)
	}
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a transmission failure.
		q.mu.Lock()
		l.inflight = ""
		q.mu.Unlock()
		return
	}

	if err == nil {
		if err = q.acked(l, e, ack); err == nil {
			return
		}
	}

	q.mu.Lock()
	e.Attempts++
	e.LastError = err.Error()
	if e.Attempts >= q.cfg.MaxAttempts {
		q.mu.Unlock()
		q.exhausted(l, e, err)
		return
	}
	delay := e.backoff.NextBackOff()
	e.NextRetryAt = q.clock().Add(delay)
	l.inflight = ""
	q.save(e)
	saved := *e
	q.mu.Unlock()

	metrics.IncOutboxAttempt(metrics.ResultFailed)
	q.logger.Warn("send attempt failed",
		zap.Error(err),
		zap.String("msg_id", e.Message.ID),
		zap.Int("attempt", saved.Attempts),
		zap.Duration("retry_in", delay),
	)
	q.publish(bus.KindOutboxAttemptFailed, e.Message.ConversationID, AttemptEvent{
		MessageID: e.Message.ID,
		Attempt:   saved.Attempts,
		Error:     saved.LastError,
		RetryIn:   delay.String(),
	})
}

// acked commits the acknowledged message. The entry is removed only once the
// store holds the message at sent or beyond; otherwise the attempt counts as
// failed and the entry stays.
func (q *Queue) acked(l *lane, e *Entry, ack transport.Ack) error {
	m := e.Message.Clone()
	m.Ref = chat.Committed(ack.Seq)
	m.AckAt = ack.AckAt
	if m.AckAt.IsZero() {
		m.AckAt = q.clock()
	}
	if _, err := q.committer.ApplyServerMessage(m.ConversationID, m); err != nil {
		return fmt.Errorf("commit acknowledged message: %w", err)
	}
	// A message missing from the store was cancelled or removed; nothing to confirm.
	if stored, ok := q.committer.Message(m.ID); ok && !delivery.AtLeast(stored.Status, chat.Sent) {
		return fmt.Errorf("acknowledged message %s still %s in store", m.ID, stored.Status)
	}
	q.remove(l, e)

	metrics.IncOutboxAttempt(metrics.ResultAcked)
	metrics.ObserveSendLatency(m.AckAt.Sub(e.EnqueuedAt))
	q.logger.Info("message sent", zap.String("msg_id", m.ID), zap.Int64("seq", ack.Seq))
	q.publish(bus.KindOutboxSent, m.ConversationID, AttemptEvent{
		MessageID: m.ID,
		Attempt:   e.Attempts + 1,
		Seq:       ack.Seq,
	})
	return nil
}

func (q *Queue) exhausted(l *lane, e *Entry, cause error) {
	if _, err := q.committer.Fail(e.Message.ID); err != nil {
		q.logger.Error("failed to mark message failed", zap.Error(err), zap.String("msg_id", e.Message.ID))
	}
	q.remove(l, e)

	metrics.IncOutboxAttempt(metrics.ResultExhausted)
	q.logger.Warn("giving up on message",
		zap.Error(fmt.Errorf("%w: %w", chat.ErrRetryExhausted, cause)),
		zap.String("msg_id", e.Message.ID),
		zap.Int("attempts", e.Attempts),
	)
	q.publish(bus.KindOutboxExhausted, e.Message.ConversationID, AttemptEvent{
		MessageID: e.Message.ID,
		Attempt:   e.Attempts,
		Error:     e.LastError,
	})
}

// remove drops e from the head of its lane once the store has recorded the outcome.
func (q *Queue) remove(l *lane, e *Entry) {
	q.mu.Lock()
	if idx := slices.Index(l.entries, e); idx >= 0 {
		l.entries = slices.Delete(l.entries, idx, idx+1)
	}
	l.inflight = ""
	depth := q.depthLocked()
	q.mu.Unlock()

	q.delete(e.Message.ID)
	metrics.SetOutboxDepth(depth)
}

func (q *Queue) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.BaseDelay
	b.Multiplier = q.cfg.Factor
	b.MaxInterval = q.cfg.MaxDelay
	b.RandomizationFactor = q.cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// save is called with q.mu held so a concurrent removal cannot be undone.
func (q *Queue) save(e *Entry) {
	if q.journal == nil {
		return
	}
	if err := q.journal.SaveOutboxEntry(*e); err != nil {
		q.logger.Error("failed to persist outbox entry", zap.Error(err), zap.String("msg_id", e.Message.ID))
	}
}

func (q *Queue) delete(messageID string) {
	if q.journal == nil {
		return
	}
	if err := q.journal.DeleteOutboxEntry(messageID); err != nil {
		q.logger.Error("failed to delete outbox entry", zap.Error(err), zap.String("msg_id", messageID))
	}
}

func (q *Queue) publish(kind, conversationID string, payload AttemptEvent) {
	q.bus.Publish(bus.Event{
		Kind:           kind,
		ConversationID: conversationID,
		Payload:        payload,
	})
}
