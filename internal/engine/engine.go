// Package engine composes the registry, conversation store, outbox and
// reconciler into the client sync engine and exposes snapshots and intents
// to user interfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/activity"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

const seedCheckpoint = "seed.applied"

// Options configures an Engine.
type Options struct {
	Self      chat.User
	Transport transport.Transport
	// DB persists everything when set; a nil DB keeps the engine in memory.
	DB      *store.DB
	Bus     *bus.Bus
	Link    *status.Machine
	Logger  *zap.Logger
	Outbox  outbox.Config
	// DetectGaps enables gap warnings for transports that number each
	// conversation contiguously.
	DetectGaps bool
	// StatusSweep is how often expired statuses are dropped.
	StatusSweep time.Duration
}

// Engine is one user's client-side sync engine.
type Engine struct {
	opts      Options
	self      string
	logger    *zap.Logger
	transport transport.Transport
	link      *status.Machine

	registry *presence.Registry
	convs    *conversation.Store
	queue    *outbox.Queue
	rec      *intsync.Reconciler
	tracker  *activity.Tracker

	control chan transport.Event

	mu         sync.Mutex
	active     string
	search     string
	version    uint64
	listeners  map[int]func(Snapshot)
	nextListen int
	started    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the engine's components. Nothing runs until Init.
func New(opts Options) (*Engine, error) {
	if opts.Self.ID == "" {
		return nil, fmt.Errorf("%w: engine needs a local user", chat.ErrUnknownUser)
	}
	if opts.Transport == nil {
		return nil, errors.New("engine needs a transport")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Link == nil {
		opts.Link = status.NewMachine(opts.Bus)
	}
	if opts.StatusSweep <= 0 {
		opts.StatusSweep = time.Minute
	}

	e := &Engine{
		opts:      opts,
		self:      opts.Self.ID,
		logger:    opts.Logger.Named("engine"),
		transport: opts.Transport,
		link:      opts.Link,
		control:   make(chan transport.Event, 256),
		listeners: make(map[int]func(Snapshot)),
	}

	// A nil *store.DB must not end up inside a non-nil interface.
	var (
		userJournal     presence.Persister
		convJournal     conversation.Journal
		outboxJournal   outbox.Journal
		checkpoints     intsync.Checkpointer
		activityJournal activity.Journal
	)
	if opts.DB != nil {
		userJournal, convJournal, outboxJournal, checkpoints, activityJournal = opts.DB, opts.DB, opts.DB, opts.DB, opts.DB
	}

	e.registry = presence.NewRegistry(userJournal, opts.Logger.Named("presence"))
	e.convs = conversation.New(conversation.Options{
		Self:      e.self,
		Directory: e.registry,
		Journal:   convJournal,
		Bus:       opts.Bus,
		Logger:    opts.Logger.Named("conversation"),
		OnChange:  func(string) { e.notify() },
	})
	e.queue = outbox.NewQueue(opts.Outbox, opts.Transport, e.convs, outboxJournal, opts.Bus, opts.Logger.Named("outbox"))
	e.convs.SetOutbox(e.queue)
	e.rec = intsync.NewReconciler(intsync.Options{
		Self:       e.self,
		Store:      e.convs,
		Presence:   notifyingRegistry{Registry: e.registry, notify: e.notify},
		Checkpoint: checkpoints,
		Bus:        opts.Bus,
		Logger:     opts.Logger.Named("sync"),
		DetectGaps: opts.DetectGaps,
		OnIncoming: e.onIncoming,
	})
	e.tracker = activity.NewTracker(activityJournal, opts.Logger.Named("activity"), e.notify)
	return e, nil
}

// notifyingRegistry bumps the snapshot when a remote presence change lands.
type notifyingRegistry struct {
	*presence.Registry
	notify func()
}

func (r notifyingRegistry) ApplyPresence(userID string, p chat.Presence, seq uint64, at time.Time) (bool, error) {
	applied, err := r.Registry.ApplyPresence(userID, p, seq, at)
	if applied {
		r.notify()
	}
	return applied, err
}

// Init restores persisted state, applies the seed on first run and starts
// the background workers. It must be called once.
func (e *Engine) Init(ctx context.Context, seed *Seed) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine already initialized")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.link.Transition(status.Restoring); err != nil {
		return err
	}
	if err := e.restore(); err != nil {
		_ = e.link.Transition(status.Error)
		return err
	}
	if err := e.applySeed(seed); err != nil {
		_ = e.link.Transition(status.Error)
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.queue.Start(ctx)
	e.rec.Start(ctx, e.transport.Events())

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.watchConnectivity(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.runControl(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.tracker.Run(ctx, e.opts.StatusSweep)
	}()

	e.logger.Info("engine started",
		zap.String("user_id", e.self),
		zap.Int("conversations", len(e.convs.List())),
		zap.Int("outbox_depth", e.queue.Depth()),
	)
	e.notify()
	return nil
}

func (e *Engine) restore() error {
	e.registry.UpsertUser(e.opts.Self)
	if e.opts.DB == nil {
		return nil
	}
	st, err := e.opts.DB.LoadState(time.Now())
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	for _, su := range st.Users {
		if su.User.ID == e.self {
			continue
		}
		e.registry.Restore(su.User, su.PresenceSeq)
	}
	e.convs.Restore(st.Conversations)
	e.queue.Restore(st.Outbox)
	e.rec.Restore(st.HighWaterMarks)
	e.tracker.Restore(st.Statuses, st.Calls)
	e.logger.Info("state restored",
		zap.Int("users", len(st.Users)),
		zap.Int("conversations", len(st.Conversations)),
		zap.Int("outbox", len(st.Outbox)),
	)
	return nil
}

func (e *Engine) applySeed(seed *Seed) error {
	if seed == nil {
		return nil
	}
	if e.opts.DB != nil {
		done, err := e.opts.DB.Checkpoint(seedCheckpoint)
		if err != nil {
			return fmt.Errorf("read seed checkpoint: %w", err)
		}
		if done != "" {
			return nil
		}
	}

	users, convs, err := seed.Build(time.Now())
	if err != nil {
		return err
	}
	for _, u := range users {
		if u.ID == e.self {
			continue
		}
		e.registry.UpsertUser(u)
	}
	marks := make(map[string]int64, len(convs))
	for _, c := range convs {
		if _, err := e.convs.EnsureConversation(c); err != nil {
			return fmt.Errorf("seed conversation %s: %w", c.ID, err)
		}
		for _, m := range c.Messages {
			if _, err := e.convs.ApplyServerMessage(c.ID, m); err != nil {
				return fmt.Errorf("seed message %s: %w", m.ID, err)
			}
			marks[c.ID] = max(marks[c.ID], m.Seq())
		}
	}
	e.rec.Restore(marks)

	if e.opts.DB != nil {
		for id, seq := range marks {
			if err := e.opts.DB.SaveHighWaterMark(id, seq); err != nil {
				return err
			}
		}
		if err := e.opts.DB.SetCheckpoint(seedCheckpoint, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	e.logger.Info("seed applied", zap.Int("users", len(users)), zap.Int("conversations", len(convs)))
	return nil
}

// Dispose stops every background worker. The transport is left open.
func (e *Engine) Dispose() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.rec.Stop()
	e.queue.Stop()
	e.wg.Wait()
	_ = e.link.Transition(status.Stopped)
	e.logger.Info("engine stopped")
}

func (e *Engine) watchConnectivity(ctx context.Context) {
	conn := e.transport.Connectivity()
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-conn:
			if !ok {
				return
			}
			online := state == transport.Online
			e.queue.SetOnline(online)
			to := status.Offline
			if online {
				to = status.Online
			}
			if err := e.link.Transition(to); err != nil {
				e.logger.Warn("link transition rejected", zap.Error(err))
			}
			e.logger.Info("connectivity changed", zap.String("state", string(state)))
			e.notify()
		}
	}
}

// onIncoming acknowledges delivery of a message from another user and, when
// its conversation is open, marks it read straight away.
func (e *Engine) onIncoming(conversationID string, seq int64) {
	e.enqueueControl(transport.Event{
		Type:           transport.DeliveryReceipt,
		ConversationID: conversationID,
		Receipt:        &transport.Receipt{UserID: e.self, UptoSeq: seq},
	})

	e.mu.Lock()
	open := e.active == conversationID
	e.mu.Unlock()
	if open {
		if _, err := e.MarkRead(conversationID, seq); err != nil {
			e.logger.Debug("auto mark read failed", zap.Error(err))
		}
	}
}

// Subscribe registers a listener called with a fresh snapshot after every
// change. Listeners run on the goroutine that made the change, so they must
// not block and must not call back into the engine synchronously. Snapshots
// from different goroutines can arrive out of order; compare Version.
func (e *Engine) Subscribe(listener func(Snapshot)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextListen
	e.nextListen++
	e.listeners[id] = listener
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

// Watch returns a channel holding the newest snapshot not yet received;
// intermediate versions are skipped when the reader falls behind. The
// subscription ends with ctx. The channel is never closed.
func (e *Engine) Watch(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	unsubscribe := e.Subscribe(func(s Snapshot) { offerLatest(ch, s) })
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return ch
}

// offerLatest leaves the newer of snap and any unread snapshot in ch, which
// must have capacity one.
func offerLatest(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case old := <-ch:
			if old.Version > snap.Version {
				snap = old
			}
		default:
		}
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	e.version++
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(Snapshot), len(ids))
	for i, id := range ids {
		listeners[i] = e.listeners[id]
	}
	e.mu.Unlock()

	if len(listeners) == 0 {
		return
	}
	snap := e.Snapshot()
	for _, l := range listeners {
		l(snap)
	}
}
