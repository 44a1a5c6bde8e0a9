package presence

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"go.uber.org/zap"
)

// Persister receives every accepted user change. store.DB implements it.
type Persister interface {
	SaveUser(u chat.User, presenceSeq uint64) error
}

type entry struct {
	user chat.User
	seq  uint64 // last applied transport presence sequence
}

// Registry is the source of truth for known users and their presence.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]*entry
	persist Persister
	clock   func() time.Time
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. persist may be nil.
func NewRegistry(persist Persister, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		users:   make(map[string]*entry),
		persist: persist,
		clock:   time.Now,
		logger:  logger,
	}
}

// UpsertUser registers u or updates its profile. Presence fields of an
// existing user only move through SetPresence/ApplyPresence.
func (r *Registry) UpsertUser(u chat.User) {
	r.mu.Lock()
	e, ok := r.users[u.ID]
	if !ok {
		if !u.Presence.Valid() {
			u.Presence = chat.Offline
		}
		e = &entry{user: u}
		r.users[u.ID] = e
	} else {
		e.user.DisplayName = u.DisplayName
		e.user.AvatarRef = u.AvatarRef
	}
	saved, seq := e.user, e.seq
	r.mu.Unlock()

	r.save(saved, seq)
}

// Restore loads a persisted user together with its last presence sequence.
func (r *Registry) Restore(u chat.User, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = &entry{user: u, seq: seq}
}

// SetPresence applies a local presence change.
func (r *Registry) SetPresence(userID string, p chat.Presence) error {
	if !p.Valid() {
		return fmt.Errorf("invalid presence %q", p)
	}
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", chat.ErrUnknownUser, userID)
	}
	e.user.Presence = p
	e.user.LastSeenAt = later(e.user.LastSeenAt, r.clock())
	saved, seq := e.user, e.seq
	r.mu.Unlock()

	r.save(saved, seq)
	return nil
}

// ApplyPresence applies a presence event from the transport. Events with a
// sequence at or below the last applied one are discarded; applied reports
// whether the change took effect.
func (r *Registry) ApplyPresence(userID string, p chat.Presence, seq uint64, at time.Time) (applied bool, err error) {
	if !p.Valid() {
		return false, fmt.Errorf("invalid presence %q", p)
	}
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", chat.ErrUnknownUser, userID)
	}
	if seq <= e.seq {
		r.mu.Unlock()
		r.logger.Debug("stale presence discarded",
			zap.String("user_id", userID), zap.Uint64("seq", seq), zap.Uint64("last_seq", e.seq))
		return false, nil
	}
	if at.IsZero() {
		at = r.clock()
	}
	e.seq = seq
	e.user.Presence = p
	e.user.LastSeenAt = later(e.user.LastSeenAt, at)
	saved := e.user
	r.mu.Unlock()

	r.save(saved, seq)
	return true, nil
}

// Get returns the user with the given id.
func (r *Registry) Get(id string) (chat.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[id]
	if !ok {
		return chat.User{}, false
	}
	return e.user, true
}

// Known reports whether id is registered.
func (r *Registry) Known(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns all users sorted by display name, then id.
func (r *Registry) List() []chat.User {
	r.mu.RLock()
	out := make([]chat.User, 0, len(r.users))
	for _, e := range r.users {
		out = append(out, e.user)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b chat.User) int {
		if c := cmp.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (r *Registry) save(u chat.User, seq uint64) {
	if r.persist == nil {
		return
	}
	if err := r.persist.SaveUser(u, seq); err != nil {
		r.logger.Error("failed to persist user", zap.Error(err), zap.String("user_id", u.ID))
	}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
