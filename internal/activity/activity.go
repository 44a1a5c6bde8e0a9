// Package activity keeps ephemeral status broadcasts and the call log.
package activity

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/chat"
	"go.uber.org/zap"
)

// StatusTTL is how long a status stays visible.
const StatusTTL = 24 * time.Hour

var (
	ErrStatusNotFound = errors.New("status not found")
	ErrCallNotFound   = errors.New("call not found")
	ErrCallEnded      = errors.New("call already ended")
)

// Journal persists statuses and calls.
type Journal interface {
	SaveStatus(s chat.StatusUpdate) error
	DeleteStatus(id string) error
	SaveCall(c chat.Call) error
}

// Tracker holds the live statuses and the call history.
type Tracker struct {
	mu       sync.Mutex
	statuses map[string]*chat.StatusUpdate
	calls    []chat.Call

	journal  Journal
	logger   *zap.Logger
	onChange func()

	clock func() time.Time
	newID func() string
}

// NewTracker creates a tracker. onChange, when set, is called after every
// mutation without the tracker's lock held.
func NewTracker(journal Journal, logger *zap.Logger, onChange func()) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		statuses: make(map[string]*chat.StatusUpdate),
		journal:  journal,
		logger:   logger,
		onChange: onChange,
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

// Restore loads persisted state. Expired statuses are skipped.
func (t *Tracker) Restore(statuses []chat.StatusUpdate, calls []chat.Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	for _, s := range statuses {
		if !s.ExpiresAt.After(now) {
			continue
		}
		s.ViewedBy = slices.Clone(s.ViewedBy)
		t.statuses[s.ID] = &s
	}
	t.calls = append(t.calls, calls...)
	sortCalls(t.calls)
}

// PostStatus publishes a status for userID that expires after StatusTTL.
func (t *Tracker) PostStatus(userID, content, mediaRef string) (chat.StatusUpdate, error) {
	if strings.TrimSpace(content) == "" && mediaRef == "" {
		return chat.StatusUpdate{}, chat.ErrEmptyMessage
	}
	now := t.clock()
	s := chat.StatusUpdate{
		ID:        t.newID(),
		UserID:    userID,
		Content:   content,
		MediaRef:  mediaRef,
		PostedAt:  now,
		ExpiresAt: now.Add(StatusTTL),
	}
	if err := t.save(s); err != nil {
		return chat.StatusUpdate{}, err
	}

	t.mu.Lock()
	stored := s
	t.statuses[s.ID] = &stored
	t.mu.Unlock()

	t.changed()
	return s, nil
}

// ViewStatus records that viewerID has seen a status. Viewing twice, or
// viewing your own status, changes nothing.
func (t *Tracker) ViewStatus(statusID, viewerID string) error {
	t.mu.Lock()
	s, ok := t.statuses[statusID]
	if !ok || !s.ExpiresAt.After(t.clock()) {
		t.mu.Unlock()
		return ErrStatusNotFound
	}
	if s.UserID == viewerID || slices.Contains(s.ViewedBy, viewerID) {
		t.mu.Unlock()
		return nil
	}
	s.ViewedBy = append(s.ViewedBy, viewerID)
	slices.Sort(s.ViewedBy)
	snapshot := *s
	snapshot.ViewedBy = slices.Clone(s.ViewedBy)
	t.mu.Unlock()

	if err := t.save(snapshot); err != nil {
		return err
	}
	t.changed()
	return nil
}

// Statuses returns live statuses, newest first.
func (t *Tracker) Statuses() []chat.StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	out := make([]chat.StatusUpdate, 0, len(t.statuses))
	for _, s := range t.statuses {
		if !s.ExpiresAt.After(now) {
			continue
		}
		c := *s
		c.ViewedBy = slices.Clone(s.ViewedBy)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b chat.StatusUpdate) int {
		if c := b.PostedAt.Compare(a.PostedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Expire drops statuses past their expiry and returns how many went.
func (t *Tracker) Expire() int {
	t.mu.Lock()
	now := t.clock()
	var gone []string
	for id, s := range t.statuses {
		if !s.ExpiresAt.After(now) {
			gone = append(gone, id)
			delete(t.statuses, id)
		}
	}
	t.mu.Unlock()

	for _, id := range gone {
		if t.journal == nil {
			break
		}
		if err := t.journal.DeleteStatus(id); err != nil {
			t.logger.Warn("failed to delete expired status", zap.Error(err), zap.String("status_id", id))
		}
	}
	if len(gone) > 0 {
		t.logger.Debug("statuses expired", zap.Int("count", len(gone)))
		t.changed()
	}
	return len(gone)
}

// Run expires statuses every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Expire()
		}
	}
}

// StartCall opens an ongoing call with the given participants.
func (t *Tracker) StartCall(kind chat.CallKind, participants []string) (chat.Call, error) {
	if kind != chat.AudioCall && kind != chat.VideoCall {
		return chat.Call{}, errors.New("unknown call kind")
	}
	ids := slices.Clone(participants)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		return chat.Call{}, chat.ErrInvalidParticipants
	}
	c := chat.Call{
		ID:           t.newID(),
		Kind:         kind,
		Participants: ids,
		State:        chat.CallOngoing,
		StartedAt:    t.clock(),
	}
	if err := t.saveCall(c); err != nil {
		return chat.Call{}, err
	}

	t.mu.Lock()
	t.calls = append(t.calls, c)
	sortCalls(t.calls)
	t.mu.Unlock()

	t.changed()
	return c, nil
}

// EndCall closes an ongoing call. An answered call completes with its
// duration; an unanswered one is recorded as missed.
func (t *Tracker) EndCall(id string, answered bool) (chat.Call, error) {
	t.mu.Lock()
	i := slices.IndexFunc(t.calls, func(c chat.Call) bool { return c.ID == id })
	if i < 0 {
		t.mu.Unlock()
		return chat.Call{}, ErrCallNotFound
	}
	c := &t.calls[i]
	if c.State != chat.CallOngoing {
		t.mu.Unlock()
		return chat.Call{}, ErrCallEnded
	}
	c.EndedAt = t.clock()
	if answered {
		c.State = chat.CallCompleted
		c.Duration = c.EndedAt.Sub(c.StartedAt)
	} else {
		c.State = chat.CallMissed
	}
	ended := *c
	ended.Participants = slices.Clone(c.Participants)
	t.mu.Unlock()

	if err := t.saveCall(ended); err != nil {
		return chat.Call{}, err
	}
	t.changed()
	return ended, nil
}

// Calls returns the call log, newest first.
func (t *Tracker) Calls() []chat.Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.Call, len(t.calls))
	for i, c := range t.calls {
		c.Participants = slices.Clone(c.Participants)
		out[i] = c
	}
	return out
}

func (t *Tracker) save(s chat.StatusUpdate) error {
	if t.journal == nil {
		return nil
	}
	return t.journal.SaveStatus(s)
}

func (t *Tracker) saveCall(c chat.Call) error {
	if t.journal == nil {
		return nil
	}
	return t.journal.SaveCall(c)
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

func sortCalls(calls []chat.Call) {
	slices.SortStableFunc(calls, func(a, b chat.Call) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
}
