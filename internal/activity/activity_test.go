package activity

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

type memJournal struct {
	mu       sync.Mutex
	statuses map[string]chat.StatusUpdate
	calls    map[string]chat.Call
}

func newMemJournal() *memJournal {
	return &memJournal{statuses: map[string]chat.StatusUpdate{}, calls: map[string]chat.Call{}}
}

func (j *memJournal) SaveStatus(s chat.StatusUpdate) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses[s.ID] = s
	return nil
}

func (j *memJournal) DeleteStatus(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.statuses, id)
	return nil
}

func (j *memJournal) SaveCall(c chat.Call) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls[c.ID] = c
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) (*Tracker, *memJournal, *fakeClock, *int) {
	t.Helper()
	j := newMemJournal()
	clk := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	changes := 0
	tr := NewTracker(j, nil, func() { changes++ })
	tr.clock = clk.Now
	n := 0
	tr.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	return tr, j, clk, &changes
}

func TestPostStatusExpiresAfterTTL(t *testing.T) {
	tr, j, clk, changes := newTestTracker(t)

	s, err := tr.PostStatus("bob", "at the beach", "")
	if err != nil {
		t.Fatal(err)
	}
	if !s.ExpiresAt.Equal(s.PostedAt.Add(24 * time.Hour)) {
		t.Errorf("expires at %v, want posted+24h", s.ExpiresAt)
	}
	if len(tr.Statuses()) != 1 || *changes != 1 {
		t.Fatalf("statuses=%d changes=%d", len(tr.Statuses()), *changes)
	}

	clk.Advance(24 * time.Hour)
	if len(tr.Statuses()) != 0 {
		t.Error("status still visible at expiry")
	}
	if n := tr.Expire(); n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}
	if _, ok := j.statuses[s.ID]; ok {
		t.Error("expired status still persisted")
	}
}

func TestPostStatusRejectsEmpty(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	if _, err := tr.PostStatus("bob", "  ", ""); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	if _, err := tr.PostStatus("bob", "", "media://1"); err != nil {
		t.Errorf("media-only status: %v", err)
	}
}

func TestViewStatus(t *testing.T) {
	tr, j, clk, _ := newTestTracker(t)
	s, _ := tr.PostStatus("bob", "hi", "")

	for _, viewer := range []string{"carol", "alice", "carol", "bob"} {
		if err := tr.ViewStatus(s.ID, viewer); err != nil {
			t.Fatal(err)
		}
	}
	got := tr.Statuses()[0].ViewedBy
	if !slices.Equal(got, []string{"alice", "carol"}) {
		t.Errorf("viewers = %v, want [alice carol]", got)
	}
	if !slices.Equal(j.statuses[s.ID].ViewedBy, got) {
		t.Errorf("persisted viewers = %v", j.statuses[s.ID].ViewedBy)
	}

	if err := tr.ViewStatus("missing", "alice"); !errors.Is(err, ErrStatusNotFound) {
		t.Errorf("err = %v, want ErrStatusNotFound", err)
	}
	clk.Advance(25 * time.Hour)
	if err := tr.ViewStatus(s.ID, "dave"); !errors.Is(err, ErrStatusNotFound) {
		t.Errorf("viewing expired status: err = %v", err)
	}
}

func TestStatusesNewestFirst(t *testing.T) {
	tr, _, clk, _ := newTestTracker(t)
	first, _ := tr.PostStatus("bob", "one", "")
	clk.Advance(time.Minute)
	second, _ := tr.PostStatus("carol", "two", "")

	got := tr.Statuses()
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Errorf("order = [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestCallLifecycle(t *testing.T) {
	tr, j, clk, _ := newTestTracker(t)

	c, err := tr.StartCall(chat.VideoCall, []string{"bob", "alice", "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if c.State != chat.CallOngoing || !slices.Equal(c.Participants, []string{"alice", "bob"}) {
		t.Errorf("call = %+v", c)
	}

	clk.Advance(95 * time.Second)
	ended, err := tr.EndCall(c.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if ended.State != chat.CallCompleted || ended.Duration != 95*time.Second {
		t.Errorf("ended = %+v", ended)
	}
	if j.calls[c.ID].State != chat.CallCompleted {
		t.Error("completed call not persisted")
	}
	if _, err := tr.EndCall(c.ID, true); !errors.Is(err, ErrCallEnded) {
		t.Errorf("err = %v, want ErrCallEnded", err)
	}
}

func TestUnansweredCallIsMissed(t *testing.T) {
	tr, _, clk, _ := newTestTracker(t)
	c, _ := tr.StartCall(chat.AudioCall, []string{"bob"})
	clk.Advance(30 * time.Second)

	ended, err := tr.EndCall(c.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if ended.State != chat.CallMissed || ended.Duration != 0 {
		t.Errorf("ended = %+v", ended)
	}
}

func TestStartCallValidation(t *testing.T) {
	tr, _, _, _ := newTestTracker(t)
	if _, err := tr.StartCall("hologram", []string{"bob"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := tr.StartCall(chat.AudioCall, nil); !errors.Is(err, chat.ErrInvalidParticipants) {
		t.Errorf("err = %v, want ErrInvalidParticipants", err)
	}
	if _, err := tr.EndCall("nope", true); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("err = %v, want ErrCallNotFound", err)
	}
}

func TestRestoreSkipsExpired(t *testing.T) {
	tr, _, clk, _ := newTestTracker(t)
	now := clk.Now()
	tr.Restore([]chat.StatusUpdate{
		{ID: "live", UserID: "bob", Content: "x", PostedAt: now, ExpiresAt: now.Add(time.Hour)},
		{ID: "old", UserID: "bob", Content: "y", PostedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(-time.Hour)},
	}, []chat.Call{
		{ID: "c1", StartedAt: now.Add(-2 * time.Hour), State: chat.CallMissed},
		{ID: "c2", StartedAt: now.Add(-time.Hour), State: chat.CallCompleted},
	})

	if got := tr.Statuses(); len(got) != 1 || got[0].ID != "live" {
		t.Errorf("statuses = %+v", got)
	}
	if calls := tr.Calls(); calls[0].ID != "c2" {
		t.Errorf("newest call = %s, want c2", calls[0].ID)
	}
}
