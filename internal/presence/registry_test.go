package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

type recordingPersister struct {
	mu    sync.Mutex
	saved []chat.User
}

func (p *recordingPersister) SaveUser(u chat.User, _ uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, u)
	return nil
}

func TestUpsertAndGet(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.UpsertUser(chat.User{ID: "u1", DisplayName: "Steve"})

	u, ok := r.Get("u1")
	if !ok {
		t.Fatal("user not found")
	}
	if u.Presence != chat.Offline {
		t.Errorf("default presence = %s, want offline", u.Presence)
	}

	r.UpsertUser(chat.User{ID: "u1", DisplayName: "Steve N.", Presence: chat.Online})
	u, _ = r.Get("u1")
	if u.DisplayName != "Steve N." {
		t.Errorf("display name = %q, want updated", u.DisplayName)
	}
	if u.Presence != chat.Offline {
		t.Errorf("upsert must not change presence, got %s", u.Presence)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should be absent")
	}
}

func TestSetPresenceUnknownUser(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.SetPresence("ghost", chat.Online)
	if !errors.Is(err, chat.ErrUnknownUser) {
		t.Errorf("error = %v, want ErrUnknownUser", err)
	}
}

func TestSetPresenceInvalidValue(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.UpsertUser(chat.User{ID: "u1"})
	if err := r.SetPresence("u1", chat.Presence("busy")); err == nil {
		t.Error("expected error for invalid presence")
	}
}

func TestApplyPresenceDiscardsStaleSequence(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.UpsertUser(chat.User{ID: "u1"})
	t0 := time.UnixMilli(10_000)

	applied, err := r.ApplyPresence("u1", chat.Online, 5, t0)
	if err != nil || !applied {
		t.Fatalf("ApplyPresence(5) = %v, %v", applied, err)
	}

	// Older event arriving late is ignored.
	applied, err = r.ApplyPresence("u1", chat.Offline, 3, t0.Add(time.Minute))
	if err != nil || applied {
		t.Fatalf("ApplyPresence(3) = %v, %v; want discarded", applied, err)
	}
	// Replay of the same sequence is ignored too.
	applied, _ = r.ApplyPresence("u1", chat.Away, 5, t0)
	if applied {
		t.Error("replayed sequence should be discarded")
	}

	u, _ := r.Get("u1")
	if u.Presence != chat.Online {
		t.Errorf("presence = %s, want online", u.Presence)
	}
	if !u.LastSeenAt.Equal(t0) {
		t.Errorf("lastSeenAt = %v, want %v", u.LastSeenAt, t0)
	}
}

func TestLastSeenNeverMovesBackward(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.UpsertUser(chat.User{ID: "u1"})
	t0 := time.UnixMilli(50_000)

	if _, err := r.ApplyPresence("u1", chat.Offline, 1, t0); err != nil {
		t.Fatal(err)
	}
	// Newer sequence but older clock reading (skewed device).
	if _, err := r.ApplyPresence("u1", chat.Offline, 2, t0.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	u, _ := r.Get("u1")
	if !u.LastSeenAt.Equal(t0) {
		t.Errorf("lastSeenAt = %v, want %v (monotonic)", u.LastSeenAt, t0)
	}
}

func TestApplyPresenceUnknownUser(t *testing.T) {
	r := NewRegistry(nil, nil)
	_, err := r.ApplyPresence("ghost", chat.Online, 1, time.Now())
	if !errors.Is(err, chat.ErrUnknownUser) {
		t.Errorf("error = %v, want ErrUnknownUser", err)
	}
}

func TestListSortedByName(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.UpsertUser(chat.User{ID: "3", DisplayName: "Roo"})
	r.UpsertUser(chat.User{ID: "1", DisplayName: "Arlette"})
	r.UpsertUser(chat.User{ID: "2", DisplayName: "Paps"})

	got := r.List()
	want := []string{"1", "2", "3"}
	for i, u := range got {
		if u.ID != want[i] {
			t.Fatalf("List()[%d] = %s, want %s", i, u.ID, want[i])
		}
	}
}

func TestChangesArePersisted(t *testing.T) {
	p := &recordingPersister{}
	r := NewRegistry(p, nil)
	r.UpsertUser(chat.User{ID: "u1"})
	_ = r.SetPresence("u1", chat.Away)
	_, _ = r.ApplyPresence("u1", chat.Online, 1, time.Now())
	_, _ = r.ApplyPresence("u1", chat.Offline, 1, time.Now()) // stale, not saved

	if len(p.saved) != 3 {
		t.Errorf("persisted %d changes, want 3", len(p.saved))
	}
}
