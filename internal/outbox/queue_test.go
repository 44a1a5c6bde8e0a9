package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// fakeSender assigns per-conversation sequences and can be told to fail or hang.
type fakeSender struct {
	mu       sync.Mutex
	seqs     map[string]int64
	attempts []string
	failures map[string]int // remaining failures per message id
	hang     bool           // block until the attempt context expires
	gate     chan struct{}  // when set, each send waits for a token
}

func newFakeSender() *fakeSender {
	return &fakeSender{seqs: map[string]int64{}, failures: map[string]int{}}
}

func (f *fakeSender) Send(ctx context.Context, m chat.Message) (transport.Ack, error) {
	f.mu.Lock()
	f.attempts = append(f.attempts, m.ID)
	hang, gate := f.hang, f.gate
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return transport.Ack{}, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return transport.Ack{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[m.ID] > 0 {
		f.failures[m.ID]--
		return transport.Ack{}, fmt.Errorf("%w: simulated", chat.ErrTransmissionFailed)
	}
	f.seqs[m.ConversationID]++
	return transport.Ack{Seq: f.seqs[m.ConversationID], AckAt: time.UnixMilli(f.seqs[m.ConversationID])}, nil
}

func (f *fakeSender) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type commit struct {
	id  string
	seq int64
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits []commit
	failed  []string
	stuck   map[string]bool // commits that leave the message below sent
}

func (c *fakeCommitter) ApplyServerMessage(_ string, m chat.Message) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, commit{m.ID, m.Seq()})
	return true, nil
}

func (c *fakeCommitter) Fail(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, id)
	return true, nil
}

func (c *fakeCommitter) Message(id string) (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stuck[id] {
		return chat.Message{ID: id, Status: chat.Queued}, true
	}
	for _, cm := range c.commits {
		if cm.id == id {
			return chat.Message{ID: id, Ref: chat.Committed(cm.seq), Status: chat.Sent}, true
		}
	}
	return chat.Message{}, false
}

func (c *fakeCommitter) snapshot() ([]commit, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]commit(nil), c.commits...), append([]string(nil), c.failed...)
}

type memJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func (j *memJournal) SaveOutboxEntry(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.Message.ID] = e
	return nil
}

func (j *memJournal) DeleteOutboxEntry(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	return nil
}

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

func fastConfig() Config {
	return Config{
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Factor:         2,
		Jitter:         0.2,
		MaxAttempts:    5,
		AttemptTimeout: 20 * time.Millisecond,
	}
}

func newTestQueue(t *testing.T, s Sender, c Committer, j Journal, b *bus.Bus) *Queue {
	t.Helper()
	q := NewQueue(fastConfig(), s, c, j, b, zap.NewNop())
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func msg(id, conv string) chat.Message {
	return chat.Message{ID: id, ConversationID: conv, SenderID: "me", Content: id, Status: chat.Queued}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOfflineQueueFlushesOnReconnect(t *testing.T) {
	s := newFakeSender()
	c := &fakeCommitter{}
	q := newTestQueue(t, s, c, nil, nil)

	if err := q.Enqueue(msg("hello", "ab")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := s.attemptCount(); n != 0 {
		t.Fatalf("sent %d times while offline", n)
	}
	if q.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", q.Depth())
	}

	q.SetOnline(true)
	waitFor(t, "commit", func() bool { got, _ := c.snapshot(); return len(got) == 1 })
	got, _ := c.snapshot()
	if got[0] != (commit{"hello", 1}) {
		t.Errorf("commit = %+v, want hello seq=1", got[0])
	}
	waitFor(t, "empty outbox", func() bool { return q.Depth() == 0 })
}

func TestPerConversationOrder(t *testing.T) {
	s := newFakeSender()
	s.failures["a1"] = 2 // head of lane a retries before succeeding
	c := &fakeCommitter{}
	q := newTestQueue(t, s, c, nil, nil)

	for i := 1; i <= 4; i++ {
		_ = q.Enqueue(msg(fmt.Sprintf("a%d", i), "a"))
		_ = q.Enqueue(msg(fmt.Sprintf("b%d", i), "b"))
	}
	q.SetOnline(true)
	waitFor(t, "all commits", func() bool { got, _ := c.snapshot(); return len(got) == 8 })

	got, _ := c.snapshot()
	next := map[byte]int{'a': 1, 'b': 1}
	for _, cm := range got {
		lane := cm.id[0]
		want := fmt.Sprintf("%c%d", lane, next[lane])
		if cm.id != want {
			t.Fatalf("lane %c committed %s, want %s", lane, cm.id, want)
		}
		if cm.seq != int64(next[lane]) {
			t.Errorf("%s seq = %d, want %d", cm.id, cm.seq, next[lane])
		}
		next[lane]++
	}
}

func TestTimeoutsExhaustToFailed(t *testing.T) {
	s := newFakeSender()
	s.hang = true
	c := &fakeCommitter{}
	b := bus.New()
	events, unsub := b.Subscribe("outbox.", 16)
	defer unsub()
	q := newTestQueue(t, s, c, nil, b)

	_ = q.Enqueue(msg("doomed", "ab"))
	q.SetOnline(true)
	waitFor(t, "failure", func() bool { _, failed := c.snapshot(); return len(failed) == 1 })

	if n := s.attemptCount(); n != 5 {
		t.Errorf("attempts = %d, want 5", n)
	}
	waitFor(t, "empty outbox", func() bool { return q.Depth() == 0 })

	var attemptFailed, exhausted int
	timeout := time.After(2 * time.Second)
	for exhausted == 0 {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.KindOutboxAttemptFailed:
				attemptFailed++
			case bus.KindOutboxExhausted:
				exhausted++
			}
		case <-timeout:
			t.Fatal("no exhausted event")
		}
	}
	if attemptFailed != 4 || exhausted != 1 {
		t.Errorf("events: attempt_failed=%d exhausted=%d, want 4 and 1", attemptFailed, exhausted)
	}

	// Entry left the retry loop: no further attempts.
	time.Sleep(30 * time.Millisecond)
	if n := s.attemptCount(); n != 5 {
		t.Errorf("attempts after exhaustion = %d", n)
	}
}

func TestLaneWaitsForHeadOutcome(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	c := &fakeCommitter{}
	q := newTestQueue(t, s, c, nil, nil)

	_ = q.Enqueue(msg("first", "ab"))
	_ = q.Enqueue(msg("second", "ab"))
	q.SetOnline(true)

	waitFor(t, "first attempt", func() bool { return s.attemptCount() == 1 })
	time.Sleep(10 * time.Millisecond)
	if n := s.attemptCount(); n != 1 {
		t.Fatalf("second entry sent before first was acknowledged (%d attempts)", n)
	}
	s.gate <- struct{}{}
	s.gate <- struct{}{}
	waitFor(t, "both commits", func() bool { got, _ := c.snapshot(); return len(got) == 2 })
}

func TestCancel(t *testing.T) {
	s := newFakeSender()
	s.gate = make(chan struct{})
	c := &fakeCommitter{}
	j := &memJournal{entries: map[string]Entry{}}
	q := newTestQueue(t, s, c, j, nil)

	_ = q.Enqueue(msg("inflight", "ab"))
	_ = q.Enqueue(msg("waiting", "ab"))
	if j.len() != 2 {
		t.Fatalf("journal has %d entries, want 2", j.len())
	}
	q.SetOnline(true)
	waitFor(t, "first attempt", func() bool { return s.attemptCount() == 1 })

	if err := q.Cancel("inflight"); !errors.Is(err, chat.ErrNotCancellable) {
		t.Errorf("Cancel(inflight) error = %v", err)
	}
	if err := q.Cancel("waiting"); err != nil {
		t.Errorf("Cancel(waiting) error = %v", err)
	}
	if q.Depth() != 1 || j.len() != 1 {
		t.Errorf("depth=%d journal=%d, want 1 and 1", q.Depth(), j.len())
	}

	s.gate <- struct{}{}
	waitFor(t, "journal drained", func() bool { return j.len() == 0 })
	got, _ := c.snapshot()
	if len(got) != 1 || got[0].id != "inflight" {
		t.Errorf("commits = %+v", got)
	}
}

func TestRestorePreservesGlobalOrder(t *testing.T) {
	s := newFakeSender()
	c := &fakeCommitter{}
	q := newTestQueue(t, s, c, nil, nil)

	q.Restore([]Entry{
		{Message: msg("late", "ab"), Order: 9},
		{Message: msg("early", "ab"), Order: 3, Attempts: 2},
	})
	_ = q.Enqueue(msg("new", "ab"))

	entries := q.Entries()
	if len(entries) != 3 || entries[0].Message.ID != "early" || entries[2].Message.ID != "new" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[2].Order != 10 {
		t.Errorf("new entry order = %d, want 10", entries[2].Order)
	}

	q.SetOnline(true)
	waitFor(t, "commits", func() bool { got, _ := c.snapshot(); return len(got) == 3 })
	got, _ := c.snapshot()
	if got[0].id != "early" || got[1].id != "late" || got[2].id != "new" {
		t.Errorf("commit order = %+v", got)
	}
}

func TestGoingOfflineParksWorkers(t *testing.T) {
	s := newFakeSender()
	s.failures["m"] = 100
	c := &fakeCommitter{}
	q := NewQueue(Config{BaseDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Factor: 1, Jitter: 0.01, MaxAttempts: 50}, s, c, nil, nil, nil)
	q.Start(context.Background())
	defer q.Stop()

	_ = q.Enqueue(msg("m", "ab"))
	q.SetOnline(true)
	waitFor(t, "first attempt", func() bool { return s.attemptCount() >= 1 })
	q.SetOnline(false)
	n := s.attemptCount()
	time.Sleep(60 * time.Millisecond)
	if s.attemptCount() != n {
		t.Errorf("attempts continued while offline: %d -> %d", n, s.attemptCount())
	}
	if q.Depth() != 1 {
		t.Errorf("entry dropped while offline")
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := NewQueue(Config{}, newFakeSender(), &fakeCommitter{}, nil, nil, nil)
	if err := q.Enqueue(chat.Message{ID: "x"}); err == nil {
		t.Error("expected error for missing conversation id")
	}
	if q.cfg != DefaultConfig() {
		t.Errorf("zero config not defaulted: %+v", q.cfg)
	}
}

func TestConfigDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want float64
	}{
		{"zero config", Config{}, 0.2},
		{"explicit no jitter", Config{BaseDelay: time.Second}, 0},
		{"jitter of one", Config{BaseDelay: time.Second, Jitter: 1}, 0.2},
		{"negative jitter", Config{BaseDelay: time.Second, Jitter: -0.1}, 0.2},
		{"kept", Config{BaseDelay: time.Second, Jitter: 0.5}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.withDefaults()
			if got.Jitter != tt.want {
				t.Errorf("Jitter = %v, want %v", got.Jitter, tt.want)
			}
			if got.MaxAttempts != 5 || got.Factor != 2 {
				t.Errorf("other fields not defaulted: %+v", got)
			}
		})
	}
	if ValidJitter(1) || !ValidJitter(0) {
		t.Error("ValidJitter bounds are [0, 1)")
	}
}

func TestAckKeepsEntryUntilStoreConfirmsSent(t *testing.T) {
	s := newFakeSender()
	c := &fakeCommitter{stuck: map[string]bool{"m": true}}
	j := &memJournal{entries: map[string]Entry{}}
	q := newTestQueue(t, s, c, j, nil)

	_ = q.Enqueue(msg("m", "ab"))
	q.SetOnline(true)
	waitFor(t, "exhaustion", func() bool { _, failed := c.snapshot(); return len(failed) == 1 })

	if n := s.attemptCount(); n != fastConfig().MaxAttempts {
		t.Errorf("attempts = %d, want %d", n, fastConfig().MaxAttempts)
	}
	waitFor(t, "empty outbox", func() bool { return q.Depth() == 0 && j.len() == 0 })
}
