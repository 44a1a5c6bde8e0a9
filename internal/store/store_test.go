package store

import (
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var t0 = time.UnixMilli(1_700_000_000_000)

func seedConversation(t *testing.T, db *DB, id string, members ...string) {
	t.Helper()
	c := &chat.Conversation{
		ID:           id,
		Kind:         chat.Group,
		Name:         "team",
		Participants: members,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	if err := db.SaveConversation(c); err != nil {
		t.Fatal(err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + activity)", result.Version)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("SchemaVersion = %d, want 2", v)
	}
}

func TestSchemaVersionOnFreshDB(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("SchemaVersion = %d, want 0", v)
	}
}

func TestUserUpsertKeepsHighestPresenceSeq(t *testing.T) {
	db := testDB(t)

	u := chat.User{ID: "bob", DisplayName: "Bob", Presence: chat.Online, LastSeenAt: t0}
	if err := db.SaveUser(u, 5); err != nil {
		t.Fatal(err)
	}
	u.DisplayName = "Robert"
	u.LastSeenAt = t0.Add(-time.Hour)
	if err := db.SaveUser(u, 3); err != nil {
		t.Fatal(err)
	}

	users, err := db.ListUsers()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	got := users[0]
	if got.User.DisplayName != "Robert" {
		t.Errorf("display name = %q, want Robert", got.User.DisplayName)
	}
	if got.PresenceSeq != 5 {
		t.Errorf("presence seq = %d, want 5", got.PresenceSeq)
	}
	if !got.User.LastSeenAt.Equal(t0) {
		t.Errorf("last seen = %v, want %v", got.User.LastSeenAt, t0)
	}
}

func TestConversationRosterReplaced(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob", "carol")

	c := &chat.Conversation{ID: "g1", Kind: chat.Group, Name: "renamed", Participants: []string{"alice", "carol"}, CreatedAt: t0, UpdatedAt: t0.Add(time.Minute)}
	if err := db.SaveConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].Name != "renamed" {
		t.Errorf("name = %q, want renamed", convs[0].Name)
	}
	if !slices.Equal(convs[0].Participants, []string{"alice", "carol"}) {
		t.Errorf("participants = %v", convs[0].Participants)
	}
}

func TestPendingMessageCommits(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob")

	m := &chat.Message{
		ID: "local-1", Ref: chat.Pending(), ConversationID: "g1", SenderID: "alice",
		Content: "hi", Type: chat.Text, Status: chat.Queued, CreatedAt: t0,
	}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Committed() {
		t.Fatalf("want one pending message, got %+v", msgs)
	}

	m.Ref = chat.Committed(4)
	m.Status = chat.Sent
	m.AckAt = t0.Add(time.Second)
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err = db.ListMessages("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (pending row not removed)", len(msgs))
	}
	if msgs[0].Seq() != 4 || msgs[0].Status != chat.Sent {
		t.Errorf("got seq=%d status=%s, want 4 sent", msgs[0].Seq(), msgs[0].Status)
	}
	if !msgs[0].AckAt.Equal(m.AckAt) {
		t.Errorf("ack at = %v, want %v", msgs[0].AckAt, m.AckAt)
	}
}

func TestMessagesOrderedCommittedThenPending(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob")

	save := func(m chat.Message) {
		t.Helper()
		m.ConversationID = "g1"
		m.Type = chat.Text
		if err := db.SaveMessage(&m); err != nil {
			t.Fatal(err)
		}
	}
	save(chat.Message{ID: "p1", Ref: chat.Pending(), SenderID: "alice", Status: chat.Queued, CreatedAt: t0.Add(time.Minute)})
	save(chat.Message{ID: "s3", Ref: chat.Committed(3), SenderID: "bob", Status: chat.Delivered, CreatedAt: t0})
	save(chat.Message{ID: "s1", Ref: chat.Committed(1), SenderID: "bob", Status: chat.Delivered, CreatedAt: t0.Add(2 * time.Minute)})

	msgs, err := db.ListMessages("g1")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if !slices.Equal(ids, []string{"s1", "s3", "p1"}) {
		t.Errorf("order = %v, want [s1 s3 p1]", ids)
	}
}

func TestReceiptsRoundTrip(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob", "carol")

	m := &chat.Message{
		ID: "m1", Ref: chat.Committed(1), ConversationID: "g1", SenderID: "alice",
		Type: chat.Text, Status: chat.Delivered, CreatedAt: t0,
		DeliveredTo: []string{"carol", "bob"}, ReadBy: []string{"bob"},
	}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	// Saving again must not duplicate receipt rows.
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("g1")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(msgs[0].DeliveredTo, []string{"bob", "carol"}) {
		t.Errorf("delivered to = %v", msgs[0].DeliveredTo)
	}
	if !slices.Equal(msgs[0].ReadBy, []string{"bob"}) {
		t.Errorf("read by = %v", msgs[0].ReadBy)
	}
}

func TestDeleteMessageRemovesPending(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob")

	m := &chat.Message{ID: "p1", Ref: chat.Pending(), ConversationID: "g1", SenderID: "alice", Type: chat.Text, Status: chat.Queued, CreatedAt: t0}
	if err := db.SaveMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("g1", "p1"); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(msgs))
	}
}

func TestOutboxJoinsPendingMessages(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob")
	seedConversation(t, db, "g2", "alice", "carol")

	for i, m := range []chat.Message{
		{ID: "b", ConversationID: "g2", Content: "second"},
		{ID: "a", ConversationID: "g1", Content: "first"},
		{ID: "orphan", ConversationID: "g1", Content: "gone"},
	} {
		m.Ref = chat.Pending()
		m.SenderID = "alice"
		m.Type = chat.Text
		m.Status = chat.Queued
		m.CreatedAt = t0
		if m.ID != "orphan" {
			if err := db.SaveMessage(&m); err != nil {
				t.Fatal(err)
			}
		}
		e := outbox.Entry{Message: m, Order: uint64(10 - i), EnqueuedAt: t0}
		if err := db.SaveOutboxEntry(e); err != nil {
			t.Fatal(err)
		}
	}

	// Retry bookkeeping is updated in place.
	if err := db.SaveOutboxEntry(outbox.Entry{
		Message: chat.Message{ID: "a", ConversationID: "g1"}, Order: 9, EnqueuedAt: t0,
		Attempts: 2, NextRetryAt: t0.Add(time.Second), LastError: "timeout",
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := db.ListOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (orphan skipped)", len(entries))
	}
	if entries[0].Message.ID != "a" || entries[1].Message.ID != "b" {
		t.Errorf("order = [%s %s], want [a b]", entries[0].Message.ID, entries[1].Message.ID)
	}
	if entries[0].Attempts != 2 || entries[0].LastError != "timeout" {
		t.Errorf("attempts=%d last_error=%q", entries[0].Attempts, entries[0].LastError)
	}
	if entries[0].Message.Content != "first" {
		t.Errorf("content = %q, want first", entries[0].Message.Content)
	}

	if err := db.DeleteOutboxEntry("a"); err != nil {
		t.Fatal(err)
	}
	entries, err = db.ListOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("got %d entries after delete, want 1", len(entries))
	}
}

func TestHighWaterMarkNeverMovesBackwards(t *testing.T) {
	db := testDB(t)

	for _, seq := range []int64{3, 7, 5} {
		if err := db.SaveHighWaterMark("g1", seq); err != nil {
			t.Fatal(err)
		}
	}
	marks, err := db.HighWaterMarks()
	if err != nil {
		t.Fatal(err)
	}
	if marks["g1"] != 7 {
		t.Errorf("hwm = %d, want 7", marks["g1"])
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	v, err := db.Checkpoint("cursor")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing checkpoint = %q, want empty", v)
	}
	if err := db.SetCheckpoint("cursor", "41"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("cursor", "42"); err != nil {
		t.Fatal(err)
	}
	if v, _ = db.Checkpoint("cursor"); v != "42" {
		t.Errorf("checkpoint = %q, want 42", v)
	}
}

func TestStatusesExpireAndCarryViewers(t *testing.T) {
	db := testDB(t)

	live := chat.StatusUpdate{ID: "s1", UserID: "bob", Content: "hello", PostedAt: t0, ExpiresAt: t0.Add(24 * time.Hour), ViewedBy: []string{"carol", "alice"}}
	old := chat.StatusUpdate{ID: "s0", UserID: "bob", Content: "stale", PostedAt: t0.Add(-48 * time.Hour), ExpiresAt: t0.Add(-24 * time.Hour)}
	for _, s := range []chat.StatusUpdate{live, old} {
		if err := db.SaveStatus(s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListStatuses(t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("got %+v, want only s1", got)
	}
	if !slices.Equal(got[0].ViewedBy, []string{"alice", "carol"}) {
		t.Errorf("viewers = %v", got[0].ViewedBy)
	}

	if err := db.DeleteStatus("s1"); err != nil {
		t.Fatal(err)
	}
	if got, _ = db.ListStatuses(t0); len(got) != 0 {
		t.Errorf("got %d statuses after delete, want 0", len(got))
	}
}

func TestCallsUpsert(t *testing.T) {
	db := testDB(t)

	c := chat.Call{ID: "c1", Kind: chat.VideoCall, Participants: []string{"alice", "bob"}, State: chat.CallOngoing, StartedAt: t0}
	if err := db.SaveCall(c); err != nil {
		t.Fatal(err)
	}
	c.State = chat.CallCompleted
	c.EndedAt = t0.Add(90 * time.Second)
	c.Duration = 90 * time.Second
	if err := db.SaveCall(c); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCall(chat.Call{ID: "c2", Kind: chat.AudioCall, Participants: []string{"alice"}, State: chat.CallMissed, StartedAt: t0.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	calls, err := db.ListCalls(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].ID != "c2" {
		t.Errorf("newest call = %s, want c2", calls[0].ID)
	}
	if calls[1].State != chat.CallCompleted || calls[1].Duration != 90*time.Second {
		t.Errorf("c1 = %+v", calls[1])
	}
	if !slices.Equal(calls[1].Participants, []string{"alice", "bob"}) {
		t.Errorf("participants = %v", calls[1].Participants)
	}
}

func TestLoadState(t *testing.T) {
	db := testDB(t)
	seedConversation(t, db, "g1", "alice", "bob")
	if err := db.SaveUser(chat.User{ID: "bob", DisplayName: "Bob"}, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveHighWaterMark("g1", 2); err != nil {
		t.Fatal(err)
	}

	st, err := db.LoadState(t0)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Users) != 1 || len(st.Conversations) != 1 {
		t.Errorf("users=%d conversations=%d, want 1/1", len(st.Users), len(st.Conversations))
	}
	if st.HighWaterMarks["g1"] != 2 {
		t.Errorf("hwm = %d, want 2", st.HighWaterMarks["g1"])
	}
}
