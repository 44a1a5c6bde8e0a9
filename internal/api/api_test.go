package api

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/transport/loopback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func testSeed() *engine.Seed {
	return &engine.Seed{
		Users: []engine.SeedUser{
			{ID: "alice", DisplayName: "Alice"},
			{ID: "bob", DisplayName: "Bob"},
		},
		Conversations: []engine.SeedConversation{{
			ID:           "c1",
			Kind:         "direct",
			Participants: []string{"alice", "bob"},
			Messages:     []engine.SeedMessage{{SenderID: "bob", Content: "ping"}},
		}},
	}
}

type fixture struct {
	client *Client
	engine *engine.Engine
	bus    *bus.Bus
}

func setup(t *testing.T) *fixture {
	t.Helper()
	seed := testSeed()
	hub := loopback.NewHub(nil)
	_, convs, err := seed.Build(time.Now())
	require.NoError(t, err)
	for _, c := range convs {
		hub.Register(c)
	}

	b := bus.New()
	link := hub.Connect("alice", "desk")
	e, err := engine.New(engine.Options{
		Self:      chat.User{ID: "alice", DisplayName: "Alice"},
		Transport: link,
		Bus:       b,
		Outbox:    outbox.Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2, MaxAttempts: 10, AttemptTimeout: time.Second},
	})
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background(), seed))

	// Short path: unix socket paths are limited to about 100 bytes.
	dir, err := os.MkdirTemp("/tmp", "chatsync-api-*")
	require.NoError(t, err)
	socket := filepath.Join(dir, "d.sock")
	lis, err := net.Listen("unix", socket)
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnaryInterceptor(metrics.GRPCServerMetricsUnaryInterceptor()))
	NewSessionService("test", e).Register(srv)
	NewChatService(e).Register(srv)
	NewMessageService(e).Register(srv)
	NewSyncService(e, b, nil).Register(srv)
	NewActivityService(e).Register(srv)
	go func() { _ = srv.Serve(lis) }()

	client, err := Dial(socket)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
		e.Dispose()
		_ = link.Close()
		_ = os.RemoveAll(dir)
	})
	return &fixture{client: client, engine: e, bus: b}
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestSessionStatus(t *testing.T) {
	f := setup(t)
	st, err := f.client.SessionStatus(ctx(t))
	require.NoError(t, err)
	assert.Equal(t, "test", st.Session)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, 1, st.ConversationCount)
	assert.Equal(t, 1, st.UnreadCount)

	self, err := f.client.SetPresence(ctx(t), "away")
	require.NoError(t, err)
	assert.Equal(t, "away", self.Presence)

	_, err = f.client.SetPresence(ctx(t), "busy")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))
}

func TestConversationFlow(t *testing.T) {
	f := setup(t)

	rows, err := f.client.ListConversations(ctx(t))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0].Title)
	require.NotNil(t, rows[0].Last)
	assert.Equal(t, "ping", rows[0].Last.Content)

	require.NoError(t, f.client.SelectConversation(ctx(t), "c1"))
	conv, err := f.client.GetConversation(ctx(t), "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Len(t, conv.Messages, 1)

	_, err = f.client.GetConversation(ctx(t), "missing")
	assert.Equal(t, codes.NotFound, grpcstatus.Code(err))

	g, err := f.client.CreateGroup(ctx(t), "Team", []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, "Team", g.Title)
	assert.Equal(t, []string{"alice", "bob"}, g.Participants)

	_, err = f.client.CreateGroup(ctx(t), "Ghosts", []string{"nobody"})
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	require.NoError(t, f.client.SetSearchTerm(ctx(t), "team"))
	rows, err = f.client.ListConversations(ctx(t))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, g.ID, rows[0].ID)
}

func TestSendAndSearch(t *testing.T) {
	f := setup(t)

	_, err := f.client.Send(ctx(t), SendRequest{Content: "orphan"})
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))

	_, err = f.client.Send(ctx(t), SendRequest{ConversationID: "c1"})
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))

	m, err := f.client.Send(ctx(t), SendRequest{ConversationID: "c1", Content: "pong"})
	require.NoError(t, err)
	assert.Equal(t, "alice", m.SenderID)

	require.Eventually(t, func() bool {
		got, err := f.client.GetMessage(context.Background(), m.ID)
		return err == nil && got.Seq == 2 && !got.Pending
	}, 3*time.Second, 10*time.Millisecond)

	found, err := f.client.Search(ctx(t), SearchRequest{Query: "PONG"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, m.ID, found[0].ID)

	err = f.client.Cancel(ctx(t), m.ID)
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))

	require.Eventually(t, func() bool {
		st, err := f.client.SyncStatus(context.Background())
		return err == nil && st.HighWaterMarks["c1"] == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestActivity(t *testing.T) {
	f := setup(t)

	st, err := f.client.PostStatus(ctx(t), "on holiday", "")
	require.NoError(t, err)
	statuses, err := f.client.Statuses(ctx(t))
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, st.ID, statuses[0].ID)

	call, err := f.client.StartCall(ctx(t), "c1", "video")
	require.NoError(t, err)
	assert.Equal(t, "ongoing", call.State)

	ended, err := f.client.EndCall(ctx(t), call.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "missed", ended.State)

	_, err = f.client.EndCall(ctx(t), call.ID, true)
	assert.Equal(t, codes.FailedPrecondition, grpcstatus.Code(err))

	_, err = f.client.StartCall(ctx(t), "c1", "hologram")
	assert.Equal(t, codes.InvalidArgument, grpcstatus.Code(err))
}

func TestWatchSnapshots(t *testing.T) {
	f := setup(t)

	stream, err := f.client.WatchSnapshots(ctx(t))
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "alice", first.Self.ID)

	// Keep changing state until the stream has delivered a newer snapshot;
	// the subscription may not exist yet when the first change lands.
	done := make(chan SnapshotView, 1)
	go func() {
		for {
			s, err := stream.Recv()
			if err != nil {
				return
			}
			if s.SearchTerm == "bob" {
				done <- s
				return
			}
		}
	}()
	deadline := time.After(3 * time.Second)
	for {
		f.engine.SetSearchTerm("bob")
		select {
		case s := <-done:
			assert.Greater(t, s.Version, first.Version)
			return
		case <-deadline:
			t.Fatal("no snapshot after change")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatchEvents(t *testing.T) {
	f := setup(t)

	stream, err := f.client.WatchEvents(ctx(t), "message.")
	require.NoError(t, err)
	defer stream.Close()

	got := make(chan EventView, 1)
	go func() {
		evt, err := stream.Recv()
		if err == nil {
			got <- evt
		}
	}()
	deadline := time.After(3 * time.Second)
	for {
		f.bus.Publish(bus.Event{Kind: bus.KindMessageQueued, ConversationID: "c1"})
		select {
		case evt := <-got:
			assert.Equal(t, bus.KindMessageQueued, evt.Kind)
			assert.Equal(t, "c1", evt.ConversationID)
			assert.NotEmpty(t, evt.ID)
			return
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{chat.ErrConversationNotFound, codes.NotFound},
		{chat.ErrEmptyMessage, codes.InvalidArgument},
		{chat.ErrNotCancellable, codes.FailedPrecondition},
		{chat.ErrTransmissionFailed, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{grpcstatus.Error(codes.Aborted, "x"), codes.Aborted},
		{assert.AnError, codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "%v", tt.err)
	}
}
