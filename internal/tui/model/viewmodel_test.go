package model

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/matheus3301/chatsync/internal/api"
)

type fakeStream struct {
	snaps []api.SnapshotView
	err   error
}

func (s *fakeStream) Recv() (api.SnapshotView, error) {
	if len(s.snaps) == 0 {
		if s.err != nil {
			return api.SnapshotView{}, s.err
		}
		return api.SnapshotView{}, io.EOF
	}
	snap := s.snaps[0]
	s.snaps = s.snaps[1:]
	return snap, nil
}

// fakeClient records the last request of the calls the view model makes.
type fakeClient struct {
	Client
	sent     api.SendRequest
	readConv string
	search   api.SearchRequest
}

func (f *fakeClient) Send(_ context.Context, req api.SendRequest) (api.MessageView, error) {
	f.sent = req
	return api.MessageView{ID: "m1", ConversationID: req.ConversationID, Status: "queued", Pending: true}, nil
}

func (f *fakeClient) MarkRead(_ context.Context, conversationID string, _ int64) (int, error) {
	f.readConv = conversationID
	return 2, nil
}

func (f *fakeClient) Search(_ context.Context, req api.SearchRequest) ([]api.MessageView, error) {
	f.search = req
	return []api.MessageView{{ID: "hit"}}, nil
}

func thread(msgs ...api.MessageView) api.SnapshotView {
	return api.SnapshotView{
		Version: 3,
		Self:    api.UserView{ID: "me"},
		Users:   []api.UserView{{ID: "bob", DisplayName: "Bob"}},
		Conversations: []api.ConversationView{
			{ID: "c1", UnreadCount: 2},
			{ID: "c2", UnreadCount: 1},
		},
		Active: &api.ConversationView{ID: "c1", Messages: msgs},
	}
}

func TestFollowKeepsNewestVersion(t *testing.T) {
	vm := NewViewModel(&fakeClient{})
	changes := 0
	stream := &fakeStream{snaps: []api.SnapshotView{
		{Version: 2, Link: "ONLINE"},
		{Version: 1, Link: "OFFLINE"},
		{Version: 4, Link: "OFFLINE"},
	}}
	if err := vm.Follow(stream, func() { changes++ }); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if changes != 2 {
		t.Errorf("changes = %d, want 2", changes)
	}
	if snap := vm.Snapshot(); snap.Version != 4 || snap.Link != "OFFLINE" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestFollowReturnsStreamError(t *testing.T) {
	vm := NewViewModel(&fakeClient{})
	boom := errors.New("boom")
	if err := vm.Follow(&fakeStream{err: boom}, nil); !errors.Is(err, boom) {
		t.Errorf("Follow() error = %v, want boom", err)
	}
}

func TestIntentsTargetActiveConversation(t *testing.T) {
	fc := &fakeClient{}
	vm := NewViewModel(fc)
	ctx := context.Background()

	if _, err := vm.SendText(ctx, "hi"); err == nil {
		t.Fatal("SendText without an open conversation should fail")
	}
	_ = vm.Follow(&fakeStream{snaps: []api.SnapshotView{thread()}}, nil)

	if _, err := vm.SendText(ctx, "hi"); err != nil {
		t.Fatal(err)
	}
	if fc.sent.ConversationID != "c1" || fc.sent.Content != "hi" {
		t.Errorf("sent = %+v", fc.sent)
	}
	if n, err := vm.MarkActiveRead(ctx); err != nil || n != 2 || fc.readConv != "c1" {
		t.Errorf("MarkActiveRead = %d, %v (conv %q)", n, err, fc.readConv)
	}
	if _, err := vm.Search(ctx, "lunch"); err != nil {
		t.Fatal(err)
	}
	if fc.search.Query != "lunch" || len(vm.Results()) != 1 {
		t.Errorf("search = %+v, results %v", fc.search, vm.Results())
	}
}

func TestSnapshotHelpers(t *testing.T) {
	vm := NewViewModel(&fakeClient{})
	_ = vm.Follow(&fakeStream{snaps: []api.SnapshotView{thread(
		api.MessageView{ID: "a", Status: "failed"},
		api.MessageView{ID: "b", Status: "queued"},
		api.MessageView{ID: "c", Status: "read"},
	)}}, nil)

	if got := vm.UnreadTotal(); got != 3 {
		t.Errorf("UnreadTotal() = %d, want 3", got)
	}
	for id, want := range map[string]string{"me": "You", "bob": "Bob", "zed": "zed"} {
		if got := vm.DisplayName(id); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", id, got, want)
		}
	}
	if m, ok := vm.LastFailed(); !ok || m.ID != "a" {
		t.Errorf("LastFailed() = %v, %v", m.ID, ok)
	}
	if m, ok := vm.LastQueued(); !ok || m.ID != "b" {
		t.Errorf("LastQueued() = %v, %v", m.ID, ok)
	}
}
