package tui

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		args  string
	}{
		{"quit", "quit", ""},
		{"q", "q", ""},
		{"search hello world", "search", "hello world"},
		{"  OPEN  Bob  ", "open", "Bob"},
		{"", "", ""},
	}
	for _, tt := range tests {
		cmd := ParseCommand(tt.input)
		if cmd.Name != tt.name || cmd.Args != tt.args {
			t.Errorf("ParseCommand(%q) = {%q, %q}, want {%q, %q}", tt.input, cmd.Name, cmd.Args, tt.name, tt.args)
		}
	}
}

type fakeClient struct {
	model.Client
	selected  string
	group     []string
	added     string
	resent    string
	cancelled string
	term      string
}

func (f *fakeClient) SelectConversation(_ context.Context, id string) error {
	f.selected = id
	return nil
}

func (f *fakeClient) CreateGroup(_ context.Context, name string, participants []string) (api.ConversationView, error) {
	f.group = append([]string{name}, participants...)
	return api.ConversationView{ID: "g1", Title: name}, nil
}

func (f *fakeClient) AddParticipant(_ context.Context, _, userID string) error {
	f.added = userID
	return nil
}

func (f *fakeClient) Resend(_ context.Context, id string) (api.MessageView, error) {
	f.resent = id
	return api.MessageView{ID: id}, nil
}

func (f *fakeClient) Cancel(_ context.Context, id string) error {
	f.cancelled = id
	return nil
}

func (f *fakeClient) SetSearchTerm(_ context.Context, term string) error {
	f.term = term
	return nil
}

type snapshots []api.SnapshotView

func (s *snapshots) Recv() (api.SnapshotView, error) {
	if len(*s) == 0 {
		return api.SnapshotView{}, errors.New("done")
	}
	snap := (*s)[0]
	*s = (*s)[1:]
	return snap, nil
}

func newTestModel(t *testing.T, active bool) (*model.ViewModel, *fakeClient) {
	t.Helper()
	fc := &fakeClient{}
	vm := model.NewViewModel(fc)
	snap := api.SnapshotView{
		Version: 1,
		Conversations: []api.ConversationView{
			{ID: "c1", Title: "Bob"},
			{ID: "c2", Title: "Team"},
		},
	}
	if active {
		snap.Active = &api.ConversationView{ID: "c2", Title: "Team", Messages: []api.MessageView{
			{ID: "m1", Status: "failed"},
			{ID: "m2", Status: "queued", Pending: true},
		}}
	}
	s := snapshots{snap}
	_ = vm.Follow(&s, nil)
	return vm, fc
}

func TestExecuteOpenMatchesTitle(t *testing.T) {
	vm, fc := newTestModel(t, false)
	out, err := Execute(context.Background(), vm, ParseCommand("open team"))
	if err != nil {
		t.Fatal(err)
	}
	if fc.selected != "c2" || out.Page != pageThread {
		t.Errorf("selected %q page %q", fc.selected, out.Page)
	}

	if _, err := Execute(context.Background(), vm, ParseCommand("open nobody")); err == nil {
		t.Error("expected no match error")
	}
}

func TestExecuteGroupOpensNewConversation(t *testing.T) {
	vm, fc := newTestModel(t, false)
	out, err := Execute(context.Background(), vm, ParseCommand("group crew bob, carol"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"crew", "bob", "carol"}
	if len(fc.group) != len(want) {
		t.Fatalf("group = %v, want %v", fc.group, want)
	}
	for i := range want {
		if fc.group[i] != want[i] {
			t.Errorf("group = %v, want %v", fc.group, want)
		}
	}
	if fc.selected != "g1" || out.Page != pageThread {
		t.Errorf("selected %q page %q", fc.selected, out.Page)
	}

	_, err = Execute(context.Background(), vm, ParseCommand("group crew"))
	if !errors.Is(err, errUsage) {
		t.Errorf("err = %v, want usage", err)
	}
}

func TestExecuteNeedsActiveConversation(t *testing.T) {
	vm, _ := newTestModel(t, false)
	for _, in := range []string{"add carol", "call", "read"} {
		if _, err := Execute(context.Background(), vm, ParseCommand(in)); err == nil {
			t.Errorf("%q: expected error without an open conversation", in)
		}
	}
}

func TestExecuteDefaultsToLatestMessage(t *testing.T) {
	vm, fc := newTestModel(t, true)
	ctx := context.Background()

	if _, err := Execute(ctx, vm, ParseCommand("resend")); err != nil {
		t.Fatal(err)
	}
	if fc.resent != "m1" {
		t.Errorf("resent %q, want m1", fc.resent)
	}
	if _, err := Execute(ctx, vm, ParseCommand("cancel")); err != nil {
		t.Fatal(err)
	}
	if fc.cancelled != "m2" {
		t.Errorf("cancelled %q, want m2", fc.cancelled)
	}
	if _, err := Execute(ctx, vm, ParseCommand("add carol")); err != nil {
		t.Fatal(err)
	}
	if fc.added != "carol" {
		t.Errorf("added %q", fc.added)
	}
}

func TestExecuteFilterAndQuit(t *testing.T) {
	vm, fc := newTestModel(t, false)
	out, err := Execute(context.Background(), vm, Command{Name: "filter", Args: "bo"})
	if err != nil {
		t.Fatal(err)
	}
	if fc.term != "bo" || out.Page != pageConversations {
		t.Errorf("term %q page %q", fc.term, out.Page)
	}

	out, err = Execute(context.Background(), vm, ParseCommand("q"))
	if err != nil || !out.Quit {
		t.Errorf("quit: %+v %v", out, err)
	}
	if _, err := Execute(context.Background(), vm, ParseCommand("bogus")); err == nil {
		t.Error("expected unknown command error")
	}
}
