// Package model holds the TUI's client-side state: the latest engine
// snapshot streamed from the daemon and the intents the user issues.
package model

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/matheus3301/chatsync/internal/api"
)

// Client is the part of api.Client the TUI drives.
type Client interface {
	SessionStatus(ctx context.Context) (api.SessionStatus, error)
	SelectConversation(ctx context.Context, id string) error
	SetSearchTerm(ctx context.Context, term string) error
	MarkRead(ctx context.Context, conversationID string, uptoSeq int64) (int, error)
	CreateGroup(ctx context.Context, name string, participants []string) (api.ConversationView, error)
	CreateDirect(ctx context.Context, peerID string) (api.ConversationView, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	Send(ctx context.Context, req api.SendRequest) (api.MessageView, error)
	Resend(ctx context.Context, id string) (api.MessageView, error)
	Cancel(ctx context.Context, id string) error
	Search(ctx context.Context, req api.SearchRequest) ([]api.MessageView, error)
	SetPresence(ctx context.Context, presence string) (api.UserView, error)
	PostStatus(ctx context.Context, content, mediaRef string) (api.StatusView, error)
	StartCall(ctx context.Context, conversationID, kind string) (api.CallView, error)
}

var _ Client = (*api.Client)(nil)

// SnapshotStream yields engine snapshots in version order.
type SnapshotStream interface {
	Recv() (api.SnapshotView, error)
}

// ViewModel caches the latest snapshot and forwards intents to the daemon.
type ViewModel struct {
	client Client

	mu      sync.RWMutex
	snap    api.SnapshotView
	status  api.SessionStatus
	results []api.MessageView
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c Client) *ViewModel {
	return &ViewModel{client: c}
}

// Follow applies snapshots from stream until it ends, calling changed after
// each newer version. A cleanly closed stream returns nil.
func (vm *ViewModel) Follow(stream SnapshotStream, changed func()) error {
	for {
		snap, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		vm.mu.Lock()
		stale := snap.Version != 0 && snap.Version <= vm.snap.Version
		if !stale {
			vm.snap = snap
		}
		vm.mu.Unlock()
		if !stale && changed != nil {
			changed()
		}
	}
}

// Snapshot returns the latest snapshot.
func (vm *ViewModel) Snapshot() api.SnapshotView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.snap
}

// Active returns the open conversation, if any.
func (vm *ViewModel) Active() (api.ConversationView, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.snap.Active == nil {
		return api.ConversationView{}, false
	}
	return *vm.snap.Active, true
}

// UnreadTotal sums unread counts over the listed conversations.
func (vm *ViewModel) UnreadTotal() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	n := 0
	for _, c := range vm.snap.Conversations {
		n += c.UnreadCount
	}
	return n
}

// DisplayName resolves a user id through the snapshot's user list.
func (vm *ViewModel) DisplayName(userID string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if userID == vm.snap.Self.ID {
		return "You"
	}
	for _, u := range vm.snap.Users {
		if u.ID == userID && u.DisplayName != "" {
			return u.DisplayName
		}
	}
	return userID
}

// LoadSessionStatus fetches the daemon's session status.
func (vm *ViewModel) LoadSessionStatus(ctx context.Context) (api.SessionStatus, error) {
	st, err := vm.client.SessionStatus(ctx)
	if err != nil {
		return st, err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return st, nil
}

// SessionStatus returns the last fetched session status.
func (vm *ViewModel) SessionStatus() api.SessionStatus {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Open makes a conversation active. The engine marks it read.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	return vm.client.SelectConversation(ctx, id)
}

// Filter sets the engine's conversation search term.
func (vm *ViewModel) Filter(ctx context.Context, term string) error {
	return vm.client.SetSearchTerm(ctx, term)
}

// SendText queues text in the active conversation.
func (vm *ViewModel) SendText(ctx context.Context, text string) (api.MessageView, error) {
	active, ok := vm.Active()
	if !ok {
		return api.MessageView{}, errors.New("no conversation open")
	}
	return vm.client.Send(ctx, api.SendRequest{ConversationID: active.ID, Content: text})
}

// MarkActiveRead marks everything in the open conversation read.
func (vm *ViewModel) MarkActiveRead(ctx context.Context) (int, error) {
	active, ok := vm.Active()
	if !ok {
		return 0, errors.New("no conversation open")
	}
	return vm.client.MarkRead(ctx, active.ID, 0)
}

// Search runs a message search and keeps the results for the search page.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]api.MessageView, error) {
	results, err := vm.client.Search(ctx, api.SearchRequest{Query: query, Limit: 100})
	if err != nil {
		return nil, err
	}
	vm.mu.Lock()
	vm.results = results
	vm.mu.Unlock()
	return results, nil
}

// Results returns the last search results.
func (vm *ViewModel) Results() []api.MessageView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.results
}

// LastFailed returns the newest failed message of the open conversation.
func (vm *ViewModel) LastFailed() (api.MessageView, bool) {
	active, ok := vm.Active()
	if !ok {
		return api.MessageView{}, false
	}
	for i := len(active.Messages) - 1; i >= 0; i-- {
		if m := active.Messages[i]; m.Status == "failed" {
			return m, true
		}
	}
	return api.MessageView{}, false
}

// LastQueued returns the newest message of the open conversation that is
// still waiting for the server.
func (vm *ViewModel) LastQueued() (api.MessageView, bool) {
	active, ok := vm.Active()
	if !ok {
		return api.MessageView{}, false
	}
	for i := len(active.Messages) - 1; i >= 0; i-- {
		if m := active.Messages[i]; m.Status == "queued" {
			return m, true
		}
	}
	return api.MessageView{}, false
}

// Client returns the daemon client for intents without view state.
func (vm *ViewModel) Client() Client {
	return vm.client
}
