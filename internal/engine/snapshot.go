package engine

import (
	"strings"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/conversation"
	"github.com/matheus3301/chatsync/internal/status"
)

// ConversationView is a conversation summary as a list row.
type ConversationView struct {
	conversation.Summary
	Title string
}

// Snapshot is a consistent-enough view of the engine state for rendering.
type Snapshot struct {
	Version       uint64
	Self          chat.User
	Link          status.State
	OutboxDepth   int
	SearchTerm    string
	Users         []chat.User
	Conversations []ConversationView
	ActiveID      string
	Active        *chat.Conversation
	Statuses      []chat.StatusUpdate
	Calls         []chat.Call
}

// Snapshot returns the current state. Conversations are sorted by last
// activity and filtered by the search term.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	version, active, term := e.version, e.active, e.search
	e.mu.Unlock()

	users := e.registry.List()
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.DisplayName
	}
	self, _ := e.registry.Get(e.self)

	snap := Snapshot{
		Version:     version,
		Self:        self,
		Link:        e.link.Current(),
		OutboxDepth: e.queue.Depth(),
		SearchTerm:  term,
		Users:       users,
		ActiveID:    active,
		Statuses:    e.tracker.Statuses(),
		Calls:       e.tracker.Calls(),
	}
	for _, sum := range e.convs.List() {
		v := ConversationView{Summary: sum, Title: title(sum, e.self, names)}
		if matches(v, term, names) {
			snap.Conversations = append(snap.Conversations, v)
		}
	}
	if active != "" {
		if c, ok := e.convs.Get(active); ok {
			snap.Active = &c
		}
	}
	return snap
}

// title is the group name, or the peer's display name for direct chats.
func title(sum conversation.Summary, self string, names map[string]string) string {
	if sum.Kind == chat.Group {
		if sum.Name != "" {
			return sum.Name
		}
		return "Unnamed group"
	}
	for _, id := range sum.Participants {
		if id == self {
			continue
		}
		if n := names[id]; n != "" {
			return n
		}
		return id
	}
	return sum.ID
}

func matches(v ConversationView, term string, names map[string]string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(v.Title), term) {
		return true
	}
	for _, id := range v.Participants {
		if strings.Contains(strings.ToLower(names[id]), term) {
			return true
		}
	}
	return v.Last != nil && strings.Contains(strings.ToLower(v.Last.Content), term)
}

// Title returns the display title of a conversation.
func (e *Engine) Title(c chat.Conversation) string {
	users := e.registry.List()
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.DisplayName
	}
	return title(conversation.Summary{ID: c.ID, Kind: c.Kind, Name: c.Name, Participants: c.Participants}, e.self, names)
}
