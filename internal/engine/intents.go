package engine

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/transport"
)

// SelectConversation opens a conversation and marks it read. An empty id
// closes the open conversation.
func (e *Engine) SelectConversation(conversationID string) error {
	if conversationID != "" {
		if _, ok := e.convs.Get(conversationID); !ok {
			return fmt.Errorf("%w: %s", chat.ErrConversationNotFound, conversationID)
		}
	}
	e.mu.Lock()
	e.active = conversationID
	e.mu.Unlock()

	if conversationID != "" {
		if _, err := e.MarkRead(conversationID, 0); err != nil {
			return err
		}
	}
	e.notify()
	return nil
}

// Send appends a message to the open conversation.
func (e *Engine) Send(d chat.Draft) (string, error) {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if active == "" {
		return "", chat.ErrNoActiveConversation
	}
	return e.SendTo(active, d)
}

// SendTo appends a message to a conversation and queues it for delivery.
func (e *Engine) SendTo(conversationID string, d chat.Draft) (string, error) {
	return e.convs.AppendLocal(conversationID, d)
}

// MarkRead marks incoming messages up to uptoSeq read (0 means all) and
// tells the other participants.
func (e *Engine) MarkRead(conversationID string, uptoSeq int64) (int, error) {
	changed, upto, err := e.convs.MarkRead(conversationID, uptoSeq)
	if err != nil {
		return 0, err
	}
	if changed > 0 && upto > 0 {
		e.enqueueControl(transport.Event{
			Type:           transport.ReadReceipt,
			ConversationID: conversationID,
			Receipt:        &transport.Receipt{UserID: e.self, UptoSeq: upto},
		})
	}
	return changed, nil
}

// SetPresence changes the local user's presence and broadcasts it.
func (e *Engine) SetPresence(p chat.Presence) error {
	if err := e.registry.SetPresence(e.self, p); err != nil {
		return err
	}
	self, _ := e.registry.Get(e.self)
	e.enqueueControl(transport.Event{
		Type:     transport.PresenceChange,
		Presence: &transport.Presence{UserID: e.self, DisplayName: self.DisplayName, Presence: p},
	})
	e.notify()
	return nil
}

// CreateGroup creates a group with the local user and participantIDs and
// opens it.
func (e *Engine) CreateGroup(name string, participantIDs []string) (chat.Conversation, error) {
	c, err := e.convs.CreateGroup(name, participantIDs)
	if err != nil {
		return chat.Conversation{}, err
	}
	e.announce(c)
	if err := e.SelectConversation(c.ID); err != nil {
		return chat.Conversation{}, err
	}
	return c, nil
}

// CreateDirect returns the direct conversation with peerID, creating it if
// needed.
func (e *Engine) CreateDirect(peerID string) (chat.Conversation, error) {
	c, err := e.convs.CreateDirect(e.self, peerID)
	if err != nil {
		return chat.Conversation{}, err
	}
	e.announce(c)
	return c, nil
}

func (e *Engine) announce(c chat.Conversation) {
	e.enqueueControl(transport.Event{
		Type:           transport.RosterChange,
		ConversationID: c.ID,
		Roster: &transport.Roster{
			Op:           transport.RosterCreated,
			Kind:         c.Kind,
			Name:         c.Name,
			Participants: c.Participants,
		},
	})
}

// AddParticipant adds a known user to a group.
func (e *Engine) AddParticipant(conversationID, userID string) error {
	if err := e.convs.AddParticipant(conversationID, userID); err != nil {
		return err
	}
	e.enqueueControl(transport.Event{
		Type:           transport.RosterChange,
		ConversationID: conversationID,
		Roster:         &transport.Roster{Op: transport.RosterAdded, UserIDs: []string{userID}},
	})
	return nil
}

// RemoveParticipant removes a user from a group.
func (e *Engine) RemoveParticipant(conversationID, userID string) error {
	if err := e.convs.RemoveParticipant(conversationID, userID); err != nil {
		return err
	}
	e.enqueueControl(transport.Event{
		Type:           transport.RosterChange,
		ConversationID: conversationID,
		Roster:         &transport.Roster{Op: transport.RosterRemoved, UserIDs: []string{userID}},
	})
	return nil
}

// SetSearchTerm filters the conversation list of later snapshots.
func (e *Engine) SetSearchTerm(term string) {
	e.mu.Lock()
	e.search = term
	e.mu.Unlock()
	e.notify()
}

// Resend queues a failed message again.
func (e *Engine) Resend(messageID string) error {
	return e.convs.Resend(messageID)
}

// Cancel withdraws a message that has not been sent yet.
func (e *Engine) Cancel(messageID string) error {
	return e.convs.Cancel(messageID)
}

// PostStatus publishes a status update from the local user.
func (e *Engine) PostStatus(content, mediaRef string) (chat.StatusUpdate, error) {
	return e.tracker.PostStatus(e.self, content, mediaRef)
}

// ViewStatus records that the local user has seen a status.
func (e *Engine) ViewStatus(statusID string) error {
	return e.tracker.ViewStatus(statusID, e.self)
}

// StartCall starts a call with every participant of a conversation.
func (e *Engine) StartCall(conversationID string, kind chat.CallKind) (chat.Call, error) {
	c, ok := e.convs.Get(conversationID)
	if !ok {
		return chat.Call{}, fmt.Errorf("%w: %s", chat.ErrConversationNotFound, conversationID)
	}
	return e.tracker.StartCall(kind, c.Participants)
}

// EndCall ends an ongoing call.
func (e *Engine) EndCall(callID string, answered bool) (chat.Call, error) {
	return e.tracker.EndCall(callID, answered)
}

// Conversation returns a conversation with its full log.
func (e *Engine) Conversation(conversationID string) (chat.Conversation, error) {
	c, ok := e.convs.Get(conversationID)
	if !ok {
		return chat.Conversation{}, fmt.Errorf("%w: %s", chat.ErrConversationNotFound, conversationID)
	}
	return c, nil
}

// Message returns a single message by id.
func (e *Engine) Message(messageID string) (chat.Message, error) {
	m, ok := e.convs.Message(messageID)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", chat.ErrMessageNotFound, messageID)
	}
	return m, nil
}

// SearchMessages searches message contents, newest first.
func (e *Engine) SearchMessages(term, conversationID string, limit int) []chat.Message {
	return e.convs.Search(term, conversationID, limit)
}

// Self returns the local user id.
func (e *Engine) Self() string { return e.self }

// Outbox returns the messages waiting for transmission.
func (e *Engine) Outbox() []outbox.Entry { return e.queue.Entries() }

// HighWaterMark returns the highest applied sequence of a conversation.
func (e *Engine) HighWaterMark(conversationID string) int64 {
	return e.rec.HighWaterMark(conversationID)
}
