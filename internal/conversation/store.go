package conversation

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/delivery"
	"go.uber.org/zap"
)

// Journal persists conversations and messages. store.DB implements it.
type Journal interface {
	SaveConversation(c *chat.Conversation) error
	SaveMessage(m *chat.Message) error
	DeleteMessage(conversationID, messageID string) error
}

// Outbox receives locally created messages for transmission.
type Outbox interface {
	Enqueue(m chat.Message) error
	Cancel(messageID string) error
}

// Directory answers whether a user id is registered.
type Directory interface {
	Known(id string) bool
}

// Options configures a Store.
type Options struct {
	Self      string
	Directory Directory
	Journal   Journal
	Bus       *bus.Bus
	Logger    *zap.Logger
	// OnChange is called after every mutation, outside any lock.
	OnChange func(conversationID string)
}

// MessageEvent is the bus payload for message lifecycle events.
type MessageEvent struct {
	MessageID string      `json:"message_id"`
	SenderID  string      `json:"sender_id"`
	Status    chat.Status `json:"status"`
	Seq       int64       `json:"seq,omitempty"`
}

type slot struct {
	mu   sync.Mutex
	conv chat.Conversation
}

// Store owns every conversation and its message log. Mutations of one
// conversation are serialized by that conversation's lock; s.mu only guards
// the indexes and is never held while waiting for a conversation lock.
type Store struct {
	self      string
	directory Directory
	journal   Journal
	bus       *bus.Bus
	logger    *zap.Logger
	onChange  func(string)
	clock     func() time.Time
	newID     func() string

	mu       sync.RWMutex
	slots    map[string]*slot
	direct   map[[2]string]string
	msgIndex map[string]string
	outbox   Outbox
}

// New creates an empty store for the local user opts.Self.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		self:      opts.Self,
		directory: opts.Directory,
		journal:   opts.Journal,
		bus:       opts.Bus,
		logger:    logger,
		onChange:  opts.OnChange,
		clock:     time.Now,
		newID:     uuid.NewString,
		slots:     make(map[string]*slot),
		direct:    make(map[[2]string]string),
		msgIndex:  make(map[string]string),
	}
}

// SetOutbox attaches the queue that AppendLocal feeds.
func (s *Store) SetOutbox(o Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = o
}

// Self returns the local user id.
func (s *Store) Self() string { return s.self }

// CreateDirect returns the direct conversation between a and b, creating it if needed.
func (s *Store) CreateDirect(a, b string) (chat.Conversation, error) {
	if a == "" || b == "" || a == b {
		return chat.Conversation{}, fmt.Errorf("%w: direct conversation needs two distinct users", chat.ErrInvalidParticipants)
	}
	if err := s.checkKnown(a, b); err != nil {
		return chat.Conversation{}, err
	}
	key := pairKey(a, b)

	s.mu.Lock()
	if id, ok := s.direct[key]; ok {
		sl := s.slots[id]
		s.mu.Unlock()
		sl.mu.Lock()
		defer sl.mu.Unlock()
		return sl.conv.Clone(), nil
	}
	now := s.clock()
	conv := chat.Conversation{
		ID:           s.newID(),
		Kind:         chat.Direct,
		Participants: []string{key[0], key[1]},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.slots[conv.ID] = &slot{conv: conv}
	s.direct[key] = conv.ID
	s.mu.Unlock()

	s.saveConversation(&conv)
	s.changed(conv.ID)
	return conv.Clone(), nil
}

// CreateGroup creates a group conversation. The local user is always a member.
func (s *Store) CreateGroup(name string, participantIDs []string) (chat.Conversation, error) {
	if len(participantIDs) == 0 {
		return chat.Conversation{}, fmt.Errorf("%w: group needs participants", chat.ErrInvalidParticipants)
	}
	members := normalizeMembers(append([]string{s.self}, participantIDs...))
	if len(members) < 2 {
		return chat.Conversation{}, fmt.Errorf("%w: group needs at least two members", chat.ErrInvalidParticipants)
	}
	if err := s.checkKnown(members...); err != nil {
		return chat.Conversation{}, err
	}

	name = strings.TrimSpace(name)
	now := s.clock()
	conv := chat.Conversation{
		ID:           s.newID(),
		Kind:         chat.Group,
		Name:         name,
		AvatarRef:    groupAvatar(name),
		Participants: members,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.mu.Lock()
	s.slots[conv.ID] = &slot{conv: conv}
	s.mu.Unlock()

	s.saveConversation(&conv)
	s.changed(conv.ID)
	return conv.Clone(), nil
}

// EnsureConversation registers a conversation created elsewhere. It is
// idempotent: an already known id is left untouched and created is false.
func (s *Store) EnsureConversation(c chat.Conversation) (created bool, err error) {
	members := normalizeMembers(c.Participants)
	switch {
	case c.ID == "":
		return false, fmt.Errorf("%w: missing conversation id", chat.ErrInvalidParticipants)
	case len(members) == 0:
		return false, fmt.Errorf("%w: empty roster", chat.ErrInvalidParticipants)
	case c.Kind == chat.Direct && len(members) != 2:
		return false, fmt.Errorf("%w: direct conversation needs two members", chat.ErrInvalidParticipants)
	}
	if c.Kind != chat.Direct {
		c.Kind = chat.Group
	}

	s.mu.Lock()
	if _, ok := s.slots[c.ID]; ok {
		s.mu.Unlock()
		return false, nil
	}
	now := s.clock()
	conv := chat.Conversation{
		ID:           c.ID,
		Kind:         c.Kind,
		Name:         c.Name,
		AvatarRef:    c.AvatarRef,
		Participants: members,
		CreatedAt:    orNow(c.CreatedAt, now),
		UpdatedAt:    orNow(c.UpdatedAt, now),
	}
	if conv.Kind == chat.Group && conv.AvatarRef == "" {
		conv.AvatarRef = groupAvatar(conv.Name)
	}
	s.slots[conv.ID] = &slot{conv: conv}
	if conv.Kind == chat.Direct {
		s.direct[pairKey(members[0], members[1])] = conv.ID
	}
	s.mu.Unlock()

	s.saveConversation(&conv)
	s.changed(conv.ID)
	return true, nil
}

// AppendLocal adds an optimistic, queued message to the end of the log and
// hands it to the outbox. It returns the new message id.
func (s *Store) AppendLocal(conversationID string, d chat.Draft) (string, error) {
	if strings.TrimSpace(d.Content) == "" && d.MediaRef == "" {
		return "", chat.ErrEmptyMessage
	}
	if d.Type == "" {
		d.Type = chat.Text
	}
	if !d.Type.Valid() {
		return "", fmt.Errorf("unsupported message type %q", d.Type)
	}
	sl, err := s.slot(conversationID)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	outbox := s.outbox
	s.mu.RUnlock()

	sl.mu.Lock()
	now := s.clock()
	msg := chat.Message{
		ID:             s.newID(),
		Ref:            chat.Pending(),
		ConversationID: conversationID,
		SenderID:       s.self,
		Content:        d.Content,
		MediaRef:       d.MediaRef,
		ReplyTo:        d.ReplyTo,
		Type:           d.Type,
		Status:         chat.Queued,
		CreatedAt:      now,
	}
	if s.journal != nil {
		if err := s.journal.SaveMessage(&msg); err != nil {
			sl.mu.Unlock()
			return "", fmt.Errorf("persist message: %w", err)
		}
	}
	sl.conv.Messages = append(sl.conv.Messages, msg)
	sl.conv.LastMessage = msg.ID
	sl.conv.UpdatedAt = later(sl.conv.UpdatedAt, now)
	s.indexMessage(msg.ID, conversationID)
	// Enqueue under the conversation lock so outbox order matches log order.
	if outbox != nil {
		if err := outbox.Enqueue(msg); err != nil {
			s.logger.Error("failed to enqueue message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	}
	conv := sl.conv
	sl.mu.Unlock()

	s.saveConversation(&conv)
	s.publish(bus.KindMessageQueued, &msg)
	s.changed(conversationID)
	return msg.ID, nil
}

// ApplyServerMessage merges a committed message into the log. The local
// optimistic copy with the same id is committed in place; unknown messages
// are inserted at their sorted position. applied is false for duplicates and
// for messages that would violate the one-message-per-seq invariant.
func (s *Store) ApplyServerMessage(conversationID string, m chat.Message) (applied bool, err error) {
	seq, ok := m.Ref.Seq()
	if !ok {
		return false, fmt.Errorf("message %s has no server sequence", m.ID)
	}
	sl, err := s.slot(conversationID)
	if err != nil {
		return false, err
	}

	sl.mu.Lock()
	now := s.clock()
	conv := &sl.conv
	var result chat.Message

	if idx := indexOf(conv.Messages, m.ID); idx >= 0 {
		existing := conv.Messages[idx]
		if existing.Committed() {
			if existing.Seq() != seq {
				sl.mu.Unlock()
				s.logger.Warn("conflicting sequence for committed message ignored",
					zap.String("msg_id", m.ID), zap.Int64("seq", existing.Seq()), zap.Int64("new_seq", seq))
				return false, nil
			}
			if existing.Status != chat.Queued {
				sl.mu.Unlock()
				return false, nil
			}
			// Requeued after the server had already sequenced it.
			stored := &conv.Messages[idx]
			stored.AckAt = orNow(existing.AckAt, now)
			if _, err := delivery.Apply(stored, delivery.Ack, stored.AckAt); err != nil {
				sl.mu.Unlock()
				return false, err
			}
			s.saveMessage(stored)
			result = stored.Clone()
			sl.mu.Unlock()
			s.publish(bus.KindMessageStatus, &result)
			s.changed(conversationID)
			return true, nil
		}
		if other := findSeq(conv.Messages, seq); other != nil {
			sl.mu.Unlock()
			s.logger.Warn("sequence already taken, commit dropped",
				zap.String("msg_id", m.ID), zap.String("holder", other.ID), zap.Int64("seq", seq))
			return false, nil
		}
		conv.Messages = slices.Delete(conv.Messages, idx, idx+1)
		existing.Ref = m.Ref
		existing.AckAt = orNow(m.AckAt, now)
		if _, err := delivery.Apply(&existing, delivery.Ack, existing.AckAt); err != nil {
			s.logger.Debug("ack did not advance status", zap.Error(err), zap.String("msg_id", m.ID))
		}
		insertSorted(conv, existing)
		result = existing
	} else {
		if other := findSeq(conv.Messages, seq); other != nil {
			sl.mu.Unlock()
			s.logger.Warn("sequence already taken, message dropped",
				zap.String("msg_id", m.ID), zap.String("holder", other.ID), zap.Int64("seq", seq))
			return false, nil
		}
		incoming := m.Clone()
		incoming.ConversationID = conversationID
		incoming.AckAt = orNow(incoming.AckAt, now)
		if incoming.CreatedAt.IsZero() {
			incoming.CreatedAt = incoming.AckAt
		}
		if incoming.Type == "" {
			incoming.Type = chat.Text
		}
		if incoming.SenderID == s.self {
			// Sent from another of our devices.
			if !delivery.AtLeast(incoming.Status, chat.Sent) {
				incoming.Status = chat.Sent
			}
		} else if incoming.Status != chat.Read {
			incoming.Status = chat.Delivered
			incoming.DeliveredAt = now
		}
		insertSorted(conv, incoming)
		result = incoming
		s.indexMessage(incoming.ID, conversationID)
	}

	conv.LastMessage = conv.Last().ID
	conv.UpdatedAt = later(conv.UpdatedAt, result.AckAt)
	conv.UnreadCount = s.unread(conv)
	s.saveMessage(&result)
	snapshot := *conv
	sl.mu.Unlock()

	s.saveConversation(&snapshot)
	s.publish(bus.KindMessageCommitted, &result)
	s.changed(conversationID)
	return true, nil
}

// MarkRead marks incoming messages with seq <= uptoSeq as read and recomputes
// the unread count. uptoSeq <= 0 means every committed message. It returns the
// number of messages that changed and the effective watermark.
func (s *Store) MarkRead(conversationID string, uptoSeq int64) (changed int, upto int64, err error) {
	sl, err := s.slot(conversationID)
	if err != nil {
		return 0, 0, err
	}
	sl.mu.Lock()
	changed, upto = s.markReadLocked(&sl.conv, uptoSeq, s.clock())
	snapshot := sl.conv
	sl.mu.Unlock()

	if changed > 0 {
		s.saveConversation(&snapshot)
		s.changed(conversationID)
	}
	return changed, upto, nil
}

func (s *Store) markReadLocked(conv *chat.Conversation, uptoSeq int64, at time.Time) (int, int64) {
	if uptoSeq <= 0 {
		if m := conv.LastCommitted(); m != nil {
			uptoSeq = m.Seq()
		}
	}
	changed := 0
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if !m.Committed() || m.Seq() > uptoSeq || m.SenderID == s.self {
			continue
		}
		ok, err := delivery.Apply(m, delivery.ReadReceipt, at)
		if err != nil {
			s.logger.Debug("read marking skipped", zap.Error(err), zap.String("msg_id", m.ID))
			continue
		}
		if ok {
			changed++
			s.saveMessage(m)
		}
	}
	conv.UnreadCount = s.unread(conv)
	return changed, uptoSeq
}

// ApplyReceipt applies a delivery or read receipt from userID covering the
// local user's messages with seq <= uptoSeq. A read receipt from the local
// user (another device) marks incoming messages read instead. Receipts from a
// user already counted for a message are ignored.
func (s *Store) ApplyReceipt(conversationID string, trigger delivery.Trigger, userID string, uptoSeq int64, at time.Time) (int, error) {
	if trigger != delivery.DeliveryReceipt && trigger != delivery.ReadReceipt {
		return 0, fmt.Errorf("not a receipt trigger: %s", trigger)
	}
	sl, err := s.slot(conversationID)
	if err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = s.clock()
	}

	sl.mu.Lock()
	conv := &sl.conv
	if userID == s.self {
		changed := 0
		if trigger == delivery.ReadReceipt {
			changed, _ = s.markReadLocked(conv, uptoSeq, at)
		}
		snapshot := *conv
		sl.mu.Unlock()
		if changed > 0 {
			s.saveConversation(&snapshot)
			s.changed(conversationID)
		}
		return changed, nil
	}

	var updated []chat.Message
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if !m.Committed() || m.Seq() > uptoSeq || m.SenderID != s.self {
			continue
		}
		counted := false
		if trigger == delivery.DeliveryReceipt {
			m.DeliveredTo, counted = addMember(m.DeliveredTo, userID)
		} else {
			m.DeliveredTo, _ = addMember(m.DeliveredTo, userID)
			m.ReadBy, counted = addMember(m.ReadBy, userID)
		}
		advanced, err := delivery.Apply(m, trigger, at)
		if err != nil {
			s.logger.Debug("receipt dropped", zap.Error(err),
				zap.String("msg_id", m.ID), zap.String("from", userID))
		}
		if counted || advanced {
			s.saveMessage(m)
		}
		if advanced {
			updated = append(updated, m.Clone())
		}
	}
	sl.mu.Unlock()

	for i := range updated {
		s.publish(bus.KindMessageStatus, &updated[i])
	}
	if len(updated) > 0 {
		s.changed(conversationID)
	}
	return len(updated), nil
}

// AddParticipant adds a registered user to a group.
func (s *Store) AddParticipant(conversationID, userID string) error {
	if err := s.checkKnown(userID); err != nil {
		return err
	}
	return s.ApplyRoster(conversationID, []string{userID}, nil)
}

// RemoveParticipant removes a user from a group.
func (s *Store) RemoveParticipant(conversationID, userID string) error {
	return s.ApplyRoster(conversationID, nil, []string{userID})
}

// ApplyRoster adds and removes members of a group. Direct conversations have
// a fixed roster and a group never becomes empty.
func (s *Store) ApplyRoster(conversationID string, added, removed []string) error {
	sl, err := s.slot(conversationID)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	conv := &sl.conv
	if conv.Kind == chat.Direct {
		sl.mu.Unlock()
		return fmt.Errorf("%w: direct conversation roster is fixed", chat.ErrInvalidParticipants)
	}
	members := slices.Clone(conv.Participants)
	for _, id := range added {
		if id != "" {
			members, _ = addMember(members, id)
		}
	}
	for _, id := range removed {
		if i, found := slices.BinarySearch(members, id); found {
			members = slices.Delete(members, i, i+1)
		}
	}
	if len(members) == 0 {
		sl.mu.Unlock()
		return fmt.Errorf("%w: group cannot be left empty", chat.ErrInvalidParticipants)
	}
	if slices.Equal(members, conv.Participants) {
		sl.mu.Unlock()
		return nil
	}
	conv.Participants = members
	conv.UpdatedAt = later(conv.UpdatedAt, s.clock())
	snapshot := *conv
	sl.mu.Unlock()

	s.saveConversation(&snapshot)
	s.changed(conversationID)
	return nil
}

// Fail marks a still-pending message failed after the outbox gave up. A
// message the server already committed is left alone and failed is false.
func (s *Store) Fail(messageID string) (failed bool, err error) {
	sl, err := s.slotForMessage(messageID)
	if err != nil {
		return false, err
	}
	sl.mu.Lock()
	idx := indexOf(sl.conv.Messages, messageID)
	if idx < 0 {
		sl.mu.Unlock()
		return false, fmt.Errorf("%w: %s", chat.ErrMessageNotFound, messageID)
	}
	m := &sl.conv.Messages[idx]
	if m.Committed() {
		sl.mu.Unlock()
		return false, nil
	}
	ok, err := delivery.Apply(m, delivery.RetryExhausted, s.clock())
	if err != nil || !ok {
		sl.mu.Unlock()
		return false, err
	}
	s.saveMessage(m)
	msg, convID := m.Clone(), sl.conv.ID
	sl.mu.Unlock()

	s.publish(bus.KindMessageStatus, &msg)
	s.changed(convID)
	return true, nil
}

// Resend moves a failed message back to queued and re-enqueues it.
func (s *Store) Resend(messageID string) error {
	sl, err := s.slotForMessage(messageID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	outbox := s.outbox
	s.mu.RUnlock()

	sl.mu.Lock()
	idx := indexOf(sl.conv.Messages, messageID)
	if idx < 0 {
		sl.mu.Unlock()
		return fmt.Errorf("%w: %s", chat.ErrMessageNotFound, messageID)
	}
	m := &sl.conv.Messages[idx]
	if m.Status != chat.Failed {
		sl.mu.Unlock()
		return fmt.Errorf("%w: resend from %s", chat.ErrInvalidTransition, m.Status)
	}
	ackAt := m.AckAt
	if _, err := delivery.Apply(m, delivery.Resend, s.clock()); err != nil {
		sl.mu.Unlock()
		return err
	}
	if m.Committed() {
		// The server already sequenced it; there is nothing to transmit.
		ackAt = orNow(ackAt, s.clock())
		if _, err := delivery.Apply(m, delivery.Ack, ackAt); err != nil {
			sl.mu.Unlock()
			return err
		}
		m.AckAt = ackAt
		s.saveMessage(m)
		msg, convID := m.Clone(), sl.conv.ID
		sl.mu.Unlock()

		s.publish(bus.KindMessageStatus, &msg)
		s.changed(convID)
		return nil
	}
	s.saveMessage(m)
	if outbox != nil {
		if err := outbox.Enqueue(m.Clone()); err != nil {
			s.logger.Error("failed to re-enqueue message", zap.Error(err), zap.String("msg_id", messageID))
		}
	}
	msg, convID := m.Clone(), sl.conv.ID
	sl.mu.Unlock()

	s.publish(bus.KindMessageQueued, &msg)
	s.changed(convID)
	return nil
}

// Cancel retracts a message that is still queued and not in flight.
func (s *Store) Cancel(messageID string) error {
	sl, err := s.slotForMessage(messageID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	outbox := s.outbox
	s.mu.RUnlock()

	sl.mu.Lock()
	idx := indexOf(sl.conv.Messages, messageID)
	if idx < 0 {
		sl.mu.Unlock()
		return fmt.Errorf("%w: %s", chat.ErrMessageNotFound, messageID)
	}
	m := sl.conv.Messages[idx]
	if m.Status != chat.Queued || m.Committed() {
		sl.mu.Unlock()
		return fmt.Errorf("%w: status %s", chat.ErrNotCancellable, m.Status)
	}
	if outbox != nil {
		if err := outbox.Cancel(messageID); err != nil {
			sl.mu.Unlock()
			return err
		}
	}
	conv := &sl.conv
	conv.Messages = slices.Delete(conv.Messages, idx, idx+1)
	conv.LastMessage = ""
	if last := conv.Last(); last != nil {
		conv.LastMessage = last.ID
	}
	if s.journal != nil {
		if err := s.journal.DeleteMessage(conv.ID, messageID); err != nil {
			s.logger.Error("failed to delete cancelled message", zap.Error(err), zap.String("msg_id", messageID))
		}
	}
	snapshot := *conv
	sl.mu.Unlock()

	s.mu.Lock()
	delete(s.msgIndex, messageID)
	s.mu.Unlock()

	s.saveConversation(&snapshot)
	s.publish(bus.KindMessageCancelled, &m)
	s.changed(snapshot.ID)
	return nil
}

// Restore loads persisted conversations, replacing nothing that is already known.
func (s *Store) Restore(convs []chat.Conversation) {
	for _, c := range convs {
		c = c.Clone()
		c.Participants = normalizeMembers(c.Participants)
		committed := make([]chat.Message, 0, len(c.Messages))
		var pending []chat.Message
		for _, m := range c.Messages {
			if m.Committed() {
				committed = append(committed, m)
			} else {
				pending = append(pending, m)
			}
		}
		slices.SortStableFunc(committed, func(a, b chat.Message) int { return cmp.Compare(a.Seq(), b.Seq()) })
		slices.SortStableFunc(pending, func(a, b chat.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
		c.Messages = append(committed, pending...)
		c.LastMessage = ""
		if last := c.Last(); last != nil {
			c.LastMessage = last.ID
		}
		c.UnreadCount = s.unread(&c)

		s.mu.Lock()
		if _, ok := s.slots[c.ID]; !ok {
			s.slots[c.ID] = &slot{conv: c}
			if c.Kind == chat.Direct && len(c.Participants) == 2 {
				s.direct[pairKey(c.Participants[0], c.Participants[1])] = c.ID
			}
			for _, m := range c.Messages {
				s.msgIndex[m.ID] = c.ID
			}
		}
		s.mu.Unlock()
	}
}

// Get returns a copy of the conversation.
func (s *Store) Get(conversationID string) (chat.Conversation, bool) {
	sl, err := s.slot(conversationID)
	if err != nil {
		return chat.Conversation{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.conv.Clone(), true
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(messageID string) (chat.Message, bool) {
	sl, err := s.slotForMessage(messageID)
	if err != nil {
		return chat.Message{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if idx := indexOf(sl.conv.Messages, messageID); idx >= 0 {
		return sl.conv.Messages[idx].Clone(), true
	}
	return chat.Message{}, false
}

// Summary is a conversation header without its log.
type Summary struct {
	ID           string
	Kind         chat.ConversationKind
	Name         string
	AvatarRef    string
	Participants []string
	UnreadCount  int
	Last         *chat.Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// List returns conversation summaries sorted by last activity, newest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		c := &sl.conv
		sum := Summary{
			ID:           c.ID,
			Kind:         c.Kind,
			Name:         c.Name,
			AvatarRef:    c.AvatarRef,
			Participants: slices.Clone(c.Participants),
			UnreadCount:  c.UnreadCount,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		}
		if last := c.Last(); last != nil {
			cp := last.Clone()
			sum.Last = &cp
		}
		sl.mu.Unlock()
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Search returns messages whose content contains term, case-insensitively,
// newest first. An empty conversationID searches everywhere.
func (s *Store) Search(term, conversationID string, limit int) []chat.Message {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for id, sl := range s.slots {
		if conversationID == "" || id == conversationID {
			slots = append(slots, sl)
		}
	}
	s.mu.RUnlock()

	var hits []chat.Message
	for _, sl := range slots {
		sl.mu.Lock()
		for _, m := range sl.conv.Messages {
			if strings.Contains(strings.ToLower(m.Content), term) {
				hits = append(hits, m.Clone())
			}
		}
		sl.mu.Unlock()
	}
	slices.SortFunc(hits, func(a, b chat.Message) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (s *Store) slot(conversationID string) (*slot, error) {
	s.mu.RLock()
	sl, ok := s.slots[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", chat.ErrConversationNotFound, conversationID)
	}
	return sl, nil
}

func (s *Store) slotForMessage(messageID string) (*slot, error) {
	s.mu.RLock()
	convID, ok := s.msgIndex[messageID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", chat.ErrMessageNotFound, messageID)
	}
	return s.slot(convID)
}

// indexMessage may be called with a conversation lock held.
func (s *Store) indexMessage(messageID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgIndex[messageID] = conversationID
}

func (s *Store) checkKnown(ids ...string) error {
	if s.directory == nil {
		return nil
	}
	for _, id := range ids {
		if id != s.self && !s.directory.Known(id) {
			return fmt.Errorf("%w: %s", chat.ErrUnknownUser, id)
		}
	}
	return nil
}

func (s *Store) unread(c *chat.Conversation) int {
	n := 0
	for _, m := range c.Messages {
		if m.Committed() && m.SenderID != s.self && m.Status != chat.Read {
			n++
		}
	}
	return n
}

func (s *Store) saveConversation(c *chat.Conversation) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveConversation(c); err != nil {
		s.logger.Error("failed to persist conversation", zap.Error(err), zap.String("conversation_id", c.ID))
	}
}

func (s *Store) saveMessage(m *chat.Message) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SaveMessage(m); err != nil {
		s.logger.Error("failed to persist message", zap.Error(err), zap.String("msg_id", m.ID))
	}
}

func (s *Store) publish(kind string, m *chat.Message) {
	s.bus.Publish(bus.Event{
		Kind:           kind,
		ConversationID: m.ConversationID,
		Timestamp:      s.clock(),
		Payload: MessageEvent{
			MessageID: m.ID,
			SenderID:  m.SenderID,
			Status:    m.Status,
			Seq:       m.Seq(),
		},
	})
}

func (s *Store) changed(conversationID string) {
	if s.onChange != nil {
		s.onChange(conversationID)
	}
}

// insertSorted places m among the committed prefix by seq, or at the end of
// the pending tail when m has no seq.
func insertSorted(c *chat.Conversation, m chat.Message) {
	boundary := sort.Search(len(c.Messages), func(i int) bool { return !c.Messages[i].Committed() })
	if !m.Committed() {
		c.Messages = append(c.Messages, m)
		return
	}
	pos, _ := slices.BinarySearchFunc(c.Messages[:boundary], m.Seq(), func(e chat.Message, seq int64) int {
		return cmp.Compare(e.Seq(), seq)
	})
	c.Messages = slices.Insert(c.Messages, pos, m)
}

func indexOf(msgs []chat.Message, id string) int {
	return slices.IndexFunc(msgs, func(m chat.Message) bool { return m.ID == id })
}

func findSeq(msgs []chat.Message, seq int64) *chat.Message {
	boundary := sort.Search(len(msgs), func(i int) bool { return !msgs[i].Committed() })
	i, found := slices.BinarySearchFunc(msgs[:boundary], seq, func(e chat.Message, seq int64) int {
		return cmp.Compare(e.Seq(), seq)
	})
	if !found {
		return nil
	}
	return &msgs[i]
}

func addMember(set []string, id string) ([]string, bool) {
	i, found := slices.BinarySearch(set, id)
	if found {
		return set, false
	}
	return slices.Insert(set, i, id), true
}

func normalizeMembers(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func pairKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

func groupAvatar(name string) string {
	if name == "" {
		return ""
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
