// Package loopback is an in-process relay that plays the server side of the
// transport: it sequences every conversation event, fans events out to the
// devices of each member and can inject faults for tests and demos.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

var (
	ErrOffline             = fmt.Errorf("%w: link offline", chat.ErrTransmissionFailed)
	ErrInjected            = fmt.Errorf("%w: injected failure", chat.ErrTransmissionFailed)
	ErrAckLost             = fmt.Errorf("%w: acknowledgment lost", chat.ErrTransmissionFailed)
	ErrUnknownConversation = errors.New("relay: unknown conversation")
	ErrNotMember           = errors.New("relay: sender is not a member")
	ErrClosed              = errors.New("relay: link closed")
)

type room struct {
	kind    chat.ConversationKind
	name    string
	members map[string]bool
	seq     int64
}

// Hub is the relay shared by every connected device.
type Hub struct {
	mu     sync.Mutex
	logger *zap.Logger
	clock  func() time.Time

	rooms       map[string]*room
	acks        map[string]transport.Ack
	presenceSeq map[string]int64
	links       map[string][]*Link

	failNext      int
	loseAckNext   int
	redeliverNext int
	latency       time.Duration
}

// NewHub creates an empty relay.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:      logger,
		clock:       time.Now,
		rooms:       make(map[string]*room),
		acks:        make(map[string]transport.Ack),
		presenceSeq: make(map[string]int64),
		links:       make(map[string][]*Link),
	}
}

// Register makes a conversation known to the relay without emitting an
// event. Used for seed data that every device already holds; sequencing
// continues after the highest seeded message.
func (h *Hub) Register(c chat.Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[c.ID]; ok {
		return
	}
	r := newRoom(c.Kind, c.Name, c.Participants)
	for _, m := range c.Messages {
		r.seq = max(r.seq, m.Seq())
		h.acks[m.ID] = transport.Ack{Seq: m.Seq(), AckAt: m.AckAt}
	}
	h.rooms[c.ID] = r
}

func newRoom(kind chat.ConversationKind, name string, members []string) *room {
	r := &room{kind: kind, name: name, members: make(map[string]bool, len(members))}
	for _, id := range members {
		r.members[id] = true
	}
	return r
}

// Connect attaches a device of userID. The link starts online.
func (h *Hub) Connect(userID, deviceID string) *Link {
	l := newLink(h, userID, deviceID)
	h.mu.Lock()
	h.links[userID] = append(h.links[userID], l)
	h.mu.Unlock()
	h.logger.Debug("device connected", zap.String("user_id", userID), zap.String("device_id", deviceID))
	return l
}

func (h *Hub) detach(l *Link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.links[l.userID] = slices.DeleteFunc(h.links[l.userID], func(x *Link) bool { return x == l })
}

// FailNext makes the next n sends fail before the relay sequences them.
func (h *Hub) FailNext(n int) {
	h.mu.Lock()
	h.failNext = n
	h.mu.Unlock()
}

// LoseAckNext makes the relay sequence and fan out the next n sends but
// report failure to the sender, as if the acknowledgment was lost.
func (h *Hub) LoseAckNext(n int) {
	h.mu.Lock()
	h.loseAckNext = n
	h.mu.Unlock()
}

// RedeliverNext delivers each of the next n fanned-out events twice.
func (h *Hub) RedeliverNext(n int) {
	h.mu.Lock()
	h.redeliverNext = n
	h.mu.Unlock()
}

// SetLatency delays every send by d. Sends still honor their context.
func (h *Hub) SetLatency(d time.Duration) {
	h.mu.Lock()
	h.latency = d
	h.mu.Unlock()
}

// Resume moves a registered conversation's sequence forward to seq. A
// restarted relay uses it so new events land above what devices already hold.
func (h *Hub) Resume(conversationID string, seq int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[conversationID]; ok {
		r.seq = max(r.seq, seq)
	}
}

// Seq returns the last sequence assigned in a conversation.
func (h *Hub) Seq(conversationID string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[conversationID]; ok {
		return r.seq
	}
	return 0
}

func (h *Hub) send(ctx context.Context, from *Link, m chat.Message) (transport.Ack, error) {
	h.mu.Lock()
	latency := h.latency
	h.mu.Unlock()
	if latency > 0 {
		t := time.NewTimer(latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return transport.Ack{}, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ack, ok := h.acks[m.ID]; ok {
		return ack, nil
	}
	if h.failNext > 0 {
		h.failNext--
		return transport.Ack{}, ErrInjected
	}
	r, ok := h.rooms[m.ConversationID]
	if !ok {
		return transport.Ack{}, ErrUnknownConversation
	}
	if !r.members[from.userID] {
		return transport.Ack{}, ErrNotMember
	}

	r.seq++
	ack := transport.Ack{Seq: r.seq, AckAt: h.clock()}
	h.acks[m.ID] = ack

	msg := m.Clone()
	msg.SenderID = from.userID
	msg.Ref = chat.Committed(ack.Seq)
	msg.AckAt = ack.AckAt
	h.fanout(r, transport.Event{
		Type:           transport.NewMessage,
		ConversationID: m.ConversationID,
		Seq:            ack.Seq,
		At:             ack.AckAt,
		Message:        &msg,
	}, nil, nil)

	if h.loseAckNext > 0 {
		h.loseAckNext--
		return transport.Ack{}, ErrAckLost
	}
	return ack, nil
}

func (h *Hub) publish(from *Link, e transport.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	e.At = h.clock()
	if e.Type == transport.PresenceChange {
		if e.Presence == nil {
			return errors.New("relay: presence payload missing")
		}
		p := *e.Presence
		p.UserID = from.userID
		h.presenceSeq[from.userID]++
		e.Presence = &p
		e.Seq = h.presenceSeq[from.userID]
		for _, links := range h.links {
			for _, l := range links {
				h.deliver(l, e)
			}
		}
		return nil
	}

	r, ok := h.rooms[e.ConversationID]
	var extra []string
	switch e.Type {
	case transport.RosterChange:
		if e.Roster == nil {
			return errors.New("relay: roster payload missing")
		}
		switch e.Roster.Op {
		case transport.RosterCreated:
			if ok {
				return nil
			}
			r = newRoom(e.Roster.Kind, e.Roster.Name, e.Roster.Participants)
			h.rooms[e.ConversationID] = r
		case transport.RosterAdded, transport.RosterRemoved:
			if !ok {
				return ErrUnknownConversation
			}
			if !r.members[from.userID] {
				return ErrNotMember
			}
		}
	case transport.DeliveryReceipt, transport.ReadReceipt:
		if !ok {
			return ErrUnknownConversation
		}
		if e.Receipt == nil {
			return errors.New("relay: receipt payload missing")
		}
		if !r.members[from.userID] {
			return ErrNotMember
		}
		rc := *e.Receipt
		rc.UserID = from.userID
		e.Receipt = &rc
	default:
		return fmt.Errorf("relay: unsupported event type %q", e.Type)
	}

	r.seq++
	e.Seq = r.seq

	var joined []string
	if e.Type == transport.RosterChange {
		switch e.Roster.Op {
		case transport.RosterAdded:
			for _, id := range e.Roster.UserIDs {
				if !r.members[id] {
					joined = append(joined, id)
				}
				r.members[id] = true
			}
			h.welcome(r, e, joined)
		case transport.RosterRemoved:
			for _, id := range e.Roster.UserIDs {
				if r.members[id] {
					extra = append(extra, id)
				}
				delete(r.members, id)
			}
		}
	}
	h.fanout(r, e, extra, joined)
	return nil
}

// welcome sends new members the full roster so they learn the conversation.
func (h *Hub) welcome(r *room, e transport.Event, joined []string) {
	if len(joined) == 0 {
		return
	}
	created := transport.Event{
		Type:           transport.RosterChange,
		ConversationID: e.ConversationID,
		Seq:            e.Seq,
		At:             e.At,
		Roster: &transport.Roster{
			Op:           transport.RosterCreated,
			Kind:         r.kind,
			Name:         r.name,
			Participants: r.memberIDs(),
		},
	}
	for _, id := range joined {
		for _, l := range h.links[id] {
			h.deliver(l, created)
		}
	}
}

// fanout delivers e to every device of every member and of the extra users,
// skipping the listed ones.
func (h *Hub) fanout(r *room, e transport.Event, extra, skip []string) {
	targets := r.memberIDs()
	for _, id := range extra {
		if !slices.Contains(targets, id) {
			targets = append(targets, id)
		}
	}
	redeliver := false
	if h.redeliverNext > 0 {
		h.redeliverNext--
		redeliver = true
	}
	for _, id := range targets {
		if slices.Contains(skip, id) {
			continue
		}
		for _, l := range h.links[id] {
			h.deliver(l, e)
			if redeliver {
				h.deliver(l, e)
			}
		}
	}
}

func (h *Hub) deliver(l *Link, e transport.Event) {
	// Each device gets its own payload copies.
	if e.Message != nil {
		m := e.Message.Clone()
		e.Message = &m
	}
	if e.Roster != nil {
		ro := *e.Roster
		ro.Participants = slices.Clone(ro.Participants)
		ro.UserIDs = slices.Clone(ro.UserIDs)
		e.Roster = &ro
	}
	l.enqueue(e)
}

func (r *room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
