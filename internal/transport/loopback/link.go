package loopback

import (
	"context"
	"sync"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
)

var _ transport.Transport = (*Link)(nil)

// Link is one device's connection to the hub. Events addressed to the device
// queue up while it is offline and are pushed in order once it reconnects.
type Link struct {
	hub      *Hub
	userID   string
	deviceID string

	mu      sync.Mutex
	cond    *sync.Cond
	online  bool
	closed  bool
	backlog []transport.Event

	events chan transport.Event
	conn   chan transport.Connectivity
	done   chan struct{}
}

func newLink(h *Hub, userID, deviceID string) *Link {
	l := &Link{
		hub:      h,
		userID:   userID,
		deviceID: deviceID,
		online:   true,
		events:   make(chan transport.Event),
		conn:     make(chan transport.Connectivity, 8),
		done:     make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	l.conn <- transport.Online
	go l.pump()
	return l
}

// UserID returns the user this device belongs to.
func (l *Link) UserID() string { return l.userID }

// Send implements transport.Transport.
func (l *Link) Send(ctx context.Context, m chat.Message) (transport.Ack, error) {
	if err := l.usable(); err != nil {
		return transport.Ack{}, err
	}
	return l.hub.send(ctx, l, m)
}

// Publish implements transport.Transport.
func (l *Link) Publish(ctx context.Context, e transport.Event) error {
	if err := l.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.hub.publish(l, e)
}

// Events implements transport.Transport. The channel closes after Close.
func (l *Link) Events() <-chan transport.Event { return l.events }

// Connectivity implements transport.Transport.
func (l *Link) Connectivity() <-chan transport.Connectivity { return l.conn }

// SetOnline simulates the device losing or regaining its connection.
func (l *Link) SetOnline(online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.online == online {
		return
	}
	l.online = online
	state := transport.Offline
	if online {
		state = transport.Online
	}
	// Keep only the most recent states if nobody is listening.
	select {
	case l.conn <- state:
	default:
		select {
		case <-l.conn:
		default:
		}
		l.conn <- state
	}
	l.cond.Broadcast()
}

// Online reports the simulated link state.
func (l *Link) Online() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.online
}

// Pending returns how many events wait for the device.
func (l *Link) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.backlog)
}

// Close detaches the device from the hub.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	l.cond.Broadcast()
	l.mu.Unlock()
	l.hub.detach(l)
	return nil
}

func (l *Link) usable() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.closed:
		return ErrClosed
	case !l.online:
		return ErrOffline
	}
	return nil
}

func (l *Link) enqueue(e transport.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.backlog = append(l.backlog, e)
	l.cond.Signal()
}

func (l *Link) pump() {
	defer close(l.events)
	for {
		l.mu.Lock()
		for !l.closed && (!l.online || len(l.backlog) == 0) {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		e := l.backlog[0]
		l.backlog = l.backlog[1:]
		l.mu.Unlock()

		select {
		case l.events <- e:
		case <-l.done:
			return
		}
	}
}
