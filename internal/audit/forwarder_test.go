package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
	envs []Envelope
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, env Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.envs = append(p.envs, env)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "chatsync.audit", nil)
	assert.Equal(t, "noop", Mode(p))
	assert.Equal(t, "empty amqp url", NoopReason(p))
	assert.NoError(t, p.Publish(context.Background(), "chatsync.message.queued", Envelope{}))
	assert.NoError(t, p.Close())
}

func TestForwarded(t *testing.T) {
	tests := map[string]bool{
		bus.KindMessageQueued:       true,
		bus.KindMessageCommitted:    true,
		bus.KindOutboxExhausted:     true,
		bus.KindOutboxAttemptFailed: false,
		bus.KindLinkChanged:         true,
		bus.KindSyncDuplicate:       false,
		bus.KindSnapshotChanged:     false,
	}
	for kind, want := range tests {
		assert.Equal(t, want, Forwarded(kind), kind)
	}
}

func TestForwarderPublishesMatchingEvents(t *testing.T) {
	b := bus.New()
	pub := &recordingPublisher{}
	f := NewForwarder(pub, b, "alice", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		b.Publish(bus.Event{Kind: bus.KindSyncDuplicate})
		b.Publish(bus.Event{Kind: bus.KindMessageCommitted, ConversationID: "c1", Payload: "m1"})
		return pub.count() > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i, key := range pub.keys {
		assert.Equal(t, "chatsync.message.committed", key)
		env := pub.envs[i]
		assert.Equal(t, "alice", env.UserID)
		assert.Equal(t, "c1", env.ConversationID)
		assert.Equal(t, "m1", env.Payload)
		assert.NotEmpty(t, env.ID)
	}
}

func TestForwarderSurvivesPublishErrors(t *testing.T) {
	b := bus.New()
	pub := &recordingPublisher{err: errors.New("channel closed")}
	f := NewForwarder(pub, b, "alice", nil)

	f.forward(context.Background(), bus.Event{Kind: bus.KindMessageQueued})
	f.forward(context.Background(), bus.Event{Kind: bus.KindMessageQueued})
	assert.Equal(t, 2, pub.count())
}
