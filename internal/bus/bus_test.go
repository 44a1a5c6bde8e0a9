package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageQueued, ConversationID: "c1", Payload: "m1"})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageQueued {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageQueued)
		}
		if evt.ConversationID != "c1" {
			t.Errorf("conversation = %q, want c1", evt.ConversationID)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageCommitted})
	b.Publish(Event{Kind: KindSyncGap})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncGap {
			t.Errorf("got kind %q, want %s", evt.Kind, KindSyncGap)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceReceivesEverything(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish(Event{Kind: KindLinkChanged})
	b.Publish(Event{Kind: KindOutboxSent})

	if got := len(ch); got != 2 {
		t.Errorf("buffered %d events, want 2", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("link.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: KindLinkChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("outbox.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindOutboxSent})
	b.Publish(Event{Kind: KindOutboxExhausted})

	evt := <-ch
	if evt.Kind != KindOutboxSent {
		t.Errorf("got %q, want %s", evt.Kind, KindOutboxSent)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: KindLinkChanged})
}
