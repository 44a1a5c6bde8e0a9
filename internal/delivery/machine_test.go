package delivery

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

func TestNextValidTransitions(t *testing.T) {
	tests := []struct {
		from    chat.Status
		trigger Trigger
		want    chat.Status
	}{
		{chat.Queued, Ack, chat.Sent},
		{chat.Sent, DeliveryReceipt, chat.Delivered},
		{chat.Delivered, ReadReceipt, chat.Read},
		{chat.Sent, ReadReceipt, chat.Read},
		{chat.Queued, RetryExhausted, chat.Failed},
		{chat.Sent, RetryExhausted, chat.Failed},
		{chat.Failed, Resend, chat.Queued},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"+"+string(tt.trigger), func(t *testing.T) {
			got, changed, err := Next(tt.from, tt.trigger)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if !changed || got != tt.want {
				t.Errorf("Next() = %s, %v; want %s, true", got, changed, tt.want)
			}
		})
	}
}

func TestNextRejectsRegression(t *testing.T) {
	tests := []struct {
		from    chat.Status
		trigger Trigger
	}{
		{chat.Read, Ack},
		{chat.Read, DeliveryReceipt},
		{chat.Delivered, Ack},
		{chat.Failed, Ack},
		{chat.Failed, ReadReceipt},
		{chat.Read, RetryExhausted},
		{chat.Queued, ReadReceipt},
		{chat.Sent, Resend},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"+"+string(tt.trigger), func(t *testing.T) {
			got, changed, err := Next(tt.from, tt.trigger)
			if !errors.Is(err, chat.ErrInvalidTransition) {
				t.Fatalf("Next() error = %v, want ErrInvalidTransition", err)
			}
			if changed || got != tt.from {
				t.Errorf("Next() = %s, %v; state must not move", got, changed)
			}
		})
	}
}

func TestDuplicateTriggerIsNoop(t *testing.T) {
	for _, tt := range []struct {
		from    chat.Status
		trigger Trigger
	}{
		{chat.Sent, Ack},
		{chat.Delivered, DeliveryReceipt},
		{chat.Read, ReadReceipt},
		{chat.Failed, RetryExhausted},
	} {
		got, changed, err := Next(tt.from, tt.trigger)
		if err != nil || changed || got != tt.from {
			t.Errorf("Next(%s, %s) = %s, %v, %v; want no-op", tt.from, tt.trigger, got, changed, err)
		}
	}
}

func TestApplyReadImpliesDelivered(t *testing.T) {
	at := time.UnixMilli(5000)
	m := &chat.Message{ID: "m1", Status: chat.Sent}

	changed, err := Apply(m, ReadReceipt, at)
	if err != nil || !changed {
		t.Fatalf("Apply() = %v, %v", changed, err)
	}
	if m.Status != chat.Read {
		t.Errorf("status = %s, want read", m.Status)
	}
	if !m.DeliveredAt.Equal(at) || !m.ReadAt.Equal(at) {
		t.Errorf("deliveredAt=%v readAt=%v, want both %v", m.DeliveredAt, m.ReadAt, at)
	}

	// A late delivery receipt is rejected and leaves the message untouched.
	changed, err = Apply(m, DeliveryReceipt, at.Add(time.Second))
	if !errors.Is(err, chat.ErrInvalidTransition) || changed {
		t.Errorf("late delivery receipt = %v, %v", changed, err)
	}
	if m.Status != chat.Read || !m.DeliveredAt.Equal(at) {
		t.Errorf("message regressed: %+v", m)
	}
}

func TestStatusPathNeverRegresses(t *testing.T) {
	triggers := []Trigger{DeliveryReceipt, Ack, ReadReceipt, DeliveryReceipt, Ack, ReadReceipt}
	m := &chat.Message{Status: chat.Queued}
	last := Rank(m.Status)
	for _, tr := range triggers {
		_, _ = Apply(m, tr, time.Now())
		if r := Rank(m.Status); r < last {
			t.Fatalf("status regressed to %s after %s", m.Status, tr)
		} else {
			last = r
		}
	}
	if m.Status != chat.Read {
		t.Errorf("final status = %s, want read", m.Status)
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(chat.Read, chat.Sent) {
		t.Error("read should be at least sent")
	}
	if AtLeast(chat.Failed, chat.Queued) {
		t.Error("failed must not count as progress")
	}
}
