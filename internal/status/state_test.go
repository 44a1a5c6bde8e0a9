package status

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:   {},
		Restoring: {Restoring},
		Offline:   {Restoring, Offline},
		Online:    {Restoring, Online},
		Error:     {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walk to %s: %v", target, err)
		}
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Restoring},
		{Booting, Error},
		{Restoring, Online},
		{Restoring, Offline},
		{Online, Offline},
		{Offline, Online},
		{Online, Stopped},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Online); err == nil {
		t.Error("Transition(BOOTING -> ONLINE) should fail")
	}

	walkTo(t, m, Online)
	_ = m.Transition(Stopped)
	if err := m.Transition(Online); err == nil {
		t.Error("STOPPED is terminal")
	}
}

func TestSameStateIsNoop(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	m := NewMachine(b)
	walkTo(t, m, Online)
	<-ch
	<-ch
	if err := m.Transition(Online); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Restoring); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindLinkChanged {
			t.Errorf("kind = %s", evt.Kind)
		}
		c, ok := evt.Payload.(Change)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if c.From != Booting || c.To != Restoring {
			t.Errorf("change = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}
