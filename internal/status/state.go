// Package status tracks the daemon's link state.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// State is the daemon's view of its link to the server.
type State string

const (
	Booting   State = "BOOTING"
	Restoring State = "RESTORING"
	Offline   State = "OFFLINE"
	Online    State = "ONLINE"
	Error     State = "ERROR"
	Stopped   State = "STOPPED"
)

// All lists every state, for gauges and help output.
var All = []State{Booting, Restoring, Offline, Online, Error, Stopped}

var validTransitions = map[State][]State{
	Booting:   {Restoring, Error, Stopped},
	Restoring: {Offline, Online, Error, Stopped},
	Offline:   {Online, Error, Stopped},
	Online:    {Offline, Error, Stopped},
	Error:     {Booting, Stopped},
}

// Machine tracks and enforces link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Booting state.
func NewMachine(b *bus.Bus) *Machine {
	m := &Machine{current: Booting, bus: b}
	metrics.SetLinkState(string(Booting), labels())
	return m
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Moving to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	metrics.SetLinkState(string(to), labels())
	m.bus.Publish(bus.Event{
		Kind:    bus.KindLinkChanged,
		Payload: Change{From: from, To: to},
	})
	return nil
}

// Change is the payload of link change events.
type Change struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func labels() []string {
	out := make([]string, len(All))
	for i, s := range All {
		out[i] = string(s)
	}
	return out
}
