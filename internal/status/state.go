package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
)

// State represents a bridge runtime state. After boot the reconciliation
// loop drives the Idle -> Scanning -> Dispatching -> Sleeping cycle.
type State string

const (
	Booting     State = "BOOTING"
	Idle        State = "IDLE"
	Scanning    State = "SCANNING"
	Dispatching State = "DISPATCHING"
	Sleeping    State = "SLEEPING"
	Stopped     State = "STOPPED"
	Error       State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:     {Idle, Error},
	Idle:        {Scanning, Stopped, Error},
	Scanning:    {Dispatching, Sleeping, Stopped, Error},
	Dispatching: {Sleeping, Stopped, Error},
	Sleeping:    {Scanning, Stopped, Error},
	Error:       {Sleeping, Scanning, Stopped, Booting},
	Stopped:     {},
}

// Machine tracks and enforces bridge runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "bridge.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
