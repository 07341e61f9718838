package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/ventchat/internal/bus"
)

// State represents the lifecycle state of an offline session.
type State string

const (
	Uninitialized State = "UNINITIALIZED"
	Initializing  State = "INITIALIZING"
	Initialized   State = "INITIALIZED"
)

// validTransitions defines allowed lifecycle transitions.
var validTransitions = map[State][]State{
	Uninitialized: {Initializing},
	Initializing:  {Initialized, Uninitialized},
	Initialized:   {Uninitialized},
}

// Machine tracks and enforces session lifecycle transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Uninitialized state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Uninitialized,
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
			Kind:      "session.status_changed",
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
