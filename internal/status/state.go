// Package status tracks the relay core's own runtime lifecycle — distinct
// from any single relay() call's success or failure — and publishes
// every transition on the bus whenever the Machine was built with a
// non-nil one; the EmitOwnEvents setting is not consulted.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/baileysgo/relaycore/internal/bus"
)

// State represents a relay core runtime state.
type State string

const (
	// Idle: no relay call in flight.
	Idle State = "IDLE"
	// Relaying: a relay() call is currently executing its pipeline.
	Relaying State = "RELAYING"
	// Degraded: the last relay() call fell back to V6-compat leniency
	// (a session assert or per-device encryption failure was swallowed).
	Degraded State = "DEGRADED"
	// Error: the last relay() call failed fatally (strict mode).
	Error State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:     {Relaying, Error},
	Relaying: {Idle, Degraded, Error},
	Degraded: {Idle, Relaying, Error},
	Error:    {Idle},
}

// Machine tracks and enforces relay core runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
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
			Kind:      "relay.status_changed",
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
