package status

import (
	"testing"

	"github.com/baileysgo/relaycore/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Idle, Relaying},
		{Relaying, Idle},
		{Relaying, Degraded},
		{Relaying, Error},
		{Degraded, Idle},
		{Degraded, Relaying},
		{Error, Idle},
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
	if err := m.Transition(Degraded); err == nil {
		t.Error("Transition(IDLE -> DEGRADED) should fail")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("relay.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Relaying); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "relay.status_changed" {
		t.Errorf("event kind = %q, want relay.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Relaying {
		t.Errorf("change = %v -> %v, want IDLE -> RELAYING", change.From, change.To)
	}
}

// TestDegradedRecoversToIdle verifies DEGRADED, the state a call ends in
// after a V6-compat fallback, is not terminal: the machine allows
// DEGRADED -> IDLE.
func TestDegradedRecoversToIdle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Degraded)
	if err := m.Transition(Idle); err != nil {
		t.Fatalf("DEGRADED -> IDLE: %v", err)
	}
	if m.Current() != Idle {
		t.Errorf("state = %s, want IDLE", m.Current())
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Idle:     {},
		Relaying: {Relaying},
		Degraded: {Relaying, Degraded},
		Error:    {Relaying, Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
