package status

import (
	"testing"
	"time"

	"github.com/matheus3301/chatbridge/internal/bus"
)

func TestLoopCycleTransitions(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Idle, Scanning, Dispatching, Sleeping, Scanning, Sleeping, Stopped}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition(%s) from %s error = %v", s, m.Current(), err)
		}
	}
	if m.Current() != Stopped {
		t.Errorf("state = %s, want STOPPED", m.Current())
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)

	// Booting cannot jump straight to Dispatching.
	if err := m.Transition(Dispatching); err == nil {
		t.Error("expected error for BOOTING -> DISPATCHING")
	}
	if m.Current() != Booting {
		t.Errorf("state changed on invalid transition: %s", m.Current())
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Idle); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Stopped); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Scanning); err == nil {
		t.Error("expected error leaving STOPPED")
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)

	ch, unsub := b.Subscribe("bridge.status_changed", 10)
	defer unsub()

	if err := m.Transition(Idle); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if change.From != Booting || change.To != Idle {
			t.Errorf("change = %+v, want BOOTING -> IDLE", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
