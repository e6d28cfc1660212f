package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("ingest.", 10)
	defer unsub()

	b.Publish(Event{Kind: "ingest.message", Timestamp: time.Now(), Payload: "msg-1"})

	select {
	case evt := <-ch:
		if evt.Kind != "ingest.message" {
			t.Errorf("got kind %q, want ingest.message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("reply.", 10)
	defer unsub()

	b.Publish(Event{Kind: "ingest.message"})
	b.Publish(Event{Kind: "reply.sent"})

	select {
	case evt := <-ch:
		if evt.Kind != "reply.sent" {
			t.Errorf("got kind %q, want reply.sent", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the ingest event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("ingest.", 10)
	unsub()

	b.Publish(Event{Kind: "ingest.message"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
