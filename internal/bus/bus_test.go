package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("cache.", 10)
	defer unsub()

	b.Emit(KindChatsChanged, ChatRef{ChatID: "c1"})

	select {
	case evt := <-ch:
		if evt.Kind != KindChatsChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChatsChanged)
		}
		if ref, ok := evt.Payload.(ChatRef); !ok || ref.ChatID != "c1" {
			t.Errorf("payload = %#v, want ChatRef{c1}", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit() left Timestamp zero")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("send.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessagesChanged})
	b.Publish(Event{Kind: KindMessageConfirmed})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageConfirmed {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageConfirmed)
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

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: KindStatusChanged})

	if evt, ok := <-ch; ok {
		t.Errorf("received event after unsubscribe: %v", evt)
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestForward(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan string, 4)
	done := b.Forward(ctx, "send.", 4, func(evt Event) { got <- evt.Kind })

	b.Emit(KindMessagesChanged, nil)
	b.Emit(KindMessageFailed, ChatRef{ChatID: "c1"})

	select {
	case kind := <-got:
		if kind != KindMessageFailed {
			t.Errorf("forwarded %q, want %s", kind, KindMessageFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forwarded event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Forward did not stop after cancel")
	}
}

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Emit(KindCheckpoint, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus reported drops")
	}
}
