package events

import (
	"testing"
	"time"
)

func TestBus_PublishToSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(ServerStarting{ServerID: "srv_1"})

	select {
	case ev := <-ch:
		starting, ok := ev.(ServerStarting)
		if !ok {
			t.Fatalf("expected ServerStarting, got %T", ev)
		}
		if starting.ServerID != "srv_1" {
			t.Errorf("unexpected server id: %s", starting.ServerID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	bus.Publish(ToolCalled{ServerID: "srv_1", CallID: "call_1", Tool: "search"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind() != "tool.called" {
				t.Errorf("subscriber %d: unexpected kind %s", i, ev.Kind())
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBusWithBuffer(2)
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	// Nobody drains; publishing far past the buffer must still return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TextDelta{TurnID: "turn_1", Delta: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_SlowSubscriberSeesNewestEvents(t *testing.T) {
	bus := NewBusWithBuffer(1)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(TextDelta{TurnID: "t", Delta: "old"})
	bus.Publish(TextDelta{TurnID: "t", Delta: "new"})

	ev := <-ch
	if ev.(TextDelta).Delta != "new" {
		t.Errorf("expected oldest event to be dropped, got %q", ev.(TextDelta).Delta)
	}
}

func TestBus_CancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after cancel")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
}

func TestBus_CloseIsTerminal(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe()
	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed on bus close")
	}

	// Publish after close is a no-op.
	bus.Publish(ServerStopped{ServerID: "srv_1"})

	ch2, _ := bus.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("expected immediate close for subscription after Close")
	}
}
