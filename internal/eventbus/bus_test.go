package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/kernos-ai/kernos/internal/eventbus"
)

func TestBusPublishDeliver(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicKernelsResult)
	defer sub.Close()

	payload := eventbus.KernelResultEvent{
		SessionID: "sess-1",
		Task:      "EXEC",
		Sequence:  1,
		Payload:   []byte(`42`),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:   eventbus.TopicKernelsResult,
		Source:  eventbus.SourceSessionManager,
		Payload: payload,
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.KernelResultEvent)
		if !ok {
			t.Fatalf("expected KernelResultEvent payload, got %T", env.Payload)
		}
		if msg.Sequence != payload.Sequence {
			t.Fatalf("expected sequence %d, got %d", payload.Sequence, msg.Sequence)
		}
		if string(msg.Payload) != "42" {
			t.Fatalf("unexpected payload data: %q", string(msg.Payload))
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestBusDropOldest(t *testing.T) {
	bus := eventbus.New(eventbus.WithTopicBuffer(eventbus.TopicKernelsResult, 1))
	sub := bus.Subscribe(eventbus.TopicKernelsResult, eventbus.WithSubscriptionBuffer(1))
	defer sub.Close()

	ctx := context.Background()

	bus.Publish(ctx, eventbus.Envelope{
		Topic:  eventbus.TopicKernelsResult,
		Source: eventbus.SourceSessionManager,
		Payload: eventbus.KernelResultEvent{
			SessionID: "sess-drop",
			Sequence:  1,
		},
	})

	bus.Publish(ctx, eventbus.Envelope{
		Topic:  eventbus.TopicKernelsResult,
		Source: eventbus.SourceSessionManager,
		Payload: eventbus.KernelResultEvent{
			SessionID: "sess-drop",
			Sequence:  2,
		},
	})

	select {
	case env := <-sub.C():
		msg, ok := env.Payload.(eventbus.KernelResultEvent)
		if !ok {
			t.Fatalf("expected KernelResultEvent payload, got %T", env.Payload)
		}
		if msg.Sequence != 2 {
			t.Fatalf("expected sequence 2 after drop-oldest, got %d", msg.Sequence)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event after drops")
	}

	if sub.Dropped() == 0 {
		t.Fatal("expected the drop counter to advance")
	}
}

func TestBusShutdownClosesSubscribers(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.TopicKernelsLifecycle)

	bus.Shutdown()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected a closed channel after Shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// Closing again must not panic.
	sub.Close()
}

func TestNilBusIsInert(t *testing.T) {
	var bus *eventbus.Bus

	bus.Publish(context.Background(), eventbus.Envelope{
		Topic:   eventbus.TopicKernelsLifecycle,
		Payload: eventbus.KernelLifecycleEvent{SessionID: "s1"},
	})
	bus.Shutdown()

	sub := bus.Subscribe(eventbus.TopicKernelsLifecycle)
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected a closed channel from a nil bus")
	}
	sub.Close()
}
