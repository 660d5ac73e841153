package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestConsumeForwardsPayload(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := Subscribe[KernelMessageEvent](bus, TopicKernelsMessage)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan KernelMessageEvent, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(ctx, sub, func(evt KernelMessageEvent) {
			received <- evt
		})
	}()

	bus.publish(context.Background(), Envelope{
		Topic:   TopicKernelsMessage,
		Payload: KernelMessageEvent{SessionID: "s1", Task: "EVAL", Message: "hello"},
	})

	select {
	case got := <-received:
		if got.SessionID != "s1" || got.Task != "EVAL" || got.Message != "hello" {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for consume payload")
	}

	cancel()
	waitClosed(t, done)
}

func TestConsumeReturnsWhenSubscriptionClosed(t *testing.T) {
	bus := New()
	defer bus.Shutdown()

	sub := Subscribe[KernelMessageEvent](bus, TopicKernelsMessage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(context.Background(), sub, func(KernelMessageEvent) {})
	}()

	sub.Close()
	waitClosed(t, done)
}

func TestConsumeWithNilSubscription(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume[KernelMessageEvent](context.Background(), nil, func(KernelMessageEvent) {})
	}()
	waitClosed(t, done)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish in time")
	}
}
