package eventbus

import (
	"sync"
	"time"
)

// TypedEnvelope pairs a decoded payload with its delivery metadata.
type TypedEnvelope[T any] struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   T
}

// TypedSubscription narrows a raw subscription to payloads of type T.
// Events of any other type on the topic are skipped.
type TypedSubscription[T any] struct {
	raw  *Subscription
	ch   chan TypedEnvelope[T]
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// Subscribe opens a typed subscription on the topic. A nil bus yields a
// subscription whose channel is already closed, mirroring Publish's
// nil-bus handling. The typed channel is unbuffered; backpressure is
// carried by the raw subscription's buffer.
func Subscribe[T any](bus *Bus, topic Topic, opts ...SubscriptionOption) *TypedSubscription[T] {
	ts := &TypedSubscription[T]{
		ch:   make(chan TypedEnvelope[T]),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	if bus == nil {
		close(ts.ch)
		close(ts.done)
		return ts
	}

	ts.raw = bus.Subscribe(topic, opts...)
	go ts.relay()
	return ts
}

// C returns the typed event channel. It closes when the subscription or
// the bus shuts down.
func (ts *TypedSubscription[T]) C() <-chan TypedEnvelope[T] {
	return ts.ch
}

// Close tears the subscription down. Safe to call more than once.
func (ts *TypedSubscription[T]) Close() {
	ts.once.Do(func() {
		close(ts.quit)
		if ts.raw != nil {
			ts.raw.Close()
		}
		<-ts.done
	})
}

func (ts *TypedSubscription[T]) relay() {
	defer close(ts.done)
	defer close(ts.ch)

	for env := range ts.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		typed := TypedEnvelope[T]{
			Topic:     env.Topic,
			Timestamp: env.Timestamp,
			Source:    env.Source,
			Payload:   payload,
		}
		select {
		case ts.ch <- typed:
		case <-ts.quit:
			return
		}
	}
}
