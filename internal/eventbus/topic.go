package eventbus

import "context"

// TopicDef pins a topic to its payload type, so publishing a mismatched
// event is a compile error instead of a silently skipped delivery.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef builds a typed descriptor for the topic.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the raw topic string.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Publish sends one typed event on the descriptor's topic. A nil bus
// swallows it, mirroring Bus.Publish.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	if bus == nil {
		return
	}
	bus.publish(ctx, Envelope{
		Topic:   td.topic,
		Source:  source,
		Payload: payload,
	})
}

// SubscribeTo opens a typed subscription on the descriptor's topic.
func SubscribeTo[T any](bus *Bus, td TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	return Subscribe[T](bus, td.topic, opts...)
}
