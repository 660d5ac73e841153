package eventbus

import "context"

// Consume forwards typed payloads to handler until the context ends or
// the subscription closes. It blocks; run it on a worker goroutine.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], handler func(T)) {
	if sub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C():
			if !ok {
				return
			}
			handler(env.Payload)
		}
	}
}
