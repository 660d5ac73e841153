package eventbus

import (
	"context"
	"sync"
)

// SubscriptionCloser is the slice of a subscription a group needs.
type SubscriptionCloser interface {
	Close()
}

// SubscriptionGroup collects subscriptions that share one shutdown.
type SubscriptionGroup struct {
	mu   sync.Mutex
	subs []SubscriptionCloser
}

// Add records subscriptions for CloseAll. Nil entries are skipped.
func (g *SubscriptionGroup) Add(subs ...SubscriptionCloser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			g.subs = append(g.subs, sub)
		}
	}
}

// CloseAll closes everything recorded so far and empties the group.
func (g *SubscriptionGroup) CloseAll() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// ServiceLifecycle bundles the run context, bus subscriptions and
// worker goroutines of one long-lived service, keeping Start, Stop and
// Wait symmetric. The gateway drives its hub and its bus bridges
// through one of these.
type ServiceLifecycle struct {
	ctx    context.Context
	cancel context.CancelFunc
	subs   SubscriptionGroup
	wg     sync.WaitGroup
}

// Start derives the service context from parent.
func (l *ServiceLifecycle) Start(parent context.Context) {
	l.ctx, l.cancel = context.WithCancel(parent)
}

// Context returns the active service context.
func (l *ServiceLifecycle) Context() context.Context {
	return l.ctx
}

// AddSubscriptions records subscriptions to close on Stop.
func (l *ServiceLifecycle) AddSubscriptions(subs ...SubscriptionCloser) {
	l.subs.Add(subs...)
}

// Go runs worker under the service context, tracked by Wait.
func (l *ServiceLifecycle) Go(worker func(ctx context.Context)) {
	if worker == nil {
		return
	}
	l.wg.Add(1)
	go func(ctx context.Context) {
		defer l.wg.Done()
		worker(ctx)
	}(l.ctx)
}

// Stop cancels the service context and closes recorded subscriptions.
func (l *ServiceLifecycle) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.subs.CloseAll()
}

// Wait blocks until every worker has returned or ctx expires.
func (l *ServiceLifecycle) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown is Stop followed by Wait.
func (l *ServiceLifecycle) Shutdown(ctx context.Context) error {
	l.Stop()
	return l.Wait(ctx)
}
