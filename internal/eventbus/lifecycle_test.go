package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingCloser struct {
	closes atomic.Int32
}

func (c *countingCloser) Close() { c.closes.Add(1) }

func TestSubscriptionGroupClosesOnce(t *testing.T) {
	var group SubscriptionGroup
	first := &countingCloser{}
	second := &countingCloser{}

	group.Add(first, nil, second)
	group.CloseAll()
	group.CloseAll()

	if first.closes.Load() != 1 || second.closes.Load() != 1 {
		t.Fatalf("expected one close each, got %d and %d", first.closes.Load(), second.closes.Load())
	}
}

func TestServiceLifecycleShutdown(t *testing.T) {
	var lifecycle ServiceLifecycle
	lifecycle.Start(context.Background())

	sub := &countingCloser{}
	lifecycle.AddSubscriptions(sub)

	workerDone := make(chan struct{})
	lifecycle.Go(func(ctx context.Context) {
		<-ctx.Done()
		close(workerDone)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-workerDone:
	default:
		t.Fatal("worker still running after Shutdown returned")
	}
	if sub.closes.Load() != 1 {
		t.Fatalf("expected subscription closed once, got %d", sub.closes.Load())
	}
}

func TestServiceLifecycleWaitHonorsDeadline(t *testing.T) {
	var lifecycle ServiceLifecycle
	lifecycle.Start(context.Background())

	release := make(chan struct{})
	lifecycle.Go(func(context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lifecycle.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	close(release)
	lifecycle.Stop()
}
