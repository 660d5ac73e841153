package eventbus

import (
	"context"
	"sync"
)

// spillRing is a bounded FIFO between the publisher and a subscriber
// channel on lossless topics. Tearing down a session tree emits one
// lifecycle event per fork in quick succession; the ring absorbs the
// burst so a slow consumer does not lose track of which sessions exist.
type spillRing struct {
	mu      sync.Mutex
	entries []Envelope
	start   int
	size    int

	wake chan struct{} // signalled on put so forward wakes up
	done chan struct{} // closed when forward exits
}

func newSpillRing(capacity int) *spillRing {
	if capacity <= 0 {
		capacity = defaultSpillCap
	}
	return &spillRing{
		entries: make([]Envelope, capacity),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// put enqueues an envelope, evicting the oldest entry when the ring is
// full. It reports whether an eviction happened.
func (r *spillRing) put(env Envelope) bool {
	r.mu.Lock()
	evicted := false
	if r.size == len(r.entries) {
		r.entries[r.start] = Envelope{}
		r.start = (r.start + 1) % len(r.entries)
		r.size--
		evicted = true
	}
	r.entries[(r.start+r.size)%len(r.entries)] = env
	r.size++
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return evicted
}

// take dequeues the oldest envelope.
func (r *spillRing) take() (Envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return Envelope{}, false
	}
	env := r.entries[r.start]
	r.entries[r.start] = Envelope{}
	r.start = (r.start + 1) % len(r.entries)
	r.size--
	return env, true
}

func (r *spillRing) depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// forward moves ring entries into ch in arrival order until ctx ends.
func (r *spillRing) forward(ctx context.Context, ch chan<- Envelope) {
	defer close(r.done)
	for {
		for {
			env, ok := r.take()
			if !ok {
				break
			}
			select {
			case ch <- env:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		}
	}
}
