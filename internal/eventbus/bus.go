// Package eventbus fans kernel session events out to in-process
// consumers: the gateway bridges them onto WebSocket clients, tests
// observe lifecycle transitions through them. Publishing never blocks
// the session manager; a subscriber that cannot keep up loses its
// oldest events, except on spill topics, where a bounded ring absorbs
// bursts first.
package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer   = 64
	defaultSpillCap = 512
)

// Bus routes envelopes from publishers to topic subscribers.
type Bus struct {
	logger *log.Logger

	mu        sync.RWMutex
	subs      map[Topic]map[uint64]*Subscription
	buffers   map[Topic]int
	spillCaps map[Topic]int
	lastID    uint64
}

// New builds a bus tuned for the kernel topic set: deep buffers on the
// chatty result and message topics, spill rings on the topics whose
// loss would leave consumers with a stale view of the session tree.
func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger: log.Default(),
		subs:   make(map[Topic]map[uint64]*Subscription),
		buffers: map[Topic]int{
			TopicKernelsLifecycle: 256,
			TopicKernelsResult:    1024,
			TopicKernelsMessage:   1024,
			TopicKernelsForked:    64,
		},
		spillCaps: map[Topic]int{
			TopicKernelsLifecycle: defaultSpillCap,
			TopicKernelsForked:    defaultSpillCap,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BusOption customises a Bus.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the default subscriber channel depth for a topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.buffers[topic] = size
	}
}

// WithSpill places a bounded spill ring of the given capacity between
// the publisher and every subscriber of the topic.
func WithSpill(topic Topic, capacity int) BusOption {
	return func(b *Bus) {
		b.spillCaps[topic] = capacity
	}
}

// Publish delivers the envelope to every subscriber of its topic. A nil
// bus swallows the event, so components can publish unconditionally.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil {
		return
	}
	b.publish(ctx, env)
}

func (b *Bus) publish(ctx context.Context, env Envelope) {
	if env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[env.Topic] {
		sub.deliver(ctx, env)
	}
}

// Subscribe registers a raw subscriber on the topic. Most callers want
// the typed SubscribeTo instead. A nil bus returns a subscription whose
// channel is already closed.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		ch := make(chan Envelope)
		close(ch)
		sub := &Subscription{ch: ch}
		sub.closed.Store(true)
		return sub
	}

	cfg := subscriptionConfig{buffer: b.buffers[topic]}
	if cfg.buffer <= 0 {
		cfg.buffer = defaultBuffer
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		topic:  topic,
		id:     atomic.AddUint64(&b.lastID, 1),
		ch:     make(chan Envelope, cfg.buffer),
		logger: b.logger,
		bus:    b,
	}
	if capacity, ok := b.spillCaps[topic]; ok {
		sub.spill = newSpillRing(capacity)
		spillCtx, cancel := context.WithCancel(context.Background())
		sub.spillCancel = cancel
		go sub.spill.forward(spillCtx, sub.ch)
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Shutdown closes every subscription and empties the routing table.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.closeLocked()
		}
		delete(b.subs, topic)
	}
}

// SubscriptionOption customises one subscription.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	buffer int
}

// WithSubscriptionBuffer overrides the channel depth for a subscription.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.buffer = size
		}
	}
}

// Subscription is one raw consumer of a topic.
type Subscription struct {
	topic  Topic
	id     uint64
	ch     chan Envelope
	logger *log.Logger
	bus    *Bus

	closed      atomic.Bool
	dropped     atomic.Uint64
	spill       *spillRing
	spillCancel context.CancelFunc
}

// C exposes the event channel. It closes when the subscription does.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Dropped reports how many events this subscriber has lost so far.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.stopSpill()
	if s.bus != nil {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.topic], s.id)
		s.bus.mu.Unlock()
	}
	close(s.ch)
}

// closeLocked is Close for callers already holding the bus lock.
func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.stopSpill()
	close(s.ch)
}

// stopSpill cancels the forwarder and waits for it to stop sending.
func (s *Subscription) stopSpill() {
	if s.spillCancel != nil {
		s.spillCancel()
	}
	if s.spill != nil {
		<-s.spill.done
	}
}

func (s *Subscription) deliver(ctx context.Context, env Envelope) {
	if s.closed.Load() {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	// Spill topics route everything through the ring; mixing direct
	// channel sends with the forwarder would reorder events.
	if s.spill != nil {
		if s.spill.put(env) {
			s.noteDrop("spill full")
		}
		return
	}

	select {
	case s.ch <- env:
		return
	default:
	}

	// Full channel: sacrifice the oldest event so the stream stays fresh.
	select {
	case <-s.ch:
		s.noteDrop("buffer full")
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.noteDrop("buffer full")
	}
}

func (s *Subscription) noteDrop(cause string) {
	count := s.dropped.Add(1)
	if s.logger != nil {
		s.logger.Printf("[EventBus] dropped event #%d on %s (%s)", count, s.topic, cause)
	}
}
