package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Bus routes lifecycle events between bridge components by topic. Volume
// is a handful of envelopes per config change or dev-server transition,
// so each subscriber gets a small buffered channel and a full channel
// sheds load by policy rather than blocking the publisher.
type Bus struct {
	logger  *log.Logger
	mu      sync.RWMutex
	routes  map[Topic]map[uint64]*Subscription
	buffers map[Topic]int
	policies map[Topic]DeliveryPolicy
	lastID  uint64
}

// BusOption customises bus construction.
type BusOption func(*Bus)

// WithLogger overrides the logger that receives drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the default subscriber buffer for a topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.buffers[topic] = size
	}
}

// WithTopicPolicy overrides the backpressure policy for a topic.
func WithTopicPolicy(topic Topic, policy DeliveryPolicy) BusOption {
	return func(b *Bus) {
		b.policies[topic] = policy
	}
}

// New constructs a bus. Listening events get a small buffer since they
// fire once per bind; config and dev-server topics get room for bursts.
func New(opts ...BusOption) *Bus {
	b := &Bus{
		logger: log.Default(),
		routes: make(map[Topic]map[uint64]*Subscription),
		buffers: map[Topic]int{
			TopicBridgeListening:   16,
			TopicConfigChanged:     64,
			TopicConfigInvalidated: 64,
			TopicDevServerState:    64,
		},
		policies: make(map[Topic]DeliveryPolicy),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// publish stamps and fans the envelope out to the topic's subscribers.
// Envelopes without a topic are discarded.
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
	for _, sub := range b.routes[env.Topic] {
		sub.offer(ctx, env, b.logger)
	}
}

// Subscribe registers a raw subscriber on topic. A nil bus returns a
// subscription whose channel is already closed, so consumers ranging
// over C terminate immediately and Close stays a safe no-op.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		ch := make(chan Envelope)
		close(ch)
		sub := &Subscription{ch: ch}
		sub.closed.Store(true)
		return sub
	}

	so := subOptions{buffer: b.buffers[topic]}
	if so.buffer <= 0 {
		so.buffer = 1
	}
	for _, opt := range opts {
		opt(&so)
	}

	sub := &Subscription{
		topic:  topic,
		id:     atomic.AddUint64(&b.lastID, 1),
		name:   so.name,
		ch:     make(chan Envelope, so.buffer),
		bus:    b,
		policy: policyFor(topic, b.policies),
	}

	b.mu.Lock()
	route := b.routes[topic]
	if route == nil {
		route = make(map[uint64]*Subscription)
		b.routes[topic] = route
	}
	route[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Shutdown closes every subscription and clears the routing table.
// Safe on a nil bus.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, route := range b.routes {
		for id, sub := range route {
			sub.closeLocked()
			delete(route, id)
		}
		delete(b.routes, topic)
	}
}

type subOptions struct {
	buffer int
	name   string
}

// SubscriptionOption customises a single subscription.
type SubscriptionOption func(*subOptions)

// WithSubscriptionBuffer overrides the subscriber's channel buffer.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(so *subOptions) {
		if size > 0 {
			so.buffer = size
		}
	}
}

// WithSubscriptionName labels the subscription in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(so *subOptions) {
		so.name = name
	}
}

// Subscription is one consumer's view of a topic.
type Subscription struct {
	topic Topic
	id    uint64
	name  string
	ch    chan Envelope

	bus     *Bus
	closed  atomic.Bool
	dropped atomic.Uint64
	policy  DeliveryPolicy
}

// C exposes the receive channel. It is closed when the subscription
// closes.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Dropped reports how many envelopes this subscription has shed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.bus == nil {
		close(s.ch)
		return
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if route, ok := s.bus.routes[s.topic]; ok {
		delete(route, s.id)
	}
	close(s.ch)
}

// closeLocked closes the subscription while the caller holds the bus
// write lock.
func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.ch)
}

// offer attempts a non-blocking delivery, falling back to the topic's
// backpressure policy when the channel is full.
func (s *Subscription) offer(ctx context.Context, env Envelope, logger *log.Logger) {
	if s.closed.Load() || ctx.Err() != nil {
		return
	}

	select {
	case s.ch <- env:
		return
	default:
	}

	if s.policy.Strategy == StrategyDropNewest {
		s.countDrop(logger, "drop-newest")
		return
	}

	// Drop-oldest: evict the head to make room, then retry once. A
	// concurrent reader may have emptied the slot in between, in which
	// case the eviction select falls through and the send succeeds.
	select {
	case <-s.ch:
		s.countDrop(logger, "drop-oldest")
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.countDrop(logger, "drop-race")
	}
}

func (s *Subscription) countDrop(logger *log.Logger, mode string) {
	n := s.dropped.Add(1)
	if logger == nil {
		return
	}
	name := s.name
	if name == "" {
		name = "subscriber"
	}
	logger.Printf("[EventBus] %s shed envelope #%d on %s (%s)", name, n, s.topic, mode)
}
