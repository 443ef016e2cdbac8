package eventbus

import (
	"sync"
	"time"
)

// TypedEnvelope mirrors Envelope with a concrete payload type.
type TypedEnvelope[T any] struct {
	Topic         Topic
	Timestamp     time.Time
	Source        Source
	CorrelationID string
	Payload       T
}

// TypedSubscription narrows a raw Subscription to payloads of type T.
// Envelopes whose payload is some other type are skipped silently, so a
// topic can carry mixed payloads without poisoning typed consumers.
type TypedSubscription[T any] struct {
	raw       *Subscription
	ch        chan TypedEnvelope[T]
	done      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

// Subscribe creates a typed subscription on topic. A relay goroutine
// drains the raw subscription, asserts each payload against T and
// forwards matches on an unbuffered channel; buffering lives in the raw
// subscription, so slow typed consumers shed load there under the
// topic's policy.
//
// A nil bus yields a subscription whose channel is already closed,
// matching the raw Subscribe contract.
func Subscribe[T any](bus *Bus, topic Topic, opts ...SubscriptionOption) *TypedSubscription[T] {
	if bus == nil {
		ch := make(chan TypedEnvelope[T])
		close(ch)
		done := make(chan struct{})
		close(done)
		return &TypedSubscription[T]{ch: ch, done: done, quit: make(chan struct{})}
	}

	s := &TypedSubscription[T]{
		raw:  bus.Subscribe(topic, opts...),
		ch:   make(chan TypedEnvelope[T]),
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go s.relay()
	return s
}

// C returns the typed receive channel.
func (s *TypedSubscription[T]) C() <-chan TypedEnvelope[T] {
	return s.ch
}

// Close tears down the relay and the underlying subscription, then waits
// for the relay goroutine to exit. Safe to call more than once.
func (s *TypedSubscription[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		if s.raw != nil {
			s.raw.Close()
		}
		<-s.done
	})
}

// relay pumps raw envelopes into the typed channel until the raw channel
// closes or Close trips the quit channel. The quit case keeps Close from
// deadlocking against a consumer that stopped reading.
func (s *TypedSubscription[T]) relay() {
	defer close(s.done)
	defer close(s.ch)

	for env := range s.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		select {
		case s.ch <- TypedEnvelope[T]{
			Topic:         env.Topic,
			Timestamp:     env.Timestamp,
			Source:        env.Source,
			CorrelationID: env.CorrelationID,
			Payload:       payload,
		}:
		case <-s.quit:
			return
		}
	}
}
