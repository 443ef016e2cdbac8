package eventbus

import (
	"context"
	"time"
)

// TopicDef pins a payload type to a topic string at compile time, so a
// publisher cannot put a ListeningEvent on the dev-server topic and a
// subscriber cannot expect one there.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef builds a typed descriptor for topic.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the descriptor's topic string.
func (def TopicDef[T]) Topic() Topic { return def.topic }

// PublishOption adjusts the envelope built by PublishWithOpts.
type PublishOption func(*Envelope)

// WithTimestamp pins the envelope timestamp instead of stamping publish
// time.
func WithTimestamp(ts time.Time) PublishOption {
	return func(env *Envelope) { env.Timestamp = ts }
}

// WithCorrelationID tags the envelope with a correlation id, typically
// the bridge session UUID.
func WithCorrelationID(id string) PublishOption {
	return func(env *Envelope) { env.CorrelationID = id }
}

// Publish sends payload on the descriptor's topic. A nil bus is a no-op,
// which lets components publish unconditionally whether or not serve
// wired a bus.
func Publish[T any](ctx context.Context, bus *Bus, def TopicDef[T], source Source, payload T) {
	PublishWithOpts(ctx, bus, def, source, payload)
}

// PublishWithOpts is Publish with envelope options applied before fanout.
func PublishWithOpts[T any](ctx context.Context, bus *Bus, def TopicDef[T], source Source, payload T, opts ...PublishOption) {
	if bus == nil {
		return
	}
	env := Envelope{
		Topic:   def.topic,
		Source:  source,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(&env)
	}
	bus.publish(ctx, env)
}

// SubscribeTo opens a typed subscription whose payload type is taken
// from the descriptor rather than spelled at the call site.
func SubscribeTo[T any](bus *Bus, def TopicDef[T], opts ...SubscriptionOption) *TypedSubscription[T] {
	return Subscribe[T](bus, def.topic, opts...)
}
