package eventbus

import (
	"context"
	"sync"
)

// Consume pumps payloads from sub into fn until the context ends or the
// subscription closes. A non-nil WaitGroup is marked done on return so
// callers can fence shutdown on their consumers.
func Consume[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, fn func(T)) {
	ConsumeEnvelope(ctx, sub, wg, func(env TypedEnvelope[T]) { fn(env.Payload) })
}

// ConsumeEnvelope is Consume for handlers that need envelope metadata
// (timestamp, source, correlation id) alongside the payload.
func ConsumeEnvelope[T any](ctx context.Context, sub *TypedSubscription[T], wg *sync.WaitGroup, fn func(TypedEnvelope[T])) {
	if wg != nil {
		defer wg.Done()
	}
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
			fn(env)
		}
	}
}
