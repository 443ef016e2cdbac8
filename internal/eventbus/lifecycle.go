package eventbus

import (
	"reflect"
	"sync"
)

// SubscriptionCloser is the closeable half of a subscription. Both raw
// and typed subscriptions satisfy it, so a group can hold a mix.
type SubscriptionCloser interface {
	Close()
}

// SubscriptionGroup collects subscriptions that share a lifetime, so a
// component can close everything it opened with one call on shutdown.
// The zero value is ready to use.
type SubscriptionGroup struct {
	mu   sync.Mutex
	held []SubscriptionCloser
}

// Add adopts subscriptions into the group. Nil values, including typed
// nil pointers inside the interface, are skipped.
func (g *SubscriptionGroup) Add(subs ...SubscriptionCloser) {
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sub := range subs {
		if holdsValue(sub) {
			g.held = append(g.held, sub)
		}
	}
}

// CloseAll closes every adopted subscription and empties the group.
// Subsequent calls are no-ops until more subscriptions are added.
func (g *SubscriptionGroup) CloseAll() {
	if g == nil {
		return
	}

	g.mu.Lock()
	held := g.held
	g.held = nil
	g.mu.Unlock()

	for _, sub := range held {
		sub.Close()
	}
}

// holdsValue reports whether the interface carries a usable closer. A
// typed nil pointer would pass a plain nil check and then panic on
// Close, so the pointer itself is inspected.
func holdsValue(sub SubscriptionCloser) bool {
	if sub == nil {
		return false
	}
	v := reflect.ValueOf(sub)
	if v.Kind() == reflect.Pointer {
		return !v.IsNil()
	}
	return true
}
