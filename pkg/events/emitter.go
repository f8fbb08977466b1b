// Package events provides a typed publish/subscribe emitter for agent and
// actor events. Subscribers are invoked synchronously in registration order;
// a panicking subscriber never blocks delivery to the others.
package events

import (
	"sync"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

// Handler receives one event.
type Handler func(*types.AgentEvent)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	handler Handler
	once    bool
}

// Emitter fans events out to registered subscribers. The zero value is an
// empty emitter ready for use; New returns the same.
type Emitter struct {
	mu   sync.Mutex
	subs []*Subscription
}

// New creates an empty emitter.
func New() *Emitter {
	return &Emitter{}
}

// Subscribe registers a handler for every subsequent event.
func (e *Emitter) Subscribe(h Handler) *Subscription {
	return e.add(h, false)
}

// Once registers a handler that is removed after its first delivery.
func (e *Emitter) Once(h Handler) *Subscription {
	return e.add(h, true)
}

func (e *Emitter) add(h Handler, once bool) *Subscription {
	sub := &Subscription{handler: h, once: once}
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()
	return sub
}

// Unsubscribe removes a previously registered subscription. Removing an
// unknown or already-removed subscription is a no-op.
func (e *Emitter) Unsubscribe(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s == sub {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the event to every subscriber in registration order.
// Handler panics are swallowed so one subscriber cannot break the emitter
// or starve the others.
func (e *Emitter) Emit(event *types.AgentEvent) {
	e.mu.Lock()
	subs := make([]*Subscription, len(e.subs))
	copy(subs, e.subs)
	remaining := e.subs[:0]
	for _, s := range e.subs {
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	e.subs = remaining
	e.mu.Unlock()

	for _, s := range subs {
		deliver(s.handler, event)
	}
}

func deliver(h Handler, event *types.AgentEvent) {
	defer func() {
		_ = recover()
	}()
	h(event)
}
