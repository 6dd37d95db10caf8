package backend

import "sync"

// Emitter is a typed publish/subscribe registry, one per Backend instance,
// replacing the inherited event-emitter mixins the source used (§9). It is
// the only way either backend implementation talks to its subscribers;
// there is no shared mutable event-bus singleton.
type Emitter struct {
	mu       sync.Mutex
	handlers map[EventName][]*subscription
	seq      uint64
}

type subscription struct {
	id      uint64
	handler func(Event)
}

// NewEmitter returns a ready-to-use Emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventName][]*subscription)}
}

// On registers handler for name and returns an Unsubscribe handle. Safe to
// call from any goroutine; handler itself must not block.
func (e *Emitter) On(name EventName, handler func(Event)) Unsubscribe {
	e.mu.Lock()
	e.seq++
	sub := &subscription{id: e.seq, handler: handler}
	e.handlers[name] = append(e.handlers[name], sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		subs := e.handlers[name]
		for i, s := range subs {
			if s.id == sub.id {
				e.handlers[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit fans Event out to every handler currently registered for its Name,
// under a snapshot of the handler slice so a handler unsubscribing itself
// (or another) mid-emit never mutates the slice being ranged over.
func (e *Emitter) Emit(evt Event) {
	e.mu.Lock()
	subs := append([]*subscription(nil), e.handlers[evt.Name]...)
	e.mu.Unlock()

	for _, s := range subs {
		s.handler(evt)
	}
}
