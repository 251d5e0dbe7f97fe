// Package bus provides typed publish/subscribe hubs.
//
// A Hub delivers each published value to every current subscriber.
// Subscribing returns a Token; the token is the only handle needed to
// unsubscribe again, so callers never have to keep the handler around.
package bus

import (
	"sync"

	"github.com/google/uuid"
)

// Token identifies a single subscription on a Hub.
type Token string

// Handler receives published values. Handlers run on the publisher's
// goroutine and should not block.
type Handler[E any] func(E)

type subscription[E any] struct {
	seq     uint64
	handler Handler[E]
}

// Hub routes values of type E to subscribers.
type Hub[E any] struct {
	subscribers map[Token]subscription[E]
	seq         uint64
	mu          sync.RWMutex
}

func NewHub[E any]() *Hub[E] {
	return &Hub[E]{
		subscribers: make(map[Token]subscription[E]),
	}
}

// Subscribe registers a handler. Returns the token for Unsubscribe.
func (h *Hub[E]) Subscribe(handler Handler[E]) Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	tok := Token(uuid.NewString())
	h.subscribers[tok] = subscription[E]{seq: h.seq, handler: handler}
	return tok
}

// Unsubscribe removes a subscriber. Unknown tokens are ignored.
func (h *Hub[E]) Unsubscribe(tok Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, tok)
}

// Publish delivers v to all subscribers in subscription order.
func (h *Hub[E]) Publish(v E) {
	for _, handler := range h.snapshot() {
		handler(v)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub[E]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// snapshot copies the handlers so that a handler may unsubscribe itself
// (or others) without deadlocking against Publish.
func (h *Hub[E]) snapshot() []Handler[E] {
	h.mu.RLock()
	subs := make([]subscription[E], 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	// insertion sort, subscriber counts are tiny
	for i := 1; i < len(subs); i++ {
		for j := i; j > 0 && subs[j].seq < subs[j-1].seq; j-- {
			subs[j], subs[j-1] = subs[j-1], subs[j]
		}
	}
	handlers := make([]Handler[E], len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	return handlers
}
