package transport

import (
	"context"
	"sync"
)

// Hub is an in-process PubSubChannel. Publish delivers synchronously on the
// caller's goroutine, in subscription order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string][]hubSubscriber
	nextID uint64
}

type hubSubscriber struct {
	id      uint64
	handler Handler
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]hubSubscriber)}
}

func (h *Hub) Publish(_ context.Context, channel string, data []byte) error {
	h.mu.RLock()
	subs := make([]hubSubscriber, len(h.subs[channel]))
	copy(subs, h.subs[channel])
	h.mu.RUnlock()

	for _, s := range subs {
		msg := make([]byte, len(data))
		copy(msg, data)
		s.handler(msg)
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, channel string, handler Handler) (Subscription, error) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[channel] = append(h.subs[channel], hubSubscriber{id: id, handler: handler})
	h.mu.Unlock()

	var once sync.Once
	return subscriptionFunc(func() error {
		once.Do(func() { h.remove(channel, id) })
		return nil
	}), nil
}

func (h *Hub) remove(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[channel]
	for i, s := range subs {
		if s.id == id {
			h.subs[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[channel]) == 0 {
		delete(h.subs, channel)
	}
}

// Subscribers returns the number of live subscriptions on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
