// Package broadcast fans values out to any number of buffered subscribers.
package broadcast

import "sync"

type subscriber[T any] struct {
	ch   chan T
	once sync.Once
}

// Hub delivers each sent value to every subscriber. Sends never block: a subscriber
// whose buffer is full misses the value.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[*subscriber[T]]struct{}
	dropped uint64
	closed  bool
}

func New[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*subscriber[T]]struct{})}
}

// Subscribe registers a subscriber with the given buffer. The returned func
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscriber[T]{ch: make(chan T, buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.remove(sub) }
}

func (h *Hub[T]) remove(sub *subscriber[T]) {
	sub.once.Do(func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		close(sub.ch)
	})
}

// Send delivers v and returns the number of subscribers that received it.
func (h *Hub[T]) Send(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for sub := range h.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			h.dropped++
		}
	}
	return delivered
}

func (h *Hub[T]) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close unsubscribes everyone. Later subscribers receive a closed channel.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber[T], 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.remove(sub)
	}
}
