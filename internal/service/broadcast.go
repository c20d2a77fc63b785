package service

import (
	"sync"
	"sync/atomic"
)

// Subscription is one consumer's view of a broadcast hub. C receives only
// values published after Subscribe returned; it is closed when the key
// completes or the subscription is closed.
type Subscription[T any] struct {
	C <-chan T

	key  string
	ch   chan T
	b    *Broadcaster[T]
	once sync.Once
}

// Close detaches the subscription. The hub is removed with its last
// subscriber. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.b.detach(s)
	})
}

type hub[T any] struct {
	subs map[*Subscription[T]]struct{}
}

// Broadcaster fans values out to per-key hubs. Publishing never blocks: a
// subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	mu         sync.RWMutex
	hubs       map[string]*hub[T]
	bufferSize int
	dropped    atomic.Int64
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer bufferSize values.
func NewBroadcaster[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster[T]{
		hubs:       make(map[string]*hub[T]),
		bufferSize: bufferSize,
	}
}

// Subscribe attaches a new subscriber to key, creating the hub on first use.
func (b *Broadcaster[T]) Subscribe(key string) *Subscription[T] {
	ch := make(chan T, b.bufferSize)
	sub := &Subscription[T]{C: ch, key: key, ch: ch, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hubs[key]
	if !ok {
		h = &hub[T]{subs: make(map[*Subscription[T]]struct{})}
		b.hubs[key] = h
	}
	h.subs[sub] = struct{}{}
	return sub
}

func (b *Broadcaster[T]) detach(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hubs[sub.key]
	if !ok {
		return
	}
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	if len(h.subs) == 0 {
		delete(b.hubs, sub.key)
	}
}

// Publish delivers v to every current subscriber of key.
func (b *Broadcaster[T]) Publish(key string, v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h, ok := b.hubs[key]
	if !ok {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Complete delivers the final value to every subscriber of key, closes
// their channels and removes the hub. A full buffer gives up its oldest
// value so the final one always lands.
func (b *Broadcaster[T]) Complete(key string, final T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.hubs[key]
	if !ok {
		return
	}
	for sub := range h.subs {
		select {
		case sub.ch <- final:
		default:
			select {
			case <-sub.ch:
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- final:
			default:
			}
		}
		close(sub.ch)
	}
	delete(b.hubs, key)
}

// Has reports whether key has at least one subscriber.
func (b *Broadcaster[T]) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.hubs[key]
	return ok
}

// Subscribers returns the number of subscribers attached to key.
func (b *Broadcaster[T]) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if h, ok := b.hubs[key]; ok {
		return len(h.subs)
	}
	return 0
}

// Dropped returns how many values were not delivered to a slow subscriber.
func (b *Broadcaster[T]) Dropped() int64 {
	return b.dropped.Load()
}

// Close completes every hub without a final value.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, h := range b.hubs {
		for sub := range h.subs {
			close(sub.ch)
		}
		delete(b.hubs, key)
	}
}
