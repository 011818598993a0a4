// Package pubsub fans values out per key. A new subscriber immediately
// receives the last value published for its key.
package pubsub

import (
	"context"
	"sync"
)

type Broker[K comparable, V any] struct {
	mu     sync.Mutex
	buffer int
	nextID int
	last   map[K]V
	subs   map[K]map[int]*subscription[V]

	// watchers counts the goroutines waiting on subscriber contexts.
	watchers sync.WaitGroup
}

type subscription[V any] struct {
	ch   chan V
	done chan struct{}
	stop sync.Once
}

// end releases the context watcher. Safe to call more than once.
func (s *subscription[V]) end() {
	s.stop.Do(func() { close(s.done) })
}

// NewBroker creates a broker whose subscriber channels hold up to buffer
// values. A slow subscriber loses the oldest pending value, never the newest.
func NewBroker[K comparable, V any](buffer int) *Broker[K, V] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker[K, V]{
		buffer: buffer,
		last:   make(map[K]V),
		subs:   make(map[K]map[int]*subscription[V]),
	}
}

func (b *Broker[K, V]) Publish(key K, value V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[key] = value
	for _, sub := range b.subs[key] {
		deliver(sub.ch, value)
	}
}

func deliver[V any](ch chan V, value V) {
	for {
		select {
		case ch <- value:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Subscribe returns a channel of values for key. It is closed when ctx is
// done, the returned cancel func is called or the key is closed.
func (b *Broker[K, V]) Subscribe(ctx context.Context, key K) (<-chan V, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscription[V]{ch: make(chan V, b.buffer), done: make(chan struct{})}
	if value, ok := b.last[key]; ok {
		sub.ch <- value
	}
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]*subscription[V])
	}
	b.subs[key][id] = sub
	b.watchers.Add(1)
	b.mu.Unlock()

	cancel := func() {
		sub.end()
		b.unsubscribe(id)
	}
	go func() {
		defer b.watchers.Done()
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.ch, cancel
}

func (b *Broker[K, V]) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// the key may have been renamed since subscribing
	for k, subs := range b.subs {
		if sub, ok := subs[id]; ok {
			delete(subs, id)
			close(sub.ch)
			if len(subs) == 0 {
				delete(b.subs, k)
			}
			return
		}
	}
}

func (b *Broker[K, V]) Last(key K) (V, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.last[key]
	return v, ok
}

// Rename moves the last value and all subscribers of from onto to.
func (b *Broker[K, V]) Rename(from, to K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if from == to {
		return
	}
	if v, ok := b.last[from]; ok {
		b.last[to] = v
		delete(b.last, from)
	}
	if subs, ok := b.subs[from]; ok {
		if b.subs[to] == nil {
			b.subs[to] = make(map[int]*subscription[V])
		}
		for id, sub := range subs {
			b.subs[to][id] = sub
		}
		delete(b.subs, from)
	}
}

// Close ends every subscription of key and forgets its last value.
func (b *Broker[K, V]) Close(key K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, key)
	for _, sub := range b.subs[key] {
		close(sub.ch)
		sub.end()
	}
	delete(b.subs, key)
}

func (b *Broker[K, V]) SubscriberCount(key K) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}
