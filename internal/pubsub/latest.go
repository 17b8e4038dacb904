// Package pubsub provides a last-value-wins broadcast cell with replay of the
// most recent value to late subscribers.
package pubsub

import (
	"context"
	"sync"
)

// Latest holds the most recently published value and fans it out to
// subscribers. Slow subscribers only ever see the newest value; intermediate
// values may be skipped.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	has    bool
	ready  chan struct{}
	equal  func(a, b T) bool
	subs   map[uint64]chan T
	nextID uint64
}

// NewLatest creates an empty cell. When equal is non-nil, publishing a value
// equal to the current one is a no-op.
func NewLatest[T any](equal func(a, b T) bool) *Latest[T] {
	return &Latest[T]{
		ready: make(chan struct{}),
		equal: equal,
		subs:  make(map[uint64]chan T),
	}
}

// Publish stores v and notifies subscribers. It reports whether v was emitted.
func (l *Latest[T]) Publish(v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.has && l.equal != nil && l.equal(l.value, v) {
		return false
	}

	l.value = v
	if !l.has {
		l.has = true
		close(l.ready)
	}

	for _, ch := range l.subs {
		offer(ch, v)
	}
	return true
}

// Get returns the current value, if one was published.
func (l *Latest[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.has
}

// Wait blocks until a value has been published or ctx is done.
func (l *Latest[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-l.ready:
		v, _ := l.Get()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Subscribe returns a channel that immediately yields the current value (if
// any) and then every later one. The channel is closed when ctx is done.
func (l *Latest[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	if l.has {
		ch <- l.value
	}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of live subscriptions.
func (l *Latest[T]) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// offer replaces any undelivered value in ch with v. Callers hold l.mu, so
// no other sender races on ch.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
