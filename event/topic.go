// Package event provides typed, synchronous publish/subscribe topics.
package event

import "sync"

// Topic fans a value out to every subscriber in subscription order.
//
// Publish calls handlers on the publishing goroutine, so a handler
// observes values in exactly the order they were published. The zero
// value is ready to use.
type Topic[T any] struct {
	mx     sync.RWMutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (cancel func()) {
	t.mx.Lock()
	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	t.mx.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

// SubscribeChan delivers values to a buffered channel. Values are dropped
// when the channel is full so a slow reader never stalls the publisher.
func (t *Topic[T]) SubscribeChan(size int) (<-chan T, func()) {
	ch := make(chan T, size)
	var mx sync.Mutex
	closed := false
	cancel := t.Subscribe(func(v T) {
		mx.Lock()
		defer mx.Unlock()
		if closed {
			return
		}
		select {
		case ch <- v:
		default:
		}
	})

	return ch, func() {
		cancel()
		mx.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mx.Unlock()
	}
}

func (t *Topic[T]) remove(id int) {
	t.mx.Lock()
	defer t.mx.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to all current subscribers.
func (t *Topic[T]) Publish(v T) {
	t.mx.RLock()
	subs := t.subs
	t.mx.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of subscribers.
func (t *Topic[T]) Len() int {
	t.mx.RLock()
	defer t.mx.RUnlock()
	return len(t.subs)
}
