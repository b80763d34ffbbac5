package core

import "sync"

// Subject fans a value out to subscribers in subscription order.
// Publish is synchronous: every callback returns before Publish does.
// Callbacks may subscribe or unsubscribe while being notified.
type Subject[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a func that removes it. Unsubscribing twice is harmless.
func (s *Subject[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to a snapshot of the current subscribers.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	snapshot := make([]subscription[T], len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Len returns the number of live subscriptions.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
