package core

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be canceled before it fires.
type Timer interface {
	Stop() bool
}

// Clock provides time and timer scheduling that can be replaced in tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// AfterFunc runs fn on its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc schedules fn using time.AfterFunc.
//
//nolint:ireturn // *time.Timer satisfies Timer; callers only need Stop.
func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// TimerSet tracks the timers owned by one component so they can be canceled together
// when the component is torn down. Callbacks never run after Close returns.
type TimerSet struct {
	clock Clock

	mu     sync.Mutex
	next   uint64
	timers map[uint64]Timer
	closed bool
}

// NewTimerSet creates a TimerSet scheduling on clock.
func NewTimerSet(clock Clock) *TimerSet {
	if clock == nil {
		clock = RealClock{}
	}
	return &TimerSet{clock: clock, timers: make(map[uint64]Timer)}
}

// After schedules fn after d and returns a func that cancels it.
// Scheduling on a closed set is a no-op.
func (s *TimerSet) After(d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	s.next++
	id := s.next
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		closed := s.closed
		s.mu.Unlock()
		if !live || closed {
			return
		}
		fn()
	})

	return func() { s.cancel(id) }
}

func (s *TimerSet) cancel(id uint64) {
	s.mu.Lock()
	t, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// Pending returns the number of scheduled callbacks that have not fired.
func (s *TimerSet) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// StopAll cancels every pending timer but keeps the set usable.
func (s *TimerSet) StopAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[uint64]Timer)
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

// Close cancels every pending timer and rejects further scheduling.
func (s *TimerSet) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll()
}
