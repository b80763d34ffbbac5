package service

import (
	"sync"
	"time"

	"github.com/target/canvas-bridge/internal/core"
)

// recentSet remembers keys for a short window. The OS can deliver the same redirect
// twice (live event plus initial URL), and one-time codes must be processed once.
type recentSet struct {
	window time.Duration
	clock  core.Clock

	mu   sync.Mutex
	seen map[string]time.Time
}

func newRecentSet(window time.Duration, clock core.Clock) *recentSet {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &recentSet{window: window, clock: clock, seen: make(map[string]time.Time)}
}

// Claim records key and reports whether it was free, i.e. not claimed inside the window.
func (r *recentSet) Claim(key string) bool {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, at := range r.seen {
		if now.Sub(at) >= r.window {
			delete(r.seen, k)
		}
	}
	if _, dup := r.seen[key]; dup {
		return false
	}
	r.seen[key] = now
	return true
}
