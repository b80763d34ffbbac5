package statsd

import (
	"sync"
	"time"
)

// Sample is one metric recorded by Capture.
type Sample struct {
	Name   string
	Value  float64
	Tags   map[string]string
	Timing bool
}

// Capture is an in-memory Sink used by the dev harness and tests.
type Capture struct {
	mu      sync.Mutex
	samples []Sample
}

var _ Sink = (*Capture)(nil)

// Count records a counter increment.
func (c *Capture) Count(name string, value int64, tags map[string]string) {
	c.add(Sample{Name: name, Value: float64(value), Tags: tags})
}

// Timing records a timing in milliseconds.
func (c *Capture) Timing(name string, value time.Duration, tags map[string]string) {
	c.add(Sample{Name: name, Value: float64(value) / float64(time.Millisecond), Tags: tags, Timing: true})
}

func (c *Capture) add(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

// Samples returns a copy of everything recorded so far.
func (c *Capture) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// CountWhere sums counters named name whose tags include every pair in match.
func (c *Capture) CountWhere(name string, match map[string]string) int {
	total := 0
	for _, s := range c.Samples() {
		if s.Timing || s.Name != name {
			continue
		}
		ok := true
		for k, v := range match {
			if s.Tags[k] != v {
				ok = false
				break
			}
		}
		if ok {
			total += int(s.Value)
		}
	}
	return total
}
