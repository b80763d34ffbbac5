package memory

// Package memory provides an in-process credential store for development and tests.

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/target/canvas-bridge/internal/core"
	"github.com/target/canvas-bridge/internal/ports"
)

var _ ports.CredentialStore = (*CredentialStore)(nil)

// Defaults for CredentialStoreConfig.
const (
	DefaultCapacity      = 64
	DefaultMaxValueBytes = 2048
)

// CredentialStore is a bounded LRU of opaque values with an optional TTL per entry.
// Methods are safe for concurrent use.
type CredentialStore struct {
	mu       sync.Mutex
	cap      int
	maxBytes int
	ttl      time.Duration
	ll       *list.List               // front = most-recently used
	items    map[string]*list.Element // key -> element
	clock    core.Clock

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

type entry struct {
	key    string
	value  []byte
	expiry time.Time // zero means no expiry
}

// CredentialStoreConfig groups constructor options.
type CredentialStoreConfig struct {
	Capacity      int
	MaxValueBytes int
	TTL           time.Duration // 0 means entries never expire
	Clock         core.Clock
}

// NewCredentialStore creates an empty store.
func NewCredentialStore(cfg CredentialStoreConfig) (*CredentialStore, error) {
	if cfg.TTL < 0 {
		return nil, errors.New("ttl must not be negative")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	maxBytes := cfg.MaxValueBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxValueBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	return &CredentialStore{
		cap:      capacity,
		maxBytes: maxBytes,
		ttl:      cfg.TTL,
		ll:       list.New(),
		items:    make(map[string]*list.Element, capacity),
		clock:    clock,
	}, nil
}

// Get returns a copy of the value for key if present and not expired.
func (c *CredentialStore) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		c.misses.Add(1)
		return nil, ports.ErrKeyNotFound
	}
	ent := el.Value.(*entry)
	if c.isExpired(ent) {
		c.removeElement(el)
		c.misses.Add(1)
		return nil, ports.ErrKeyNotFound
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return append([]byte(nil), ent.value...), nil
}

// Set inserts or replaces a value, evicting the least recently used entry when full.
func (c *CredentialStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(value) > c.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ports.ErrValueTooLarge, len(value), c.maxBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if c.ttl > 0 {
		exp = c.clock.Now().Add(c.ttl)
	}
	stored := append([]byte(nil), value...)

	if el, found := c.items[key]; found {
		ent := el.Value.(*entry)
		ent.value = stored
		ent.expiry = exp
		c.ll.MoveToFront(el)
		return nil
	}

	c.items[key] = c.ll.PushFront(&entry{key: key, value: stored, expiry: exp})
	c.evictIfNeeded()
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *CredentialStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
	return nil
}

// Len returns the current number of entries, including expired ones not yet swept.
func (c *CredentialStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats are simple counters for observability.
type Stats struct {
	Hits, Misses, Evictions uint64
	Size, Capacity          int
}

// Stats returns a snapshot of counters and sizes.
func (c *CredentialStore) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evicts.Load(),
		Size:      c.Len(),
		Capacity:  c.cap,
	}
}

// Helpers (caller must hold c.mu).
func (c *CredentialStore) isExpired(e *entry) bool {
	if e.expiry.IsZero() {
		return false
	}
	return c.clock.Now().After(e.expiry)
}

func (c *CredentialStore) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *CredentialStore) evictIfNeeded() {
	for c.ll.Len() > c.cap {
		el := c.ll.Back()
		if el == nil {
			return
		}
		c.removeElement(el)
		c.evicts.Add(1)
	}
}
