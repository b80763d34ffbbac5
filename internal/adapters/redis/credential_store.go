package redis

// Package redis provides the Redis-backed credential store.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/canvas-bridge/internal/ports"
)

var _ ports.CredentialStore = (*CredentialStore)(nil)

const (
	// DefaultKeyPrefix namespaces credential keys.
	DefaultKeyPrefix = "canvas-bridge:cred:"
	// DefaultMaxValueBytes matches the ceiling of device keychains.
	DefaultMaxValueBytes = 2048
)

// CredentialStoreOptions configures CredentialStore.
type CredentialStoreOptions struct {
	Prefix        string
	MaxValueBytes int           // <=0 uses DefaultMaxValueBytes
	TTL           time.Duration // 0 keeps keys until deleted; refreshed on every Set
}

// CredentialStore is a Redis-based implementation of ports.CredentialStore.
// Values are opaque; values over the size ceiling are rejected before any network call.
type CredentialStore struct {
	client   redis.UniversalClient
	prefix   string
	maxBytes int
	ttl      time.Duration
}

// NewCredentialStore creates a Redis-based credential store.
func NewCredentialStore(client redis.UniversalClient, opts CredentialStoreOptions) (*CredentialStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.TTL < 0 {
		return nil, errors.New("ttl must not be negative")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	maxBytes := opts.MaxValueBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxValueBytes
	}
	return &CredentialStore{client: client, prefix: prefix, maxBytes: maxBytes, ttl: opts.TTL}, nil
}

// Get returns the stored value or ports.ErrKeyNotFound.
func (s *CredentialStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ports.ErrKeyNotFound
	}
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Set stores value under key.
func (s *CredentialStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errors.New("key cannot be empty")
	}
	if len(value) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ports.ErrValueTooLarge, len(value), s.maxBytes)
	}
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *CredentialStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
