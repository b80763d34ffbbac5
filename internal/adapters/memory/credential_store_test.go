package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/canvas-bridge/internal/ports"
	"github.com/target/canvas-bridge/internal/testutil"
)

func TestCredentialStore_SetGetDelete(t *testing.T) {
	store, err := NewCredentialStore(CredentialStoreConfig{})
	require.NoError(t, err)
	ctx := context.Background()

	value := []byte("v1")
	require.NoError(t, store.Set(ctx, "k", value))
	value[0] = 'X'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got), "stored values are copied")

	got[0] = 'Y'
	again, _ := store.Get(ctx, "k")
	assert.Equal(t, "v1", string(again), "returned values are copied")

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestCredentialStore_SizeCeiling(t *testing.T) {
	store, err := NewCredentialStore(CredentialStoreConfig{MaxValueBytes: 8})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "fits", bytes.Repeat([]byte("x"), 8)))
	require.ErrorIs(t, store.Set(ctx, "big", bytes.Repeat([]byte("x"), 9)), ports.ErrValueTooLarge)
	assert.Equal(t, 1, store.Len())
}

func TestCredentialStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store, err := NewCredentialStore(CredentialStoreConfig{Capacity: 2})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "b", []byte("2")))
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "c", []byte("3")))

	_, err = store.Get(ctx, "b")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)

	stats := store.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCredentialStore_TTL(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	store, err := NewCredentialStore(CredentialStoreConfig{TTL: time.Minute, Clock: clock})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	clock.Advance(time.Minute)
	_, err = store.Get(ctx, "k")
	require.NoError(t, err)

	clock.Advance(time.Millisecond)
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
	assert.Equal(t, 0, store.Len())

	_, err = NewCredentialStore(CredentialStoreConfig{TTL: -time.Second})
	require.Error(t, err)
}
