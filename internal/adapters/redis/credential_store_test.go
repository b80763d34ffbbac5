package redis

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

func TestNewCredentialStore_Validation(t *testing.T) {
	_, err := NewCredentialStore(nil, CredentialStoreOptions{})
	require.Error(t, err)

	client, _ := testutil.SetupTestRedis(t)
	_, err = NewCredentialStore(client, CredentialStoreOptions{TTL: -time.Second})
	require.Error(t, err)
}

func TestCredentialStore_SetGetDelete(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	store, err := NewCredentialStore(client, CredentialStoreOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session", []byte(`{"user_id":"u1"}`)))
	assert.True(t, srv.Exists(DefaultKeyPrefix+"session"))

	got, err := store.Get(ctx, "session")
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(got))

	require.NoError(t, store.Delete(ctx, "session"))
	_, err = store.Get(ctx, "session")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)

	require.NoError(t, store.Delete(ctx, "session"), "deleting a missing key is fine")
	require.NoError(t, store.Delete(ctx, ""))
}

func TestCredentialStore_GetMissing(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	store, err := NewCredentialStore(client, CredentialStoreOptions{})
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
	_, err = store.Get(context.Background(), "")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestCredentialStore_SizeCeiling(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	store, err := NewCredentialStore(client, CredentialStoreOptions{MaxValueBytes: 16})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "fits", bytes.Repeat([]byte("x"), 16)))
	err = store.Set(ctx, "too-big", bytes.Repeat([]byte("x"), 17))
	require.ErrorIs(t, err, ports.ErrValueTooLarge)
	assert.False(t, srv.Exists(DefaultKeyPrefix+"too-big"))
}

func TestCredentialStore_PrefixIsolation(t *testing.T) {
	client, _ := testutil.SetupTestRedis(t)
	a, err := NewCredentialStore(client, CredentialStoreOptions{Prefix: "a:"})
	require.NoError(t, err)
	b, err := NewCredentialStore(client, CredentialStoreOptions{Prefix: "b:"})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("from-a")))
	_, err = b.Get(ctx, "k")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestCredentialStore_TTLRefreshedOnWrite(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	store, err := NewCredentialStore(client, CredentialStoreOptions{TTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session", []byte("v1")))
	assert.Equal(t, time.Hour, srv.TTL(DefaultKeyPrefix+"session"))

	srv.FastForward(45 * time.Minute)
	require.NoError(t, store.Set(ctx, "session", []byte("v2")))
	srv.FastForward(45 * time.Minute)

	got, err := store.Get(ctx, "session")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	srv.FastForward(time.Hour)
	_, err = store.Get(ctx, "session")
	require.ErrorIs(t, err, ports.ErrKeyNotFound)
}

func TestCredentialStore_BackendErrorsAreWrapped(t *testing.T) {
	client, srv := testutil.SetupTestRedis(t)
	store, err := NewCredentialStore(client, CredentialStoreOptions{})
	require.NoError(t, err)
	srv.Close()

	_, err = store.Get(context.Background(), "session")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrKeyNotFound)
	assert.Contains(t, err.Error(), "redis get")

	err = store.Set(context.Background(), "session", []byte("v"))
	assert.Contains(t, err.Error(), "redis set")
}
