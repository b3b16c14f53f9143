package auth

import (
	"context"
	"testing"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ types.TokenStore = (*MemoryTokenStore)(nil)
	_ types.TokenStore = (*RedisTokenStore)(nil)
)

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTokenStore("initial")

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "initial", got)

	require.NoError(t, s.Set(ctx, "rotated"))
	got, _ = s.Get(ctx)
	assert.Equal(t, "rotated", got)

	require.NoError(t, s.Clear(ctx))
	got, _ = s.Get(ctx)
	assert.Empty(t, got)
}

func newTestRedisStore(t *testing.T) (*RedisTokenStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewRedisClient(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisTokenStore(client), mr
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisClient(addr, "")
	assert.Error(t, err)
}

func TestRedisTokenStore_RoundTrip(t *testing.T) {
	s, mr := newTestRedisStore(t)
	defer mr.Close()
	ctx := context.Background()

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "missing key reads as no token")

	require.NoError(t, s.Set(ctx, "jwt-value"))
	stored, err := mr.Get(TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "jwt-value", stored)

	got, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-value", got)

	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists(TokenKey))
}

func TestRedisTokenStore_SharedBetweenStores(t *testing.T) {
	a, mr := newTestRedisStore(t)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	b := NewRedisTokenStore(client)

	ctx := context.Background()
	require.NoError(t, a.Set(ctx, "shared"))

	got, err := b.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shared", got)
}

func TestRedisTokenStore_ErrorsWhenRedisDown(t *testing.T) {
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background())
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), "x"))
}
