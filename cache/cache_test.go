package cache

import (
	"context"
	"testing"
	"time"

	"github.com/deemkeen/hutgate/domain"
	"github.com/deemkeen/hutgate/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"user by id", UserById("https://b.example/users/bob"), "federated:user:id:https://b.example/users/bob"},
		{"user by name", UserByName("bob"), "federated:user:name:bob"},
		{"category", CategoryById("https://b.example/categories/bikes"), "federated:category:id:https://b.example/categories/bikes"},
		{"listing", ListingById("https://b.example/listings/1"), "federated:listing:id:https://b.example/listings/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
		})
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	actor := &domain.Actor{
		ApId:      "https://b.example/users/bob",
		Username:  "bob",
		Followers: []string{"https://a.example/users/alice"},
		Local:     true,
	}
	require.NoError(t, Store(ctx, c, actor, time.Hour, UserById(actor.ApId), UserByName(actor.Username)))
	assert.Equal(t, 2, c.Len())

	byId, err := Load[domain.Actor](ctx, c, UserById(actor.ApId))
	require.NoError(t, err)
	require.NotNil(t, byId)
	assert.Equal(t, actor.Followers, byId.Followers)

	byName, err := Load[domain.Actor](ctx, c, UserByName("bob"))
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, actor.ApId, byName.ApId)
}

func TestLoadMiss(t *testing.T) {
	got, err := Load[domain.Listing](context.Background(), NewMemoryCache(), ListingById("https://b.example/listings/404"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLoadCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := ListingById("https://b.example/listings/1")
	require.NoError(t, c.Set(ctx, key, []byte{0xff, 0x01}, 0))

	_, err := Load[domain.Listing](ctx, c, key)
	assert.Error(t, err)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache().WithClock(func() time.Time { return now })

	key := UserById("https://b.example/users/bob")
	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := UserByName("bob")

	value := []byte("abc")
	require.NoError(t, c.Set(ctx, key, value, 0))
	value[0] = 'x'

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, _ := c.Get(ctx, key)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	key := CategoryById("https://b.example/categories/bikes")

	require.NoError(t, c.Set(ctx, key, []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, key))

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestOpenRedisBadDsn(t *testing.T) {
	_, err := OpenRedis(context.Background(), util.CacheConfig{Dsn: "not a url", MaxConnections: 2})
	assert.Error(t, err)
}
