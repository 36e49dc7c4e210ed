package cache

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/commune-hq/backend/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

// newTestStore backs a Store with an in-process Redis server
func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(&RedisClient{client: client})
}

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "post:abc", EntityKey(EntityPost, "abc"))
	assert.Equal(t, "community:c1", EntityKey(EntityCommunity, "c1"))
}

func TestViewKey(t *testing.T) {
	key := ViewKey(EntityCommunity, "c1", "posts", "sort=hot", "page=1")
	assert.Equal(t, "community:c1:posts:sort=hot:page=1", key)

	// No extra parts
	assert.Equal(t, "community:c1:posts", ViewKey(EntityCommunity, "c1", "posts"))
}

func TestViewPatternCoversAllViewKeys(t *testing.T) {
	pattern := viewPattern(EntityCommunity, "c1", "posts")
	assert.Equal(t, "community:c1:posts*", pattern)

	// Every view key built for the scope starts with the pattern prefix
	key := ViewKey(EntityCommunity, "c1", "posts", "sort=new", "page=3")
	assert.Contains(t, key, pattern[:len(pattern)-1])
}

func TestStoreReadThrough(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := EntityKey(EntityPost, "p-1")

	var got map[string]string
	found, err := s.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetJSON(ctx, key, map[string]string{"title": "hello"}, EntityTTL))

	found, err = s.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", got["title"])
}

func TestInvalidateEntityDropsKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := EntityKey(EntityUser, "u-1")

	require.NoError(t, s.SetJSON(ctx, key, "cached", EntityTTL))
	require.NoError(t, s.InvalidateEntity(ctx, EntityUser, "u-1"))

	var got string
	found, err := s.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidateViewsDropsEveryPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hotPage := ViewKey(EntityCommunity, "c-1", "posts", "sort=hot", "page=1")
	newPage := ViewKey(EntityCommunity, "c-1", "posts", "sort=new", "page=2")
	otherScope := ViewKey(EntityCommunity, "c-2", "posts", "sort=hot", "page=1")

	for _, key := range []string{hotPage, newPage, otherScope} {
		require.NoError(t, s.SetJSON(ctx, key, []string{"cached"}, ListingTTL))
	}

	require.NoError(t, s.InvalidateViews(ctx, EntityCommunity, "c-1", "posts"))

	// Every sort and page combination under the scope is gone.
	var got []string
	found, err := s.GetJSON(ctx, hotPage, &got)
	require.NoError(t, err)
	assert.False(t, found)
	found, err = s.GetJSON(ctx, newPage, &got)
	require.NoError(t, err)
	assert.False(t, found)

	// Another community's listings survive.
	found, err = s.GetJSON(ctx, otherScope, &got)
	require.NoError(t, err)
	assert.True(t, found)

	// The next read misses and can repopulate.
	require.NoError(t, s.SetJSON(ctx, hotPage, []string{"fresh"}, ListingTTL))
	found, err = s.GetJSON(ctx, hotPage, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"fresh"}, got)
}

func TestCorruptEntryReadsAsMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := EntityKey(EntityPost, "p-1")

	require.NoError(t, s.client.SetEx(ctx, key, "{not json", EntityTTL))

	var got map[string]string
	found, err := s.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)

	// The corrupt entry was dropped, not just skipped.
	n, err := s.client.Exists(ctx, key)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNilStoreIsNoOp(t *testing.T) {
	var s *Store
	ctx := context.Background()

	var dest string
	found, err := s.GetJSON(ctx, "k", &dest)
	assert.False(t, found)
	assert.NoError(t, err)

	assert.NoError(t, s.SetJSON(ctx, "k", "v", EntityTTL))
	assert.NoError(t, s.InvalidateEntity(ctx, EntityPost, "id"))
	assert.NoError(t, s.InvalidateViews(ctx, EntityCommunity, "id", "posts"))
}
