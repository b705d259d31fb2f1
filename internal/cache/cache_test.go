package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_GetSetExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))

	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("y"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("z"), time.Hour))

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestMemoryClient_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	require.NoError(t, c.Set(ctx, DirectoryKey("snapshot"), []byte("[]"), time.Hour))
	require.NoError(t, c.Set(ctx, "other", []byte("1"), time.Hour))

	require.NoError(t, c.Delete(ctx, DirectoryKey("snapshot")))
	require.NoError(t, c.Delete(ctx, "missing"))

	_, err := c.Get(ctx, DirectoryKey("snapshot"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestMemoryClient_IncrWindow(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		n, err := c.IncrWindow(ctx, "q", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	now = now.Add(61 * time.Second)
	n, err := c.IncrWindow(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemoryClient_ReleaseWindow(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.ReleaseWindow(ctx, "missing"))

	_, err := c.IncrWindow(ctx, "q", time.Minute)
	require.NoError(t, err)
	_, err = c.IncrWindow(ctx, "q", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.ReleaseWindow(ctx, "q"))

	n, err := c.IncrWindow(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	now = now.Add(61 * time.Second)
	require.NoError(t, c.ReleaseWindow(ctx, "q"))
	n, err = c.IncrWindow(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	type entry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	require.NoError(t, SetJSON(ctx, c, "k", []entry{{ID: "1", Name: "Pulo"}}, time.Minute))

	var got []entry
	require.NoError(t, GetJSON(ctx, c, "k", &got))
	assert.Equal(t, []entry{{ID: "1", Name: "Pulo"}}, got)

	assert.ErrorIs(t, GetJSON(ctx, c, "missing", &got), ErrCacheMiss)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "dir:cities", DirectoryKey("cities"))
	assert.Equal(t, "quota:chat:u1:minute", QuotaKey("u1", "chat", "minute"))
	assert.Equal(t, "a:b:c", CacheKey("a", "b", "c"))
}
