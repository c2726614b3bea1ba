package lru

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

type mapCache struct {
	data   map[domain.MetadataKey][]byte
	gets   int
	setErr error
}

func newMapCache() *mapCache { return &mapCache{data: map[domain.MetadataKey][]byte{}} }

func (m *mapCache) Get(_ context.Context, key domain.MetadataKey) ([]byte, bool, error) {
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key domain.MetadataKey, value []byte) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func key(b byte) domain.MetadataKey {
	return domain.MetadataKey{Kind: domain.MetadataUnderlying, Address: common.BytesToAddress([]byte{b})}
}

func TestCacheMemoryOnly(t *testing.T) {
	ctx := context.Background()
	c, err := New(2, nil)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, key(1))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key(1), []byte("18")))
	v, ok, err := c.Get(ctx, key(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("18"), v)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := New(2, nil)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, key(1), []byte("a")))
	require.NoError(t, c.Set(ctx, key(2), []byte("b")))
	_, _, _ = c.Get(ctx, key(1))
	require.NoError(t, c.Set(ctx, key(3), []byte("c")))

	_, ok, _ := c.Get(ctx, key(2))
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, key(1))
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCachePromotesFromNextTier(t *testing.T) {
	ctx := context.Background()
	next := newMapCache()
	next.data[key(7)] = []byte("6")

	c, err := New(4, next)
	require.NoError(t, err)

	for range 3 {
		v, ok, err := c.Get(ctx, key(7))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("6"), v)
	}
	assert.Equal(t, 1, next.gets)
}

func TestCacheSetWritesThrough(t *testing.T) {
	ctx := context.Background()
	next := newMapCache()
	c, err := New(4, next)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, key(9), []byte("x")))
	assert.Equal(t, []byte("x"), next.data[key(9)])

	next.setErr = errors.New("down")
	require.Error(t, c.Set(ctx, key(10), []byte("y")))
	v, ok, err := c.Get(ctx, key(10))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("y"), v)
}
