package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// MetadataCache implements domain.MetadataCache with plain string keys.
// Values never expire because the metadata is fixed at deployment.
//
// Key schema:
//
//	meta:{kind}:{address} - raw encoded value
type MetadataCache struct {
	rdb *redis.Client
}

var _ domain.MetadataCache = (*MetadataCache)(nil)

// NewMetadataCache creates a MetadataCache backed by the given Client.
func NewMetadataCache(c *Client) *MetadataCache {
	return &MetadataCache{rdb: c.Underlying()}
}

func metadataKey(key domain.MetadataKey) string { return "meta:" + key.String() }

// Get returns ok=false on a miss.
func (mc *MetadataCache) Get(ctx context.Context, key domain.MetadataKey) ([]byte, bool, error) {
	raw, err := mc.rdb.Get(ctx, metadataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return raw, true, nil
}

// Set stores value without a TTL.
func (mc *MetadataCache) Set(ctx context.Context, key domain.MetadataKey, value []byte) error {
	if err := mc.rdb.Set(ctx, metadataKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}
