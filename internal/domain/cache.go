package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MetadataKind names a class of immutable contract metadata.
type MetadataKind string

const (
	MetadataComposition MetadataKind = "composition"
	MetadataUnderlying  MetadataKind = "underlying"
)

// MetadataKey addresses one cached metadata value.
type MetadataKey struct {
	Kind    MetadataKind
	Address common.Address
}

// String renders the key for string-keyed backends.
func (k MetadataKey) String() string {
	return string(k.Kind) + ":" + k.Address.Hex()
}

// MetadataCache memoises metadata that never changes after deployment.
// Mutable ledger state must never be stored here, so entries carry no TTL.
type MetadataCache interface {
	Get(ctx context.Context, key MetadataKey) ([]byte, bool, error)
	Set(ctx context.Context, key MetadataKey, value []byte) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter counts requests per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out exclusive, expiring locks shared across processes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
