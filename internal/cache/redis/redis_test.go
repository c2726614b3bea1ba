package redis

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

func TestKeySchemas(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	key := domain.MetadataKey{Kind: domain.MetadataUnderlying, Address: addr}

	assert.Equal(t, "meta:underlying:"+addr.Hex(), metadataKey(key))
	assert.Equal(t, "lock:archive", lockKey("archive"))
	assert.Equal(t, "ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))
}

func TestSubmissionEventsGoToStream(t *testing.T) {
	assert.True(t, isSubmissionEvent(domain.EventSubmissionSent))
	assert.True(t, isSubmissionEvent(domain.EventSubmissionMined))
	assert.True(t, isSubmissionEvent(domain.EventSubmissionFailed))
	assert.False(t, isSubmissionEvent(domain.EventAuctionTick))
	assert.False(t, isSubmissionEvent(domain.EventValidationRefused))
}

func TestPatternChannels(t *testing.T) {
	assert.True(t, isPattern("setrebal:events:*"))
	assert.False(t, isPattern(domain.EventsChannel))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}
