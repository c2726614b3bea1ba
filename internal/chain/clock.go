package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// HeaderReader reads block headers.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockClock reports the timestamp of the head block, which is the time the
// ledger evaluates timing windows against.
type BlockClock struct {
	headers HeaderReader
}

var _ domain.Clock = (*BlockClock)(nil)

// NewBlockClock creates a BlockClock.
func NewBlockClock(headers HeaderReader) *BlockClock {
	return &BlockClock{headers: headers}
}

// Now implements domain.Clock.
func (c *BlockClock) Now(ctx context.Context) (time.Time, error) {
	h, err := c.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: head header: %w", err)
	}
	return unixTime(new(uint256.Int).SetUint64(h.Time))
}
