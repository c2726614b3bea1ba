package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerReader exposes the read-only ledger state the validators depend on.
// Implementations must never cache mutable state between calls.
type LedgerReader interface {
	ReadBasketState(ctx context.Context, basket common.Address) (RebalancingBasket, error)
	ReadProposal(ctx context.Context, basket common.Address) (Proposal, error)
	ReadAuctionState(ctx context.Context, basket common.Address) (AuctionState, error)
	ReadBalance(ctx context.Context, token, owner common.Address) (*uint256.Int, error)
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error)
	ReadFeeCeilings(ctx context.Context, calculator common.Address) (FeeCeilings, error)
	ReadPoolInfo(ctx context.Context, manager, pool common.Address) (PoolInfo, error)
	ReadTradingPool(ctx context.Context, manager, pool common.Address) (TradingPool, error)
	ReadFeeUpgrade(ctx context.Context, manager common.Address, upgradeHash common.Hash) (time.Time, error)
	ReadCTokenExchangeRate(ctx context.Context, cToken common.Address) (*uint256.Int, error)
	// ReadBidPrice asks the basket itself for the flows of quantity. Used for
	// approved curves whose arithmetic is not replicated locally.
	ReadBidPrice(ctx context.Context, basket common.Address, quantity *uint256.Int) (TokenFlow, error)
}

// Registry answers membership questions against the protocol core.
type Registry interface {
	IsValidBasket(ctx context.Context, basket common.Address) (bool, error)
	IsApprovedPriceCurve(ctx context.Context, curve common.Address) (bool, error)
}

// MetadataReader returns immutable contract metadata.
type MetadataReader interface {
	BasketComposition(ctx context.Context, basket common.Address) (BasketComposition, error)
	CTokenUnderlying(ctx context.Context, cToken common.Address) (common.Address, error)
}

// Clock reports the time validators compare timing windows against.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func(ctx context.Context) (time.Time, error)

// Now implements Clock.
func (f ClockFunc) Now(ctx context.Context) (time.Time, error) { return f(ctx) }

// TxRequest is a fully encoded call ready to be signed and sent.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *uint256.Int
}

// Submitter signs and broadcasts transactions.
type Submitter interface {
	Submit(ctx context.Context, req TxRequest) (common.Hash, error)
	From() common.Address
}

// Receipt is the terminal outcome of a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
}

// MiningWaiter blocks until a transaction reaches a terminal state.
type MiningWaiter interface {
	WaitMined(ctx context.Context, txHash common.Hash) (Receipt, error)
}
