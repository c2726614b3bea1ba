package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RebalanceState is the lifecycle state of a rebalancing basket.
type RebalanceState string

const (
	StateDefault   RebalanceState = "default"
	StateProposal  RebalanceState = "proposal"
	StateRebalance RebalanceState = "rebalance"
	StateDrawdown  RebalanceState = "drawdown"
)

// Valid reports whether s is one of the known lifecycle states.
func (s RebalanceState) Valid() bool {
	switch s {
	case StateDefault, StateProposal, StateRebalance, StateDrawdown:
		return true
	}
	return false
}

// RebalancingBasket is a read-through snapshot of a rebalancing Set as
// reported by the ledger. It is valid for a single validation only.
type RebalancingBasket struct {
	Address           common.Address
	State             RebalanceState
	Manager           common.Address
	CurrentBasket     common.Address
	UnitShares        *uint256.Int
	NaturalUnit       *uint256.Int
	ProposalPeriod    time.Duration
	RebalanceInterval time.Duration
	LastRebalancedAt  time.Time
	ProposalStartTime time.Time
}

// Proposal describes a pending switch to a new target basket. It only exists
// while the owning basket is in StateProposal.
type Proposal struct {
	NextBasket         common.Address
	PriceCurve         common.Address
	AuctionTimeToPivot time.Duration
	AuctionStartPrice  *uint256.Int
	AuctionPivotPrice  *uint256.Int
	ProposalStartTime  time.Time
}

// AuctionState is the bidding view of a basket in StateRebalance.
// CombinedCurrentUnits and CombinedNextUnits are quoted per MinimumBid.
type AuctionState struct {
	CombinedTokens       []common.Address
	CombinedCurrentUnits []*uint256.Int
	CombinedNextUnits    []*uint256.Int
	AuctionStartTime     time.Time
	TimeToPivot          time.Duration
	StartPrice           *uint256.Int
	PivotPrice           *uint256.Int
	PriceCurve           common.Address
	RemainingCurrentSets *uint256.Int
	StartingCurrentSets  *uint256.Int
	MinimumBid           *uint256.Int
}

// PriceParams extracts the price-curve inputs of the auction.
func (a AuctionState) PriceParams() PriceParams {
	return PriceParams{
		StartTime:   a.AuctionStartTime,
		TimeToPivot: a.TimeToPivot,
		StartPrice:  a.StartPrice,
		PivotPrice:  a.PivotPrice,
	}
}

// PriceParams are the inputs every auction price curve consumes.
type PriceParams struct {
	StartTime   time.Time
	TimeToPivot time.Duration
	StartPrice  *uint256.Int
	PivotPrice  *uint256.Int
}

// Price is an auction price expressed as a numerator over a divisor.
type Price struct {
	Numerator *uint256.Int
	Divisor   *uint256.Int
}

// BasketComposition is the immutable component list of a plain Set.
type BasketComposition struct {
	Address     common.Address
	Components  []common.Address
	Units       []*uint256.Int
	NaturalUnit *uint256.Int
}
