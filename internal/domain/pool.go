package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Percentages follow the ledger's 1e18 scale.
var (
	// OneHundredPercent is 1e18.
	OneHundredPercent = uint256.NewInt(1_000_000_000_000_000_000)
	// OnePercent is 1e16.
	OnePercent = uint256.NewInt(10_000_000_000_000_000)
	// OneBasisPoint is 1e14.
	OneBasisPoint = uint256.NewInt(100_000_000_000_000)
)

// Percent returns n whole percent in ledger scale.
func Percent(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), OnePercent)
}

// BasisPoints returns n basis points in ledger scale.
func BasisPoints(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), OneBasisPoint)
}

// ManagerKind identifies which trading-pool manager contract governs a pool.
type ManagerKind string

const (
	// ManagerSocialTrading carries entry and rebalance fees.
	ManagerSocialTrading ManagerKind = "social_trading"
	// ManagerSocialTradingV2 adds performance fees with timelocked changes.
	ManagerSocialTradingV2 ManagerKind = "social_trading_v2"
)

// FeeType selects which performance fee a change targets.
type FeeType string

const (
	FeeStreaming FeeType = "streaming"
	FeeProfit    FeeType = "profit"
)

// Valid reports whether t is a known fee type.
func (t FeeType) Valid() bool {
	return t == FeeStreaming || t == FeeProfit
}

// TradingPool is a rebalancing basket governed by a trader through a
// manager contract.
type TradingPool struct {
	Basket            RebalancingBasket
	Manager           common.Address
	Kind              ManagerKind
	Trader            common.Address
	Allocator         common.Address
	CurrentAllocation *uint256.Int
	EntryFee          *uint256.Int
	RebalanceFee      *uint256.Int

	// Performance fee fields; populated for ManagerSocialTradingV2 pools.
	ProfitFee                *uint256.Int
	StreamingFee             *uint256.Int
	ProfitFeePeriod          time.Duration
	HighWatermarkResetPeriod time.Duration
	FeeCalculator            common.Address
	FeeUpdateTimestamp       time.Time
	TimelockPeriod           time.Duration
}

// PoolInfo is the manager-side record of a pool.
type PoolInfo struct {
	Trader             common.Address
	Allocator          common.Address
	CurrentAllocation  *uint256.Int
	FeeUpdateTimestamp time.Time
}

// FeeCeilings are the maximum performance fees a calculator accepts.
type FeeCeilings struct {
	MaxProfitFee    *uint256.Int
	MaxStreamingFee *uint256.Int
}

// For returns the ceiling that applies to fee type t.
func (c FeeCeilings) For(t FeeType) *uint256.Int {
	if t == FeeProfit {
		return c.MaxProfitFee
	}
	return c.MaxStreamingFee
}

// FeeChangeParams requests a timelocked change of a performance fee.
type FeeChangeParams struct {
	Manager       common.Address
	Pool          common.Address
	Caller        common.Address
	FeeType       FeeType
	NewPercentage *uint256.Int
}

// Validate enforces the structural constraints of the request.
func (p FeeChangeParams) Validate() error {
	if p.Pool == (common.Address{}) || p.Manager == (common.Address{}) {
		return NewValidationError("adjust_fee", ErrInvalidParams, "pool and manager addresses are required")
	}
	if !p.FeeType.Valid() {
		return NewValidationError("adjust_fee", ErrInvalidParams, "unknown fee type "+string(p.FeeType))
	}
	if p.NewPercentage == nil {
		return NewValidationError("adjust_fee", ErrInvalidQuantity, "new percentage is required")
	}
	return nil
}

// FeeChangeProposal is a pending timelocked fee change, addressed by the
// keccak hash of its call data.
type FeeChangeProposal struct {
	Pool          common.Address
	FeeType       FeeType
	NewPercentage *uint256.Int
	UpgradeHash   common.Hash
	CallData      []byte
	ProposedAt    time.Time
}

// AllocationParams requests a trader-driven allocation change.
type AllocationParams struct {
	Manager       common.Address
	Pool          common.Address
	Caller        common.Address
	NewAllocation *uint256.Int
	TimeToPivot   time.Duration
	// LiquidatorData is passed through to the allocator untouched.
	LiquidatorData []byte
}

// Validate enforces the structural constraints of the request.
func (p AllocationParams) Validate() error {
	if p.Pool == (common.Address{}) || p.Manager == (common.Address{}) {
		return NewValidationError("update_allocation", ErrInvalidParams, "pool and manager addresses are required")
	}
	if p.NewAllocation == nil {
		return NewValidationError("update_allocation", ErrInvalidQuantity, "new allocation is required")
	}
	return nil
}

// ProposeParams is the manager's request to rebalance into a new basket.
type ProposeParams struct {
	Basket      common.Address
	NextBasket  common.Address
	PriceCurve  common.Address
	TimeToPivot time.Duration
	StartPrice  *uint256.Int
	PivotPrice  *uint256.Int
	Caller      common.Address
}

// Validate enforces the structural constraints of the request.
func (p ProposeParams) Validate() error {
	if p.Basket == (common.Address{}) || p.NextBasket == (common.Address{}) {
		return NewValidationError("propose", ErrInvalidParams, "basket and next basket addresses are required")
	}
	if p.PriceCurve == (common.Address{}) {
		return NewValidationError("propose", ErrInvalidParams, "price curve address is required")
	}
	if p.StartPrice == nil || p.PivotPrice == nil {
		return NewValidationError("propose", ErrInvalidQuantity, "start and pivot prices are required")
	}
	return nil
}
