// Package contracts holds the ABI bindings and call encoders for the protocol
// contracts. Encoders return raw call data; signing and sending live in the
// chain package.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Parsed ABIs.
var (
	RebalancingSet = mustParse("rebalancing set", rebalancingSetABI)
	SetToken       = mustParse("set token", setTokenABI)
	Core           = mustParse("core", coreABI)
	AuctionModule  = mustParse("auction module", auctionModuleABI)
	EtherBidder    = mustParse("ether bidder", etherBidderABI)
	CTokenBidder   = mustParse("ctoken bidder", cTokenBidderABI)
	ERC20          = mustParse("erc20", erc20ABI)
	CToken         = mustParse("ctoken", cTokenABI)
	TradingManager = mustParse("trading manager", tradingManagerABI)
	FeeCalculator  = mustParse("fee calculator", feeCalculatorABI)
	Allocator      = mustParse("allocator", allocatorABI)
)

// AllocationPrecision is the precision the allocator expects allocations in:
// whole percent.
const AllocationPrecision = 100

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse %s abi: %v", name, err))
	}
	return parsed
}

// Big converts a uint256 to the big.Int the abi packer expects. Nil is zero.
func Big(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// Uint256 converts an abi-decoded big.Int. Values above 2^256-1 cannot come
// from a uint256 slot, so overflow is reported as malformed state.
func Uint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("contracts: %w: value %s overflows uint256", domain.ErrMalformedAuctionState, v)
	}
	return out, nil
}

// EncodePropose packs RebalancingSetToken.propose.
func EncodePropose(p domain.ProposeParams) ([]byte, error) {
	return RebalancingSet.Pack("propose",
		p.NextBasket,
		p.PriceCurve,
		new(big.Int).SetUint64(uint64(p.TimeToPivot.Seconds())),
		Big(p.StartPrice),
		Big(p.PivotPrice),
	)
}

// EncodeStartRebalance packs RebalancingSetToken.startRebalance.
func EncodeStartRebalance() ([]byte, error) { return RebalancingSet.Pack("startRebalance") }

// EncodeSettleRebalance packs RebalancingSetToken.settleRebalance.
func EncodeSettleRebalance() ([]byte, error) { return RebalancingSet.Pack("settleRebalance") }

// EncodeEndFailedAuction packs RebalancingSetToken.endFailedAuction.
func EncodeEndFailedAuction() ([]byte, error) { return RebalancingSet.Pack("endFailedAuction") }

// EncodeBid packs the bid call for the bidder kind. All three entry points
// share the (basket, quantity, allowPartialFill) signature.
func EncodeBid(kind domain.BidderKind, basket common.Address, quantity *uint256.Int, allowPartial bool) ([]byte, error) {
	switch kind {
	case domain.BidderPlain:
		return AuctionModule.Pack("bidAndWithdraw", basket, Big(quantity), allowPartial)
	case domain.BidderEther:
		return EtherBidder.Pack("bidAndWithdrawWithEther", basket, Big(quantity), allowPartial)
	case domain.BidderCToken:
		return CTokenBidder.Pack("bidAndWithdraw", basket, Big(quantity), allowPartial)
	}
	return nil, fmt.Errorf("contracts: %w: unknown bidder kind %q", domain.ErrInvalidParams, kind)
}

// EncodeUpdateAllocation packs SocialTradingManager.updateAllocation.
func EncodeUpdateAllocation(pool common.Address, newAllocation *uint256.Int, liquidatorData []byte) ([]byte, error) {
	if liquidatorData == nil {
		liquidatorData = []byte{}
	}
	return TradingManager.Pack("updateAllocation", pool, Big(newAllocation), liquidatorData)
}

// FeeTypeOrdinal maps a fee type onto the manager's enum.
func FeeTypeOrdinal(t domain.FeeType) (uint8, error) {
	switch t {
	case domain.FeeStreaming:
		return 0, nil
	case domain.FeeProfit:
		return 1, nil
	}
	return 0, fmt.Errorf("contracts: %w: unknown fee type %q", domain.ErrInvalidParams, t)
}

// EncodeFeeCallData packs abi.encode(uint8 feeType, uint256 percentage), the
// opaque payload adjustFee forwards to the fee calculator.
func EncodeFeeCallData(t domain.FeeType, pct *uint256.Int) ([]byte, error) {
	ordinal, err := FeeTypeOrdinal(t)
	if err != nil {
		return nil, err
	}
	uint8T, _ := abi.NewType("uint8", "", nil)
	uint256T, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: uint8T}, {Type: uint256T}}
	return args.Pack(ordinal, Big(pct))
}

// EncodeAdjustFee packs SocialTradingManagerV2.adjustFee and returns the
// timelock upgrade hash, which is keccak256 of the full call data.
func EncodeAdjustFee(pool common.Address, t domain.FeeType, pct *uint256.Int) ([]byte, common.Hash, error) {
	feeData, err := EncodeFeeCallData(t, pct)
	if err != nil {
		return nil, common.Hash{}, err
	}
	data, err := TradingManager.Pack("adjustFee", pool, feeData)
	if err != nil {
		return nil, common.Hash{}, err
	}
	return data, crypto.Keccak256Hash(data), nil
}

// EncodeRemoveRegisteredUpgrade packs SocialTradingManagerV2.removeRegisteredUpgrade.
func EncodeRemoveRegisteredUpgrade(pool common.Address, upgradeHash common.Hash) ([]byte, error) {
	return TradingManager.Pack("removeRegisteredUpgrade", pool, [32]byte(upgradeHash))
}

// EncodeDetermineNewAllocation packs the allocator's simulation call.
func EncodeDetermineNewAllocation(targetPercent uint64, currentSet common.Address) ([]byte, error) {
	return Allocator.Pack("determineNewAllocation",
		new(big.Int).SetUint64(targetPercent),
		big.NewInt(AllocationPrecision),
		currentSet,
	)
}

// StateFromOrdinal maps the ledger's rebalanceState enum.
func StateFromOrdinal(v uint8) (domain.RebalanceState, error) {
	switch v {
	case 0:
		return domain.StateDefault, nil
	case 1:
		return domain.StateProposal, nil
	case 2:
		return domain.StateRebalance, nil
	case 3:
		return domain.StateDrawdown, nil
	}
	return "", fmt.Errorf("contracts: %w: unknown rebalance state %d", domain.ErrMalformedAuctionState, v)
}
