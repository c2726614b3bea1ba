package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BidderKind selects which settlement contract a bid is routed through.
type BidderKind string

const (
	// BidderPlain bids directly against the auction module with ERC20s.
	BidderPlain BidderKind = "plain"
	// BidderEther wraps msg.value into WETH through the Ether bidder helper.
	BidderEther BidderKind = "ether"
	// BidderCToken supplies cToken underlyings through the cToken bidder helper.
	BidderCToken BidderKind = "ctoken"
)

// Valid reports whether k is a known bidder kind.
func (k BidderKind) Valid() bool {
	switch k {
	case BidderPlain, BidderEther, BidderCToken:
		return true
	}
	return false
}

// BidParams is the full request for a bid against a rebalancing auction.
type BidParams struct {
	Basket           common.Address
	Quantity         *uint256.Int
	AllowPartialFill bool
	Bidder           common.Address
	Kind             BidderKind
	// EtherValue is the msg.value attached to an Ether bid. Ignored otherwise.
	EtherValue *uint256.Int
}

// Validate enforces the structural constraints of the request. Protocol
// invariants are checked by the bid validator.
func (p BidParams) Validate() error {
	if p.Basket == (common.Address{}) {
		return NewValidationError("bid", ErrInvalidParams, "basket address is zero")
	}
	if p.Bidder == (common.Address{}) {
		return NewValidationError("bid", ErrInvalidParams, "bidder address is zero")
	}
	if p.Quantity == nil {
		return NewValidationError("bid", ErrInvalidQuantity, "quantity is required")
	}
	if !p.Kind.Valid() {
		return NewValidationError("bid", ErrInvalidParams, "unknown bidder kind "+string(p.Kind))
	}
	if p.Kind == BidderEther && p.EtherValue == nil {
		return NewValidationError("bid", ErrInvalidParams, "ether bid requires an ether value")
	}
	return nil
}

// TokenFlow is the per-token exchange a bid produces. Inflow is supplied by
// the bidder, outflow is received by the bidder. Slices are aligned with
// Tokens and hold an entry for every combined token, zero or not.
type TokenFlow struct {
	Tokens  []common.Address
	Inflow  []*uint256.Int
	Outflow []*uint256.Int
}

// FlowEntry is a single non-zero leg of a TokenFlow.
type FlowEntry struct {
	Token  common.Address `json:"token"`
	Amount string         `json:"amount"`
}

// Present returns the non-zero inflow and outflow legs, which is what callers
// display. Zero legs are still part of the computed TokenFlow.
func (f TokenFlow) Present() (inflows, outflows []FlowEntry) {
	for i, tok := range f.Tokens {
		if f.Inflow[i].Sign() > 0 {
			inflows = append(inflows, FlowEntry{Token: tok, Amount: f.Inflow[i].Dec()})
		}
		if f.Outflow[i].Sign() > 0 {
			outflows = append(outflows, FlowEntry{Token: tok, Amount: f.Outflow[i].Dec()})
		}
	}
	return inflows, outflows
}

// InflowOf returns the inflow for token, or zero when it is not part of the
// flow.
func (f TokenFlow) InflowOf(token common.Address) *uint256.Int {
	for i, tok := range f.Tokens {
		if tok == token {
			return new(uint256.Int).Set(f.Inflow[i])
		}
	}
	return new(uint256.Int)
}

// FundRequirement is an amount of token the bidder must hold and have
// approved to the spender.
type FundRequirement struct {
	Token  common.Address
	Amount *uint256.Int
}

// BidQuote is the outcome of a successful bid validation.
type BidQuote struct {
	Basket common.Address
	// RequestedQuantity is what the caller asked for; Quantity is what the
	// ledger will execute after partial-fill rounding.
	RequestedQuantity *uint256.Int
	Quantity          *uint256.Int
	Price             Price
	Flow              TokenFlow
	Requirements      []FundRequirement
	// Spender is the contract the bidder's allowances were checked against.
	Spender common.Address
	Kind    BidderKind
}
