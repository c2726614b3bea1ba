package auction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// FlowInput carries everything needed to price a bid.
type FlowInput struct {
	Tokens       []common.Address
	CurrentUnits []*uint256.Int
	NextUnits    []*uint256.Int
	// NaturalUnit is the quantity the combined units are quoted against. For
	// a live auction this is the minimum bid.
	NaturalUnit *uint256.Int
	Quantity    *uint256.Int
	Price       domain.Price
}

// FlowInputFromAuction builds the input for quantity against a live auction.
func FlowInputFromAuction(a domain.AuctionState, quantity *uint256.Int, price domain.Price) FlowInput {
	return FlowInput{
		Tokens:       a.CombinedTokens,
		CurrentUnits: a.CombinedCurrentUnits,
		NextUnits:    a.CombinedNextUnits,
		NaturalUnit:  a.MinimumBid,
		Quantity:     quantity,
		Price:        price,
	}
}

// CalculateFlows returns the inflow and outflow of every combined token for
// the bid. The arithmetic mirrors the ledger exactly: products are formed
// before the single truncating division, and any overflow is an error.
//
// For each token, with multiplier = quantity / naturalUnit:
//
//	next*div > cur*num:  inflow  = multiplier * (next*div - cur*num) / num
//	otherwise:           outflow = multiplier * (cur*num - next*div) / num
func CalculateFlows(in FlowInput) (domain.TokenFlow, error) {
	if err := checkFlowInput(in); err != nil {
		return domain.TokenFlow{}, err
	}

	num := in.Price.Numerator
	div := in.Price.Divisor
	multiplier := new(uint256.Int).Div(in.Quantity, in.NaturalUnit)

	flow := domain.TokenFlow{
		Tokens:  append([]common.Address(nil), in.Tokens...),
		Inflow:  make([]*uint256.Int, len(in.Tokens)),
		Outflow: make([]*uint256.Int, len(in.Tokens)),
	}

	for i := range in.Tokens {
		nextScaled, overflow := new(uint256.Int).MulOverflow(in.NextUnits[i], div)
		if overflow {
			return domain.TokenFlow{}, overflowErr(in.Tokens[i])
		}
		curScaled, overflow := new(uint256.Int).MulOverflow(in.CurrentUnits[i], num)
		if overflow {
			return domain.TokenFlow{}, overflowErr(in.Tokens[i])
		}

		inflow, outflow := new(uint256.Int), new(uint256.Int)
		diff := new(uint256.Int)
		target := outflow
		if nextScaled.Gt(curScaled) {
			diff.Sub(nextScaled, curScaled)
			target = inflow
		} else {
			diff.Sub(curScaled, nextScaled)
		}
		if _, overflow := target.MulOverflow(multiplier, diff); overflow {
			return domain.TokenFlow{}, overflowErr(in.Tokens[i])
		}
		target.Div(target, num)

		flow.Inflow[i] = inflow
		flow.Outflow[i] = outflow
	}
	return flow, nil
}

func checkFlowInput(in FlowInput) error {
	n := len(in.Tokens)
	if len(in.CurrentUnits) != n || len(in.NextUnits) != n {
		return fmt.Errorf("auction: %w: %d tokens, %d current units, %d next units",
			domain.ErrMalformedAuctionState, n, len(in.CurrentUnits), len(in.NextUnits))
	}
	if in.NaturalUnit == nil || in.NaturalUnit.IsZero() {
		return fmt.Errorf("auction: %w: natural unit is zero", domain.ErrMalformedAuctionState)
	}
	if in.Quantity == nil {
		return fmt.Errorf("auction: %w: quantity is required", domain.ErrInvalidQuantity)
	}
	if in.Price.Numerator == nil || in.Price.Numerator.IsZero() || in.Price.Divisor == nil || in.Price.Divisor.IsZero() {
		return fmt.Errorf("auction: %w: price has a zero term", domain.ErrMalformedAuctionState)
	}
	for i := 0; i < n; i++ {
		if in.CurrentUnits[i] == nil || in.NextUnits[i] == nil {
			return fmt.Errorf("auction: %w: missing unit for %s", domain.ErrMalformedAuctionState, in.Tokens[i].Hex())
		}
	}
	return nil
}

func overflowErr(token common.Address) error {
	return fmt.Errorf("auction: %w: flow overflow for %s", domain.ErrMalformedAuctionState, token.Hex())
}
