// Package auction implements the local arithmetic of a rebalancing auction:
// the linear price curve, bid token flows, and the lifecycle state machine.
// Everything here is pure and works in the ledger's integer domain.
package auction

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

const (
	// PriceDivisor is the denominator auction prices are quoted against.
	PriceDivisor = 1000
	// PivotTimeIncrement is how often the divisor shrinks after the pivot.
	PivotTimeIncrement = 30 * time.Second

	minPivotPriceDivisor   = 2
	maxPivotPriceNumerator = 5
)

// PriceCurve evaluates an auction's price at a point in time.
type PriceCurve interface {
	CurrentPrice(params domain.PriceParams, now time.Time) (domain.Price, error)
	ValidateParameters(params domain.PriceParams) error
}

// LinearCurve moves the price linearly from the start price to the pivot
// price, then raises it by shrinking the divisor one step per
// PivotTimeIncrement until the divisor reaches one.
type LinearCurve struct{}

// NewLinearCurve returns the default protocol curve.
func NewLinearCurve() LinearCurve { return LinearCurve{} }

// CurrentPrice returns the price at now. Calling it twice with the same
// inputs yields the same price.
func (LinearCurve) CurrentPrice(p domain.PriceParams, now time.Time) (domain.Price, error) {
	if p.StartPrice == nil || p.PivotPrice == nil {
		return domain.Price{}, fmt.Errorf("auction: %w: missing start or pivot price", domain.ErrMalformedAuctionState)
	}
	timeToPivot := uint64(p.TimeToPivot / time.Second)
	if timeToPivot == 0 {
		return domain.Price{}, fmt.Errorf("auction: %w: time to pivot is zero", domain.ErrMalformedAuctionState)
	}
	if p.PivotPrice.Lt(p.StartPrice) {
		return domain.Price{}, fmt.Errorf("auction: %w: pivot price below start price", domain.ErrMalformedAuctionState)
	}

	elapsed := ElapsedSeconds(p.StartTime, now)
	divisor := uint256.NewInt(PriceDivisor)

	if elapsed <= timeToPivot {
		// start + (pivot - start) * elapsed / timeToPivot
		num := new(uint256.Int).Sub(p.PivotPrice, p.StartPrice)
		if _, overflow := num.MulOverflow(num, uint256.NewInt(elapsed)); overflow {
			return domain.Price{}, fmt.Errorf("auction: %w: price overflow", domain.ErrMalformedAuctionState)
		}
		num.Div(num, uint256.NewInt(timeToPivot))
		num.Add(num, p.StartPrice)
		return domain.Price{Numerator: num, Divisor: divisor}, nil
	}

	steps := (elapsed - timeToPivot) / uint64(PivotTimeIncrement/time.Second)
	if steps > PriceDivisor-1 {
		steps = PriceDivisor - 1
	}
	divisor.SubUint64(divisor, steps)
	return domain.Price{Numerator: new(uint256.Int).Set(p.PivotPrice), Divisor: divisor}, nil
}

// ValidateParameters applies the curve's own bounds to a proposal: prices
// are positive, the start price does not exceed the pivot, and the pivot
// lies strictly between half and five times the divisor.
func (LinearCurve) ValidateParameters(p domain.PriceParams) error {
	const op = "price_curve"
	if p.TimeToPivot < time.Second {
		return domain.NewValidationError(op, domain.ErrInvalidPriceCurve, "time to pivot must be at least one second")
	}
	if p.StartPrice == nil || p.StartPrice.IsZero() || p.PivotPrice == nil || p.PivotPrice.IsZero() {
		return domain.NewValidationError(op, domain.ErrInvalidPriceCurve, "start and pivot prices must be positive")
	}
	if p.StartPrice.Gt(p.PivotPrice) {
		return domain.NewValidationError(op, domain.ErrInvalidPriceCurve,
			fmt.Sprintf("start price %s exceeds pivot price %s", p.StartPrice.Dec(), p.PivotPrice.Dec()))
	}
	lower := uint256.NewInt(PriceDivisor / minPivotPriceDivisor)
	upper := uint256.NewInt(PriceDivisor * maxPivotPriceNumerator)
	if !p.PivotPrice.Gt(lower) || !p.PivotPrice.Lt(upper) {
		return domain.NewValidationError(op, domain.ErrInvalidPriceCurve,
			fmt.Sprintf("pivot price %s outside (%s, %s)", p.PivotPrice.Dec(), lower.Dec(), upper.Dec()))
	}
	return nil
}

// PassedPivot reports whether the auction has reached its pivot time, after
// which a failed auction may be ended.
func PassedPivot(p domain.PriceParams, now time.Time) bool {
	return !now.Before(p.StartTime.Add(p.TimeToPivot))
}

// ElapsedSeconds returns whole seconds from start to now, or zero when now
// precedes start.
func ElapsedSeconds(start, now time.Time) uint64 {
	if !now.After(start) {
		return 0
	}
	return uint64(now.Unix() - start.Unix())
}
