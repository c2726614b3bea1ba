// Package invariant holds the protocol checks shared by every validator.
// Each function returns nil or a *domain.ValidationError tagged with op.
package invariant

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// AssertState fails with ErrInvalidState unless the basket is in one of the
// expected states.
func AssertState(op string, basket domain.RebalancingBasket, expected ...domain.RebalanceState) error {
	for _, s := range expected {
		if basket.State == s {
			return nil
		}
	}
	names := make([]string, len(expected))
	for i, s := range expected {
		names[i] = string(s)
	}
	return domain.NewValidationError(op, domain.ErrInvalidState,
		fmt.Sprintf("basket %s is in %s, expected %s", basket.Address.Hex(), basket.State, strings.Join(names, " or ")))
}

// AssertNotState fails with ErrInvalidState if the basket is in state s.
func AssertNotState(op string, basket domain.RebalancingBasket, s domain.RebalanceState) error {
	if basket.State == s {
		return domain.NewValidationError(op, domain.ErrInvalidState,
			fmt.Sprintf("basket %s must not be in %s", basket.Address.Hex(), s))
	}
	return nil
}

// AssertManager fails with ErrNotAuthorized unless caller manages the basket.
func AssertManager(op string, basket domain.RebalancingBasket, caller common.Address) error {
	if basket.Manager != caller {
		return domain.NewValidationError(op, domain.ErrNotAuthorized,
			fmt.Sprintf("caller %s is not the manager %s", caller.Hex(), basket.Manager.Hex()))
	}
	return nil
}

// AssertTrader fails with ErrNotAuthorized unless caller trades the pool.
func AssertTrader(op string, pool domain.TradingPool, caller common.Address) error {
	if pool.Trader != caller {
		return domain.NewValidationError(op, domain.ErrNotAuthorized,
			fmt.Sprintf("caller %s is not the trader %s", caller.Hex(), pool.Trader.Hex()))
	}
	return nil
}

// AssertTimingElapsed fails with ErrTimingNotElapsed unless
// now >= lastEvent + required.
func AssertTimingElapsed(op string, lastEvent time.Time, required time.Duration, now time.Time) error {
	ready := lastEvent.Add(required)
	if now.Before(ready) {
		return domain.NewValidationError(op, domain.ErrTimingNotElapsed,
			fmt.Sprintf("available at %s, now %s", ready.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339)))
	}
	return nil
}

// AssertPositive fails with ErrInvalidQuantity when v is nil or zero.
func AssertPositive(op, name string, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity, name+" must be positive")
	}
	return nil
}

// AssertMultipleOf fails with ErrInvalidQuantity unless v is a multiple of
// unit. A zero unit is a malformed ledger value.
func AssertMultipleOf(op, name string, v, unit *uint256.Int) error {
	if unit == nil || unit.IsZero() {
		return domain.NewValidationError(op, domain.ErrMalformedAuctionState, name+" unit is zero")
	}
	if !new(uint256.Int).Mod(v, unit).IsZero() {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity,
			fmt.Sprintf("%s %s is not a multiple of %s", name, v.Dec(), unit.Dec()))
	}
	return nil
}

// AssertAtMost fails with ErrInvalidQuantity when v > limit.
func AssertAtMost(op, name string, v, limit *uint256.Int) error {
	if v.Gt(limit) {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity,
			fmt.Sprintf("%s %s exceeds %s", name, v.Dec(), limit.Dec()))
	}
	return nil
}

// AssertNaturalUnitCompatible fails with ErrInvalidBasket unless one natural
// unit divides the other, so unit conversions between the two baskets are
// exact.
func AssertNaturalUnitCompatible(op string, current, next *uint256.Int) error {
	if current == nil || next == nil || current.IsZero() || next.IsZero() {
		return domain.NewValidationError(op, domain.ErrInvalidBasket, "natural unit is zero")
	}
	var rem uint256.Int
	if rem.Mod(next, current).IsZero() {
		return nil
	}
	if rem.Mod(current, next).IsZero() {
		return nil
	}
	return domain.NewValidationError(op, domain.ErrInvalidBasket,
		fmt.Sprintf("natural units %s and %s are not multiples of each other", current.Dec(), next.Dec()))
}

// AssertBasisPointGranularity fails with ErrInvalidQuantity unless pct is a
// whole number of basis points.
func AssertBasisPointGranularity(op string, pct *uint256.Int) error {
	if !new(uint256.Int).Mod(pct, domain.OneBasisPoint).IsZero() {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity,
			fmt.Sprintf("percentage %s is not a multiple of one basis point", pct.Dec()))
	}
	return nil
}

// AssertPercentGranularity fails with ErrInvalidQuantity unless pct is a
// whole percent between 0 and 100 inclusive.
func AssertPercentGranularity(op string, pct *uint256.Int) error {
	if pct.Gt(domain.OneHundredPercent) {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity,
			fmt.Sprintf("percentage %s exceeds 100%%", pct.Dec()))
	}
	if !new(uint256.Int).Mod(pct, domain.OnePercent).IsZero() {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity,
			fmt.Sprintf("percentage %s is not a multiple of one percent", pct.Dec()))
	}
	return nil
}

// AssertFeeCeiling fails with ErrFeeExceedsCeiling when fee > ceiling.
func AssertFeeCeiling(op string, fee, ceiling *uint256.Int) error {
	if ceiling == nil {
		return domain.NewValidationError(op, domain.ErrFeeExceedsCeiling, "no ceiling reported")
	}
	if fee.Gt(ceiling) {
		return domain.NewValidationError(op, domain.ErrFeeExceedsCeiling,
			fmt.Sprintf("fee %s exceeds ceiling %s", fee.Dec(), ceiling.Dec()))
	}
	return nil
}
