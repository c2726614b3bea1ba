package validator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/invariant"
)

// ProposalValidator checks the manager-driven lifecycle calls.
type ProposalValidator struct {
	deps   Deps
	logger *slog.Logger
}

// NewProposalValidator creates a ProposalValidator.
func NewProposalValidator(deps Deps) *ProposalValidator {
	return &ProposalValidator{deps: deps, logger: deps.logger("proposal-validator")}
}

// ValidatePropose checks a proposal to rebalance into p.NextBasket.
func (v *ProposalValidator) ValidatePropose(ctx context.Context, p domain.ProposeParams) error {
	const op = "propose"
	if err := p.Validate(); err != nil {
		return err
	}
	basket, err := v.deps.Ledger.ReadBasketState(ctx, p.Basket)
	if err != nil {
		return readErr(op, "basket state", err)
	}
	if err := invariant.AssertManager(op, basket, p.Caller); err != nil {
		return err
	}
	return v.checkProposal(ctx, op, basket, p)
}

// checkProposal runs every propose check except manager identity, which
// allocation changes satisfy through the manager contract.
func (v *ProposalValidator) checkProposal(ctx context.Context, op string, basket domain.RebalancingBasket, p domain.ProposeParams) error {
	if err := invariant.AssertState(op, basket, domain.StateDefault); err != nil {
		return err
	}
	if p.TimeToPivot <= 0 {
		return domain.NewValidationError(op, domain.ErrInvalidQuantity, "time to pivot must be positive")
	}
	if err := invariant.AssertPositive(op, "start price", p.StartPrice); err != nil {
		return err
	}
	if err := invariant.AssertPositive(op, "pivot price", p.PivotPrice); err != nil {
		return err
	}
	if err := v.deps.checkBasketRegistered(ctx, op, p.NextBasket); err != nil {
		return err
	}

	next, err := v.deps.Metadata.BasketComposition(ctx, p.NextBasket)
	if err != nil {
		return readErr(op, "next basket composition", err)
	}
	if err := invariant.AssertNaturalUnitCompatible(op, basket.NaturalUnit, next.NaturalUnit); err != nil {
		return err
	}

	if err := v.deps.checkCurveApproved(ctx, op, p.PriceCurve); err != nil {
		return err
	}
	if curve, ok := v.deps.Curves[p.PriceCurve]; ok {
		if err := curve.ValidateParameters(domain.PriceParams{
			TimeToPivot: p.TimeToPivot,
			StartPrice:  p.StartPrice,
			PivotPrice:  p.PivotPrice,
		}); err != nil {
			return err
		}
	}

	now, err := v.deps.now(ctx)
	if err != nil {
		return err
	}
	if err := invariant.AssertTimingElapsed(op, basket.LastRebalancedAt, basket.RebalanceInterval, now); err != nil {
		return err
	}

	v.logger.DebugContext(ctx, "proposal valid",
		slog.String("basket", p.Basket.Hex()),
		slog.String("next_basket", p.NextBasket.Hex()),
	)
	return nil
}

// ValidateStartRebalance checks that the proposal period has run out.
func (v *ProposalValidator) ValidateStartRebalance(ctx context.Context, basketAddr common.Address) error {
	const op = "start_rebalance"
	basket, err := v.deps.Ledger.ReadBasketState(ctx, basketAddr)
	if err != nil {
		return readErr(op, "basket state", err)
	}
	if err := invariant.AssertState(op, basket, auction.RequiredState(auction.EventStartRebalance)); err != nil {
		return err
	}
	now, err := v.deps.now(ctx)
	if err != nil {
		return err
	}
	return invariant.AssertTimingElapsed(op, basket.ProposalStartTime, basket.ProposalPeriod, now)
}

// ValidateSettleRebalance checks that the auction has no biddable sets
// left: fewer remaining than one minimum bid, zero included.
func (v *ProposalValidator) ValidateSettleRebalance(ctx context.Context, basketAddr common.Address) error {
	const op = "settle_rebalance"
	_, a, err := v.readAuction(ctx, op, basketAddr)
	if err != nil {
		return err
	}
	if !a.RemainingCurrentSets.Lt(a.MinimumBid) {
		return domain.NewValidationError(op, domain.ErrInvalidState,
			fmt.Sprintf("%s sets remain, minimum bid is %s", a.RemainingCurrentSets.Dec(), a.MinimumBid.Dec()))
	}
	return nil
}

// ValidateEndFailedAuction checks that the pivot passed with at least one
// minimum bid unfilled, and returns the state the basket will enter.
func (v *ProposalValidator) ValidateEndFailedAuction(ctx context.Context, basketAddr common.Address) (domain.RebalanceState, error) {
	const op = "end_failed_auction"
	basket, a, err := v.readAuction(ctx, op, basketAddr)
	if err != nil {
		return "", err
	}
	now, err := v.deps.now(ctx)
	if err != nil {
		return "", err
	}
	params := a.PriceParams()
	if !auction.PassedPivot(params, now) {
		return "", domain.NewValidationError(op, domain.ErrTimingNotElapsed,
			fmt.Sprintf("pivot time %s not reached", params.StartTime.Add(params.TimeToPivot).UTC()))
	}
	if a.RemainingCurrentSets.Lt(a.MinimumBid) {
		return "", domain.NewValidationError(op, domain.ErrInvalidState,
			"auction is fully bid, settle it instead")
	}
	next, err := auction.Transition(basket.State, auction.EndFailedEvent(a))
	if err != nil {
		return "", domain.NewValidationError(op, domain.ErrInvalidState, err.Error())
	}
	return next, nil
}

func (v *ProposalValidator) readAuction(ctx context.Context, op string, basketAddr common.Address) (domain.RebalancingBasket, domain.AuctionState, error) {
	basket, err := v.deps.Ledger.ReadBasketState(ctx, basketAddr)
	if err != nil {
		return domain.RebalancingBasket{}, domain.AuctionState{}, readErr(op, "basket state", err)
	}
	if err := invariant.AssertState(op, basket, domain.StateRebalance); err != nil {
		return domain.RebalancingBasket{}, domain.AuctionState{}, err
	}
	a, err := v.deps.Ledger.ReadAuctionState(ctx, basketAddr)
	if err != nil {
		return domain.RebalancingBasket{}, domain.AuctionState{}, readErr(op, "auction state", err)
	}
	if a.RemainingCurrentSets == nil || a.MinimumBid == nil {
		return domain.RebalancingBasket{}, domain.AuctionState{}, domain.NewValidationError(op, domain.ErrMalformedAuctionState, "missing bidding parameters")
	}
	return basket, a, nil
}
