package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/invariant"
)

// AllocatorPlanner resolves the basket an allocator would rebalance a pool
// into for a target allocation of the risk asset, in whole percent.
type AllocatorPlanner interface {
	PlanNextBasket(ctx context.Context, allocator common.Address, targetPercent uint64, currentBasket common.Address) (common.Address, error)
}

// AllocationConfig holds the auction parameters used for proposals derived
// from allocation changes.
type AllocationConfig struct {
	PriceCurve         common.Address
	StartPrice         *uint256.Int
	PivotPrice         *uint256.Int
	DefaultTimeToPivot time.Duration
}

// AllocationValidator checks trader-driven allocation changes and the
// proposal each one implies.
type AllocationValidator struct {
	deps      Deps
	cfg       AllocationConfig
	planner   AllocatorPlanner
	proposals *ProposalValidator
	logger    *slog.Logger
}

// NewAllocationValidator creates an AllocationValidator.
func NewAllocationValidator(deps Deps, cfg AllocationConfig, planner AllocatorPlanner, proposals *ProposalValidator) *AllocationValidator {
	return &AllocationValidator{
		deps:      deps,
		cfg:       cfg,
		planner:   planner,
		proposals: proposals,
		logger:    deps.logger("allocation-validator"),
	}
}

// ValidateUpdateAllocation checks the change and returns the synthetic
// proposal the manager contract will submit on the trader's behalf.
func (v *AllocationValidator) ValidateUpdateAllocation(ctx context.Context, p domain.AllocationParams) (domain.ProposeParams, error) {
	const op = "update_allocation"
	if err := p.Validate(); err != nil {
		return domain.ProposeParams{}, err
	}
	pool, err := v.deps.Ledger.ReadTradingPool(ctx, p.Manager, p.Pool)
	if err != nil {
		return domain.ProposeParams{}, readErr(op, "trading pool", err)
	}
	if err := invariant.AssertTrader(op, pool, p.Caller); err != nil {
		return domain.ProposeParams{}, err
	}
	if err := invariant.AssertNotState(op, pool.Basket, domain.StateRebalance); err != nil {
		return domain.ProposeParams{}, err
	}
	now, err := v.deps.now(ctx)
	if err != nil {
		return domain.ProposeParams{}, err
	}
	if err := invariant.AssertTimingElapsed(op, pool.Basket.LastRebalancedAt, pool.Basket.RebalanceInterval, now); err != nil {
		return domain.ProposeParams{}, err
	}
	if err := invariant.AssertPercentGranularity(op, p.NewAllocation); err != nil {
		return domain.ProposeParams{}, err
	}

	target := new(uint256.Int).Div(p.NewAllocation, domain.OnePercent).Uint64()
	next, err := v.planner.PlanNextBasket(ctx, pool.Allocator, target, pool.Basket.CurrentBasket)
	if err != nil {
		return domain.ProposeParams{}, fmt.Errorf("validator: %s: plan next basket: %w", op, err)
	}

	ttp := p.TimeToPivot
	if ttp == 0 {
		ttp = v.cfg.DefaultTimeToPivot
	}
	proposal := domain.ProposeParams{
		Basket:      p.Pool,
		NextBasket:  next,
		PriceCurve:  v.cfg.PriceCurve,
		TimeToPivot: ttp,
		StartPrice:  v.cfg.StartPrice,
		PivotPrice:  v.cfg.PivotPrice,
		Caller:      p.Manager,
	}
	if err := proposal.Validate(); err != nil {
		return domain.ProposeParams{}, err
	}
	if err := v.proposals.checkProposal(ctx, op, pool.Basket, proposal); err != nil {
		return domain.ProposeParams{}, err
	}

	v.logger.InfoContext(ctx, "allocation change valid",
		slog.String("pool", p.Pool.Hex()),
		slog.Uint64("target_percent", target),
		slog.String("next_basket", next.Hex()),
	)
	return proposal, nil
}
