package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/invariant"
)

// FeeValidator checks timelocked performance fee changes on trading pools.
// A change is registered by a first adjustFee call and applied by an
// identical second call once the timelock has run.
type FeeValidator struct {
	deps   Deps
	logger *slog.Logger
}

// NewFeeValidator creates a FeeValidator.
func NewFeeValidator(deps Deps) *FeeValidator {
	return &FeeValidator{deps: deps, logger: deps.logger("fee-validator")}
}

// ValidateFeeChange checks a new fee request and returns the proposal to
// register, including the call data and its upgrade hash.
func (v *FeeValidator) ValidateFeeChange(ctx context.Context, p domain.FeeChangeParams) (domain.FeeChangeProposal, error) {
	const op = "adjust_fee"
	if err := p.Validate(); err != nil {
		return domain.FeeChangeProposal{}, err
	}
	pool, err := v.readPool(ctx, op, p.Manager, p.Pool, p.Caller)
	if err != nil {
		return domain.FeeChangeProposal{}, err
	}
	if err := v.checkPercentage(ctx, op, pool, p); err != nil {
		return domain.FeeChangeProposal{}, err
	}

	proposal, err := buildFeeProposal(p)
	if err != nil {
		return domain.FeeChangeProposal{}, err
	}
	if proposal.ProposedAt, err = v.deps.now(ctx); err != nil {
		return domain.FeeChangeProposal{}, err
	}

	v.logger.DebugContext(ctx, "fee change valid",
		slog.String("pool", p.Pool.Hex()),
		slog.String("fee_type", string(p.FeeType)),
		slog.String("upgrade_hash", proposal.UpgradeHash.Hex()),
	)
	return proposal, nil
}

// ValidateFinalize checks that the change described by p was registered and
// its timelock has elapsed.
func (v *FeeValidator) ValidateFinalize(ctx context.Context, p domain.FeeChangeParams) (domain.FeeChangeProposal, error) {
	const op = "finalize_fee"
	if err := p.Validate(); err != nil {
		return domain.FeeChangeProposal{}, err
	}
	pool, err := v.readPool(ctx, op, p.Manager, p.Pool, p.Caller)
	if err != nil {
		return domain.FeeChangeProposal{}, err
	}
	if pool.FeeUpdateTimestamp.IsZero() {
		return domain.FeeChangeProposal{}, domain.NewValidationError(op, domain.ErrNoPendingFeeChange,
			fmt.Sprintf("pool %s has no pending fee update", p.Pool.Hex()))
	}
	if err := v.checkPercentage(ctx, op, pool, p); err != nil {
		return domain.FeeChangeProposal{}, err
	}

	proposal, err := buildFeeProposal(p)
	if err != nil {
		return domain.FeeChangeProposal{}, err
	}
	registeredAt, err := v.requireRegistered(ctx, op, p.Manager, proposal.UpgradeHash)
	if err != nil {
		return domain.FeeChangeProposal{}, err
	}
	proposal.ProposedAt = registeredAt

	now, err := v.deps.now(ctx)
	if err != nil {
		return domain.FeeChangeProposal{}, err
	}
	if err := invariant.AssertTimingElapsed(op, pool.FeeUpdateTimestamp, pool.TimelockPeriod, now); err != nil {
		return domain.FeeChangeProposal{}, err
	}
	return proposal, nil
}

// ValidateRemoveFeeUpdate checks that upgradeHash is a registered change the
// caller may cancel.
func (v *FeeValidator) ValidateRemoveFeeUpdate(ctx context.Context, manager, poolAddr, caller common.Address, upgradeHash common.Hash) error {
	const op = "remove_fee_update"
	if _, err := v.readPool(ctx, op, manager, poolAddr, caller); err != nil {
		return err
	}
	_, err := v.requireRegistered(ctx, op, manager, upgradeHash)
	return err
}

// readPool loads the pool and checks it supports performance fees and that
// caller is its trader.
func (v *FeeValidator) readPool(ctx context.Context, op string, manager, poolAddr, caller common.Address) (domain.TradingPool, error) {
	pool, err := v.deps.Ledger.ReadTradingPool(ctx, manager, poolAddr)
	if err != nil {
		return domain.TradingPool{}, readErr(op, "trading pool", err)
	}
	if pool.Kind != domain.ManagerSocialTradingV2 {
		return domain.TradingPool{}, domain.NewValidationError(op, domain.ErrInvalidParams,
			fmt.Sprintf("manager %s does not support performance fee changes", manager.Hex()))
	}
	if err := invariant.AssertTrader(op, pool, caller); err != nil {
		return domain.TradingPool{}, err
	}
	return pool, nil
}

func (v *FeeValidator) checkPercentage(ctx context.Context, op string, pool domain.TradingPool, p domain.FeeChangeParams) error {
	if err := invariant.AssertBasisPointGranularity(op, p.NewPercentage); err != nil {
		return err
	}
	ceilings, err := v.deps.Ledger.ReadFeeCeilings(ctx, pool.FeeCalculator)
	if err != nil {
		return readErr(op, "fee ceilings", err)
	}
	return invariant.AssertFeeCeiling(op, p.NewPercentage, ceilings.For(p.FeeType))
}

func (v *FeeValidator) requireRegistered(ctx context.Context, op string, manager common.Address, hash common.Hash) (time.Time, error) {
	registeredAt, err := v.deps.Ledger.ReadFeeUpgrade(ctx, manager, hash)
	if err != nil {
		return registeredAt, readErr(op, "fee upgrade", err)
	}
	if registeredAt.IsZero() {
		return registeredAt, domain.NewValidationError(op, domain.ErrNoPendingFeeChange,
			fmt.Sprintf("upgrade %s is not registered", hash.Hex()))
	}
	return registeredAt, nil
}

func buildFeeProposal(p domain.FeeChangeParams) (domain.FeeChangeProposal, error) {
	data, hash, err := contracts.EncodeAdjustFee(p.Pool, p.FeeType, p.NewPercentage)
	if err != nil {
		return domain.FeeChangeProposal{}, fmt.Errorf("validator: encode fee change: %w", err)
	}
	return domain.FeeChangeProposal{
		Pool:          p.Pool,
		FeeType:       p.FeeType,
		NewPercentage: new(uint256.Int).Set(p.NewPercentage),
		UpgradeHash:   hash,
		CallData:      data,
	}, nil
}
