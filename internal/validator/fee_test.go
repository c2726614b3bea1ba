package validator

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

func poolLedger() *fakeLedger {
	l := defaultLedger()
	l.pools[basketAddr] = domain.TradingPool{
		Basket:             l.baskets[basketAddr],
		Manager:            managerAddr,
		Kind:               domain.ManagerSocialTradingV2,
		Trader:             traderAddr,
		Allocator:          allocatorAddr,
		CurrentAllocation:  domain.Percent(50),
		FeeCalculator:      feeCalc,
		TimelockPeriod:     24 * time.Hour,
		ProfitFee:          domain.BasisPoints(1000),
		StreamingFee:       domain.BasisPoints(100),
		FeeUpdateTimestamp: time.Time{},
	}
	l.ceilings[feeCalc] = domain.FeeCeilings{
		MaxProfitFee:    domain.BasisPoints(2000),
		MaxStreamingFee: domain.BasisPoints(500),
	}
	return l
}

func feeChange(feeType domain.FeeType, pct *uint256.Int) domain.FeeChangeParams {
	return domain.FeeChangeParams{
		Manager:       managerAddr,
		Pool:          basketAddr,
		Caller:        traderAddr,
		FeeType:       feeType,
		NewPercentage: pct,
	}
}

func TestValidateFeeChange(t *testing.T) {
	oneAndAHalfBP := new(uint256.Int).Add(domain.OneBasisPoint, new(uint256.Int).Div(domain.OneBasisPoint, u(2)))

	tests := []struct {
		name    string
		params  domain.FeeChangeParams
		mutate  func(l *fakeLedger)
		wantErr error
	}{
		{name: "one basis point", params: feeChange(domain.FeeStreaming, domain.BasisPoints(1))},
		{name: "at the ceiling", params: feeChange(domain.FeeProfit, domain.BasisPoints(2000))},
		{
			name:    "above the profit ceiling",
			params:  feeChange(domain.FeeProfit, domain.BasisPoints(2500)),
			wantErr: domain.ErrFeeExceedsCeiling,
		},
		{
			name:    "above the streaming ceiling",
			params:  feeChange(domain.FeeStreaming, domain.BasisPoints(501)),
			wantErr: domain.ErrFeeExceedsCeiling,
		},
		{
			name:    "fractional basis point",
			params:  feeChange(domain.FeeStreaming, oneAndAHalfBP),
			wantErr: domain.ErrInvalidQuantity,
		},
		{
			name: "caller is not the trader",
			params: func() domain.FeeChangeParams {
				p := feeChange(domain.FeeProfit, domain.BasisPoints(100))
				p.Caller = strangerAddr
				return p
			}(),
			wantErr: domain.ErrNotAuthorized,
		},
		{
			name:   "manager without performance fees",
			params: feeChange(domain.FeeProfit, domain.BasisPoints(100)),
			mutate: func(l *fakeLedger) {
				p := l.pools[basketAddr]
				p.Kind = domain.ManagerSocialTrading
				l.pools[basketAddr] = p
			},
			wantErr: domain.ErrInvalidParams,
		},
		{
			name:    "unknown fee type",
			params:  feeChange("entry", domain.BasisPoints(100)),
			wantErr: domain.ErrInvalidParams,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := poolLedger()
			if tc.mutate != nil {
				tc.mutate(l)
			}
			proposal, err := NewFeeValidator(testDeps(l, testNow)).ValidateFeeChange(context.Background(), tc.params)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			_, hash, err := contracts.EncodeAdjustFee(tc.params.Pool, tc.params.FeeType, tc.params.NewPercentage)
			require.NoError(t, err)
			assert.Equal(t, hash, proposal.UpgradeHash)
			assert.Equal(t, testNow, proposal.ProposedAt)
		})
	}
}

func TestValidateFinalize(t *testing.T) {
	params := feeChange(domain.FeeProfit, domain.BasisPoints(1500))
	_, hash, err := contracts.EncodeAdjustFee(params.Pool, params.FeeType, params.NewPercentage)
	require.NoError(t, err)

	registered := func(at time.Time) *fakeLedger {
		l := poolLedger()
		p := l.pools[basketAddr]
		p.FeeUpdateTimestamp = at
		l.pools[basketAddr] = p
		l.upgrades[hash] = at
		return l
	}

	t.Run("timelock elapsed", func(t *testing.T) {
		l := registered(testNow.Add(-25 * time.Hour))
		proposal, err := NewFeeValidator(testDeps(l, testNow)).ValidateFinalize(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, hash, proposal.UpgradeHash)
	})

	t.Run("timelock running", func(t *testing.T) {
		l := registered(testNow.Add(-time.Hour))
		_, err := NewFeeValidator(testDeps(l, testNow)).ValidateFinalize(context.Background(), params)
		assert.ErrorIs(t, err, domain.ErrTimingNotElapsed)
	})

	t.Run("nothing pending", func(t *testing.T) {
		l := poolLedger()
		_, err := NewFeeValidator(testDeps(l, testNow)).ValidateFinalize(context.Background(), params)
		assert.ErrorIs(t, err, domain.ErrNoPendingFeeChange)
	})

	t.Run("different change pending", func(t *testing.T) {
		l := registered(testNow.Add(-25 * time.Hour))
		other := feeChange(domain.FeeProfit, domain.BasisPoints(1200))
		_, err := NewFeeValidator(testDeps(l, testNow)).ValidateFinalize(context.Background(), other)
		assert.ErrorIs(t, err, domain.ErrNoPendingFeeChange)
	})
}

func TestValidateRemoveFeeUpdate(t *testing.T) {
	params := feeChange(domain.FeeStreaming, domain.BasisPoints(200))
	_, hash, err := contracts.EncodeAdjustFee(params.Pool, params.FeeType, params.NewPercentage)
	require.NoError(t, err)

	l := poolLedger()
	v := NewFeeValidator(testDeps(l, testNow))
	ctx := context.Background()

	assert.ErrorIs(t, v.ValidateRemoveFeeUpdate(ctx, managerAddr, basketAddr, traderAddr, hash), domain.ErrNoPendingFeeChange)

	l.upgrades[hash] = testNow.Add(-time.Minute)
	assert.NoError(t, v.ValidateRemoveFeeUpdate(ctx, managerAddr, basketAddr, traderAddr, hash))
	assert.ErrorIs(t, v.ValidateRemoveFeeUpdate(ctx, managerAddr, basketAddr, strangerAddr, hash), domain.ErrNotAuthorized)
}
