package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Reader is what the ledger adapter needs from the RPC client.
type Reader interface {
	ethereum.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
}

// LedgerConfig names the protocol contracts reads are issued against.
type LedgerConfig struct {
	Core common.Address
	// Managers maps trading-pool manager contracts to their kind. Unlisted
	// managers are treated as ManagerSocialTrading.
	Managers map[common.Address]domain.ManagerKind
}

// Ledger reads protocol state over JSON-RPC. Every read is issued fresh;
// the reads that make up one snapshot are pinned to a single block.
type Ledger struct {
	c      caller
	head   Reader
	cfg    LedgerConfig
	logger *slog.Logger
}

var (
	_ domain.LedgerReader = (*Ledger)(nil)
	_ domain.Registry     = (*Ledger)(nil)
)

// NewLedger creates a Ledger.
func NewLedger(backend Reader, cfg LedgerConfig, logger *slog.Logger) *Ledger {
	return &Ledger{
		c:      caller{backend: backend},
		head:   backend,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// pin returns the head block number so a multi-call snapshot is consistent.
func (l *Ledger) pin(ctx context.Context) (*big.Int, error) {
	n, err := l.head.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: head block: %w", err)
	}
	return new(big.Int).SetUint64(n), nil
}

// ReadBasketState implements domain.LedgerReader.
func (l *Ledger) ReadBasketState(ctx context.Context, basket common.Address) (domain.RebalancingBasket, error) {
	block, err := l.pin(ctx)
	if err != nil {
		return domain.RebalancingBasket{}, err
	}
	return l.readBasketAt(ctx, block, basket)
}

func (l *Ledger) readBasketAt(ctx context.Context, block *big.Int, basket common.Address) (domain.RebalancingBasket, error) {
	rs := contracts.RebalancingSet
	var (
		out                                            = domain.RebalancingBasket{Address: basket}
		stateOrdinal                                   uint8
		proposalPeriod, interval, lastRebal, propStart *uint256.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := l.c.call(gctx, block, basket, rs, "rebalanceState")
		if err != nil {
			return err
		}
		v, ok := res[0].(uint8)
		if !ok {
			return fmt.Errorf("chain: rebalanceState: unexpected %T", res[0])
		}
		stateOrdinal = v
		return nil
	})
	g.Go(func() (err error) {
		out.Manager, err = l.c.callAddress(gctx, block, basket, rs, "manager")
		return err
	})
	g.Go(func() (err error) {
		out.CurrentBasket, err = l.c.callAddress(gctx, block, basket, rs, "currentSet")
		return err
	})
	g.Go(func() (err error) {
		out.UnitShares, err = l.c.callUint(gctx, block, basket, rs, "unitShares")
		return err
	})
	g.Go(func() (err error) {
		out.NaturalUnit, err = l.c.callUint(gctx, block, basket, rs, "naturalUnit")
		return err
	})
	g.Go(func() (err error) {
		proposalPeriod, err = l.c.callUint(gctx, block, basket, rs, "proposalPeriod")
		return err
	})
	g.Go(func() (err error) {
		interval, err = l.c.callUint(gctx, block, basket, rs, "rebalanceInterval")
		return err
	})
	g.Go(func() (err error) {
		lastRebal, err = l.c.callUint(gctx, block, basket, rs, "lastRebalanceTimestamp")
		return err
	})
	g.Go(func() (err error) {
		propStart, err = l.c.callUint(gctx, block, basket, rs, "proposalStartTime")
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.RebalancingBasket{}, err
	}

	state, err := contracts.StateFromOrdinal(stateOrdinal)
	if err != nil {
		return domain.RebalancingBasket{}, err
	}
	out.State = state
	if out.ProposalPeriod, err = seconds(proposalPeriod); err != nil {
		return domain.RebalancingBasket{}, err
	}
	if out.RebalanceInterval, err = seconds(interval); err != nil {
		return domain.RebalancingBasket{}, err
	}
	if out.LastRebalancedAt, err = unixTime(lastRebal); err != nil {
		return domain.RebalancingBasket{}, err
	}
	if out.ProposalStartTime, err = unixTime(propStart); err != nil {
		return domain.RebalancingBasket{}, err
	}
	return out, nil
}

// auctionParams is the decoded auctionParameters() tuple.
type auctionParams struct {
	startTime, timeToPivot, startPrice, pivotPrice *uint256.Int
}

func (l *Ledger) readAuctionParams(ctx context.Context, block *big.Int, basket common.Address) (auctionParams, error) {
	res, err := l.c.call(ctx, block, basket, contracts.RebalancingSet, "auctionParameters")
	if err != nil {
		return auctionParams{}, err
	}
	var p auctionParams
	for i, dst := range []**uint256.Int{&p.startTime, &p.timeToPivot, &p.startPrice, &p.pivotPrice} {
		if *dst, err = bigAt(res, i); err != nil {
			return auctionParams{}, err
		}
	}
	return p, nil
}

// ReadProposal implements domain.LedgerReader.
func (l *Ledger) ReadProposal(ctx context.Context, basket common.Address) (domain.Proposal, error) {
	block, err := l.pin(ctx)
	if err != nil {
		return domain.Proposal{}, err
	}
	rs := contracts.RebalancingSet
	var (
		out       domain.Proposal
		params    auctionParams
		propStart *uint256.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.NextBasket, err = l.c.callAddress(gctx, block, basket, rs, "nextSet")
		return err
	})
	g.Go(func() (err error) {
		out.PriceCurve, err = l.c.callAddress(gctx, block, basket, rs, "auctionLibrary")
		return err
	})
	g.Go(func() (err error) {
		params, err = l.readAuctionParams(gctx, block, basket)
		return err
	})
	g.Go(func() (err error) {
		propStart, err = l.c.callUint(gctx, block, basket, rs, "proposalStartTime")
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Proposal{}, err
	}
	if out.AuctionTimeToPivot, err = seconds(params.timeToPivot); err != nil {
		return domain.Proposal{}, err
	}
	if out.ProposalStartTime, err = unixTime(propStart); err != nil {
		return domain.Proposal{}, err
	}
	out.AuctionStartPrice = params.startPrice
	out.AuctionPivotPrice = params.pivotPrice
	return out, nil
}

// ReadAuctionState implements domain.LedgerReader.
func (l *Ledger) ReadAuctionState(ctx context.Context, basket common.Address) (domain.AuctionState, error) {
	block, err := l.pin(ctx)
	if err != nil {
		return domain.AuctionState{}, err
	}
	rs := contracts.RebalancingSet
	var (
		out    domain.AuctionState
		params auctionParams
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.CombinedTokens, err = l.c.callAddresses(gctx, block, basket, rs, "getCombinedTokenArray")
		return err
	})
	g.Go(func() (err error) {
		out.CombinedCurrentUnits, err = l.c.callUints(gctx, block, basket, rs, "getCombinedCurrentUnits")
		return err
	})
	g.Go(func() (err error) {
		out.CombinedNextUnits, err = l.c.callUints(gctx, block, basket, rs, "getCombinedNextSetUnits")
		return err
	})
	g.Go(func() (err error) {
		params, err = l.readAuctionParams(gctx, block, basket)
		return err
	})
	g.Go(func() (err error) {
		out.PriceCurve, err = l.c.callAddress(gctx, block, basket, rs, "auctionLibrary")
		return err
	})
	g.Go(func() error {
		res, err := l.c.call(gctx, block, basket, rs, "biddingParameters")
		if err != nil {
			return err
		}
		if out.MinimumBid, err = bigAt(res, 0); err != nil {
			return err
		}
		out.RemainingCurrentSets, err = bigAt(res, 1)
		return err
	})
	g.Go(func() (err error) {
		out.StartingCurrentSets, err = l.c.callUint(gctx, block, basket, rs, "startingCurrentSetAmount")
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.AuctionState{}, err
	}

	if out.AuctionStartTime, err = unixTime(params.startTime); err != nil {
		return domain.AuctionState{}, err
	}
	if out.TimeToPivot, err = seconds(params.timeToPivot); err != nil {
		return domain.AuctionState{}, err
	}
	out.StartPrice = params.startPrice
	out.PivotPrice = params.pivotPrice
	return out, nil
}

// ReadBalance implements domain.LedgerReader.
func (l *Ledger) ReadBalance(ctx context.Context, token, owner common.Address) (*uint256.Int, error) {
	return l.c.callUint(ctx, nil, token, contracts.ERC20, "balanceOf", owner)
}

// ReadAllowance implements domain.LedgerReader.
func (l *Ledger) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	return l.c.callUint(ctx, nil, token, contracts.ERC20, "allowance", owner, spender)
}

// ReadFeeCeilings implements domain.LedgerReader.
func (l *Ledger) ReadFeeCeilings(ctx context.Context, calculator common.Address) (domain.FeeCeilings, error) {
	block, err := l.pin(ctx)
	if err != nil {
		return domain.FeeCeilings{}, err
	}
	var out domain.FeeCeilings
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.MaxProfitFee, err = l.c.callUint(gctx, block, calculator, contracts.FeeCalculator, "maximumProfitFeePercentage")
		return err
	})
	g.Go(func() (err error) {
		out.MaxStreamingFee, err = l.c.callUint(gctx, block, calculator, contracts.FeeCalculator, "maximumStreamingFeePercentage")
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.FeeCeilings{}, err
	}
	return out, nil
}

// ReadPoolInfo implements domain.LedgerReader.
func (l *Ledger) ReadPoolInfo(ctx context.Context, manager, pool common.Address) (domain.PoolInfo, error) {
	return l.readPoolInfoAt(ctx, nil, manager, pool)
}

func (l *Ledger) readPoolInfoAt(ctx context.Context, block *big.Int, manager, pool common.Address) (domain.PoolInfo, error) {
	res, err := l.c.call(ctx, block, manager, contracts.TradingManager, "pools", pool)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	trader, ok1 := res[0].(common.Address)
	allocator, ok2 := res[1].(common.Address)
	if !ok1 || !ok2 {
		return domain.PoolInfo{}, fmt.Errorf("chain: pools: unexpected output types %T, %T", res[0], res[1])
	}
	alloc, err := bigAt(res, 2)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	feeTS, err := bigAt(res, 4)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	if trader == (common.Address{}) {
		return domain.PoolInfo{}, fmt.Errorf("chain: pool %s on manager %s: %w", pool.Hex(), manager.Hex(), domain.ErrNotFound)
	}
	updated, err := unixTime(feeTS)
	if err != nil {
		return domain.PoolInfo{}, err
	}
	return domain.PoolInfo{
		Trader:             trader,
		Allocator:          allocator,
		CurrentAllocation:  alloc,
		FeeUpdateTimestamp: updated,
	}, nil
}

// ManagerKind returns the configured kind of manager.
func (l *Ledger) ManagerKind(manager common.Address) domain.ManagerKind {
	if k, ok := l.cfg.Managers[manager]; ok {
		return k
	}
	return domain.ManagerSocialTrading
}

// ReadTradingPool implements domain.LedgerReader. Performance fee fields
// are only read for V2 managers.
func (l *Ledger) ReadTradingPool(ctx context.Context, manager, pool common.Address) (domain.TradingPool, error) {
	block, err := l.pin(ctx)
	if err != nil {
		return domain.TradingPool{}, err
	}
	rs := contracts.RebalancingSet
	out := domain.TradingPool{Manager: manager, Kind: l.ManagerKind(manager)}

	var info domain.PoolInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info, err = l.readPoolInfoAt(gctx, block, manager, pool)
		return err
	})
	g.Go(func() (err error) {
		out.Basket, err = l.readBasketAt(gctx, block, pool)
		return err
	})
	g.Go(func() (err error) {
		out.EntryFee, err = l.c.callUint(gctx, block, pool, rs, "entryFee")
		return err
	})
	g.Go(func() (err error) {
		out.RebalanceFee, err = l.c.callUint(gctx, block, pool, rs, "rebalanceFee")
		return err
	})
	if out.Kind == domain.ManagerSocialTradingV2 {
		g.Go(func() (err error) {
			out.FeeCalculator, err = l.c.callAddress(gctx, block, pool, rs, "rebalanceFeeCalculator")
			return err
		})
		g.Go(func() error {
			lock, err := l.c.callUint(gctx, block, manager, contracts.TradingManager, "timeLockPeriod")
			if err != nil {
				return err
			}
			out.TimelockPeriod, err = seconds(lock)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return domain.TradingPool{}, err
	}

	out.Trader = info.Trader
	out.Allocator = info.Allocator
	out.CurrentAllocation = info.CurrentAllocation
	out.FeeUpdateTimestamp = info.FeeUpdateTimestamp

	if out.Kind == domain.ManagerSocialTradingV2 {
		if err := l.readFeeState(ctx, block, &out); err != nil {
			return domain.TradingPool{}, err
		}
	}
	return out, nil
}

func (l *Ledger) readFeeState(ctx context.Context, block *big.Int, pool *domain.TradingPool) error {
	res, err := l.c.call(ctx, block, pool.FeeCalculator, contracts.FeeCalculator, "feeState", pool.Basket.Address)
	if err != nil {
		return err
	}
	vals := make([]*uint256.Int, 4)
	for i := range vals {
		if vals[i], err = bigAt(res, i); err != nil {
			return err
		}
	}
	if pool.ProfitFeePeriod, err = seconds(vals[0]); err != nil {
		return err
	}
	if pool.HighWatermarkResetPeriod, err = seconds(vals[1]); err != nil {
		return err
	}
	pool.ProfitFee = vals[2]
	pool.StreamingFee = vals[3]
	return nil
}

// ReadFeeUpgrade implements domain.LedgerReader. An unregistered hash
// reads as the zero time.
func (l *Ledger) ReadFeeUpgrade(ctx context.Context, manager common.Address, upgradeHash common.Hash) (time.Time, error) {
	ts, err := l.c.callUint(ctx, nil, manager, contracts.TradingManager, "timeLockedUpgrades", [32]byte(upgradeHash))
	if err != nil {
		return time.Time{}, err
	}
	return unixTime(ts)
}

// ReadCTokenExchangeRate implements domain.LedgerReader.
func (l *Ledger) ReadCTokenExchangeRate(ctx context.Context, cToken common.Address) (*uint256.Int, error) {
	return l.c.callUint(ctx, nil, cToken, contracts.CToken, "exchangeRateStored")
}

// ReadBidPrice implements domain.LedgerReader.
func (l *Ledger) ReadBidPrice(ctx context.Context, basket common.Address, quantity *uint256.Int) (domain.TokenFlow, error) {
	block, err := l.pin(ctx)
	if err != nil {
		return domain.TokenFlow{}, err
	}
	tokens, err := l.c.callAddresses(ctx, block, basket, contracts.RebalancingSet, "getCombinedTokenArray")
	if err != nil {
		return domain.TokenFlow{}, err
	}
	res, err := l.c.call(ctx, block, basket, contracts.RebalancingSet, "getBidPrice", contracts.Big(quantity))
	if err != nil {
		return domain.TokenFlow{}, err
	}
	in, err := bigsAt(res, 0)
	if err != nil {
		return domain.TokenFlow{}, err
	}
	out, err := bigsAt(res, 1)
	if err != nil {
		return domain.TokenFlow{}, err
	}
	if len(in) != len(tokens) || len(out) != len(tokens) {
		return domain.TokenFlow{}, fmt.Errorf("chain: %w: bid price returned %d/%d legs for %d tokens",
			domain.ErrMalformedAuctionState, len(in), len(out), len(tokens))
	}
	return domain.TokenFlow{Tokens: tokens, Inflow: in, Outflow: out}, nil
}

// IsValidBasket implements domain.Registry.
func (l *Ledger) IsValidBasket(ctx context.Context, basket common.Address) (bool, error) {
	return l.c.callBool(ctx, nil, l.cfg.Core, contracts.Core, "validSets", basket)
}

// IsApprovedPriceCurve implements domain.Registry.
func (l *Ledger) IsApprovedPriceCurve(ctx context.Context, curve common.Address) (bool, error) {
	return l.c.callBool(ctx, nil, l.cfg.Core, contracts.Core, "validPriceLibraries", curve)
}
