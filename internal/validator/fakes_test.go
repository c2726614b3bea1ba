package validator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000000c")

	basketAddr    = common.HexToAddress("0x0000000000000000000000000000000000000100")
	nextBasket    = common.HexToAddress("0x0000000000000000000000000000000000000101")
	currentSet    = common.HexToAddress("0x0000000000000000000000000000000000000102")
	linearCurve   = common.HexToAddress("0x0000000000000000000000000000000000000200")
	remoteCurve   = common.HexToAddress("0x0000000000000000000000000000000000000201")
	managerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000300")
	traderAddr    = common.HexToAddress("0x0000000000000000000000000000000000000301")
	bidderAddr    = common.HexToAddress("0x0000000000000000000000000000000000000400")
	transferProxy = common.HexToAddress("0x0000000000000000000000000000000000000500")
	etherBidder   = common.HexToAddress("0x0000000000000000000000000000000000000501")
	cTokenBidder  = common.HexToAddress("0x0000000000000000000000000000000000000502")
	underlyingB   = common.HexToAddress("0x0000000000000000000000000000000000000600")
	feeCalc       = common.HexToAddress("0x0000000000000000000000000000000000000700")
	allocatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000800")
	strangerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000999")
)

var testNow = time.Unix(1_700_000_000, 0)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fundsKey struct {
	token, owner, spender common.Address
}

type fakeLedger struct {
	mu sync.Mutex

	baskets     map[common.Address]domain.RebalancingBasket
	auctions    map[common.Address]domain.AuctionState
	pools       map[common.Address]domain.TradingPool
	ceilings    map[common.Address]domain.FeeCeilings
	upgrades    map[common.Hash]time.Time
	rates       map[common.Address]*uint256.Int
	balances    map[fundsKey]*uint256.Int
	allowances  map[fundsKey]*uint256.Int
	remoteFlows map[common.Address]domain.TokenFlow

	bidPriceCalls  int
	balanceCalls   int
	allowanceCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		baskets:     map[common.Address]domain.RebalancingBasket{},
		auctions:    map[common.Address]domain.AuctionState{},
		pools:       map[common.Address]domain.TradingPool{},
		ceilings:    map[common.Address]domain.FeeCeilings{},
		upgrades:    map[common.Hash]time.Time{},
		rates:       map[common.Address]*uint256.Int{},
		balances:    map[fundsKey]*uint256.Int{},
		allowances:  map[fundsKey]*uint256.Int{},
		remoteFlows: map[common.Address]domain.TokenFlow{},
	}
}

func (f *fakeLedger) ReadBasketState(_ context.Context, basket common.Address) (domain.RebalancingBasket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.baskets[basket]
	if !ok {
		return domain.RebalancingBasket{}, fmt.Errorf("basket %s: %w", basket.Hex(), domain.ErrNotFound)
	}
	return b, nil
}

func (f *fakeLedger) ReadProposal(_ context.Context, basket common.Address) (domain.Proposal, error) {
	return domain.Proposal{}, domain.ErrNotFound
}

func (f *fakeLedger) ReadAuctionState(_ context.Context, basket common.Address) (domain.AuctionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.auctions[basket]
	if !ok {
		return domain.AuctionState{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeLedger) ReadBalance(_ context.Context, token, owner common.Address) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if v, ok := f.balances[fundsKey{token: token, owner: owner}]; ok {
		return v, nil
	}
	return new(uint256.Int), nil
}

func (f *fakeLedger) ReadAllowance(_ context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowanceCalls++
	if v, ok := f.allowances[fundsKey{token: token, owner: owner, spender: spender}]; ok {
		return v, nil
	}
	return new(uint256.Int), nil
}

func (f *fakeLedger) ReadFeeCeilings(_ context.Context, calculator common.Address) (domain.FeeCeilings, error) {
	c, ok := f.ceilings[calculator]
	if !ok {
		return domain.FeeCeilings{}, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeLedger) ReadPoolInfo(_ context.Context, _, pool common.Address) (domain.PoolInfo, error) {
	p, ok := f.pools[pool]
	if !ok {
		return domain.PoolInfo{}, domain.ErrNotFound
	}
	return domain.PoolInfo{
		Trader:             p.Trader,
		Allocator:          p.Allocator,
		CurrentAllocation:  p.CurrentAllocation,
		FeeUpdateTimestamp: p.FeeUpdateTimestamp,
	}, nil
}

func (f *fakeLedger) ReadTradingPool(_ context.Context, _, pool common.Address) (domain.TradingPool, error) {
	p, ok := f.pools[pool]
	if !ok {
		return domain.TradingPool{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeLedger) ReadFeeUpgrade(_ context.Context, _ common.Address, hash common.Hash) (time.Time, error) {
	return f.upgrades[hash], nil
}

func (f *fakeLedger) ReadCTokenExchangeRate(_ context.Context, cToken common.Address) (*uint256.Int, error) {
	r, ok := f.rates[cToken]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeLedger) ReadBidPrice(_ context.Context, basket common.Address, _ *uint256.Int) (domain.TokenFlow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bidPriceCalls++
	flow, ok := f.remoteFlows[basket]
	if !ok {
		return domain.TokenFlow{}, domain.ErrNotFound
	}
	return flow, nil
}

func (f *fakeLedger) setFunds(token, spender common.Address, allowance, balance uint64) {
	f.allowances[fundsKey{token: token, owner: bidderAddr, spender: spender}] = u(allowance)
	f.balances[fundsKey{token: token, owner: bidderAddr}] = u(balance)
}

type fakeRegistry struct {
	baskets map[common.Address]bool
	curves  map[common.Address]bool
}

func (r fakeRegistry) IsValidBasket(_ context.Context, basket common.Address) (bool, error) {
	return r.baskets[basket], nil
}

func (r fakeRegistry) IsApprovedPriceCurve(_ context.Context, curve common.Address) (bool, error) {
	return r.curves[curve], nil
}

type fakeMetadata struct {
	compositions map[common.Address]domain.BasketComposition
	underlyings  map[common.Address]common.Address
}

func (m fakeMetadata) BasketComposition(_ context.Context, basket common.Address) (domain.BasketComposition, error) {
	c, ok := m.compositions[basket]
	if !ok {
		return domain.BasketComposition{}, domain.ErrNotFound
	}
	return c, nil
}


func (m fakeMetadata) CTokenUnderlying(_ context.Context, cToken common.Address) (common.Address, error) {
	a, ok := m.underlyings[cToken]
	if !ok {
		return common.Address{}, domain.ErrNotFound
	}
	return a, nil
}

func fixedClock(t time.Time) domain.Clock {
	return domain.ClockFunc(func(context.Context) (time.Time, error) { return t, nil })
}

// testDeps wires the fakes with a linear curve at linearCurve and an
// approved curve at remoteCurve that is priced by the ledger.
func testDeps(ledger *fakeLedger, now time.Time) Deps {
	return Deps{
		Ledger: ledger,
		Registry: fakeRegistry{
			baskets: map[common.Address]bool{basketAddr: true, nextBasket: true},
			curves:  map[common.Address]bool{linearCurve: true, remoteCurve: true},
		},
		Metadata: fakeMetadata{
			compositions: map[common.Address]domain.BasketComposition{
				nextBasket: {Address: nextBasket, NaturalUnit: u(1000)},
			},
			underlyings: map[common.Address]common.Address{tokenB: underlyingB},
		},
		Clock:  fixedClock(now),
		Curves: map[common.Address]auction.PriceCurve{linearCurve: auction.NewLinearCurve()},
	}
}
