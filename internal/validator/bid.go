package validator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/invariant"
)

// exchangeRateScale is the fixed-point scale of cToken exchange rates.
var exchangeRateScale = uint256.NewInt(1_000_000_000_000_000_000)

// BidConfig names the settlement contracts bids are routed through.
type BidConfig struct {
	TransferProxy common.Address
	EtherBidder   common.Address
	CTokenBidder  common.Address
	WETH          common.Address
	// CTokens are the cTokens the cToken bidder accepts underlyings for.
	CTokens []common.Address
}

// BidValidator checks bids against a live auction. Plain, Ether and cToken
// bids keep separate entry points because each settles through a different
// contract.
type BidValidator struct {
	deps    Deps
	cfg     BidConfig
	cTokens map[common.Address]struct{}
	logger  *slog.Logger
}

// NewBidValidator creates a BidValidator.
func NewBidValidator(deps Deps, cfg BidConfig) *BidValidator {
	ct := make(map[common.Address]struct{}, len(cfg.CTokens))
	for _, a := range cfg.CTokens {
		ct[a] = struct{}{}
	}
	return &BidValidator{deps: deps, cfg: cfg, cTokens: ct, logger: deps.logger("bid-validator")}
}

// Validate dispatches on p.Kind.
func (v *BidValidator) Validate(ctx context.Context, p domain.BidParams) (domain.BidQuote, error) {
	switch p.Kind {
	case domain.BidderEther:
		return v.ValidateEtherBid(ctx, p)
	case domain.BidderCToken:
		return v.ValidateCTokenBid(ctx, p)
	default:
		return v.ValidateBid(ctx, p)
	}
}

// ValidateBid checks a plain ERC20 bid. Funds are checked against the
// transfer proxy.
func (v *BidValidator) ValidateBid(ctx context.Context, p domain.BidParams) (domain.BidQuote, error) {
	p.Kind = domain.BidderPlain
	quote, err := v.quote(ctx, "bid", p)
	if err != nil {
		return domain.BidQuote{}, err
	}
	quote.Spender = v.cfg.TransferProxy
	quote.Requirements = requirementsFor(quote.Flow, nil)
	if err := v.checkFunds(ctx, "bid", p.Bidder, quote.Spender, quote.Requirements); err != nil {
		return domain.BidQuote{}, err
	}
	return quote, nil
}

// ValidateEtherBid checks a bid whose WETH inflow is paid in ether. WETH is
// excluded from the ERC20 checks and the attached value must cover it.
func (v *BidValidator) ValidateEtherBid(ctx context.Context, p domain.BidParams) (domain.BidQuote, error) {
	const op = "bid_ether"
	p.Kind = domain.BidderEther
	quote, err := v.quote(ctx, op, p)
	if err != nil {
		return domain.BidQuote{}, err
	}
	quote.Spender = v.cfg.EtherBidder

	wethIn := quote.Flow.InflowOf(v.cfg.WETH)
	if p.EtherValue.Lt(wethIn) {
		return domain.BidQuote{}, domain.NewValidationError(op, domain.ErrInsufficientEtherValue,
			fmt.Sprintf("ether value %s below weth inflow %s", p.EtherValue.Dec(), wethIn.Dec()))
	}

	quote.Requirements = requirementsFor(quote.Flow, map[common.Address]struct{}{v.cfg.WETH: {}})
	if err := v.checkFunds(ctx, op, p.Bidder, quote.Spender, quote.Requirements); err != nil {
		return domain.BidQuote{}, err
	}
	return quote, nil
}

// ValidateCTokenBid checks a bid whose cToken inflows are supplied as the
// underlying asset. The underlying amount is rounded up, as the bidder
// contract mints cTokens from it.
func (v *BidValidator) ValidateCTokenBid(ctx context.Context, p domain.BidParams) (domain.BidQuote, error) {
	const op = "bid_ctoken"
	p.Kind = domain.BidderCToken
	quote, err := v.quote(ctx, op, p)
	if err != nil {
		return domain.BidQuote{}, err
	}
	quote.Spender = v.cfg.CTokenBidder

	reqs := requirementsFor(quote.Flow, nil)
	for i, r := range reqs {
		if _, ok := v.cTokens[r.Token]; !ok {
			continue
		}
		underlying, err := v.deps.Metadata.CTokenUnderlying(ctx, r.Token)
		if err != nil {
			return domain.BidQuote{}, readErr(op, "ctoken underlying", err)
		}
		rate, err := v.deps.Ledger.ReadCTokenExchangeRate(ctx, r.Token)
		if err != nil {
			return domain.BidQuote{}, readErr(op, "exchange rate", err)
		}
		amount, err := underlyingAmount(r.Amount, rate)
		if err != nil {
			return domain.BidQuote{}, domain.NewValidationError(op, domain.ErrMalformedAuctionState, err.Error())
		}
		reqs[i] = domain.FundRequirement{Token: underlying, Amount: amount}
	}
	quote.Requirements = reqs

	if err := v.checkFunds(ctx, op, p.Bidder, quote.Spender, quote.Requirements); err != nil {
		return domain.BidQuote{}, err
	}
	return quote, nil
}

// quote runs checks 1 to 5 plus the auction timing checks, and prices the
// executable quantity.
func (v *BidValidator) quote(ctx context.Context, op string, p domain.BidParams) (domain.BidQuote, error) {
	if err := p.Validate(); err != nil {
		return domain.BidQuote{}, err
	}
	if err := invariant.AssertPositive(op, "quantity", p.Quantity); err != nil {
		return domain.BidQuote{}, err
	}
	if err := v.deps.checkBasketRegistered(ctx, op, p.Basket); err != nil {
		return domain.BidQuote{}, err
	}

	basket, err := v.deps.Ledger.ReadBasketState(ctx, p.Basket)
	if err != nil {
		return domain.BidQuote{}, readErr(op, "basket state", err)
	}
	if err := invariant.AssertState(op, basket, domain.StateRebalance); err != nil {
		return domain.BidQuote{}, err
	}

	a, err := v.deps.Ledger.ReadAuctionState(ctx, p.Basket)
	if err != nil {
		return domain.BidQuote{}, readErr(op, "auction state", err)
	}
	if a.RemainingCurrentSets == nil || a.MinimumBid == nil {
		return domain.BidQuote{}, domain.NewValidationError(op, domain.ErrMalformedAuctionState, "missing bidding parameters")
	}
	if !p.AllowPartialFill {
		if err := invariant.AssertAtMost(op, "quantity", p.Quantity, a.RemainingCurrentSets); err != nil {
			return domain.BidQuote{}, err
		}
	}
	if err := invariant.AssertMultipleOf(op, "quantity", p.Quantity, a.MinimumBid); err != nil {
		return domain.BidQuote{}, err
	}

	execQty, err := executableQuantity(op, p, a)
	if err != nil {
		return domain.BidQuote{}, err
	}

	now, err := v.deps.now(ctx)
	if err != nil {
		return domain.BidQuote{}, err
	}
	params := a.PriceParams()
	if auction.PassedPivot(params, now) {
		return domain.BidQuote{}, domain.NewValidationError(op, domain.ErrInvalidState,
			"auction passed its pivot time, only ending the failed auction is allowed")
	}
	if err := v.deps.checkCurveApproved(ctx, op, a.PriceCurve); err != nil {
		return domain.BidQuote{}, err
	}

	quote := domain.BidQuote{
		Basket:            p.Basket,
		RequestedQuantity: new(uint256.Int).Set(p.Quantity),
		Quantity:          execQty,
		Kind:              p.Kind,
	}

	if curve, ok := v.deps.Curves[a.PriceCurve]; ok {
		price, err := curve.CurrentPrice(params, now)
		if err != nil {
			return domain.BidQuote{}, err
		}
		flow, err := auction.CalculateFlows(auction.FlowInputFromAuction(a, execQty, price))
		if err != nil {
			return domain.BidQuote{}, err
		}
		quote.Price = price
		quote.Flow = flow
	} else {
		flow, err := v.deps.Ledger.ReadBidPrice(ctx, p.Basket, execQty)
		if err != nil {
			return domain.BidQuote{}, readErr(op, "bid price", err)
		}
		quote.Flow = flow
	}

	v.logger.DebugContext(ctx, "bid priced",
		slog.String("basket", p.Basket.Hex()),
		slog.String("kind", string(p.Kind)),
		slog.String("quantity", execQty.Dec()),
	)
	return quote, nil
}

// executableQuantity returns the quantity the ledger fills: the request
// itself, or for a partial fill the remaining sets rounded down to the
// minimum bid.
func executableQuantity(op string, p domain.BidParams, a domain.AuctionState) (*uint256.Int, error) {
	if !p.AllowPartialFill || !p.Quantity.Gt(a.RemainingCurrentSets) {
		return new(uint256.Int).Set(p.Quantity), nil
	}
	q := new(uint256.Int).Div(a.RemainingCurrentSets, a.MinimumBid)
	q.Mul(q, a.MinimumBid)
	if q.IsZero() {
		return nil, domain.NewValidationError(op, domain.ErrInvalidQuantity,
			fmt.Sprintf("remaining %s is below the minimum bid %s", a.RemainingCurrentSets.Dec(), a.MinimumBid.Dec()))
	}
	return q, nil
}

// requirementsFor lists the non-zero inflows in token order, skipping
// excluded tokens.
func requirementsFor(flow domain.TokenFlow, excluded map[common.Address]struct{}) []domain.FundRequirement {
	var reqs []domain.FundRequirement
	for i, tok := range flow.Tokens {
		if _, skip := excluded[tok]; skip {
			continue
		}
		if flow.Inflow[i].IsZero() {
			continue
		}
		reqs = append(reqs, domain.FundRequirement{Token: tok, Amount: new(uint256.Int).Set(flow.Inflow[i])})
	}
	return reqs
}

// underlyingAmount converts a cToken amount to its underlying, rounding up.
func underlyingAmount(cTokenAmount, rate *uint256.Int) (*uint256.Int, error) {
	if rate == nil || rate.IsZero() {
		return nil, fmt.Errorf("exchange rate is zero")
	}
	out, overflow := new(uint256.Int).MulOverflow(cTokenAmount, rate)
	if overflow {
		return nil, fmt.Errorf("underlying amount overflows")
	}
	rem := new(uint256.Int).Mod(out, exchangeRateScale)
	out.Div(out, exchangeRateScale)
	if !rem.IsZero() {
		out.AddUint64(out, 1)
	}
	return out, nil
}

// checkFunds reads every allowance and balance concurrently, then reports
// the first allowance shortfall before any balance shortfall.
func (v *BidValidator) checkFunds(ctx context.Context, op string, bidder, spender common.Address, reqs []domain.FundRequirement) error {
	if len(reqs) == 0 {
		return nil
	}
	allowances := make([]*uint256.Int, len(reqs))
	balances := make([]*uint256.Int, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range reqs {
		g.Go(func() error {
			a, err := v.deps.Ledger.ReadAllowance(gctx, r.Token, bidder, spender)
			if err != nil {
				return readErr(op, "allowance", err)
			}
			allowances[i] = a
			return nil
		})
		g.Go(func() error {
			b, err := v.deps.Ledger.ReadBalance(gctx, r.Token, bidder)
			if err != nil {
				return readErr(op, "balance", err)
			}
			balances[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, r := range reqs {
		if allowances[i].Lt(r.Amount) {
			return domain.NewValidationError(op, domain.ErrInsufficientFunds,
				fmt.Sprintf("allowance of %s to %s is %s, need %s", r.Token.Hex(), spender.Hex(), allowances[i].Dec(), r.Amount.Dec()))
		}
	}
	for i, r := range reqs {
		if balances[i].Lt(r.Amount) {
			return domain.NewValidationError(op, domain.ErrInsufficientFunds,
				fmt.Sprintf("balance of %s is %s, need %s", r.Token.Hex(), balances[i].Dec(), r.Amount.Dec()))
		}
	}
	return nil
}
