package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// AuctionView is a point-in-time read of a basket and, while it is in
// Rebalance, its auction.
type AuctionView struct {
	Basket               common.Address        `json:"basket"`
	State                domain.RebalanceState `json:"state"`
	Manager              common.Address        `json:"manager"`
	CurrentBasket        common.Address        `json:"current_basket"`
	PriceCurve           common.Address        `json:"price_curve,omitempty"`
	PriceNumerator       string                `json:"price_numerator,omitempty"`
	PriceDivisor         string                `json:"price_divisor,omitempty"`
	RemainingCurrentSets string                `json:"remaining_current_sets,omitempty"`
	MinimumBid           string                `json:"minimum_bid,omitempty"`
	AuctionStartTime     time.Time             `json:"auction_start_time,omitzero"`
	PivotTime            time.Time             `json:"pivot_time,omitzero"`
	PivotPassed          bool                  `json:"pivot_passed"`
	Settleable           bool                  `json:"settleable"`
	At                   time.Time             `json:"at"`
}

// AuctionService reads auction state for the API and the watcher. Nothing is
// cached between calls.
type AuctionService struct {
	ledger domain.LedgerReader
	clock  domain.Clock
	curves map[common.Address]auction.PriceCurve
	logger *slog.Logger
}

// NewAuctionService creates an AuctionService. curves lists the price curves
// whose arithmetic is evaluated locally.
func NewAuctionService(ledger domain.LedgerReader, clock domain.Clock, curves map[common.Address]auction.PriceCurve, logger *slog.Logger) *AuctionService {
	return &AuctionService{
		ledger: ledger,
		clock:  clock,
		curves: curves,
		logger: logger.With(slog.String("component", "auction_service")),
	}
}

// Basket returns the basket snapshot.
func (s *AuctionService) Basket(ctx context.Context, basket common.Address) (domain.RebalancingBasket, error) {
	return s.ledger.ReadBasketState(ctx, basket)
}

// Proposal returns the pending proposal of a basket in Proposal state.
func (s *AuctionService) Proposal(ctx context.Context, basket common.Address) (domain.Proposal, error) {
	return s.ledger.ReadProposal(ctx, basket)
}

// View reads the basket and its auction. Prices are filled in only for
// curves evaluated locally.
func (s *AuctionService) View(ctx context.Context, basket common.Address) (AuctionView, error) {
	b, err := s.ledger.ReadBasketState(ctx, basket)
	if err != nil {
		return AuctionView{}, err
	}
	now, err := s.clock.Now(ctx)
	if err != nil {
		return AuctionView{}, fmt.Errorf("auction_service: clock: %w", err)
	}
	v := AuctionView{
		Basket:        basket,
		State:         b.State,
		Manager:       b.Manager,
		CurrentBasket: b.CurrentBasket,
		At:            now.UTC(),
	}
	if b.State != domain.StateRebalance {
		return v, nil
	}

	a, err := s.ledger.ReadAuctionState(ctx, basket)
	if err != nil {
		return AuctionView{}, err
	}
	v.PriceCurve = a.PriceCurve
	v.AuctionStartTime = a.AuctionStartTime.UTC()
	v.PivotTime = a.AuctionStartTime.Add(a.TimeToPivot).UTC()
	v.PivotPassed = auction.PassedPivot(a.PriceParams(), now)
	if a.RemainingCurrentSets != nil {
		v.RemainingCurrentSets = a.RemainingCurrentSets.Dec()
	}
	if a.MinimumBid != nil {
		v.MinimumBid = a.MinimumBid.Dec()
		v.Settleable = a.RemainingCurrentSets != nil && a.RemainingCurrentSets.Lt(a.MinimumBid)
	}
	if curve, ok := s.curves[a.PriceCurve]; ok {
		price, err := curve.CurrentPrice(a.PriceParams(), now)
		if err != nil {
			return AuctionView{}, err
		}
		v.PriceNumerator = price.Numerator.Dec()
		v.PriceDivisor = price.Divisor.Dec()
	}
	return v, nil
}

// Views reads several baskets concurrently. A failing basket fails the call.
func (s *AuctionService) Views(ctx context.Context, baskets []common.Address) ([]AuctionView, error) {
	out := make([]AuctionView, len(baskets))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range baskets {
		g.Go(func() error {
			v, err := s.View(gctx, b)
			if err != nil {
				return fmt.Errorf("basket %s: %w", b.Hex(), err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
