package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/auction"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/validator"
)

var (
	basketAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	managerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	senderAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	linearCurve = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	moduleAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	testNow     = time.Unix(1_700_000_000, 0).UTC()
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

type fakeLedger struct {
	domain.LedgerReader
	mu       sync.Mutex
	baskets  map[common.Address]domain.RebalancingBasket
	auctions map[common.Address]domain.AuctionState
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		baskets:  map[common.Address]domain.RebalancingBasket{},
		auctions: map[common.Address]domain.AuctionState{},
	}
}

func (f *fakeLedger) ReadBasketState(_ context.Context, b common.Address) (domain.RebalancingBasket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.baskets[b]
	if !ok {
		return domain.RebalancingBasket{}, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeLedger) ReadAuctionState(_ context.Context, b common.Address) (domain.AuctionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.auctions[b]
	if !ok {
		return domain.AuctionState{}, domain.ErrNotFound
	}
	return v, nil
}

// rebalancing installs a basket mid-auction with remaining sets left.
func (f *fakeLedger) rebalancing(basket common.Address, remaining, minBid uint64, startedAgo time.Duration) {
	f.baskets[basket] = domain.RebalancingBasket{
		Address:       basket,
		State:         domain.StateRebalance,
		Manager:       managerAddr,
		CurrentBasket: common.HexToAddress("0xcc"),
	}
	f.auctions[basket] = domain.AuctionState{
		AuctionStartTime:     testNow.Add(-startedAgo),
		TimeToPivot:          time.Hour,
		StartPrice:           uint256.NewInt(500),
		PivotPrice:           uint256.NewInt(1500),
		PriceCurve:           linearCurve,
		RemainingCurrentSets: uint256.NewInt(remaining),
		StartingCurrentSets:  uint256.NewInt(1000),
		MinimumBid:           uint256.NewInt(minBid),
	}
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []domain.TxRequest
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req domain.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return common.Hash{}, f.err
	}
	f.reqs = append(f.reqs, req)
	return common.BigToHash(common.Big1), nil
}

func (f *fakeSubmitter) From() common.Address { return senderAddr }

type fakeWaiter struct {
	receipt domain.Receipt
	err     error
	calls   atomic.Int32
}

func (f *fakeWaiter) WaitMined(context.Context, common.Hash) (domain.Receipt, error) {
	f.calls.Add(1)
	return f.receipt, f.err
}

type fakeSubmissions struct {
	domain.SubmissionStore
	mu   sync.Mutex
	rows map[string]domain.Submission
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{rows: map[string]domain.Submission{}}
}

func (f *fakeSubmissions) Create(_ context.Context, sub domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[sub.ID] = sub
	return nil
}

func (f *fakeSubmissions) UpdateStatus(_ context.Context, id string, status domain.SubmissionStatus, block uint64, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	sub.Status, sub.BlockNumber, sub.Error = status, block, msg
	f.rows[id] = sub
	return nil
}

func (f *fakeSubmissions) GetByID(_ context.Context, id string) (domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.rows[id]
	if !ok {
		return domain.Submission{}, domain.ErrNotFound
	}
	return sub, nil
}

type fakeAudit struct {
	domain.AuditStore
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) logged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (f *fakePublisher) PublishEvent(_ context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.EventType
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fakePublisher) decode(i int, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Unmarshal(f.events[i].Data, v)
}

type fakeNotifier struct {
	mu   sync.Mutex
	subs []domain.Submission
}

func (f *fakeNotifier) NotifySubmission(_ context.Context, sub domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return nil
}

type registryAll struct{}

func (registryAll) IsValidBasket(context.Context, common.Address) (bool, error)        { return true, nil }
func (registryAll) IsApprovedPriceCurve(context.Context, common.Address) (bool, error) { return true, nil }

func fixedClock() domain.Clock {
	return domain.ClockFunc(func(context.Context) (time.Time, error) { return testNow, nil })
}

func curves() map[common.Address]auction.PriceCurve {
	return map[common.Address]auction.PriceCurve{linearCurve: auction.NewLinearCurve()}
}

type harness struct {
	ledger    *fakeLedger
	submitter *fakeSubmitter
	waiter    *fakeWaiter
	subs      *fakeSubmissions
	audit     *fakeAudit
	events    *fakePublisher
	notifier  *fakeNotifier
	svc       *RebalanceService
}

func newHarness() *harness {
	h := &harness{
		ledger:    newFakeLedger(),
		submitter: &fakeSubmitter{},
		waiter:    &fakeWaiter{receipt: domain.Receipt{BlockNumber: 77, Success: true}},
		subs:      newFakeSubmissions(),
		audit:     &fakeAudit{},
		events:    &fakePublisher{},
		notifier:  &fakeNotifier{},
	}
	deps := validator.Deps{
		Ledger:   h.ledger,
		Registry: registryAll{},
		Clock:    fixedClock(),
		Curves:   curves(),
		Logger:   discard(),
	}
	proposals := validator.NewProposalValidator(deps)
	h.svc = NewRebalanceService(
		Validators{
			Bids:      validator.NewBidValidator(deps, validator.BidConfig{}),
			Proposals: proposals,
			Fees:      validator.NewFeeValidator(deps),
		},
		h.submitter, h.waiter, h.subs, h.audit, h.events, h.notifier,
		RebalanceConfig{AuctionModule: moduleAddr},
		discard(),
	)
	h.svc.now = func() time.Time { return testNow }
	return h
}
