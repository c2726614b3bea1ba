// Package service coordinates validation, submission, persistence and
// notification of rebalancing actions.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/contracts"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/validator"
)

// SubmissionNotifier is told about submissions that reached a final state.
type SubmissionNotifier interface {
	NotifySubmission(ctx context.Context, sub domain.Submission) error
}

// Validators groups the pre-submission checks.
type Validators struct {
	Bids        *validator.BidValidator
	Proposals   *validator.ProposalValidator
	Allocations *validator.AllocationValidator
	Fees        *validator.FeeValidator
}

// RebalanceConfig holds the contract addresses bids are routed to.
type RebalanceConfig struct {
	AuctionModule common.Address
	EtherBidder   common.Address
	CTokenBidder  common.Address
	// TrackTimeout bounds background receipt tracking when the caller does
	// not wait for mining.
	TrackTimeout time.Duration
}

// SubmitOptions controls what happens after a transaction is sent.
type SubmitOptions struct {
	// AwaitMined blocks until the transaction is mined, reverts or times out.
	// Otherwise the outcome is tracked in the background.
	AwaitMined bool
}

// RebalanceService validates each request against live ledger state and
// submits it only when every check passes. Submissions are never retried.
type RebalanceService struct {
	validators  Validators
	submitter   domain.Submitter
	waiter      domain.MiningWaiter
	submissions domain.SubmissionStore
	audit       domain.AuditStore
	events      domain.EventPublisher
	notifier    SubmissionNotifier
	cfg         RebalanceConfig
	logger      *slog.Logger
	now         func() time.Time

	trackMu  sync.Mutex
	closed   bool
	tracking sync.WaitGroup
}

// NewRebalanceService creates a RebalanceService. events and notifier may be
// nil.
func NewRebalanceService(
	validators Validators,
	submitter domain.Submitter,
	waiter domain.MiningWaiter,
	submissions domain.SubmissionStore,
	audit domain.AuditStore,
	events domain.EventPublisher,
	notifier SubmissionNotifier,
	cfg RebalanceConfig,
	logger *slog.Logger,
) *RebalanceService {
	if cfg.TrackTimeout <= 0 {
		cfg.TrackTimeout = 10 * time.Minute
	}
	return &RebalanceService{
		validators:  validators,
		submitter:   submitter,
		waiter:      waiter,
		submissions: submissions,
		audit:       audit,
		events:      events,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "rebalance_service")),
		now:         time.Now,
	}
}

// Sender is the account every submission is signed by.
func (s *RebalanceService) Sender() common.Address {
	return s.submitter.From()
}

// Close stops new background receipt tracking and waits for running
// trackers to finish.
func (s *RebalanceService) Close() {
	s.trackMu.Lock()
	s.closed = true
	s.trackMu.Unlock()
	s.tracking.Wait()
}

// track registers a background tracker. It reports false once Close has
// been called.
func (s *RebalanceService) track() bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.closed {
		return false
	}
	s.tracking.Add(1)
	return true
}

// QuoteBid validates a bid for the service's sender without submitting it.
func (s *RebalanceService) QuoteBid(ctx context.Context, p domain.BidParams) (domain.BidQuote, error) {
	p.Bidder = s.Sender()
	q, err := s.validators.Bids.Validate(ctx, p)
	if err != nil {
		s.refused(ctx, domain.ActionBid, p.Basket, err)
	}
	return q, err
}

// Bid validates and submits a bid through the contract that matches its
// kind.
func (s *RebalanceService) Bid(ctx context.Context, p domain.BidParams, opts SubmitOptions) (domain.SubmissionResult, domain.BidQuote, error) {
	q, err := s.QuoteBid(ctx, p)
	if err != nil {
		return domain.SubmissionResult{}, domain.BidQuote{}, err
	}

	action, to, value := domain.ActionBid, s.cfg.AuctionModule, (*uint256.Int)(nil)
	switch p.Kind {
	case domain.BidderEther:
		action, to, value = domain.ActionBidEther, s.cfg.EtherBidder, p.EtherValue
	case domain.BidderCToken:
		action, to = domain.ActionBidCToken, s.cfg.CTokenBidder
	}
	data, err := contracts.EncodeBid(p.Kind, p.Basket, p.Quantity, p.AllowPartialFill)
	if err != nil {
		return domain.SubmissionResult{}, q, err
	}

	inflows, outflows := q.Flow.Present()
	res, err := s.execute(ctx, action, p.Basket, domain.TxRequest{To: to, Data: data, Value: value}, map[string]any{
		"quantity":           q.Quantity.Dec(),
		"requested_quantity": q.RequestedQuantity.Dec(),
		"allow_partial_fill": p.AllowPartialFill,
		"inflows":            inflows,
		"outflows":           outflows,
	}, opts)
	return res, q, err
}

// ValidatePropose runs the proposal checks for the service's sender.
func (s *RebalanceService) ValidatePropose(ctx context.Context, p domain.ProposeParams) error {
	p.Caller = s.Sender()
	if err := s.validators.Proposals.ValidatePropose(ctx, p); err != nil {
		s.refused(ctx, domain.ActionPropose, p.Basket, err)
		return err
	}
	return nil
}

// Propose validates and submits a rebalance proposal.
func (s *RebalanceService) Propose(ctx context.Context, p domain.ProposeParams, opts SubmitOptions) (domain.SubmissionResult, error) {
	if err := s.ValidatePropose(ctx, p); err != nil {
		return domain.SubmissionResult{}, err
	}
	data, err := contracts.EncodePropose(p)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return s.execute(ctx, domain.ActionPropose, p.Basket, domain.TxRequest{To: p.Basket, Data: data}, proposeDetail(p), opts)
}

func proposeDetail(p domain.ProposeParams) map[string]any {
	return map[string]any{
		"next_basket":   p.NextBasket.Hex(),
		"price_curve":   p.PriceCurve.Hex(),
		"time_to_pivot": p.TimeToPivot.String(),
		"start_price":   p.StartPrice.Dec(),
		"pivot_price":   p.PivotPrice.Dec(),
	}
}

// StartRebalance moves a basket from Proposal to Rebalance.
func (s *RebalanceService) StartRebalance(ctx context.Context, basket common.Address, opts SubmitOptions) (domain.SubmissionResult, error) {
	if err := s.validators.Proposals.ValidateStartRebalance(ctx, basket); err != nil {
		s.refused(ctx, domain.ActionStartRebalance, basket, err)
		return domain.SubmissionResult{}, err
	}
	data, err := contracts.EncodeStartRebalance()
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return s.execute(ctx, domain.ActionStartRebalance, basket, domain.TxRequest{To: basket, Data: data}, nil, opts)
}

// SettleRebalance completes a fully bid auction.
func (s *RebalanceService) SettleRebalance(ctx context.Context, basket common.Address, opts SubmitOptions) (domain.SubmissionResult, error) {
	if err := s.validators.Proposals.ValidateSettleRebalance(ctx, basket); err != nil {
		s.refused(ctx, domain.ActionSettleRebalance, basket, err)
		return domain.SubmissionResult{}, err
	}
	data, err := contracts.EncodeSettleRebalance()
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return s.execute(ctx, domain.ActionSettleRebalance, basket, domain.TxRequest{To: basket, Data: data}, nil, opts)
}

// EndFailedAuction abandons an auction past its pivot. The result detail
// carries the state the basket is expected to land in.
func (s *RebalanceService) EndFailedAuction(ctx context.Context, basket common.Address, opts SubmitOptions) (domain.SubmissionResult, domain.RebalanceState, error) {
	next, err := s.validators.Proposals.ValidateEndFailedAuction(ctx, basket)
	if err != nil {
		s.refused(ctx, domain.ActionEndFailedAuction, basket, err)
		return domain.SubmissionResult{}, "", err
	}
	data, err := contracts.EncodeEndFailedAuction()
	if err != nil {
		return domain.SubmissionResult{}, "", err
	}
	res, err := s.execute(ctx, domain.ActionEndFailedAuction, basket, domain.TxRequest{To: basket, Data: data},
		map[string]any{"expected_state": string(next)}, opts)
	return res, next, err
}

// UpdateAllocation validates a trader's allocation change and submits it to
// the pool's manager.
func (s *RebalanceService) UpdateAllocation(ctx context.Context, p domain.AllocationParams, opts SubmitOptions) (domain.SubmissionResult, domain.ProposeParams, error) {
	p.Caller = s.Sender()
	proposal, err := s.validators.Allocations.ValidateUpdateAllocation(ctx, p)
	if err != nil {
		s.refused(ctx, domain.ActionUpdateAllocation, p.Pool, err)
		return domain.SubmissionResult{}, domain.ProposeParams{}, err
	}
	data, err := contracts.EncodeUpdateAllocation(p.Pool, p.NewAllocation, p.LiquidatorData)
	if err != nil {
		return domain.SubmissionResult{}, proposal, err
	}
	detail := proposeDetail(proposal)
	detail["new_allocation"] = p.NewAllocation.Dec()
	detail["manager"] = p.Manager.Hex()
	res, err := s.execute(ctx, domain.ActionUpdateAllocation, p.Pool, domain.TxRequest{To: p.Manager, Data: data}, detail, opts)
	return res, proposal, err
}

// AdjustFee registers a timelocked performance fee change.
func (s *RebalanceService) AdjustFee(ctx context.Context, p domain.FeeChangeParams, opts SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error) {
	p.Caller = s.Sender()
	proposal, err := s.validators.Fees.ValidateFeeChange(ctx, p)
	if err != nil {
		s.refused(ctx, domain.ActionAdjustFee, p.Pool, err)
		return domain.SubmissionResult{}, domain.FeeChangeProposal{}, err
	}
	res, err := s.submitFee(ctx, p, proposal, "register", opts)
	return res, proposal, err
}

// FinalizeFee resubmits a registered fee change once its timelock has
// elapsed.
func (s *RebalanceService) FinalizeFee(ctx context.Context, p domain.FeeChangeParams, opts SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error) {
	p.Caller = s.Sender()
	proposal, err := s.validators.Fees.ValidateFinalize(ctx, p)
	if err != nil {
		s.refused(ctx, domain.ActionAdjustFee, p.Pool, err)
		return domain.SubmissionResult{}, domain.FeeChangeProposal{}, err
	}
	res, err := s.submitFee(ctx, p, proposal, "finalize", opts)
	return res, proposal, err
}

func (s *RebalanceService) submitFee(ctx context.Context, p domain.FeeChangeParams, proposal domain.FeeChangeProposal, phase string, opts SubmitOptions) (domain.SubmissionResult, error) {
	return s.execute(ctx, domain.ActionAdjustFee, p.Pool, domain.TxRequest{To: p.Manager, Data: proposal.CallData}, map[string]any{
		"phase":          phase,
		"manager":        p.Manager.Hex(),
		"fee_type":       string(p.FeeType),
		"new_percentage": p.NewPercentage.Dec(),
		"upgrade_hash":   proposal.UpgradeHash.Hex(),
	}, opts)
}

// RemoveFeeUpdate cancels a registered fee change.
func (s *RebalanceService) RemoveFeeUpdate(ctx context.Context, manager, pool common.Address, upgradeHash common.Hash, opts SubmitOptions) (domain.SubmissionResult, error) {
	if err := s.validators.Fees.ValidateRemoveFeeUpdate(ctx, manager, pool, s.Sender(), upgradeHash); err != nil {
		s.refused(ctx, domain.ActionRemoveFeeUpdate, pool, err)
		return domain.SubmissionResult{}, err
	}
	data, err := contracts.EncodeRemoveRegisteredUpgrade(pool, upgradeHash)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	return s.execute(ctx, domain.ActionRemoveFeeUpdate, pool, domain.TxRequest{To: manager, Data: data},
		map[string]any{"manager": manager.Hex(), "upgrade_hash": upgradeHash.Hex()}, opts)
}

// Submission returns a recorded submission.
func (s *RebalanceService) Submission(ctx context.Context, id string) (domain.Submission, error) {
	return s.submissions.GetByID(ctx, id)
}

// Submissions lists recorded submissions, newest first.
func (s *RebalanceService) Submissions(ctx context.Context, opts domain.ListOpts) ([]domain.Submission, error) {
	return s.submissions.List(ctx, opts)
}

// execute sends req and records it. Once a transaction is on the wire a
// bookkeeping failure is logged and never reported as a failed submission.
func (s *RebalanceService) execute(ctx context.Context, action domain.Action, target common.Address, req domain.TxRequest, detail map[string]any, opts SubmitOptions) (domain.SubmissionResult, error) {
	hash, err := s.submitter.Submit(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "submission failed",
			slog.String("action", string(action)),
			slog.String("target", target.Hex()),
			slog.String("error", err.Error()),
		)
		s.auditLog(ctx, "submission.failed", map[string]any{
			"action": string(action),
			"target": target.Hex(),
			"error":  err.Error(),
		})
		return domain.SubmissionResult{}, fmt.Errorf("rebalance_service: %s: %w", action, err)
	}

	now := s.now().UTC()
	sub := domain.Submission{
		ID:        uuid.NewString(),
		Action:    action,
		Target:    target,
		Sender:    s.submitter.From(),
		TxHash:    hash,
		Status:    domain.SubmissionPending,
		Detail:    detail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		s.logger.ErrorContext(ctx, "record submission failed",
			slog.String("submission_id", sub.ID),
			slog.String("tx_hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.auditLog(ctx, "submission.sent", submissionAudit(sub))
	s.publish(ctx, domain.EventSubmissionSent, sub)
	s.logger.InfoContext(ctx, "submission sent",
		slog.String("submission_id", sub.ID),
		slog.String("action", string(action)),
		slog.String("tx_hash", hash.Hex()),
	)

	if !opts.AwaitMined {
		if !s.track() {
			s.logger.WarnContext(ctx, "service closed, submission left pending",
				slog.String("submission_id", sub.ID),
				slog.String("tx_hash", hash.Hex()),
			)
			return result(sub), nil
		}
		go func() {
			defer s.tracking.Done()
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TrackTimeout)
			defer cancel()
			_, _ = s.awaitMined(tctx, sub)
		}()
		return result(sub), nil
	}

	sub, err = s.awaitMined(ctx, sub)
	return result(sub), err
}

// awaitMined records the final outcome of sub. A cancelled wait leaves the
// submission pending.
func (s *RebalanceService) awaitMined(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	receipt, err := s.waiter.WaitMined(ctx, sub.TxHash)
	switch {
	case err == nil:
		sub.Status = domain.SubmissionMined
		sub.BlockNumber = receipt.BlockNumber
	case errors.Is(err, domain.ErrTransactionReverted):
		sub.Status = domain.SubmissionReverted
		sub.BlockNumber = receipt.BlockNumber
		sub.Error = err.Error()
	case errors.Is(err, domain.ErrTimeout):
		sub.Status = domain.SubmissionTimedOut
		sub.Error = err.Error()
	default:
		return sub, fmt.Errorf("rebalance_service: await %s: %w", sub.TxHash.Hex(), err)
	}
	sub.UpdatedAt = s.now().UTC()

	// The caller's context may be done by now; the outcome is still recorded.
	rctx := context.WithoutCancel(ctx)
	if uerr := s.submissions.UpdateStatus(rctx, sub.ID, sub.Status, sub.BlockNumber, sub.Error); uerr != nil {
		s.logger.ErrorContext(rctx, "update submission failed",
			slog.String("submission_id", sub.ID),
			slog.String("error", uerr.Error()),
		)
	}
	s.auditLog(rctx, "submission."+string(sub.Status), submissionAudit(sub))
	evType := domain.EventSubmissionMined
	if sub.Status != domain.SubmissionMined {
		evType = domain.EventSubmissionFailed
	}
	s.publish(rctx, evType, sub)
	if s.notifier != nil {
		if nerr := s.notifier.NotifySubmission(rctx, sub); nerr != nil {
			s.logger.WarnContext(rctx, "notify failed", slog.String("error", nerr.Error()))
		}
	}
	s.logger.InfoContext(rctx, "submission finished",
		slog.String("submission_id", sub.ID),
		slog.String("status", string(sub.Status)),
		slog.Uint64("block", sub.BlockNumber),
	)
	return sub, err
}

func result(sub domain.Submission) domain.SubmissionResult {
	return domain.SubmissionResult{
		SubmissionID: sub.ID,
		Action:       sub.Action,
		TxHash:       sub.TxHash.Hex(),
		Status:       sub.Status,
		BlockNumber:  sub.BlockNumber,
	}
}

func submissionAudit(sub domain.Submission) map[string]any {
	m := map[string]any{
		"submission_id": sub.ID,
		"action":        string(sub.Action),
		"target":        sub.Target.Hex(),
		"tx_hash":       sub.TxHash.Hex(),
		"status":        string(sub.Status),
	}
	if sub.BlockNumber > 0 {
		m["block_number"] = sub.BlockNumber
	}
	if sub.Error != "" {
		m["error"] = sub.Error
	}
	return m
}

func (s *RebalanceService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.ErrorContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func (s *RebalanceService) publish(ctx context.Context, t domain.EventType, data any) {
	if s.events == nil {
		return
	}
	ev, err := newEvent(t, eventBasket(data), data, s.now())
	if err == nil {
		err = s.events.PublishEvent(ctx, ev)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "publish event failed", slog.String("type", string(t)), slog.String("error", err.Error()))
	}
}

// refused reports a validation failure. Nothing is submitted.
func (s *RebalanceService) refused(ctx context.Context, action domain.Action, target common.Address, err error) {
	s.logger.InfoContext(ctx, "validation refused",
		slog.String("action", string(action)),
		slog.String("target", target.Hex()),
		slog.String("error", err.Error()),
	)
	s.publish(ctx, domain.EventValidationRefused, refusal{Action: action, Target: target, Error: err.Error()})
}

type refusal struct {
	Action domain.Action  `json:"action"`
	Target common.Address `json:"target"`
	Error  string         `json:"error"`
}
