package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/service"
)

// AuctionReader is the read side of the basket endpoints.
type AuctionReader interface {
	Basket(ctx context.Context, basket common.Address) (domain.RebalancingBasket, error)
	Proposal(ctx context.Context, basket common.Address) (domain.Proposal, error)
	View(ctx context.Context, basket common.Address) (service.AuctionView, error)
}

// LifecycleService drives a basket through its rebalance states.
type LifecycleService interface {
	ValidatePropose(ctx context.Context, p domain.ProposeParams) error
	Propose(ctx context.Context, p domain.ProposeParams, opts service.SubmitOptions) (domain.SubmissionResult, error)
	StartRebalance(ctx context.Context, basket common.Address, opts service.SubmitOptions) (domain.SubmissionResult, error)
	SettleRebalance(ctx context.Context, basket common.Address, opts service.SubmitOptions) (domain.SubmissionResult, error)
	EndFailedAuction(ctx context.Context, basket common.Address, opts service.SubmitOptions) (domain.SubmissionResult, domain.RebalanceState, error)
}

// BasketHandler serves basket reads and lifecycle transitions.
type BasketHandler struct {
	reader    AuctionReader
	lifecycle LifecycleService
	logger    *slog.Logger
}

// NewBasketHandler creates a BasketHandler.
func NewBasketHandler(reader AuctionReader, lifecycle LifecycleService, logger *slog.Logger) *BasketHandler {
	return &BasketHandler{reader: reader, lifecycle: lifecycle, logger: logger}
}

type basketResponse struct {
	Address           common.Address        `json:"address"`
	State             domain.RebalanceState `json:"state"`
	Manager           common.Address        `json:"manager"`
	CurrentBasket     common.Address        `json:"current_basket"`
	UnitShares        string                `json:"unit_shares"`
	NaturalUnit       string                `json:"natural_unit"`
	ProposalPeriod    int64                 `json:"proposal_period_seconds"`
	RebalanceInterval int64                 `json:"rebalance_interval_seconds"`
	LastRebalancedAt  time.Time             `json:"last_rebalanced_at,omitzero"`
	ProposalStartTime time.Time             `json:"proposal_start_time,omitzero"`
}

type proposalResponse struct {
	NextBasket        common.Address `json:"next_basket"`
	PriceCurve        common.Address `json:"price_curve"`
	TimeToPivot       int64          `json:"time_to_pivot_seconds"`
	StartPrice        string         `json:"start_price"`
	PivotPrice        string         `json:"pivot_price"`
	ProposalStartTime time.Time      `json:"proposal_start_time,omitzero"`
}

type proposeRequest struct {
	NextBasket  string `json:"next_basket"`
	PriceCurve  string `json:"price_curve"`
	TimeToPivot int64  `json:"time_to_pivot_seconds"`
	StartPrice  string `json:"start_price"`
	PivotPrice  string `json:"pivot_price"`
}

func (req proposeRequest) params(basket common.Address) (domain.ProposeParams, error) {
	p := domain.ProposeParams{Basket: basket, TimeToPivot: time.Duration(req.TimeToPivot) * time.Second}
	var err error
	if p.NextBasket, err = parseAddress("next_basket", req.NextBasket); err != nil {
		return p, err
	}
	if p.PriceCurve, err = parseAddress("price_curve", req.PriceCurve); err != nil {
		return p, err
	}
	if p.StartPrice, err = parseAmount("start_price", req.StartPrice); err != nil {
		return p, err
	}
	if p.PivotPrice, err = parseAmount("pivot_price", req.PivotPrice); err != nil {
		return p, err
	}
	return p, nil
}

// GetBasket returns the basket snapshot.
// GET /api/baskets/{address}
func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.reader.Basket(r.Context(), addr)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, basketResponse{
		Address:           b.Address,
		State:             b.State,
		Manager:           b.Manager,
		CurrentBasket:     b.CurrentBasket,
		UnitShares:        decOrEmpty(b.UnitShares),
		NaturalUnit:       decOrEmpty(b.NaturalUnit),
		ProposalPeriod:    int64(b.ProposalPeriod / time.Second),
		RebalanceInterval: int64(b.RebalanceInterval / time.Second),
		LastRebalancedAt:  b.LastRebalancedAt,
		ProposalStartTime: b.ProposalStartTime,
	})
}

// GetAuction returns the live auction view.
// GET /api/baskets/{address}/auction
func (h *BasketHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := h.reader.View(r.Context(), addr)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetProposal returns the pending proposal.
// GET /api/baskets/{address}/proposal
func (h *BasketHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.reader.Proposal(r.Context(), addr)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, proposalResponse{
		NextBasket:        p.NextBasket,
		PriceCurve:        p.PriceCurve,
		TimeToPivot:       int64(p.AuctionTimeToPivot / time.Second),
		StartPrice:        decOrEmpty(p.AuctionStartPrice),
		PivotPrice:        decOrEmpty(p.AuctionPivotPrice),
		ProposalStartTime: p.ProposalStartTime,
	})
}

// ValidatePropose runs the proposal checks without submitting.
// POST /api/baskets/{address}/proposals/validate
func (h *BasketHandler) ValidatePropose(w http.ResponseWriter, r *http.Request) {
	p, ok := h.proposeParams(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.ValidatePropose(r.Context(), p); err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// Propose validates and submits a rebalance proposal.
// POST /api/baskets/{address}/proposals
func (h *BasketHandler) Propose(w http.ResponseWriter, r *http.Request) {
	p, ok := h.proposeParams(w, r)
	if !ok {
		return
	}
	res, err := h.lifecycle.Propose(r.Context(), p, service.SubmitOptions{AwaitMined: awaitMined(r)})
	h.respond(w, r, res, err)
}

func (h *BasketHandler) proposeParams(w http.ResponseWriter, r *http.Request) (domain.ProposeParams, bool) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.ProposeParams{}, false
	}
	var req proposeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.ProposeParams{}, false
	}
	p, err := req.params(addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.ProposeParams{}, false
	}
	return p, true
}

// StartRebalance moves a basket from Proposal to Rebalance.
// POST /api/baskets/{address}/start
func (h *BasketHandler) StartRebalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.lifecycle.StartRebalance(r.Context(), addr, service.SubmitOptions{AwaitMined: awaitMined(r)})
	h.respond(w, r, res, err)
}

// SettleRebalance completes a fully bid auction.
// POST /api/baskets/{address}/settle
func (h *BasketHandler) SettleRebalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.lifecycle.SettleRebalance(r.Context(), addr, service.SubmitOptions{AwaitMined: awaitMined(r)})
	h.respond(w, r, res, err)
}

// EndFailedAuction abandons an auction past its pivot.
// POST /api/baskets/{address}/end-failed
func (h *BasketHandler) EndFailedAuction(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, next, err := h.lifecycle.EndFailedAuction(r.Context(), addr, service.SubmitOptions{AwaitMined: awaitMined(r)})
	writeSubmission(w, h.logger, r, res, err, map[string]any{"expected_state": next})
}

func (h *BasketHandler) respond(w http.ResponseWriter, r *http.Request, res domain.SubmissionResult, err error) {
	writeSubmission(w, h.logger, r, res, err, nil)
}
