package handler

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/service"
)

// PoolService manages trading pools through their manager contracts.
type PoolService interface {
	UpdateAllocation(ctx context.Context, p domain.AllocationParams, opts service.SubmitOptions) (domain.SubmissionResult, domain.ProposeParams, error)
	AdjustFee(ctx context.Context, p domain.FeeChangeParams, opts service.SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error)
	FinalizeFee(ctx context.Context, p domain.FeeChangeParams, opts service.SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error)
	RemoveFeeUpdate(ctx context.Context, manager, pool common.Address, upgradeHash common.Hash, opts service.SubmitOptions) (domain.SubmissionResult, error)
}

// PoolHandler serves the trading pool endpoints.
type PoolHandler struct {
	svc    PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(svc PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{svc: svc, logger: logger}
}

type allocationRequest struct {
	Manager        string `json:"manager"`
	NewAllocation  string `json:"new_allocation"`
	TimeToPivot    int64  `json:"time_to_pivot_seconds"`
	LiquidatorData string `json:"liquidator_data,omitempty"`
}

type feeRequest struct {
	Manager       string `json:"manager"`
	FeeType       string `json:"fee_type"`
	NewPercentage string `json:"new_percentage"`
}

type feeProposalResponse struct {
	Pool          common.Address `json:"pool"`
	FeeType       domain.FeeType `json:"fee_type"`
	NewPercentage string         `json:"new_percentage"`
	UpgradeHash   common.Hash    `json:"upgrade_hash"`
	ProposedAt    time.Time      `json:"proposed_at,omitzero"`
}

// UpdateAllocation submits a trader's allocation change.
// POST /api/pools/{address}/allocation
func (h *PoolHandler) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	pool, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req allocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := domain.AllocationParams{Pool: pool, TimeToPivot: time.Duration(req.TimeToPivot) * time.Second}
	if p.Manager, err = parseAddress("manager", req.Manager); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.NewAllocation, err = parseAmount("new_allocation", req.NewAllocation); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LiquidatorData != "" {
		if p.LiquidatorData, err = hex.DecodeString(strings.TrimPrefix(req.LiquidatorData, "0x")); err != nil {
			writeError(w, http.StatusBadRequest, "liquidator_data: invalid hex")
			return
		}
	}

	res, proposal, err := h.svc.UpdateAllocation(r.Context(), p, service.SubmitOptions{AwaitMined: awaitMined(r)})
	var extra map[string]any
	if proposal.NextBasket != (common.Address{}) {
		extra = map[string]any{"proposal": proposalResponse{
			NextBasket:  proposal.NextBasket,
			PriceCurve:  proposal.PriceCurve,
			TimeToPivot: int64(proposal.TimeToPivot / time.Second),
			StartPrice:  decOrEmpty(proposal.StartPrice),
			PivotPrice:  decOrEmpty(proposal.PivotPrice),
		}}
	}
	writeSubmission(w, h.logger, r, res, err, extra)
}

// AdjustFee registers a timelocked fee change.
// POST /api/pools/{address}/fees
func (h *PoolHandler) AdjustFee(w http.ResponseWriter, r *http.Request) {
	h.fee(w, r, h.svc.AdjustFee)
}

// FinalizeFee completes a registered fee change after its timelock.
// POST /api/pools/{address}/fees/finalize
func (h *PoolHandler) FinalizeFee(w http.ResponseWriter, r *http.Request) {
	h.fee(w, r, h.svc.FinalizeFee)
}

type feeFunc func(context.Context, domain.FeeChangeParams, service.SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error)

func (h *PoolHandler) fee(w http.ResponseWriter, r *http.Request, submit feeFunc) {
	pool, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req feeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := domain.FeeChangeParams{Pool: pool, FeeType: domain.FeeType(req.FeeType)}
	if p.Manager, err = parseAddress("manager", req.Manager); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.NewPercentage, err = parseAmount("new_percentage", req.NewPercentage); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, proposal, err := submit(r.Context(), p, service.SubmitOptions{AwaitMined: awaitMined(r)})
	var extra map[string]any
	if proposal.UpgradeHash != (common.Hash{}) {
		extra = map[string]any{"fee_change": feeProposalResponse{
			Pool:          proposal.Pool,
			FeeType:       proposal.FeeType,
			NewPercentage: decOrEmpty(proposal.NewPercentage),
			UpgradeHash:   proposal.UpgradeHash,
			ProposedAt:    proposal.ProposedAt,
		}}
	}
	writeSubmission(w, h.logger, r, res, err, extra)
}

// RemoveFeeUpdate cancels a registered fee change.
// DELETE /api/pools/{address}/fees/{hash}?manager=0x...
func (h *PoolHandler) RemoveFeeUpdate(w http.ResponseWriter, r *http.Request) {
	pool, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	manager, err := parseAddress("manager", r.URL.Query().Get("manager"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := r.PathValue("hash")
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(b) != common.HashLength {
		writeError(w, http.StatusBadRequest, "hash: invalid upgrade hash "+raw)
		return
	}
	res, err := h.svc.RemoveFeeUpdate(r.Context(), manager, pool, common.BytesToHash(b), service.SubmitOptions{AwaitMined: awaitMined(r)})
	writeSubmission(w, h.logger, r, res, err, nil)
}
