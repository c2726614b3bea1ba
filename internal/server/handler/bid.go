package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/service"
)

// BidService quotes and places auction bids.
type BidService interface {
	QuoteBid(ctx context.Context, p domain.BidParams) (domain.BidQuote, error)
	Bid(ctx context.Context, p domain.BidParams, opts service.SubmitOptions) (domain.SubmissionResult, domain.BidQuote, error)
}

// BidHandler serves the bid endpoints.
type BidHandler struct {
	svc    BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(svc BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{svc: svc, logger: logger}
}

type bidRequest struct {
	Quantity         string `json:"quantity"`
	AllowPartialFill bool   `json:"allow_partial_fill"`
	Kind             string `json:"kind"`
	EtherValue       string `json:"ether_value,omitempty"`
}

type requirementResponse struct {
	Token  common.Address `json:"token"`
	Amount string         `json:"amount"`
}

type quoteResponse struct {
	Basket            common.Address        `json:"basket"`
	Kind              domain.BidderKind     `json:"kind"`
	RequestedQuantity string                `json:"requested_quantity"`
	Quantity          string                `json:"quantity"`
	PriceNumerator    string                `json:"price_numerator"`
	PriceDivisor      string                `json:"price_divisor"`
	Inflows           []domain.FlowEntry    `json:"inflows"`
	Outflows          []domain.FlowEntry    `json:"outflows"`
	Requirements      []requirementResponse `json:"requirements"`
	Spender           common.Address        `json:"spender"`
}

func newQuoteResponse(q domain.BidQuote) quoteResponse {
	resp := quoteResponse{
		Basket:            q.Basket,
		Kind:              q.Kind,
		RequestedQuantity: decOrEmpty(q.RequestedQuantity),
		Quantity:          decOrEmpty(q.Quantity),
		PriceNumerator:    decOrEmpty(q.Price.Numerator),
		PriceDivisor:      decOrEmpty(q.Price.Divisor),
		Spender:           q.Spender,
		Inflows:           []domain.FlowEntry{},
		Outflows:          []domain.FlowEntry{},
		Requirements:      []requirementResponse{},
	}
	in, out := q.Flow.Present()
	resp.Inflows = append(resp.Inflows, in...)
	resp.Outflows = append(resp.Outflows, out...)
	for _, req := range q.Requirements {
		resp.Requirements = append(resp.Requirements, requirementResponse{Token: req.Token, Amount: decOrEmpty(req.Amount)})
	}
	return resp
}

// Quote validates a bid and returns its token flows without submitting.
// POST /api/baskets/{address}/bids/quote
func (h *BidHandler) Quote(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	q, err := h.svc.QuoteBid(r.Context(), p)
	if err != nil {
		writeDomainError(w, h.logger, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

// PlaceBid validates and submits a bid.
// POST /api/baskets/{address}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	p, ok := h.params(w, r)
	if !ok {
		return
	}
	res, q, err := h.svc.Bid(r.Context(), p, service.SubmitOptions{AwaitMined: awaitMined(r)})
	var extra map[string]any
	if q.Quantity != nil {
		extra = map[string]any{"quote": newQuoteResponse(q)}
	}
	writeSubmission(w, h.logger, r, res, err, extra)
}

func (h *BidHandler) params(w http.ResponseWriter, r *http.Request) (domain.BidParams, bool) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.BidParams{}, false
	}
	var req bidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.BidParams{}, false
	}
	p := domain.BidParams{
		Basket:           addr,
		AllowPartialFill: req.AllowPartialFill,
		Kind:             domain.BidderKind(req.Kind),
	}
	if p.Kind == "" {
		p.Kind = domain.BidderPlain
	}
	if p.Quantity, err = parseAmount("quantity", req.Quantity); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.BidParams{}, false
	}
	if req.EtherValue != "" {
		if p.EtherValue, err = parseAmount("ether_value", req.EtherValue); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return domain.BidParams{}, false
		}
	}
	return p, true
}
