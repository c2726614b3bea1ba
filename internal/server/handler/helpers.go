// Package handler serves the coordinator's JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Op    string `json:"op,omitempty"`
	// Submission is set when a transaction was sent before the error.
	Submission *domain.SubmissionResult `json:"submission,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorKinds maps error classes to their HTTP status and wire name. Order
// matters: the first match wins.
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{domain.ErrInsufficientEtherValue, http.StatusPaymentRequired, "insufficient_ether_value"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domain.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{domain.ErrTimingNotElapsed, http.StatusTooEarly, "timing_not_elapsed"},
	{domain.ErrInvalidQuantity, http.StatusUnprocessableEntity, "invalid_quantity"},
	{domain.ErrInvalidParams, http.StatusUnprocessableEntity, "invalid_params"},
	{domain.ErrFeeExceedsCeiling, http.StatusUnprocessableEntity, "fee_exceeds_ceiling"},
	{domain.ErrInvalidPriceCurve, http.StatusUnprocessableEntity, "invalid_price_curve"},
	{domain.ErrInvalidBasket, http.StatusUnprocessableEntity, "invalid_basket"},
	{domain.ErrNoPendingFeeChange, http.StatusConflict, "no_pending_fee_change"},
	{domain.ErrMalformedAuctionState, http.StatusBadGateway, "malformed_auction_state"},
	{domain.ErrTransactionReverted, http.StatusConflict, "transaction_reverted"},
	{domain.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
}

// classify returns the status and kind for err. Unknown errors are 500.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeDomainError reports err. Internal errors are logged and hidden from
// the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error, sub *domain.SubmissionResult) {
	status, kind := classify(err)
	resp := errorResponse{Error: err.Error(), Kind: kind, Submission: sub}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		resp.Op = ve.Op
	}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

// submissionOrNil returns res when a transaction was actually sent.
func submissionOrNil(res domain.SubmissionResult) *domain.SubmissionResult {
	if res.SubmissionID == "" {
		return nil
	}
	return &res
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts reads limit (default 50, max 500), offset, since and until
// (RFC 3339).
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("invalid offset %q", v)
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s %q", name, v)
			}
			*dst = &t
		}
	}
	return opts, nil
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, r.PathValue(name))
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount reads a base-10 uint256.
func parseAmount(name, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q", name, s)
	}
	return v, nil
}

// awaitMined reads ?wait=true.
func awaitMined(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return v
}

func decOrEmpty(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// writeSubmission reports the outcome of a submitting request. A pending
// submission is 202; a final one is 200. extra is merged into the body.
func writeSubmission(w http.ResponseWriter, logger *slog.Logger, r *http.Request, res domain.SubmissionResult, err error, extra map[string]any) {
	if err != nil {
		writeDomainError(w, logger, r, err, submissionOrNil(res))
		return
	}
	body := map[string]any{"submission": res}
	for k, v := range extra {
		body[k] = v
	}
	status := http.StatusOK
	if res.Status == domain.SubmissionPending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, body)
}
