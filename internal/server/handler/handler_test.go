package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
	"github.com/alanyoungcy/setrebalancer/internal/service"
)

var (
	basketAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	nextAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	curveAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	mgrAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

var discard = slog.New(slog.DiscardHandler)

type fakeRebalancer struct {
	bidErr   error
	bidRes   domain.SubmissionResult
	gotBid   domain.BidParams
	gotOpts  service.SubmitOptions
	propose  domain.ProposeParams
	feeHash  common.Hash
	removed  common.Hash
	subs     map[string]domain.Submission
	listOpts domain.ListOpts
}

func (f *fakeRebalancer) QuoteBid(_ context.Context, p domain.BidParams) (domain.BidQuote, error) {
	f.gotBid = p
	if f.bidErr != nil {
		return domain.BidQuote{}, f.bidErr
	}
	return domain.BidQuote{
		Basket:            p.Basket,
		Kind:              p.Kind,
		RequestedQuantity: p.Quantity,
		Quantity:          p.Quantity,
		Price:             domain.Price{Numerator: uint256.NewInt(1000), Divisor: uint256.NewInt(1000)},
		Flow: domain.TokenFlow{
			Tokens:  []common.Address{curveAddr},
			Inflow:  []*uint256.Int{uint256.NewInt(7)},
			Outflow: []*uint256.Int{uint256.NewInt(0)},
		},
	}, nil
}

func (f *fakeRebalancer) Bid(ctx context.Context, p domain.BidParams, opts service.SubmitOptions) (domain.SubmissionResult, domain.BidQuote, error) {
	f.gotOpts = opts
	q, err := f.QuoteBid(ctx, p)
	if err != nil {
		return domain.SubmissionResult{}, domain.BidQuote{}, err
	}
	return f.bidRes, q, nil
}

func (f *fakeRebalancer) ValidatePropose(_ context.Context, p domain.ProposeParams) error {
	f.propose = p
	return nil
}

func (f *fakeRebalancer) Propose(_ context.Context, p domain.ProposeParams, _ service.SubmitOptions) (domain.SubmissionResult, error) {
	f.propose = p
	return domain.SubmissionResult{SubmissionID: "s1", Status: domain.SubmissionPending}, nil
}

func (f *fakeRebalancer) StartRebalance(context.Context, common.Address, service.SubmitOptions) (domain.SubmissionResult, error) {
	return domain.SubmissionResult{}, domain.NewValidationError("start_rebalance", domain.ErrInvalidState, "basket is in default")
}

func (f *fakeRebalancer) SettleRebalance(context.Context, common.Address, service.SubmitOptions) (domain.SubmissionResult, error) {
	res := domain.SubmissionResult{SubmissionID: "s2", Status: domain.SubmissionReverted, TxHash: "0xabc"}
	return res, &domain.RevertError{TxHash: "0xabc", Reason: "execution reverted"}
}

func (f *fakeRebalancer) EndFailedAuction(context.Context, common.Address, service.SubmitOptions) (domain.SubmissionResult, domain.RebalanceState, error) {
	return domain.SubmissionResult{SubmissionID: "s3", Status: domain.SubmissionMined}, domain.StateDrawdown, nil
}

func (f *fakeRebalancer) UpdateAllocation(_ context.Context, p domain.AllocationParams, _ service.SubmitOptions) (domain.SubmissionResult, domain.ProposeParams, error) {
	return domain.SubmissionResult{SubmissionID: "s4", Status: domain.SubmissionPending}, domain.ProposeParams{NextBasket: nextAddr, TimeToPivot: p.TimeToPivot}, nil
}

func (f *fakeRebalancer) AdjustFee(_ context.Context, p domain.FeeChangeParams, _ service.SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error) {
	if p.NewPercentage.Gt(domain.Percent(20)) {
		return domain.SubmissionResult{}, domain.FeeChangeProposal{}, domain.NewValidationError("adjust_fee", domain.ErrFeeExceedsCeiling, "")
	}
	return domain.SubmissionResult{SubmissionID: "s5", Status: domain.SubmissionPending},
		domain.FeeChangeProposal{Pool: p.Pool, FeeType: p.FeeType, NewPercentage: p.NewPercentage, UpgradeHash: f.feeHash}, nil
}

func (f *fakeRebalancer) FinalizeFee(context.Context, domain.FeeChangeParams, service.SubmitOptions) (domain.SubmissionResult, domain.FeeChangeProposal, error) {
	return domain.SubmissionResult{}, domain.FeeChangeProposal{}, domain.NewValidationError("finalize_fee", domain.ErrTimingNotElapsed, "")
}

func (f *fakeRebalancer) RemoveFeeUpdate(_ context.Context, _, _ common.Address, h common.Hash, _ service.SubmitOptions) (domain.SubmissionResult, error) {
	f.removed = h
	return domain.SubmissionResult{SubmissionID: "s6", Status: domain.SubmissionPending}, nil
}

func (f *fakeRebalancer) Submission(_ context.Context, id string) (domain.Submission, error) {
	s, ok := f.subs[id]
	if !ok {
		return domain.Submission{}, fmt.Errorf("postgres: submission %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeRebalancer) Submissions(_ context.Context, opts domain.ListOpts) ([]domain.Submission, error) {
	f.listOpts = opts
	return nil, nil
}

type fakeReader struct{ err error }

func (f fakeReader) Basket(_ context.Context, b common.Address) (domain.RebalancingBasket, error) {
	if f.err != nil {
		return domain.RebalancingBasket{}, f.err
	}
	return domain.RebalancingBasket{
		Address:        b,
		State:          domain.StateRebalance,
		UnitShares:     uint256.NewInt(10),
		NaturalUnit:    uint256.NewInt(1_000_000),
		ProposalPeriod: 24 * time.Hour,
	}, nil
}

func (f fakeReader) Proposal(context.Context, common.Address) (domain.Proposal, error) {
	return domain.Proposal{}, domain.NewValidationError("proposal", domain.ErrInvalidState, "")
}

func (f fakeReader) View(_ context.Context, b common.Address) (service.AuctionView, error) {
	return service.AuctionView{Basket: b, State: domain.StateRebalance, PriceNumerator: "1000"}, nil
}

func do(t *testing.T, method, pattern, target, body string, h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(method+" "+pattern, h)
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{domain.NewValidationError("bid", domain.ErrInvalidState, ""), http.StatusConflict, "invalid_state"},
		{domain.NewValidationError("bid", domain.ErrInsufficientEtherValue, ""), http.StatusPaymentRequired, "insufficient_ether_value"},
		{domain.NewValidationError("bid", domain.ErrInsufficientFunds, ""), http.StatusPaymentRequired, "insufficient_funds"},
		{domain.NewValidationError("fee", domain.ErrTimingNotElapsed, ""), http.StatusTooEarly, "timing_not_elapsed"},
		{&domain.RevertError{TxHash: "0x1"}, http.StatusConflict, "transaction_reverted"},
		{fmt.Errorf("wrap: %w", domain.ErrTimeout), http.StatusGatewayTimeout, "timeout"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, kind := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.kind, kind, tc.err.Error())
	}
}

func TestBasketHandler(t *testing.T) {
	h := NewBasketHandler(fakeReader{}, &fakeRebalancer{}, discard)
	path := "/api/baskets/" + basketAddr.Hex()

	rec, body := do(t, "GET", "/api/baskets/{address}", path, "", h.GetBasket)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rebalance", body["state"])
	assert.Equal(t, "1000000", body["natural_unit"])
	assert.EqualValues(t, 86400, body["proposal_period_seconds"])

	rec, _ = do(t, "GET", "/api/baskets/{address}", "/api/baskets/nope", "", h.GetBasket)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, "GET", "/api/baskets/{address}/proposal", path+"/proposal", "", h.GetProposal)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", body["kind"])
	assert.Equal(t, "proposal", body["op"])

	rec, body = do(t, "GET", "/api/baskets/{address}/auction", path+"/auction", "", h.GetAuction)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", body["price_numerator"])
}

func TestBasketHandlerReadFailureHidesInternals(t *testing.T) {
	h := NewBasketHandler(fakeReader{err: errors.New("dial tcp 10.0.0.1:8545: refused")}, &fakeRebalancer{}, discard)
	rec, body := do(t, "GET", "/api/baskets/{address}", "/api/baskets/"+basketAddr.Hex(), "", h.GetBasket)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestBasketHandlerPropose(t *testing.T) {
	svc := &fakeRebalancer{}
	h := NewBasketHandler(fakeReader{}, svc, discard)
	body := fmt.Sprintf(`{"next_basket":%q,"price_curve":%q,"time_to_pivot_seconds":3600,"start_price":"500","pivot_price":"1500"}`,
		nextAddr.Hex(), curveAddr.Hex())

	rec, out := do(t, "POST", "/api/baskets/{address}/proposals", "/api/baskets/"+basketAddr.Hex()+"/proposals", body, h.Propose)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "s1", out["submission"].(map[string]any)["submission_id"])
	assert.Equal(t, basketAddr, svc.propose.Basket)
	assert.Equal(t, time.Hour, svc.propose.TimeToPivot)
	assert.Equal(t, uint64(1500), svc.propose.PivotPrice.Uint64())

	rec, _ = do(t, "POST", "/api/baskets/{address}/proposals", "/api/baskets/"+basketAddr.Hex()+"/proposals",
		`{"next_basket":"0x1","price_curve":"x"}`, h.Propose)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, "POST", "/api/baskets/{address}/proposals", "/api/baskets/"+basketAddr.Hex()+"/proposals",
		`{"unexpected":true}`, h.Propose)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBasketHandlerLifecycle(t *testing.T) {
	h := NewBasketHandler(fakeReader{}, &fakeRebalancer{}, discard)
	base := "/api/baskets/" + basketAddr.Hex()

	rec, body := do(t, "POST", "/api/baskets/{address}/start", base+"/start", "", h.StartRebalance)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, body["submission"])

	rec, body = do(t, "POST", "/api/baskets/{address}/settle", base+"/settle?wait=true", "", h.SettleRebalance)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "transaction_reverted", body["kind"])
	assert.Equal(t, "reverted", body["submission"].(map[string]any)["status"])

	rec, body = do(t, "POST", "/api/baskets/{address}/end-failed", base+"/end-failed?wait=true", "", h.EndFailedAuction)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "drawdown", body["expected_state"])
}

func TestBidHandler(t *testing.T) {
	svc := &fakeRebalancer{bidRes: domain.SubmissionResult{SubmissionID: "b1", Status: domain.SubmissionPending}}
	h := NewBidHandler(svc, discard)
	base := "/api/baskets/" + basketAddr.Hex()

	rec, body := do(t, "POST", "/api/baskets/{address}/bids/quote", base+"/bids/quote", `{"quantity":"300"}`, h.Quote)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.BidderPlain, svc.gotBid.Kind)
	assert.Equal(t, "300", body["quantity"])
	assert.Len(t, body["inflows"], 1)
	assert.Empty(t, body["outflows"])

	rec, body = do(t, "POST", "/api/baskets/{address}/bids", base+"/bids?wait=1",
		`{"quantity":"300","kind":"ether","ether_value":"42"}`, h.PlaceBid)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, svc.gotOpts.AwaitMined)
	assert.Equal(t, uint64(42), svc.gotBid.EtherValue.Uint64())
	assert.NotNil(t, body["quote"])

	rec, _ = do(t, "POST", "/api/baskets/{address}/bids", base+"/bids", `{"quantity":"lots"}`, h.PlaceBid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.bidErr = domain.NewValidationError("bid", domain.ErrInvalidQuantity, "not a multiple of the minimum bid")
	rec, body = do(t, "POST", "/api/baskets/{address}/bids", base+"/bids", `{"quantity":"250"}`, h.PlaceBid)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_quantity", body["kind"])
	assert.Nil(t, body["quote"])
}

func TestPoolHandler(t *testing.T) {
	svc := &fakeRebalancer{feeHash: common.HexToHash("0x01")}
	h := NewPoolHandler(svc, discard)
	base := "/api/pools/" + poolAddr.Hex()

	rec, body := do(t, "POST", "/api/pools/{address}/allocation", base+"/allocation",
		fmt.Sprintf(`{"manager":%q,"new_allocation":"500000000000000000","time_to_pivot_seconds":60,"liquidator_data":"0x"}`, mgrAddr.Hex()),
		h.UpdateAllocation)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 60, body["proposal"].(map[string]any)["time_to_pivot_seconds"])

	fee := func(pct string) string {
		return fmt.Sprintf(`{"manager":%q,"fee_type":"profit","new_percentage":%q}`, mgrAddr.Hex(), pct)
	}
	rec, body = do(t, "POST", "/api/pools/{address}/fees", base+"/fees", fee(domain.Percent(10).Dec()), h.AdjustFee)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, svc.feeHash.Hex(), body["fee_change"].(map[string]any)["upgrade_hash"])

	rec, body = do(t, "POST", "/api/pools/{address}/fees", base+"/fees", fee(domain.Percent(30).Dec()), h.AdjustFee)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "fee_exceeds_ceiling", body["kind"])

	rec, _ = do(t, "POST", "/api/pools/{address}/fees/finalize", base+"/fees/finalize", fee("1"), h.FinalizeFee)
	assert.Equal(t, http.StatusTooEarly, rec.Code)

	hash := common.HexToHash("0xfeed")
	rec, _ = do(t, "DELETE", "/api/pools/{address}/fees/{hash}", base+"/fees/"+hash.Hex()+"?manager="+mgrAddr.Hex(), "", h.RemoveFeeUpdate)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, hash, svc.removed)

	rec, _ = do(t, "DELETE", "/api/pools/{address}/fees/{hash}", base+"/fees/0x12?manager="+mgrAddr.Hex(), "", h.RemoveFeeUpdate)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmissionHandler(t *testing.T) {
	svc := &fakeRebalancer{subs: map[string]domain.Submission{
		"s1": {ID: "s1", Action: domain.ActionSettleRebalance, Status: domain.SubmissionMined},
	}}
	h := NewSubmissionHandler(svc, discard)

	rec, body := do(t, "GET", "/api/submissions", "/api/submissions?limit=1000&offset=5&since=2024-01-01T00:00:00Z", "", h.ListSubmissions)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, svc.listOpts.Limit)
	assert.Equal(t, 5, svc.listOpts.Offset)
	require.NotNil(t, svc.listOpts.Since)
	assert.Empty(t, body["submissions"])

	rec, _ = do(t, "GET", "/api/submissions", "/api/submissions?since=yesterday", "", h.ListSubmissions)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, "GET", "/api/submissions/{id}", "/api/submissions/s1", "", h.GetSubmission)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mined", body["status"])

	rec, body = do(t, "GET", "/api/submissions/{id}", "/api/submissions/missing", "", h.GetSubmission)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["kind"])
}

type fakeLister struct{ prefix string }

func (f *fakeLister) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	f.prefix = prefix
	return []domain.BlobInfo{{Path: prefix + "2024/01/01/000000.jsonl", Size: 12}}, nil
}

func TestArchiveHandler(t *testing.T) {
	blobs := &fakeLister{}
	h := NewArchiveHandler(blobs, discard)

	rec, body := do(t, "GET", "/api/archives", "/api/archives?kind=audit", "", h.ListArchives)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/audit/", blobs.prefix)
	assert.Len(t, body["archives"], 1)

	rec, _ = do(t, "GET", "/api/archives", "/api/archives?kind=orders", "", h.ListArchives)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"redis":    PingFunc(func(context.Context) error { return nil }),
		"postgres": PingFunc(func(context.Context) error { return errors.New("down") }),
	}, basketAddr.Hex(), discard)

	rec, body := do(t, "GET", "/api/health", "/api/health", "", h.HealthCheck)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "down", checks["postgres"])
}
