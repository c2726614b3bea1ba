package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/setrebalancer/internal/crypto"
	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventSubmissionReverted, " "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventSubmissionMined, "mined", ""))
	require.NoError(t, n.Notify(context.Background(), EventSubmissionReverted, "reverted", ""))
	assert.Equal(t, []string{"reverted"}, s.titles)
}

func TestNotifierEmptyFilterPassesAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", ""))
	assert.Len(t, s.titles, 1)
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "e", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Len(t, good.titles, 1)
}

func TestNotifySubmission(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifySubmission(ctx, domain.Submission{Action: domain.ActionBid, Status: domain.SubmissionPending}))
	require.NoError(t, n.NotifySubmission(ctx, domain.Submission{Action: domain.ActionBid, Status: domain.SubmissionMined}))
	require.NoError(t, n.NotifySubmission(ctx, domain.Submission{Action: domain.ActionSettleRebalance, Status: domain.SubmissionReverted}))
	assert.Equal(t, []string{"bid mined", "settle_rebalance reverted"}, s.titles)
}

func TestFormatSubmission(t *testing.T) {
	msg := FormatSubmission(domain.Submission{
		ID:          "abc",
		Target:      common.HexToAddress("0x01"),
		TxHash:      common.HexToHash("0x02"),
		BlockNumber: 12,
		Error:       "execution reverted",
	})
	assert.Contains(t, msg, "block: 12")
	assert.Contains(t, msg, "error: execution reverted")
	assert.Contains(t, msg, "id: abc")
}

func TestWebhookSenderSignsBody(t *testing.T) {
	auth := &crypto.HMACAuth{Secret: "s3cret"}
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !auth.Verify(r.Header.Get(crypto.HeaderTimestamp), body, r.Header.Get(crypto.HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ws := NewWebhookSender(srv.URL, "s3cret")
	ws.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	require.NoError(t, ws.Send(context.Background(), "bid mined", "tx: 0x"))
	assert.Equal(t, "bid mined", got.Title)
	assert.Equal(t, int64(1_700_000_000), got.SentAt.Unix())

	wrong := NewWebhookSender(srv.URL, "other")
	err := wrong.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")
}

func TestTelegramSender(t *testing.T) {
	var path string
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	ts := NewTelegramSender("TOKEN", "42")
	ts.baseURL = srv.URL
	require.NoError(t, ts.Send(context.Background(), "title", "body"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Contains(t, payload["text"], "*title*")
}

func TestDiscordSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
