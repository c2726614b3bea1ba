package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/setrebalancer/internal/crypto"
)

// WebhookSender posts JSON to an operator endpoint. Each body is signed with
// the shared secret so the receiver can verify origin and freshness.
type WebhookSender struct {
	url    string
	auth   *crypto.HMACAuth
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender. An empty secret sends unsigned
// requests.
func NewWebhookSender(url, secret string) *WebhookSender {
	var auth *crypto.HMACAuth
	if secret != "" {
		auth = &crypto.HMACAuth{Secret: secret}
	}
	return &WebhookSender{url: url, auth: auth, client: defaultHTTPClient(), now: time.Now}
}

type webhookPayload struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Send posts {title, message, sent_at}.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	now := w.now()
	body, err := json.Marshal(webhookPayload{Title: title, Message: message, SentAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}
	var headers map[string]string
	if w.auth != nil {
		headers = w.auth.HeadersAt(body, now.Unix())
	}
	if err := postBody(ctx, w.client, w.url, body, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Name returns "webhook".
func (w *WebhookSender) Name() string { return "webhook" }
