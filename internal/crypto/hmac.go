package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Webhook signature headers.
const (
	HeaderTimestamp = "X-Setrebal-Timestamp"
	HeaderSignature = "X-Setrebal-Signature"
)

// HMACAuth signs outgoing webhook bodies so receivers can verify their
// origin. The signature is hex(HMAC-SHA256(secret, timestamp + "." + body)).
type HMACAuth struct {
	Secret string
}

// Headers returns the signature headers for body at the current time.
func (h *HMACAuth) Headers(body []byte) map[string]string {
	return h.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (h *HMACAuth) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: h.sign(ts, body),
	}
}

// Verify reports whether signature matches body signed at timestamp ts.
func (h *HMACAuth) Verify(ts string, body []byte, signature string) bool {
	return hmac.Equal([]byte(h.sign(ts, body)), []byte(signature))
}

func (h *HMACAuth) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	if len(h.Secret) <= 4 {
		return "HMACAuth{secret=****}"
	}
	return fmt.Sprintf("HMACAuth{secret=%s****}", h.Secret[:4])
}
