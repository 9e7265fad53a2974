package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Delivery headers carried on every webhook POST. The signature covers
// the raw request body exactly as sent; subscribers must verify before
// parsing.
const (
	SignatureHeader = "X-Enricher-Signature"
	TimestampHeader = "X-Enricher-Timestamp"
)

// Sign computes the signature header value for a payload: hex-encoded
// HMAC-SHA256 over the raw body with the subscription secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// VerifySignature checks a received signature header against the raw
// body in constant time. Exposed for subscriber-side verification and
// tests.
func VerifySignature(secret string, body []byte, header string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
