// Package signature authenticates Shopify webhook bodies with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// HeaderName carries the base64 digest on Shopify webhooks.
const HeaderName = "X-Shopify-Hmac-Sha256"

var (
	ErrMissingSecret = errors.New("signature: webhook secret not configured")
	ErrMismatch      = errors.New("signature: digest mismatch")
)

// Verifier checks webhook signatures. In report-only mode a failed check is
// advisory; in enforcing mode the caller must reject the request.
type Verifier struct {
	secret  []byte
	enforce bool
}

func NewVerifier(secret string, enforce bool) *Verifier {
	return &Verifier{secret: []byte(secret), enforce: enforce}
}

// Enforcing reports whether a failed check must block processing.
func (v *Verifier) Enforcing() bool {
	return v.enforce
}

// Verify computes the digest over body exactly as received and compares it
// in constant time with the decoded header value.
func (v *Verifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return ErrMissingSecret
	}

	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil || len(got) == 0 {
		return ErrMismatch
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrMismatch
	}
	return nil
}

// Sign returns the header value Shopify would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
