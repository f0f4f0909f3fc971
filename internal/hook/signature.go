package hook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC-SHA1 of the request body.
const SignatureHeader = "X-Hub-Signature"

const (
	signaturePrefix = "sha1="
	signatureLen    = len(signaturePrefix) + sha1.Size*2
)

// ErrSignature is returned for a missing or wrong webhook signature.
var ErrSignature = errors.New("invalid webhook signature")

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks that header is "sha1=" followed by the hex HMAC-SHA1 of
// body. Headers of the wrong length are rejected before any hashing.
func (v *Verifier) Verify(header string, body []byte) error {
	if len(header) != signatureLen || !strings.HasPrefix(header, signaturePrefix) {
		return ErrSignature
	}
	got, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil {
		return ErrSignature
	}
	mac := hmac.New(sha1.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrSignature
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
