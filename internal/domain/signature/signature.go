// Package signature verifies payment gateway signatures before any state is
// written. A confirmation that fails here has no side effects.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const separator = "|"

// Verifier checks HMAC-SHA256 signatures over "orderRef|paymentRef".
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier keyed with the gateway secret. An empty
// secret is accepted here and reported by Verify so the failure surfaces
// per request.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the lowercase hex signature the gateway would produce.
func (v *Verifier) Sign(orderRef, paymentRef string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrMisconfigured
	}
	return hex.EncodeToString(v.mac(orderRef, paymentRef)), nil
}

// Verify returns nil only if signature matches the expected HMAC of the two
// references. The comparison runs in constant time.
func (v *Verifier) Verify(orderRef, paymentRef, signature string) error {
	if len(v.secret) == 0 {
		return ErrMisconfigured
	}
	if orderRef == "" || paymentRef == "" || signature == "" {
		return ErrMissingInput
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrMismatch
	}
	if !hmac.Equal(got, v.mac(orderRef, paymentRef)) {
		return ErrMismatch
	}
	return nil
}

func (v *Verifier) mac(orderRef, paymentRef string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(orderRef + separator + paymentRef))
	return h.Sum(nil)
}
