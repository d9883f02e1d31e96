package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature is returned when a callback's HMAC does not
// match the payload.  No state change may happen after this error.
var ErrInvalidSignature = errors.New("invalid signature")

// Verifier checks gateway callback signatures.  The key secret signs
// browser-return confirmations; a separate webhook secret signs
// server-to-server webhooks.
type Verifier struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewVerifier returns a Verifier for the given secrets.
func NewVerifier(keySecret, webhookSecret string) *Verifier {
	return &Verifier{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// VerifyConfirmation checks the signature a buyer's browser carries
// back after payment: HMAC-SHA256 over "intentID|paymentID" with the
// key secret.
func (v *Verifier) VerifyConfirmation(intentID, paymentID, signature string) error {
	return verify(v.keySecret, []byte(intentID+"|"+paymentID), signature)
}

// VerifyWebhook checks the signature header of a webhook delivery:
// HMAC-SHA256 over the raw request body with the webhook secret.
// The body must be the exact bytes received, before any decoding.
func (v *Verifier) VerifyWebhook(body []byte, signature string) error {
	return verify(v.webhookSecret, body, signature)
}

func verify(secret, payload []byte, signature string) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	// Constant-time compare; a length mismatch alone must not leak
	// anything either.
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
