package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureVerifier checks processor signatures with HMAC-SHA256. The key secret signs client
// confirmations and the webhook secret signs webhook bodies.
type SignatureVerifier struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewSignatureVerifier constructs a verifier. Empty secrets make the corresponding check fail.
func NewSignatureVerifier(keySecret, webhookSecret string) *SignatureVerifier {
	return &SignatureVerifier{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// VerifyPayment reports whether signature is the lower-case hex HMAC of "orderID|paymentID".
func (v *SignatureVerifier) VerifyPayment(processorOrderID, paymentID, signature string) bool {
	if v == nil {
		return false
	}
	return verify(v.keySecret, []byte(processorOrderID+"|"+paymentID), signature)
}

// VerifyWebhook reports whether signature is the lower-case hex HMAC of the exact raw body.
func (v *SignatureVerifier) VerifyWebhook(body []byte, signature string) bool {
	if v == nil {
		return false
	}
	return verify(v.webhookSecret, body, signature)
}

// Sign returns the lower-case hex HMAC-SHA256 of payload.
func Sign(secret []byte, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(secret, payload []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
