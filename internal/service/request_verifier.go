package service

import (
	"crypto/ed25519"
	"fmt"

	"htlc-escrow/internal/core/domain"

	"github.com/btcsuite/btcutil/base58"
)

// Ed25519RequestVerifier implements ports.RequestVerifier. Signers are the
// same 32-byte identities used throughout the escrow records.
type Ed25519RequestVerifier struct{}

// NewEd25519RequestVerifier creates a request verifier.
func NewEd25519RequestVerifier() *Ed25519RequestVerifier {
	return &Ed25519RequestVerifier{}
}

// Verify checks a base58 ed25519 signature of payload by signer.
func (v *Ed25519RequestVerifier) Verify(signer domain.Pubkey, payload string, signature string) bool {
	sig := base58.Decode(signature)
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signer.Bytes()), []byte(payload), sig)
}

// BuildCanonicalString constructs the canonical payload for signing.
// Format: METHOD|PATH|TIMESTAMP|NONCE|BODY
func (v *Ed25519RequestVerifier) BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", method, path, timestamp, nonce, body)
}

// SignRequest signs a canonical payload and returns the base58 signature.
// Clients and tests use it to build envelopes.
func SignRequest(key ed25519.PrivateKey, payload string) string {
	return base58.Encode(ed25519.Sign(key, []byte(payload)))
}
