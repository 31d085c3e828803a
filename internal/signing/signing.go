// Package signing verifies operation authenticity at the HTTP boundary,
// using standard Ed25519 rather than the node's post-quantum key
// material: spec-mandated clients sign requests with ordinary Ed25519
// keys, and verification never touches the CRDT merge algebra itself.
package signing

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
)

// KeyPair is an Ed25519 signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generate key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Sign returns a detached signature over message.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// Verify checks a detached signature against a public key. It never
// panics on malformed input, returning false instead.
func Verify(pub ed25519.PublicKey, message, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}
