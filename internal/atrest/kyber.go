// Package atrest implements optional at-rest encryption of serialized
// node state before it reaches storage, using a Kyber-768 KEM to derive
// a per-blob AES-256-GCM key. It satisfies internal/storage's Sealer
// interface.
package atrest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
)

// KeyPair holds a Kyber-768 public/private key pair used to seal and
// open snapshots.
type KeyPair struct {
	PublicKey  kem.PublicKey
	PrivateKey kem.PrivateKey
}

// GenerateKeyPair creates a fresh Kyber-768 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	scheme := kyber768.Scheme()
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("atrest: generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// LoadKeyPair reconstructs a KeyPair from previously marshaled bytes.
func LoadKeyPair(pubBytes, privBytes []byte) (*KeyPair, error) {
	scheme := kyber768.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("atrest: unmarshal public key: %w", err)
	}
	priv, err := scheme.UnmarshalBinaryPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("atrest: unmarshal private key: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv}, nil
}

// MarshalPublicKey returns the wire form of the public half.
func (kp *KeyPair) MarshalPublicKey() ([]byte, error) { return kp.PublicKey.MarshalBinary() }

// MarshalPrivateKey returns the wire form of the private half. Callers
// must keep this confidential; it is not encrypted by this package.
func (kp *KeyPair) MarshalPrivateKey() ([]byte, error) { return kp.PrivateKey.MarshalBinary() }

// Seal implements internal/storage.Sealer: it encapsulates a fresh
// shared secret under the Kyber public key and uses it to key
// AES-256-GCM over plaintext.
func (kp *KeyPair) Seal(plaintext []byte) ([]byte, error) {
	scheme := kyber768.Scheme()
	kemCiphertext, sharedSecret, err := scheme.Encapsulate(kp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("atrest: encapsulate: %w", err)
	}
	encrypted, err := aesEncrypt(sharedSecret, plaintext)
	if err != nil {
		return nil, fmt.Errorf("atrest: aes seal: %w", err)
	}
	out := make([]byte, scheme.CiphertextSize()+len(encrypted))
	copy(out[:scheme.CiphertextSize()], kemCiphertext)
	copy(out[scheme.CiphertextSize():], encrypted)
	return out, nil
}

// Open implements internal/storage.Sealer, reversing Seal.
func (kp *KeyPair) Open(sealed []byte) ([]byte, error) {
	scheme := kyber768.Scheme()
	if len(sealed) < scheme.CiphertextSize() {
		return nil, errors.New("atrest: sealed blob too short")
	}
	kemCiphertext := sealed[:scheme.CiphertextSize()]
	encrypted := sealed[scheme.CiphertextSize():]

	sharedSecret, err := scheme.Decapsulate(kp.PrivateKey, kemCiphertext)
	if err != nil {
		return nil, fmt.Errorf("atrest: decapsulate: %w", err)
	}
	return aesDecrypt(sharedSecret, encrypted)
}

func aesEncrypt(key, plaintext []byte) ([]byte, error) {
	aesKey := deriveAESKey(key)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aesDecrypt(key, ciphertext []byte) ([]byte, error) {
	aesKey := deriveAESKey(key)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("atrest: ciphertext too short")
	}
	nonce, rest := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, rest, nil)
}

func deriveAESKey(key []byte) []byte {
	if len(key) == 32 {
		return key
	}
	sum := sha256.Sum256(key)
	return sum[:]
}
