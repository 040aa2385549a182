package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// ed25519PublicKey implements PublicKey for Ed25519.
type ed25519PublicKey struct {
	key ed25519.PublicKey
}

func (k *ed25519PublicKey) Algorithm() Algorithm { return Ed25519 }

func (k *ed25519PublicKey) Bytes() []byte {
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out
}

func (k *ed25519PublicKey) Verify(message, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.key, message, signature)
}

// NewEd25519PublicKey parses a 32-byte Ed25519 public key.
func NewEd25519PublicKey(raw []byte) (PublicKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes, got %d", ErrKeySize, ed25519.PublicKeySize, len(raw))
	}
	key := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(key, raw)
	return &ed25519PublicKey{key: key}, nil
}

// ed25519Signer implements Signer over a seed-derived Ed25519 private key.
type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  *ed25519PublicKey
}

func (s *ed25519Signer) Algorithm() Algorithm { return Ed25519 }

func (s *ed25519Signer) PublicKey() PublicKey { return s.pub }

// Sign signs message directly: Ed25519 hashes internally (SHA-512) and
// has no message-length restriction, so the signable extractor's raw
// selection can be handed to it unmodified.
func (s *ed25519Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, message), nil
}

func (s *ed25519Signer) Zeroize() {
	zero(s.priv)
}

// GenerateEd25519Signer generates a fresh Ed25519 keypair using the
// system CSPRNG.
func GenerateEd25519Signer() (Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ed25519: generate: %w", err)
	}
	return &ed25519Signer{priv: priv, pub: &ed25519PublicKey{key: pub}}, nil
}

// Ed25519SignerFromSeed derives a deterministic keypair from a 32-byte
// seed, as used by the Secure Element's import_key during provisioning
// recovery.
func Ed25519SignerFromSeed(seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: ed25519 seed must be %d bytes, got %d", ErrKeySize, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Signer{priv: priv, pub: &ed25519PublicKey{key: pub}}, nil
}
