package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"gitlab.com/yawning/secp256k1-voi/secec"
)

// secp256k1SchnorrPublicKey implements PublicKey for BIP-340 Schnorr.
//
// This is deliberately a second, independent secp256k1 stack from the
// ECDSA signer (secp256k1_ecdsa.go): BIP-340 itself warns that sharing
// deterministic-nonce code between ECDSA and Schnorr signers over the
// same key can leak the private key if either implementation has a
// nonce-reuse bug. Using gitlab.com/yawning/secp256k1-voi for Schnorr
// keeps the two signing paths from ever touching the same nonce code.
type secp256k1SchnorrPublicKey struct {
	key *secec.SchnorrPublicKey
}

func (k *secp256k1SchnorrPublicKey) Algorithm() Algorithm { return Secp256k1Schnorr }

func (k *secp256k1SchnorrPublicKey) Bytes() []byte {
	out := make([]byte, len(k.key.Bytes()))
	copy(out, k.key.Bytes())
	return out
}

func (k *secp256k1SchnorrPublicKey) Verify(message, signature []byte) bool {
	if len(signature) != secec.SchnorrSignatureSize {
		return false
	}
	digest := schnorrDigest(message)
	return k.key.Verify(digest[:], signature)
}

// NewSecp256k1SchnorrPublicKey parses a 32-byte x-only public key.
func NewSecp256k1SchnorrPublicKey(raw []byte) (PublicKey, error) {
	key, err := secec.NewSchnorrPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: secp256k1 schnorr: %v", ErrKeySize, err)
	}
	return &secp256k1SchnorrPublicKey{key: key}, nil
}

// secp256k1SchnorrSigner implements Signer for BIP-340 Schnorr.
type secp256k1SchnorrSigner struct {
	priv *secec.PrivateKey
	pub  *secp256k1SchnorrPublicKey
}

func (s *secp256k1SchnorrSigner) Algorithm() Algorithm { return Secp256k1Schnorr }

func (s *secp256k1SchnorrSigner) PublicKey() PublicKey { return s.pub }

// Sign reduces message to a 32-byte digest with SHA-256 before signing:
// BIP-340 requires exactly a 32-byte message, so, as with the ECDSA
// signer, an arbitrary-length signable selection is pre-hashed rather
// than restricting what the signable extractor is allowed to produce.
func (s *secp256k1SchnorrSigner) Sign(message []byte) ([]byte, error) {
	digest := schnorrDigest(message)
	sig, err := s.priv.SignSchnorr(rand.Reader, digest[:])
	if err != nil {
		return nil, fmt.Errorf("secp256k1 schnorr: sign: %w", err)
	}
	return sig, nil
}

// Zeroize clears every copy of the scalar this package can reach.
// secec.PrivateKey keeps the scalar behind an unexported field with no
// in-place clear, so Bytes() only ever hands out copies; this zeroes
// each copy it obtains rather than leaving them for the GC.
func (s *secp256k1SchnorrSigner) Zeroize() {
	zero(s.priv.Bytes())
	s.priv.Scalar().Zero()
}

func schnorrDigest(message []byte) [sha256.Size]byte {
	return sha256.Sum256(message)
}

// GenerateSecp256k1SchnorrSigner generates a fresh secp256k1 keypair for
// Schnorr signing.
func GenerateSecp256k1SchnorrSigner() (Signer, error) {
	priv, err := secec.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("secp256k1 schnorr: generate: %w", err)
	}
	return &secp256k1SchnorrSigner{priv: priv, pub: &secp256k1SchnorrPublicKey{key: priv.SchnorrPublicKey()}}, nil
}

// Secp256k1SchnorrSignerFromSeed derives a secp256k1 keypair from a
// 32-byte seed used directly as the scalar, for provisioning recovery.
func Secp256k1SchnorrSignerFromSeed(seed []byte) (Signer, error) {
	priv, err := secec.NewPrivateKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: secp256k1 schnorr seed: %v", ErrKeySize, err)
	}
	return &secp256k1SchnorrSigner{priv: priv, pub: &secp256k1SchnorrPublicKey{key: priv.SchnorrPublicKey()}}, nil
}
