package crypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// secp256k1N is the order of the secp256k1 curve, precomputed once.
var secp256k1N = secp256k1.S256().N

// secp256k1HalfN is n/2, used for low-S normalization (BIP-62/EIP-2):
// ECDSA signatures are malleable (for valid (r,s), (r,n-s) is also
// valid), so Sign always returns the lower of the two and Verify
// accepts either to stay tolerant of third-party signers.
var secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)

// secp256k1EcdsaPublicKey implements PublicKey for secp256k1 ECDSA.
type secp256k1EcdsaPublicKey struct {
	key *secp256k1.PublicKey
}

func (k *secp256k1EcdsaPublicKey) Algorithm() Algorithm { return Secp256k1Ecdsa }

func (k *secp256k1EcdsaPublicKey) Bytes() []byte {
	return k.key.SerializeCompressed()
}

func (k *secp256k1EcdsaPublicKey) Verify(message, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}

	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(signature[:32]) {
		return false // overflow
	}
	if s.SetByteSlice(signature[32:]) {
		return false // overflow
	}

	sig := dcrecdsa.NewSignature(&r, &s)
	hash := sha256.Sum256(message)
	return sig.Verify(hash[:], k.key)
}

// NewSecp256k1EcdsaPublicKey parses a 33-byte compressed secp256k1 point.
func NewSecp256k1EcdsaPublicKey(raw []byte) (PublicKey, error) {
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: secp256k1 ecdsa: %v", ErrKeySize, err)
	}
	return &secp256k1EcdsaPublicKey{key: key}, nil
}

// secp256k1EcdsaSigner implements Signer for ECDSA over secp256k1.
type secp256k1EcdsaSigner struct {
	priv *secp256k1.PrivateKey
	pub  *secp256k1EcdsaPublicKey
}

func (s *secp256k1EcdsaSigner) Algorithm() Algorithm { return Secp256k1Ecdsa }

func (s *secp256k1EcdsaSigner) PublicKey() PublicKey { return s.pub }

// Sign hashes message with SHA-256 and signs the digest with RFC 6979
// deterministic nonces (dcrd's ecdsa.Sign derives the nonce internally;
// no separate nonce-derivation code is needed or wanted here — see
// DESIGN.md for why a second, hand-written RFC 6979 implementation was
// dropped rather than kept alongside this one).
func (s *secp256k1EcdsaSigner) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)
	sig := dcrecdsa.Sign(s.priv, hash[:])

	r, sv := sig.R(), sig.S()
	svBytes := sv.Bytes()
	sBig := new(big.Int).SetBytes(svBytes[:])
	if sBig.Cmp(secp256k1HalfN) > 0 {
		sBig.Sub(secp256k1N, sBig)
		sv.SetByteSlice(sBig.Bytes())
	}

	rBytes := r.Bytes()
	sBytes := sv.Bytes()
	out := make([]byte, 64)
	copy(out[:32], rBytes[:])
	copy(out[32:], sBytes[:])
	return out, nil
}

func (s *secp256k1EcdsaSigner) Zeroize() {
	s.priv.Zero()
}

// GenerateSecp256k1EcdsaSigner generates a fresh secp256k1 keypair.
func GenerateSecp256k1EcdsaSigner() (Signer, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("secp256k1 ecdsa: generate: %w", err)
	}
	return &secp256k1EcdsaSigner{priv: priv, pub: &secp256k1EcdsaPublicKey{key: priv.PubKey()}}, nil
}

// Secp256k1EcdsaSignerFromSeed derives a secp256k1 keypair from a
// 32-byte seed used directly as the scalar, for provisioning recovery.
func Secp256k1EcdsaSignerFromSeed(seed []byte) (Signer, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("%w: secp256k1 seed must be 32 bytes, got %d", ErrKeySize, len(seed))
	}
	priv := secp256k1.PrivKeyFromBytes(seed)
	return &secp256k1EcdsaSigner{priv: priv, pub: &secp256k1EcdsaPublicKey{key: priv.PubKey()}}, nil
}
