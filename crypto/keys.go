package crypto

// PublicKey is the verification half of a keypair. Implementations are
// immutable and safe for concurrent use.
type PublicKey interface {
	// Algorithm returns the key's signing algorithm.
	Algorithm() Algorithm

	// Bytes returns the canonical encoding of the public key:
	// 32 bytes for Ed25519 and Secp256k1Schnorr (x-only), 33 bytes
	// (compressed point) for Secp256k1Ecdsa.
	Bytes() []byte

	// Verify reports whether signature is a valid signature of message
	// under this public key.
	Verify(message, signature []byte) bool
}

// Signer signs on behalf of a single keypair held in secure storage.
// Implementations must never expose private key material through any
// method other than Sign's opaque internal use.
type Signer interface {
	// Algorithm returns the signing algorithm.
	Algorithm() Algorithm

	// PublicKey returns the public half of the keypair.
	PublicKey() PublicKey

	// Sign signs message and returns the algorithm's canonical signature
	// encoding. message is typically the output of the signable
	// extractor: either the raw selected bytes or a digest, depending
	// on the signing spec.
	Sign(message []byte) ([]byte, error)

	// Zeroize overwrites the in-memory private key material with zeros.
	// Call once the signer is no longer needed.
	Zeroize()
}

// zero overwrites b in place. Used by every Zeroize implementation in
// this package.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
