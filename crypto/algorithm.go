// Package crypto provides the three signing algorithms the signing-spec
// engine can dispatch to, behind a single Signer interface. Private key
// material never leaves a Signer; callers only ever see PublicKey bytes
// and signature bytes.
package crypto

import "fmt"

// Algorithm identifies a supported signing algorithm. The set is closed:
// adding a case is a protocol-version change, exactly like the Signable
// and Output variants in package signspec.
type Algorithm string

const (
	// Ed25519 is the Ed25519 signature algorithm (RFC 8032).
	// Key size: 32 bytes, signature size: 64 bytes.
	Ed25519 Algorithm = "ed25519"

	// Secp256k1Ecdsa is ECDSA over secp256k1 with RFC 6979 deterministic
	// nonces. Key size: 33 bytes (compressed), signature size: 64 bytes
	// (r||s, low-S normalized).
	Secp256k1Ecdsa Algorithm = "secp256k1-ecdsa"

	// Secp256k1Schnorr is BIP-340 Schnorr over secp256k1. Key size: 32
	// bytes (x-only), signature size: 64 bytes.
	Secp256k1Schnorr Algorithm = "secp256k1-schnorr"
)

// IsValid reports whether a is one of the three closed cases.
func (a Algorithm) IsValid() bool {
	switch a {
	case Ed25519, Secp256k1Ecdsa, Secp256k1Schnorr:
		return true
	default:
		return false
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm validates a decoded algorithm tag against the closed set.
// Unknown tags are a decode error, never a silently-ignored default.
func ParseAlgorithm(tag string) (Algorithm, error) {
	a := Algorithm(tag)
	if !a.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, tag)
	}
	return a, nil
}
