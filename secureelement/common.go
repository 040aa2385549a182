// Package secureelement ships two software-backed implementations of
// hardware.SecureElement for development and CI, where no physical
// secure element chip is available. The hardware-PIN model stays
// authoritative either way: a host-only collaborator satisfies the
// same contract rather than making the orchestrator special-case it.
// Neither is the production chip driver.
package secureelement

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/paolino/air-gap-signer/crypto"
	"github.com/paolino/air-gap-signer/deviceerr"
)

// randRead fills b with CSPRNG bytes; shared by both collaborators for
// PIN salts, slot seeds, and (for File) the AES-GCM nonce.
func randRead(b []byte) error {
	_, err := io.ReadFull(rand.Reader, b)
	return err
}

// defaultAttemptBudget is the number of consecutive failed PIN checks
// before the secure element locks out; both collaborators in this package reset to
// it on successful auth.
const defaultAttemptBudget = 10

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	pinSaltLen    = 16
)

// pinHash derives an Argon2id hash of pin under salt. Used by both
// collaborators to verify a presented PIN without storing it in the
// clear; the File collaborator also uses argon2.IDKey (with a distinct
// salt) to derive its at-rest AES-256-GCM key.
func pinHash(pin, salt []byte) []byte {
	return argon2.IDKey(pin, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// validateSlot rejects slot names that would be unsafe or ambiguous as
// map/file keys.
func validateSlot(slot string) error {
	if slot == "" {
		return deviceerr.New(deviceerr.SeOther, "slot name cannot be empty")
	}
	if len(slot) > 255 {
		return deviceerr.New(deviceerr.SeOther, "slot name too long")
	}
	return nil
}

// slotRecord is the persisted state of one key slot: the algorithm it
// was bound to at generation/import time, its seed, and its cached
// public key. The bound algorithm is exposed via Algorithm so a caller
// can cross-check it against what it expects to sign with before
// calling Sign; Sign itself always signs with whatever algorithm the
// slot holds and does not reject a mismatch on its own.
type slotRecord struct {
	Algorithm string `json:"algorithm"`
	Seed      []byte `json:"seed"`
	PubKey    []byte `json:"pub_key"`
}

func newSignerFromSeed(algorithm string, seed []byte) (crypto.Signer, error) {
	alg := crypto.Algorithm(algorithm)
	switch alg {
	case crypto.Ed25519:
		return crypto.Ed25519SignerFromSeed(seed)
	case crypto.Secp256k1Ecdsa:
		return crypto.Secp256k1EcdsaSignerFromSeed(seed)
	case crypto.Secp256k1Schnorr:
		return crypto.Secp256k1SchnorrSignerFromSeed(seed)
	default:
		return nil, fmt.Errorf("secureelement: unknown algorithm %q", algorithm)
	}
}

// seedSize is the seed length accepted by every FromSeed constructor in
// package crypto; all three of the module's algorithms happen to use a
// 32-byte scalar/seed.
const seedSize = 32
