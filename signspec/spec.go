// Package signspec decodes and validates the Signing Spec: the
// declarative description of what to sign, how, and with which key,
// carried alongside a payload on removable storage. Spec variants
// (Signable, HashAlgorithm, Output) are closed tagged unions — adding
// a case is a protocol-version change, never a silent default.
package signspec

import "github.com/paolino/air-gap-signer/crypto"

// MaxLabelCodePoints is the bound on SigningSpec.Label's length.
const MaxLabelCodePoints = 64

// FormatVersion is reserved for a future, additive protocol change;
// today exactly one wire format exists and decode never inspects it.
const FormatVersion = 1

// HashAlgorithm is the digest used by a HashThenSign signable.
type HashAlgorithm string

const (
	Blake2b256 HashAlgorithm = "Blake2b-256"
	Sha256     HashAlgorithm = "SHA-256"
	Sha3_256   HashAlgorithm = "SHA3-256"
)

// IsValid reports whether h is one of the three closed cases.
func (h HashAlgorithm) IsValid() bool {
	switch h {
	case Blake2b256, Sha256, Sha3_256:
		return true
	default:
		return false
	}
}

// DigestSize returns the fixed output size of h. All three supported
// digests are 32 bytes.
func (h HashAlgorithm) DigestSize() int { return 32 }

// Signable selects the bytes that will ultimately be handed to the
// signer. It is a closed tagged union: Whole, Range, or HashThenSign.
type Signable interface {
	signableVariant() string
}

// Whole selects the entire payload.
type Whole struct{}

func (Whole) signableVariant() string { return "Whole" }

// Range selects payload[Offset : Offset+Length]. Offset and Length are
// validated against the payload's actual length by package signable,
// not here: the codec only rejects values it can reject independent of
// any payload (see ValidateBasic).
type Range struct {
	Offset uint64
	Length uint64
}

func (Range) signableVariant() string { return "Range" }

// HashThenSign selects bytes per Source (Whole or Range) and replaces
// the selection with its digest under Hash.
type HashThenSign struct {
	Hash   HashAlgorithm
	Source Signable
}

func (HashThenSign) signableVariant() string { return "HashThenSign" }

// Output describes what Emitting writes back to storage once a
// signature has been produced.
type Output interface {
	outputVariant() string
}

// SignatureOnly writes exactly the signature bytes.
type SignatureOnly struct{}

func (SignatureOnly) outputVariant() string { return "SignatureOnly" }

// AppendToPayload writes payload || signature.
type AppendToPayload struct{}

func (AppendToPayload) outputVariant() string { return "AppendToPayload" }

// WasmAssemble invokes the interpreter's assemble(payload, signature)
// under a fresh sandbox instance and writes its result.
type WasmAssemble struct{}

func (WasmAssemble) outputVariant() string { return "WasmAssemble" }

// Spec is the fully-decoded, validated Signing Spec. It is immutable
// for the duration of one signing cycle.
type Spec struct {
	Label     string
	Signable  Signable
	Algorithm crypto.Algorithm
	KeyID     string
	Output    Output
}
