// Package signable resolves a signspec.Signable against a concrete
// payload, producing the exact bytes that get handed to a
// crypto.Signer. It never mutates its input and never extends a Range
// selection past the payload it was given.
package signable

import (
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/paolino/air-gap-signer/deviceerr"
	"github.com/paolino/air-gap-signer/signspec"
)

// Extract returns the bytes that signspec.Spec.Signable designates
// within payload: the payload itself, a bounds-checked sub-slice, or a
// digest of one of those. The returned slice is always a copy; payload
// is never retained or mutated.
func Extract(payload []byte, s signspec.Signable) ([]byte, error) {
	switch v := s.(type) {
	case signspec.Whole:
		return cloneBytes(payload), nil
	case signspec.Range:
		view, err := extractRange(payload, v)
		if err != nil {
			return nil, err
		}
		return cloneBytes(view), nil
	case signspec.HashThenSign:
		return extractHashThenSign(payload, v)
	default:
		return nil, deviceerr.New(deviceerr.SpecDecode, "unknown signable variant")
	}
}

func extractRange(payload []byte, r signspec.Range) ([]byte, error) {
	if r.Offset > uint64(len(payload)) {
		return nil, deviceerr.New(deviceerr.RangeOutOfBounds, "offset exceeds payload length")
	}
	end := r.Offset + r.Length
	if end < r.Offset || end > uint64(len(payload)) {
		return nil, deviceerr.New(deviceerr.RangeOutOfBounds, "offset+length exceeds payload length")
	}
	return payload[r.Offset:end], nil
}

// extractHashThenSign hashes the selected bytes in place: the source is
// the payload itself or a sub-slice view of it, never a copy.
func extractHashThenSign(payload []byte, h signspec.HashThenSign) ([]byte, error) {
	var source []byte
	switch v := h.Source.(type) {
	case signspec.Whole:
		source = payload
	case signspec.Range:
		view, err := extractRange(payload, v)
		if err != nil {
			return nil, err
		}
		source = view
	default:
		return nil, deviceerr.New(deviceerr.SpecDecode, "HashThenSign source must be Whole or Range")
	}
	return digest(h.Hash, source)
}

func digest(alg signspec.HashAlgorithm, data []byte) ([]byte, error) {
	switch alg {
	case signspec.Blake2b256:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	case signspec.Sha256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case signspec.Sha3_256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	default:
		return nil, deviceerr.New(deviceerr.SpecDecode, "unknown hash algorithm")
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
