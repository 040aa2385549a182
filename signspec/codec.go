package signspec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/paolino/air-gap-signer/crypto"
	"github.com/paolino/air-gap-signer/deviceerr"
)

// decMode is the canonical, strict CBOR decode mode used for every
// decode in this package: duplicate map keys are rejected, indefinite
// length items are rejected (they would make the encoding ambiguous),
// and an unrecognized struct field is a hard decode error rather than
// being silently dropped, so the canonical form is the only form this
// codec ever accepts.
var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	m, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("signspec: invalid decode mode: %v", err))
	}
	return m
}

// encMode is the canonical CBOR encode mode: map keys are sorted per
// RFC 8949 §4.2.1, giving every Spec exactly one valid encoding and
// making round-trip equality a byte comparison.
var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("signspec: invalid encode mode: %v", err))
	}
	return m
}

// wireSpec is the top-level CBOR map shape: a map with textual keys,
// the three variant fields carried as raw sub-messages so they can be
// dispatched on their own single-key-map tag.
type wireSpec struct {
	Label     string          `cbor:"label"`
	Signable  cbor.RawMessage `cbor:"signable"`
	Algorithm cbor.RawMessage `cbor:"algorithm"`
	KeyID     string          `cbor:"key_id"`
	Output    cbor.RawMessage `cbor:"output"`
}

// Decode deserializes a Signing Spec from its canonical binary
// encoding. On success the returned Spec is fully validated; on any
// malformed input it returns a *deviceerr.Error with Kind SpecDecode.
func Decode(data []byte) (Spec, error) {
	var w wireSpec
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Spec{}, deviceerr.Wrap(deviceerr.SpecDecode, "malformed spec envelope", err)
	}

	if len(w.Signable) == 0 {
		return Spec{}, deviceerr.New(deviceerr.SpecDecode, "missing required field: signable")
	}
	if len(w.Algorithm) == 0 {
		return Spec{}, deviceerr.New(deviceerr.SpecDecode, "missing required field: algorithm")
	}
	if len(w.Output) == 0 {
		return Spec{}, deviceerr.New(deviceerr.SpecDecode, "missing required field: output")
	}

	signable, err := decodeSignable(w.Signable, true)
	if err != nil {
		return Spec{}, err
	}

	algorithm, err := decodeAlgorithm(w.Algorithm)
	if err != nil {
		return Spec{}, err
	}

	output, err := decodeOutput(w.Output)
	if err != nil {
		return Spec{}, err
	}

	spec := Spec{
		Label:     w.Label,
		Signable:  signable,
		Algorithm: algorithm,
		KeyID:     w.KeyID,
		Output:    output,
	}
	if err := spec.ValidateBasic(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Encode serializes a Spec to its canonical binary encoding. Encode is
// the exact inverse of Decode: Decode(Encode(s)) == s for every
// well-formed s.
func Encode(spec Spec) ([]byte, error) {
	if err := spec.ValidateBasic(); err != nil {
		return nil, err
	}

	signableRaw, err := encodeSignable(spec.Signable)
	if err != nil {
		return nil, err
	}
	algorithmRaw, err := encodeAlgorithmTag(spec.Algorithm)
	if err != nil {
		return nil, err
	}
	outputRaw, err := encodeOutput(spec.Output)
	if err != nil {
		return nil, err
	}

	w := wireSpec{
		Label:     spec.Label,
		Signable:  signableRaw,
		Algorithm: algorithmRaw,
		KeyID:     spec.KeyID,
		Output:    outputRaw,
	}
	out, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("signspec: encode: %w", err)
	}
	return out, nil
}

// ValidateBasic performs stateless validation of a decoded Spec: it
// cannot check the Range selection against a payload (package signable
// does that), only the bounds the codec itself can enforce.
func (s Spec) ValidateBasic() error {
	if n := countCodePoints(s.Label); n > MaxLabelCodePoints {
		return deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("label has %d code points, max %d", n, MaxLabelCodePoints))
	}
	if !norm.NFC.IsNormalString(s.Label) {
		return deviceerr.New(deviceerr.SpecDecode, "label is not Unicode NFC-normalized")
	}
	if !s.Algorithm.IsValid() {
		return deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("unknown algorithm %q", s.Algorithm))
	}
	if err := validateSignableRanges(s.Signable); err != nil {
		return err
	}
	return nil
}

func countCodePoints(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// validateSignableRanges rejects overflowing Range offsets/lengths
// independent of any payload (a payload-dependent bound is package
// signable's job).
func validateSignableRanges(s Signable) error {
	switch v := s.(type) {
	case Whole:
		return nil
	case Range:
		if v.Offset > ^uint64(0)-v.Length {
			return deviceerr.New(deviceerr.SpecDecode, "range offset+length overflows")
		}
		return nil
	case HashThenSign:
		if !v.Hash.IsValid() {
			return deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("unknown hash algorithm %q", v.Hash))
		}
		return validateSignableRanges(v.Source)
	default:
		return deviceerr.New(deviceerr.SpecDecode, "unknown signable variant")
	}
}

// --- variant encode/decode helpers -----------------------------------

// decodeSingleKeyMap decodes a CBOR single-key map (the wire
// representation of every tagged variant) and returns its tag and raw
// payload. More or fewer than one key is a decode error.
func decodeSingleKeyMap(raw cbor.RawMessage) (string, cbor.RawMessage, error) {
	var m map[string]cbor.RawMessage
	if err := decMode.Unmarshal(raw, &m); err != nil {
		return "", nil, deviceerr.Wrap(deviceerr.SpecDecode, "malformed variant", err)
	}
	if len(m) != 1 {
		return "", nil, deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("variant map must have exactly one key, got %d", len(m)))
	}
	for tag, payload := range m {
		return tag, payload, nil
	}
	panic("unreachable")
}

type rangeWire struct {
	Offset uint64 `cbor:"offset"`
	Length uint64 `cbor:"length"`
}

type hashThenSignWire struct {
	Hash   string          `cbor:"hash"`
	Source cbor.RawMessage `cbor:"source"`
}

// decodeSignable dispatches on the variant tag. allowNested controls
// whether HashThenSign itself is a legal tag at this level: a
// HashThenSign's source is restricted to {Whole, Range}, so the
// recursive call for Source passes allowNested=false.
func decodeSignable(raw cbor.RawMessage, allowNested bool) (Signable, error) {
	tag, payload, err := decodeSingleKeyMap(raw)
	if err != nil {
		return nil, err
	}

	switch tag {
	case "Whole":
		return Whole{}, nil
	case "Range":
		var w rangeWire
		if err := decMode.Unmarshal(payload, &w); err != nil {
			return nil, deviceerr.Wrap(deviceerr.SpecDecode, "malformed Range", err)
		}
		return Range{Offset: w.Offset, Length: w.Length}, nil
	case "HashThenSign":
		if !allowNested {
			return nil, deviceerr.New(deviceerr.SpecDecode, "HashThenSign cannot nest inside HashThenSign.source")
		}
		var w hashThenSignWire
		if err := decMode.Unmarshal(payload, &w); err != nil {
			return nil, deviceerr.Wrap(deviceerr.SpecDecode, "malformed HashThenSign", err)
		}
		hash := HashAlgorithm(w.Hash)
		if !hash.IsValid() {
			return nil, deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("unknown hash algorithm %q", w.Hash))
		}
		source, err := decodeSignable(w.Source, false)
		if err != nil {
			return nil, err
		}
		return HashThenSign{Hash: hash, Source: source}, nil
	default:
		return nil, deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("unknown signable variant %q", tag))
	}
}

func encodeSignable(s Signable) (cbor.RawMessage, error) {
	switch v := s.(type) {
	case Whole:
		return encodeVariant(v.signableVariant(), nil)
	case Range:
		return encodeVariant(v.signableVariant(), rangeWire{Offset: v.Offset, Length: v.Length})
	case HashThenSign:
		sourceRaw, err := encodeSignable(v.Source)
		if err != nil {
			return nil, err
		}
		return encodeVariant(v.signableVariant(), hashThenSignWire{Hash: string(v.Hash), Source: sourceRaw})
	default:
		return nil, fmt.Errorf("signspec: unknown Signable implementation %T", s)
	}
}

var algorithmTags = map[string]crypto.Algorithm{
	"Ed25519":          crypto.Ed25519,
	"Secp256k1Ecdsa":   crypto.Secp256k1Ecdsa,
	"Secp256k1Schnorr": crypto.Secp256k1Schnorr,
}

var algorithmToTag = func() map[crypto.Algorithm]string {
	out := make(map[crypto.Algorithm]string, len(algorithmTags))
	for tag, alg := range algorithmTags {
		out[alg] = tag
	}
	return out
}()

func decodeAlgorithm(raw cbor.RawMessage) (crypto.Algorithm, error) {
	tag, _, err := decodeSingleKeyMap(raw)
	if err != nil {
		return "", err
	}
	alg, ok := algorithmTags[tag]
	if !ok {
		return "", deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("unknown algorithm variant %q", tag))
	}
	return alg, nil
}

func encodeAlgorithmTag(alg crypto.Algorithm) (cbor.RawMessage, error) {
	tag, ok := algorithmToTag[alg]
	if !ok {
		return nil, fmt.Errorf("signspec: unknown algorithm %q", alg)
	}
	return encodeVariant(tag, nil)
}

func decodeOutput(raw cbor.RawMessage) (Output, error) {
	tag, _, err := decodeSingleKeyMap(raw)
	if err != nil {
		return nil, err
	}
	switch tag {
	case "SignatureOnly":
		return SignatureOnly{}, nil
	case "AppendToPayload":
		return AppendToPayload{}, nil
	case "WasmAssemble":
		return WasmAssemble{}, nil
	default:
		return nil, deviceerr.New(deviceerr.SpecDecode, fmt.Sprintf("unknown output variant %q", tag))
	}
}

func encodeOutput(o Output) (cbor.RawMessage, error) {
	switch v := o.(type) {
	case SignatureOnly, AppendToPayload, WasmAssemble:
		return encodeVariant(v.outputVariant(), nil)
	default:
		return nil, fmt.Errorf("signspec: unknown Output implementation %T", o)
	}
}

func encodeVariant(tag string, payload interface{}) (cbor.RawMessage, error) {
	m := map[string]interface{}{tag: payload}
	out, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("signspec: encode variant %q: %w", tag, err)
	}
	return out, nil
}
