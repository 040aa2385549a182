package orchestrator

import (
	"context"
	"fmt"

	"github.com/paolino/air-gap-signer/sandbox"
	"github.com/paolino/air-gap-signer/signspec"
)

// computeOutput dispatches on the signing spec's OutputSpec during the
// Emitting state to produce the bytes written to signed.bin.
func computeOutput(ctx context.Context, sbox sandbox.Runtime, out signspec.Output, payload, signature, module []byte) ([]byte, error) {
	switch out.(type) {
	case signspec.SignatureOnly:
		return cloneBytes(signature), nil
	case signspec.AppendToPayload:
		combined := make([]byte, 0, len(payload)+len(signature))
		combined = append(combined, payload...)
		combined = append(combined, signature...)
		return combined, nil
	case signspec.WasmAssemble:
		return sbox.Assemble(ctx, module, payload, signature)
	default:
		return nil, fmt.Errorf("orchestrator: unhandled output variant %T", out)
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
