package sandbox

import "context"

// Interpret runs the interpreter module's "interpret" export over a
// review document's source bytes, returning the UTF-8 JSON bytes it
// produced. module is recompiled and instantiated fresh for this call
// alone, with fresh linear memory; nothing from a previous cycle is
// reachable from this one.
func (r Runtime) Interpret(ctx context.Context, module []byte, payload []byte) ([]byte, error) {
	return r.run(ctx, module, "interpret", [][]byte{payload})
}

// Assemble runs the interpreter module's "assemble" export over the
// original payload and the produced signature, returning the final
// wire bytes for an OutputSpec.WasmAssemble output. It shares every
// isolation property with Interpret: fresh instance, same CPU budget,
// same memory cap.
func (r Runtime) Assemble(ctx context.Context, module []byte, payload, signature []byte) ([]byte, error) {
	return r.run(ctx, module, "assemble", [][]byte{payload, signature})
}
