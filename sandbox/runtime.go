// Package sandbox instantiates an untrusted interpreter module per
// signing cycle and enforces strict isolation: zero host imports, a
// CPU budget measured in abstract operation units, a 16 MiB linear
// memory cap, a bounded call stack, and bounds-checked transfer of
// data in and out of guest memory. It is backed by wazero, a pure-Go
// WebAssembly runtime, running in interpreter mode so no native code
// is ever generated for untrusted bytecode.
package sandbox

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/paolino/air-gap-signer/deviceerr"
)

const (
	// memoryLimitBytes is the hard linear-memory cap for a guest instance.
	memoryLimitBytes = 16 * 1024 * 1024
	// wazeroPageSize is fixed by the WebAssembly spec, not configurable.
	wazeroPageSize   = 64 * 1024
	memoryLimitPages = memoryLimitBytes / wazeroPageSize

	// cpuBudgetUnits is the per-call CPU budget, counted as one unit
	// per guest function call entered. wazero's FunctionListener only
	// fires at call boundaries, so a module that sinks all of its cost
	// into a backward branch inside a single function (no sub-calls)
	// never crosses this counter; cpuWallClockBudget below is the
	// independent backstop for exactly that case.
	cpuBudgetUnits = 10_000_000

	// cpuWallClockBudget hard-caps the real time any one call is
	// allowed to run, regardless of what the unit counter saw. It is
	// generous relative to a real interpret/assemble call (which does
	// at most a few thousand operations) so it only ever fires against
	// a guest that is not making forward progress through calls.
	cpuWallClockBudget = 5 * time.Second
)

// Runtime holds the configured wazero runtime shared across signing
// cycles; compiled modules are not cached across cycles, since every
// call must re-instantiate fresh linear memory. Recompiling the module
// bytes on every cycle is acceptable since a cycle already does one
// pass of Ed25519/secp256k1 work of comparable cost.
type Runtime struct {
	rt              wazero.Runtime
	cpuBudgetUnits  int64
	wallClockBudget time.Duration
}

// New builds a Runtime configured for the isolation invariants above.
func New(ctx context.Context) Runtime {
	return newRuntime(ctx, cpuBudgetUnits, cpuWallClockBudget)
}

// newRuntime is the shared constructor behind New; it takes the CPU
// budget and wall-clock backstop as parameters so tests can exercise
// the wall-clock path against a real busy-loop module without waiting
// out the production budget.
func newRuntime(ctx context.Context, cpuUnits int64, wallClock time.Duration) Runtime {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithMemoryLimitPages(memoryLimitPages).
		WithCloseOnContextDone(true)
	return Runtime{
		rt:              wazero.NewRuntimeWithConfig(ctx, cfg),
		cpuBudgetUnits:  cpuUnits,
		wallClockBudget: wallClock,
	}
}

// Close releases the underlying wazero runtime. Call once at process
// shutdown; a Runtime is reused across many signing cycles.
func (r Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// compile compiles module bytes and rejects anything declaring a host
// import before any instantiation is attempted — instantiating such a
// module would fail anyway for lack of a satisfying host module, but
// checking explicitly here gives a precise SandboxAbi error instead of
// a generic link failure.
func (r Runtime) compile(ctx context.Context, module []byte) (wazero.CompiledModule, error) {
	compiled, err := r.rt.CompileModule(ctx, module)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SandboxAbi, "compile interpreter module", err)
	}
	if len(compiled.ImportedFunctions()) > 0 || len(compiled.ImportedMemories()) > 0 {
		compiled.Close(ctx)
		return nil, deviceerr.New(deviceerr.SandboxAbi, "interpreter module declares a host import")
	}
	return compiled, nil
}
