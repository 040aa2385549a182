package sandbox

import (
	"context"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/paolino/air-gap-signer/deviceerr"
)

// callState is the per-call lifecycle: NotInstantiated → Instantiated
// → Running → (Completed | Faulted). Completed and Faulted are
// terminal and both destroy the instance; represented here as the
// ordinary control flow of run rather than an explicit enum, since
// nothing outside this function observes the intermediate states.
func (r Runtime) run(ctx context.Context, module []byte, entryPoint string, args [][]byte) ([]byte, error) {
	compiled, err := r.compile(ctx, module)
	if err != nil {
		return nil, err
	}
	defer compiled.Close(ctx)

	callCtx, cancel := context.WithTimeout(ctx, r.wallClockBudget)
	defer cancel()
	meter := newCPUMeter(r.cpuBudgetUnits, cancel)
	callCtx = experimental.WithFunctionListenerFactory(callCtx, meter)

	modCfg := wazero.NewModuleConfig().WithStartFunctions() // never run WASI-style _start; this ABI has no entry convention beyond its named exports
	instance, err := r.rt.InstantiateModule(callCtx, compiled, modCfg)
	if err != nil {
		return nil, classifyInstantiateErr(err)
	}
	defer instance.Close(ctx)

	mem := instance.Memory()
	if mem == nil {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "interpreter module exports no linear memory")
	}

	alloc := instance.ExportedFunction("alloc")
	if alloc == nil {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "interpreter module does not export alloc")
	}
	entry := instance.ExportedFunction(entryPoint)
	if entry == nil {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "interpreter module does not export "+entryPoint)
	}

	var ptrs, lens []uint64
	for _, arg := range args {
		ptr, err := allocAndWrite(callCtx, alloc, mem, arg)
		if err != nil {
			return nil, classifyRunErr(meter, callCtx, err)
		}
		ptrs = append(ptrs, ptr)
		lens = append(lens, uint64(len(arg)))
	}

	callArgs := make([]uint64, 0, len(ptrs)*2)
	for i := range ptrs {
		callArgs = append(callArgs, ptrs[i], lens[i])
	}

	results, err := entry.Call(callCtx, callArgs...)
	if err != nil {
		return nil, classifyRunErr(meter, callCtx, err)
	}
	if len(results) != 1 {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "entry point returned an unexpected number of results")
	}

	out, err := readResult(mem, uint32(results[0]))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func allocAndWrite(ctx context.Context, alloc api.Function, mem api.Memory, data []byte) (uint64, error) {
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if len(results) != 1 || results[0] == 0 {
		return 0, deviceerr.New(deviceerr.SandboxAbi, "alloc failed")
	}
	ptr := uint32(results[0])
	if err := writeGuest(mem, ptr, data); err != nil {
		return 0, err
	}
	return uint64(ptr), nil
}

func classifyInstantiateErr(err error) error {
	return deviceerr.Wrap(deviceerr.SandboxAbi, "instantiate interpreter module", err)
}

// classifyRunErr distinguishes a CPU-budget abort — either the meter
// cancelling the call's context on the unit counter, or the call's own
// wall-clock timeout expiring (the backstop for a guest that burns its
// whole budget inside one function's loop body and so never trips the
// unit counter) — from an ordinary guest trap (stack overflow, OOB
// memory access, unreachable) reported by wazero itself. callCtx.Err()
// is checked rather than ctx (the caller's context): if the caller
// itself cancelled ctx, callCtx surfaces context.Canceled, not
// DeadlineExceeded, so caller cancellation is never misreported as
// resource exhaustion.
func classifyRunErr(meter *cpuMeter, callCtx context.Context, err error) error {
	if meter.exceeded() || callCtx.Err() == context.DeadlineExceeded {
		return deviceerr.Exhausted(deviceerr.ResourceCPU, "operation unit budget exceeded")
	}
	if isStackOverflow(err) {
		return deviceerr.Exhausted(deviceerr.ResourceStack, "call stack depth exceeded")
	}
	return deviceerr.Wrap(deviceerr.SandboxAbi, "interpreter call failed", err)
}

// isStackOverflow matches wazero's stack-overflow trap by message,
// since the interpreter engine reports it as a generic runtime error
// rather than a distinguishable typed value.
func isStackOverflow(err error) bool {
	return err != nil && strings.Contains(err.Error(), "stack overflow")
}
