package sandbox

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// cpuMeter counts abstract operation units (one per guest function
// call entered) and cancels the call's context once cpuBudgetUnits is
// exceeded. The runtime is configured WithCloseOnContextDone(true), so
// a cancelled context aborts the in-flight call at its next checkpoint
// rather than letting it run to completion.
//
// The counter is atomic even though wazero invokes listener callbacks
// on the same goroutine as the call itself: the listener API is shared
// infrastructure across wazero versions, and atomic access costs
// nothing here while guarding against a future version that executes
// listeners concurrently.
type cpuMeter struct {
	budget int64
	used   int64
	cancel context.CancelFunc
}

func newCPUMeter(budget int64, cancel context.CancelFunc) *cpuMeter {
	return &cpuMeter{budget: budget, cancel: cancel}
}

// NewListener implements experimental.FunctionListenerFactory.
func (m *cpuMeter) NewListener(api.FunctionDefinition) experimental.FunctionListener {
	return m
}

// Before implements experimental.FunctionListener.
func (m *cpuMeter) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) context.Context {
	if atomic.AddInt64(&m.used, 1) > m.budget {
		m.cancel()
	}
	return ctx
}

// After implements experimental.FunctionListener; the meter does not
// need to react to a call's return.
func (m *cpuMeter) After(context.Context, api.Module, api.FunctionDefinition, error, []uint64) {}

// exceeded reports whether the budget was crossed during the call just
// completed, to distinguish "the guest returned an error on its own"
// from "the host aborted it for CPU exhaustion".
func (m *cpuMeter) exceeded() bool {
	return atomic.LoadInt64(&m.used) > m.budget
}
