package sandbox

import "testing"

// This file hand-assembles two tiny WebAssembly binaries byte-by-byte
// (no wat2wasm, no Go toolchain involved) so the sandbox package's
// tests have real .wasm modules to compile and instantiate without
// depending on an external interpreter fixture.

func uleb(n uint64) []byte {
	var buf []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if n == 0 {
			return buf
		}
	}
}

func sleb(v int64) []byte {
	var buf []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

func wasmSection(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func wasmVec(items [][]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte {
	out := uleb(uint64(len(s)))
	return append(out, []byte(s)...)
}

const (
	valI32 = 0x7F

	opBlock      = 0x02
	opLoop       = 0x03
	opEnd        = 0x0B
	opBr         = 0x0C
	opBrIf       = 0x0D
	opLocalGet   = 0x20
	opLocalSet   = 0x21
	opGlobalGet  = 0x23
	opGlobalSet  = 0x24
	opI32Load8U  = 0x2D
	opI32Store   = 0x36
	opI32Store8  = 0x3A
	opI32Const   = 0x41
	opI32Add     = 0x6A
	opI32GeS     = 0x4E
	blockTypeEmp = 0x40
)

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	out = append(out, results...)
	return out
}

// buildEchoWasm assembles a module with:
//
//	memory 4 pages, exported as "memory"
//	global 0 (mutable i32, bump-pointer heap, init 4096), not exported
//	alloc(len i32) -> ptr i32             bump-allocates and returns the old pointer
//	interpret(ptr i32, len i32) -> i32    writes a 4-byte LE length prefix
//	                                      and the len bytes at [ptr,ptr+len)
//	                                      to a fixed scratch area starting
//	                                      at address 8, returns 8
//	assemble_echo(ptr0,len0,ptr1,len1 i32) -> i32
//	                                      same as interpret but only
//	                                      echoes the first (ptr0,len0)
//	                                      pair, ignoring the second
func buildEchoWasm(t *testing.T) []byte {
	t.Helper()

	typeAlloc := funcType([]byte{valI32}, []byte{valI32})
	typeInterpret := funcType([]byte{valI32, valI32}, []byte{valI32})
	typeAssemble := funcType([]byte{valI32, valI32, valI32, valI32}, []byte{valI32})

	typeSec := wasmSection(1, wasmVec([][]byte{typeAlloc, typeInterpret, typeAssemble}))
	funcSec := wasmSection(3, wasmVec([][]byte{uleb(0), uleb(1), uleb(2)}))
	memSec := wasmSection(5, wasmVec([][]byte{append([]byte{0x00}, uleb(4)...)}))

	globalInit := append([]byte{opI32Const}, sleb(4096)...)
	globalInit = append(globalInit, opEnd)
	global0 := append([]byte{valI32, 0x01}, globalInit...)
	globalSec := wasmSection(6, wasmVec([][]byte{global0}))

	exportMem := append(wasmName("memory"), 0x02)
	exportMem = append(exportMem, uleb(0)...)
	exportAlloc := append(wasmName("alloc"), 0x00)
	exportAlloc = append(exportAlloc, uleb(0)...)
	exportInterpret := append(wasmName("interpret"), 0x00)
	exportInterpret = append(exportInterpret, uleb(1)...)
	exportAssemble := append(wasmName("assemble_echo"), 0x00)
	exportAssemble = append(exportAssemble, uleb(2)...)
	exportSec := wasmSection(7, wasmVec([][]byte{exportMem, exportAlloc, exportInterpret, exportAssemble}))

	allocBody := []byte{
		opGlobalGet, 0x00,
		opGlobalGet, 0x00,
		opLocalGet, 0x00,
		opI32Add,
		opGlobalSet, 0x00,
		opEnd,
	}
	allocCode := wasmFuncBody(nil, allocBody)

	interpretBody := echoCopyBody(0 /* ptr local */, 1 /* len local */, 2 /* counter local */)
	interpretCode := wasmFuncBody([][2]byte{{0x01, valI32}}, interpretBody)

	assembleBody := echoCopyBody(0, 1, 4)
	assembleCode := wasmFuncBody([][2]byte{{0x01, valI32}}, assembleBody)

	codeSec := wasmSection(10, wasmVec([][]byte{allocCode, interpretCode, assembleCode}))

	module := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	module = append(module, typeSec...)
	module = append(module, funcSec...)
	module = append(module, memSec...)
	module = append(module, globalSec...)
	module = append(module, exportSec...)
	module = append(module, codeSec...)
	return module
}

// echoCopyBody writes the "copy len bytes from ptr to scratch address 12,
// length prefix at address 8, return 8" routine shared by interpret and
// assemble_echo, parameterized over which locals hold ptr/len/counter.
func echoCopyBody(ptrLocal, lenLocal, counterLocal byte) []byte {
	var b []byte
	emit := func(bs ...byte) { b = append(b, bs...) }

	emit(opI32Const)
	emit(sleb(0)...)
	emit(opLocalSet, counterLocal)

	emit(opI32Const)
	emit(sleb(8)...)
	emit(opLocalGet, lenLocal)
	emit(opI32Store, 0x02, 0x00)

	emit(opBlock, blockTypeEmp)
	emit(opLoop, blockTypeEmp)

	emit(opLocalGet, counterLocal)
	emit(opLocalGet, lenLocal)
	emit(opI32GeS)
	emit(opBrIf, 0x01)

	emit(opI32Const)
	emit(sleb(12)...)
	emit(opLocalGet, counterLocal)
	emit(opI32Add)

	emit(opLocalGet, ptrLocal)
	emit(opLocalGet, counterLocal)
	emit(opI32Add)
	emit(opI32Load8U, 0x00, 0x00)

	emit(opI32Store8, 0x00, 0x00)

	emit(opLocalGet, counterLocal)
	emit(opI32Const)
	emit(sleb(1)...)
	emit(opI32Add)
	emit(opLocalSet, counterLocal)

	emit(opBr, 0x00)
	emit(opEnd)
	emit(opEnd)

	emit(opI32Const)
	emit(sleb(8)...)
	emit(opEnd)
	return b
}

// wasmFuncBody wraps instructions with their locals declaration and
// length-prefixes the whole thing, per the WASM code section's entry
// format: size, then (locals vec, instructions).
func wasmFuncBody(localGroups [][2]byte, instrs []byte) []byte {
	var localsVec []byte
	localsVec = append(localsVec, uleb(uint64(len(localGroups)))...)
	for _, g := range localGroups {
		localsVec = append(localsVec, uleb(uint64(g[0]))...)
		localsVec = append(localsVec, g[1])
	}
	content := append(localsVec, instrs...)
	out := uleb(uint64(len(content)))
	return append(out, content...)
}

// buildBusyLoopWasm assembles a module whose "interpret" export is a
// single function with a backward branch and no sub-calls at all:
//
//	interpret(ptr i32, len i32) -> i32    loop { br 0 }, never returns
//
// wazero's FunctionListener fires once for this call (entering
// interpret itself) and never again, so a unit-based cpuMeter can
// never observe this module making progress. It exists to exercise
// Runtime's wall-clock backstop end to end, independent of the
// function-call-counting meter.
func buildBusyLoopWasm(t *testing.T) []byte {
	t.Helper()

	typeAlloc := funcType([]byte{valI32}, []byte{valI32})
	typeInterpret := funcType([]byte{valI32, valI32}, []byte{valI32})

	typeSec := wasmSection(1, wasmVec([][]byte{typeAlloc, typeInterpret}))
	funcSec := wasmSection(3, wasmVec([][]byte{uleb(0), uleb(1)}))
	memSec := wasmSection(5, wasmVec([][]byte{append([]byte{0x00}, uleb(1)...)}))

	globalInit := append([]byte{opI32Const}, sleb(4096)...)
	globalInit = append(globalInit, opEnd)
	global0 := append([]byte{valI32, 0x01}, globalInit...)
	globalSec := wasmSection(6, wasmVec([][]byte{global0}))

	exportMem := append(wasmName("memory"), 0x02)
	exportMem = append(exportMem, uleb(0)...)
	exportAlloc := append(wasmName("alloc"), 0x00)
	exportAlloc = append(exportAlloc, uleb(0)...)
	exportInterpret := append(wasmName("interpret"), 0x00)
	exportInterpret = append(exportInterpret, uleb(1)...)
	exportSec := wasmSection(7, wasmVec([][]byte{exportMem, exportAlloc, exportInterpret}))

	allocBody := []byte{
		opGlobalGet, 0x00,
		opGlobalGet, 0x00,
		opLocalGet, 0x00,
		opI32Add,
		opGlobalSet, 0x00,
		opEnd,
	}
	allocCode := wasmFuncBody(nil, allocBody)

	interpretBody := []byte{
		opLoop, blockTypeEmp,
		opBr, 0x00,
		opEnd, // closes the loop
		opEnd, // closes the function; unreachable, satisfies any result type
	}
	interpretCode := wasmFuncBody(nil, interpretBody)

	codeSec := wasmSection(10, wasmVec([][]byte{allocCode, interpretCode}))

	module := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	module = append(module, typeSec...)
	module = append(module, funcSec...)
	module = append(module, memSec...)
	module = append(module, globalSec...)
	module = append(module, exportSec...)
	module = append(module, codeSec...)
	return module
}

// buildImportingWasm assembles a module that declares a single host
// function import, so Runtime.compile can be exercised against the
// "declares a host import" rejection path without a real interpreter.
func buildImportingWasm(t *testing.T) []byte {
	t.Helper()

	typeSec := wasmSection(1, wasmVec([][]byte{funcType(nil, nil)}))

	importEntry := append(wasmName("env"), wasmName("host_fn")...)
	importEntry = append(importEntry, 0x00)
	importEntry = append(importEntry, uleb(0)...)
	importSec := wasmSection(2, wasmVec([][]byte{importEntry}))

	module := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	module = append(module, typeSec...)
	module = append(module, importSec...)
	return module
}
