package orchestrator

import "testing"

// This file hand-assembles a tiny WebAssembly module (no toolchain
// involved) that satisfies the interpreter ABI with canned responses:
// interpret always returns a fixed review JSON
// document regardless of its input, and assemble always returns a
// fixed byte string. That is enough to drive the orchestrator through
// a full signing cycle without needing a real interpreter.

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

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	out = append(out, results...)
	return out
}

const valI32 = 0x7F

// lengthPrefixed builds the interpreter ABI's result-buffer
// convention: a 4-byte little-endian length followed by the bytes
// themselves.
func lengthPrefixed(data []byte) []byte {
	n := uint32(len(data))
	out := []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	return append(out, data...)
}

// buildCannedModule assembles a module exporting memory, alloc,
// interpret, and assemble. interpret ignores its arguments and returns
// the offset of a pre-populated length-prefixed reviewJSON; assemble
// likewise ignores its arguments (payload, signature) and returns the
// offset of a pre-populated length-prefixed assembleOut.
func buildCannedModule(t *testing.T, reviewJSON, assembleOut []byte) []byte {
	t.Helper()

	typeAlloc := funcType([]byte{valI32}, []byte{valI32})
	typeInterpret := funcType([]byte{valI32, valI32}, []byte{valI32})
	typeAssemble := funcType([]byte{valI32, valI32, valI32, valI32}, []byte{valI32})
	typeSec := wasmSection(1, wasmVec([][]byte{typeAlloc, typeInterpret, typeAssemble}))

	funcSec := wasmSection(3, wasmVec([][]byte{uleb(0), uleb(1), uleb(2)}))

	memSec := wasmSection(5, wasmVec([][]byte{append([]byte{0x00}, uleb(4)...)}))

	const heapStart = 16384
	globalInit := append([]byte{0x41}, sleb(heapStart)...)
	globalInit = append(globalInit, 0x0B)
	global0 := append([]byte{valI32, 0x01}, globalInit...)
	globalSec := wasmSection(6, wasmVec([][]byte{global0}))

	const reviewBase = 1024
	const assembleBase = 4096

	exportMem := append(wasmName("memory"), 0x02)
	exportMem = append(exportMem, uleb(0)...)
	exportAlloc := append(wasmName("alloc"), 0x00)
	exportAlloc = append(exportAlloc, uleb(0)...)
	exportInterpret := append(wasmName("interpret"), 0x00)
	exportInterpret = append(exportInterpret, uleb(1)...)
	exportAssemble := append(wasmName("assemble"), 0x00)
	exportAssemble = append(exportAssemble, uleb(2)...)
	exportSec := wasmSection(7, wasmVec([][]byte{exportMem, exportAlloc, exportInterpret, exportAssemble}))

	allocBody := wasmFuncBody(nil, []byte{
		0x23, 0x00, // global.get 0
		0x23, 0x00, // global.get 0
		0x20, 0x00, // local.get 0
		0x6A,       // i32.add
		0x24, 0x00, // global.set 0
		0x0B, // end
	})
	interpretBody := wasmFuncBody(nil, append([]byte{0x41}, append(sleb(reviewBase), 0x0B)...))
	assembleBody := wasmFuncBody(nil, append([]byte{0x41}, append(sleb(assembleBase), 0x0B)...))
	codeSec := wasmSection(10, wasmVec([][]byte{allocBody, interpretBody, assembleBody}))

	reviewData := lengthPrefixed(reviewJSON)
	assembleData := lengthPrefixed(assembleOut)
	reviewSeg := append([]byte{0x00, 0x41}, append(sleb(reviewBase), 0x0B)...)
	reviewSeg = append(reviewSeg, uleb(uint64(len(reviewData)))...)
	reviewSeg = append(reviewSeg, reviewData...)
	assembleSeg := append([]byte{0x00, 0x41}, append(sleb(assembleBase), 0x0B)...)
	assembleSeg = append(assembleSeg, uleb(uint64(len(assembleData)))...)
	assembleSeg = append(assembleSeg, assembleData...)
	dataSec := wasmSection(11, wasmVec([][]byte{reviewSeg, assembleSeg}))

	module := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	module = append(module, typeSec...)
	module = append(module, funcSec...)
	module = append(module, memSec...)
	module = append(module, globalSec...)
	module = append(module, exportSec...)
	module = append(module, codeSec...)
	module = append(module, dataSec...)
	return module
}

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
