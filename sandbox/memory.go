package sandbox

import (
	"math/bits"

	"github.com/tetratelabs/wazero/api"

	"github.com/paolino/air-gap-signer/deviceerr"
)

// readGuest copies byteCount bytes at ptr out of guest memory. wazero's
// own api.Memory.Read already bounds-checks (ptr, len) against the
// guest's current memory size, but the sum ptr+byteCount is
// re-verified here with overflow-safe arithmetic first, so a future
// engine swap that trusted its inputs more loosely would not silently
// become unsafe.
func readGuest(mem api.Memory, ptr, byteCount uint32) ([]byte, error) {
	if err := checkBounds(mem, ptr, byteCount); err != nil {
		return nil, err
	}
	data, ok := mem.Read(ptr, byteCount)
	if !ok {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "guest memory read out of bounds")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// writeGuest writes data into guest memory at ptr, with the same
// overflow-safe bounds re-check as readGuest.
func writeGuest(mem api.Memory, ptr uint32, data []byte) error {
	if err := checkBounds(mem, ptr, uint32(len(data))); err != nil {
		return err
	}
	if !mem.Write(ptr, data) {
		return deviceerr.New(deviceerr.SandboxAbi, "guest memory write out of bounds")
	}
	return nil
}

func checkBounds(mem api.Memory, ptr, byteCount uint32) error {
	end, carry := bits.Add32(ptr, byteCount, 0)
	if carry != 0 {
		return deviceerr.New(deviceerr.SandboxAbi, "guest pointer+length overflows")
	}
	if end > mem.Size() {
		return deviceerr.New(deviceerr.SandboxAbi, "guest pointer+length exceeds memory size")
	}
	return nil
}

// readResult reads the length-prefixed result convention shared by
// interpret and assemble: four little-endian bytes giving the result
// length, followed by that many bytes of UTF-8 JSON (or, for assemble,
// opaque output bytes).
func readResult(mem api.Memory, ptr uint32) ([]byte, error) {
	if ptr == 0 {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "entry point returned a null offset")
	}
	header, err := readGuest(mem, ptr, 4)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SandboxAbi, "read result length prefix", err)
	}
	resultLen := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24

	dataPtr, carry := bits.Add32(ptr, 4, 0)
	if carry != 0 {
		return nil, deviceerr.New(deviceerr.SandboxAbi, "result offset+4 overflows")
	}
	result, err := readGuest(mem, dataPtr, resultLen)
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.SandboxAbi, "read result body", err)
	}
	return result, nil
}
