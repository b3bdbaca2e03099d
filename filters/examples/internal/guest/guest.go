//go:build tinygo || wasm

package guest

import "unsafe"

// keep pins buffers shared with the host so the collector cannot
// reclaim them while the host still reads.
var keep [][]byte

// Log forwards text to the host runtime via the imported filter_log function.
func Log(msg string) {
	if len(msg) == 0 {
		return
	}
	b := []byte(msg)
	filterLog(unsafe.Pointer(&b[0]), uint32(len(b)))
}

// Input views the region the host wrote into guest memory.
func Input(ptr *byte, length uint32) []byte {
	if ptr == nil || length == 0 {
		return nil
	}
	return unsafe.Slice(ptr, length)
}

// Alloc reserves a buffer the host can write into. Modules re-export
// this as their alloc entry.
func Alloc(size uint32) *byte {
	buf := make([]byte, size)
	keep = append(keep, buf)
	return &buf[0]
}

// Pack pins out and encodes it as pointer<<32|length for the
// transform return value. Zero alone means unchanged, so an empty
// result carries a nonzero pointer.
func Pack(out []byte) uint64 {
	if len(out) == 0 {
		return 1 << 32
	}
	keep = append(keep, out)
	ptr := uint64(uintptr(unsafe.Pointer(&out[0])))
	return ptr<<32 | uint64(len(out))
}

//go:wasmimport env filter_log
func filterLog(ptr unsafe.Pointer, length uint32)
