//go:build tinygo || wasm

package main

import (
	"github.com/earshot-audio/earshot/filters/examples/internal/guest"
)

//export alloc
func alloc(size uint32) *byte {
	return guest.Alloc(size)
}

//export transform
func transform(ptr *byte, length uint32) uint64 {
	in := guest.Input(ptr, length)
	if len(in) == 0 {
		return 0
	}
	changed := false
	out := make([]byte, len(in))
	for i, b := range in {
		if b >= '0' && b <= '9' {
			out[i] = '#'
			changed = true
		} else {
			out[i] = b
		}
	}
	if !changed {
		return 0
	}
	guest.Log("masked digit characters")
	return guest.Pack(out)
}

func main() {}
