//go:build tinygo || wasm

package main

import (
	"strings"

	"github.com/earshot-audio/earshot/filters/examples/internal/guest"
)

var fillers = map[string]bool{
	"um":  true,
	"uh":  true,
	"erm": true,
	"hmm": true,
	"mhm": true,
}

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
	words := strings.Fields(string(in))
	kept := words[:0]
	for _, w := range words {
		if fillers[strings.ToLower(w)] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == len(words) {
		return 0
	}
	return guest.Pack([]byte(strings.Join(kept, " ")))
}

func main() {}
