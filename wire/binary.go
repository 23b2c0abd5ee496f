package wire

import "golang.org/x/exp/constraints"

// putUint writes v to b in big-endian order. b must be at least as long
// as the size of T. Generalizes the frame length-prefix encoding so the
// same helper serves any future fixed-width header field.
func putUint[T constraints.Unsigned](b []byte, v T) {
	n := len(b)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// getUint reads a big-endian T out of b.
func getUint[T constraints.Unsigned](b []byte) T {
	var v T
	for _, c := range b {
		v = v<<8 | T(c)
	}
	return v
}
