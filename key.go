package olcart

import (
	"bytes"
	"encoding/binary"
)

// Key is a byte string ordered lexicographically. The tree never modifies a
// key and expects the caller not to modify it after handing it over.
type Key []byte

// KeyFromUint64 encodes v big-endian so that integer order matches key
// order.
func KeyFromUint64(v uint64) Key {
	k := make(Key, 8)
	binary.BigEndian.PutUint64(k, v)
	return k
}

// Uint64 decodes a key built by KeyFromUint64. It panics if k is shorter
// than 8 bytes.
func (k Key) Uint64() uint64 {
	return binary.BigEndian.Uint64(k)
}

// Compare returns -1, 0 or +1 depending on whether k sorts before, equal to
// or after other.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Equal reports whether k and other hold the same bytes.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// keyByte returns the child slot the key takes at level. A key that ends
// before level takes slot 0 and ended is true.
func keyByte(k Key, level int) (b byte, ended bool) {
	if level < len(k) {
		return k[level], false
	}
	return 0, true
}

// boundByte returns the byte of a range bound at level, or -1 once the
// bound is exhausted.
func boundByte(k Key, level int) int {
	if level < len(k) {
		return int(k[level])
	}
	return -1
}
