package olcart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyFromUint64Order(t *testing.T) {
	values := []uint64{0, 1, 255, 256, 1 << 32, 1<<64 - 1}
	for i := 1; i < len(values); i++ {
		a, b := KeyFromUint64(values[i-1]), KeyFromUint64(values[i])
		assert.Equal(t, -1, a.Compare(b))
		assert.Equal(t, values[i], b.Uint64())
	}
	assert.True(t, KeyFromUint64(7).Equal(Key{0, 0, 0, 0, 0, 0, 0, 7}))
}

func TestKeyByte(t *testing.T) {
	k := Key("ab")

	b, ended := keyByte(k, 1)
	assert.Equal(t, byte('b'), b)
	assert.False(t, ended)

	b, ended = keyByte(k, 2)
	assert.Zero(t, b)
	assert.True(t, ended)

	assert.Equal(t, int('a'), boundByte(k, 0))
	assert.Equal(t, -1, boundByte(k, 2))
	assert.Equal(t, -1, boundByte(nil, 0))
}
