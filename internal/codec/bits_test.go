package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitVector(t *testing.T) {
	v := NewBitVector(20)
	assert.Equal(t, 24, v.Len())

	v.SetUint(3, 12, 0xABC)
	assert.Equal(t, uint32(0xABC), v.Uint(3, 12))
	assert.Equal(t, BitVector{0x15, 0x78, 0x00}, v)

	v.FlipBit(0)
	assert.True(t, v.Bit(0))
	assert.False(t, v.Bit(100))
	v.SetBit(100, true)
	assert.Equal(t, 3, len(v))

	assert.Equal(t, []bool{true, false, false, true}, v.Bools(0, 4))
}

func TestByteBits(t *testing.T) {
	bits := make([]bool, 8)
	ByteToBitsBE(0xA5, bits)
	assert.Equal(t, []bool{true, false, true, false, false, true, false, true}, bits)
	assert.Equal(t, uint8(0xA5), BitsToByteBE(bits))
	assert.Equal(t, 4, CountBits(0xA5))
}
