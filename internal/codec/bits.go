package codec

// BIT_MASK_TABLE maps a bit index within a byte to its MSB-first mask.
var BIT_MASK_TABLE = [8]uint8{0x80, 0x40, 0x20, 0x10, 0x08, 0x04, 0x02, 0x01}

// BitVector is an MSB-first bit view over a byte slice. Bit 0 is the most
// significant bit of byte 0, matching the on-air bit order of every mode.
type BitVector []byte

// NewBitVector allocates a zeroed vector able to hold nBits bits.
func NewBitVector(nBits int) BitVector {
	return make(BitVector, (nBits+7)/8)
}

// Len returns the capacity of the vector in bits.
func (b BitVector) Len() int {
	return len(b) * 8
}

// Bit returns bit i. Reads past the end return false so that encoders can
// treat an implicit zero tail as part of the input.
func (b BitVector) Bit(i int) bool {
	if i < 0 || i>>3 >= len(b) {
		return false
	}
	return b[i>>3]&BIT_MASK_TABLE[i&7] != 0
}

// SetBit sets bit i. Writes past the end are ignored.
func (b BitVector) SetBit(i int, v bool) {
	if i < 0 || i>>3 >= len(b) {
		return
	}
	if v {
		b[i>>3] |= BIT_MASK_TABLE[i&7]
	} else {
		b[i>>3] &^= BIT_MASK_TABLE[i&7]
	}
}

// FlipBit inverts bit i.
func (b BitVector) FlipBit(i int) {
	b.SetBit(i, !b.Bit(i))
}

// Uint reads n bits (n <= 32) starting at off as a big-endian integer.
func (b BitVector) Uint(off, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v <<= 1
		if b.Bit(off + i) {
			v |= 1
		}
	}
	return v
}

// SetUint writes the low n bits of v starting at off, MSB first.
func (b BitVector) SetUint(off, n int, v uint32) {
	for i := 0; i < n; i++ {
		b.SetBit(off+i, (v>>(n-1-i))&1 == 1)
	}
}

// Bools copies n bits starting at off into a new bool slice.
func (b BitVector) Bools(off, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = b.Bit(off + i)
	}
	return out
}

// SetBools writes bits starting at off.
func (b BitVector) SetBools(off int, bits []bool) {
	for i, v := range bits {
		b.SetBit(off+i, v)
	}
}

// ByteToBitsBE unpacks b into bits[0:8], MSB first.
func ByteToBitsBE(b uint8, bits []bool) {
	for i := 0; i < 8; i++ {
		bits[i] = b&BIT_MASK_TABLE[i] != 0
	}
}

// BitsToByteBE packs bits[0:8], MSB first.
func BitsToByteBE(bits []bool) uint8 {
	var b uint8
	for i := 0; i < 8; i++ {
		if bits[i] {
			b |= BIT_MASK_TABLE[i]
		}
	}
	return b
}

// CountBits returns the population count of v.
func CountBits(v uint32) int {
	count := 0
	for v != 0 {
		count++
		v &= v - 1
	}
	return count
}
