package codec

// BPTC(196,96) protects the DMR full link control: a 13x15 matrix of nine
// Hamming(15,11) rows and fifteen Hamming(13,9) columns, interleaved by
// (a*181) mod 196 and carried around the sync field of a 33-byte burst.
const (
	BPTC19696_TOTAL_BITS  = 196
	BPTC19696_INFO_BITS   = 96
	BPTC19696_BURST_BYTES = 33
	BPTC19696_DATA_BYTES  = 12
	BPTC19696_MAX_PASSES  = 5
)

// bptcDataRanges lists the matrix positions carrying payload, inclusive.
var bptcDataRanges = [9][2]int{
	{4, 11}, {16, 26}, {31, 41}, {46, 56}, {61, 71},
	{76, 86}, {91, 101}, {106, 116}, {121, 131},
}

// BPTC19696 holds the working matrices for one encode or decode. The zero
// value is ready to use; a value must not be shared between goroutines.
type BPTC19696 struct {
	raw    [BPTC19696_TOTAL_BITS]bool
	matrix [BPTC19696_TOTAL_BITS]bool
}

// NewBPTC19696 returns an empty codec.
func NewBPTC19696() *BPTC19696 {
	return &BPTC19696{}
}

// Decode extracts, corrects and returns the 12 payload bytes of a burst.
// Bursts shorter than 33 bytes yield nil.
func (b *BPTC19696) Decode(in []byte) []byte {
	if len(in) < BPTC19696_BURST_BYTES {
		return nil
	}
	b.extractBinary(in)
	for a := 0; a < BPTC19696_TOTAL_BITS; a++ {
		b.matrix[a] = b.raw[(a*181)%BPTC19696_TOTAL_BITS]
	}
	b.correct()

	out := make([]byte, BPTC19696_DATA_BYTES)
	bits := BitVector(out)
	pos := 0
	for _, r := range bptcDataRanges {
		for a := r[0]; a <= r[1]; a++ {
			bits.SetBit(pos, b.matrix[a])
			pos++
		}
	}
	return out
}

// Encode writes the protected form of payload[0:12] into burst[0:33]. Only
// the BPTC positions are touched: the slot type and sync bits of the burst
// are preserved.
func (b *BPTC19696) Encode(payload []byte, burst []byte) {
	if len(payload) < BPTC19696_DATA_BYTES || len(burst) < BPTC19696_BURST_BYTES {
		return
	}
	for i := range b.matrix {
		b.matrix[i] = false
	}
	bits := BitVector(payload[:BPTC19696_DATA_BYTES])
	pos := 0
	for _, r := range bptcDataRanges {
		for a := r[0]; a <= r[1]; a++ {
			b.matrix[a] = bits.Bit(pos)
			pos++
		}
	}

	for r := 0; r < 9; r++ {
		row := r*15 + 1
		EncodeHamming15113(b.matrix[row:row+15], 2)
	}
	var col [13]bool
	for c := 0; c < 15; c++ {
		b.column(c, col[:])
		EncodeHamming1393(col[:])
		b.setColumn(c, col[:])
	}

	for a := 0; a < BPTC19696_TOTAL_BITS; a++ {
		b.raw[(a*181)%BPTC19696_TOTAL_BITS] = b.matrix[a]
	}
	b.packBinary(burst)
}

func (b *BPTC19696) column(c int, col []bool) {
	pos := c + 1
	for a := 0; a < 13; a++ {
		col[a] = b.matrix[pos]
		pos += 15
	}
}

func (b *BPTC19696) setColumn(c int, col []bool) {
	pos := c + 1
	for a := 0; a < 13; a++ {
		b.matrix[pos] = col[a]
		pos += 15
	}
}

// correct runs column then row Hamming passes until a pass fixes nothing.
func (b *BPTC19696) correct() {
	var col [13]bool
	for pass := 0; pass < BPTC19696_MAX_PASSES; pass++ {
		fixing := false
		for c := 0; c < 15; c++ {
			b.column(c, col[:])
			if DecodeHamming1393(col[:]) {
				b.setColumn(c, col[:])
				fixing = true
			}
		}
		for r := 0; r < 9; r++ {
			row := r*15 + 1
			if DecodeHamming15113(b.matrix[row:row+15], 2) {
				fixing = true
			}
		}
		if !fixing {
			return
		}
	}
}

// extractBinary reads the 196 codeword bits: bytes 0-12, the two low bits
// of byte 20 as bits 98-99, then bytes 21-32 from bit 100.
func (b *BPTC19696) extractBinary(in []byte) {
	v := BitVector(in)
	for i := 0; i < 104; i++ {
		b.raw[i] = v.Bit(i)
	}
	b.raw[98] = v.Bit(20*8 + 6)
	b.raw[99] = v.Bit(20*8 + 7)
	for i := 100; i < BPTC19696_TOTAL_BITS; i++ {
		b.raw[i] = v.Bit(21*8 + i - 100)
	}
}

// packBinary is the inverse of extractBinary. Byte 12 keeps its low six
// bits and byte 20 keeps its top six, which belong to the slot type.
func (b *BPTC19696) packBinary(out []byte) {
	v := BitVector(out)
	for i := 0; i < 96; i++ {
		v.SetBit(i, b.raw[i])
	}
	v.SetBit(96, b.raw[96])
	v.SetBit(97, b.raw[97])
	v.SetBit(20*8+6, b.raw[98])
	v.SetBit(20*8+7, b.raw[99])
	for i := 100; i < BPTC19696_TOTAL_BITS; i++ {
		v.SetBit(21*8+i-100, b.raw[i])
	}
}
