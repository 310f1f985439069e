package correction

import "github.com/dbehnke/dvgateway/internal/codec"

// Link control start/stop values carried in the EMB.
const (
	LCSS_SINGLE   = 0
	LCSS_FIRST    = 1
	LCSS_LAST     = 2
	LCSS_CONTINUE = 3
)

const (
	embeddedBits         = 128
	embeddedFragmentBits = 32
	embeddedFieldBit     = 116
)

// lcDataRows lists the [start, end) ranges of the LC bits in the 8x16 matrix.
var lcDataRows = [7][2]int{
	{0, 11}, {16, 27}, {32, 42}, {48, 58}, {64, 74}, {80, 90}, {96, 106},
}

var lcCRCBits = [5]int{42, 58, 74, 90, 106}

// EmbeddedLC is the 9-byte link control spread over voice bursts B to E.
type EmbeddedLC struct {
	raw [embeddedBits]bool
}

// NewEmbeddedLC encodes a 9-byte link control into four fragments.
func NewEmbeddedLC(lc []byte) *EmbeddedLC {
	in := make([]bool, LC_BYTES*8)
	for i := 0; i < LC_BYTES && i < len(lc); i++ {
		codec.ByteToBitsBE(lc[i], in[i*8:i*8+8])
	}
	crc := codec.CRC5(in)

	var m [embeddedBits]bool
	n := 0
	for _, r := range lcDataRows {
		for i := r[0]; i < r[1]; i++ {
			m[i] = in[n]
			n++
		}
	}
	for i, pos := range lcCRCBits {
		m[pos] = crc&(0x10>>uint(i)) != 0
	}

	for row := 0; row < 112; row += 16 {
		codec.EncodeHamming16114(m[row : row+16])
	}
	for col := 0; col < 16; col++ {
		p := false
		for row := 0; row < 112; row += 16 {
			p = p != m[row+col]
		}
		m[112+col] = p
	}

	e := &EmbeddedLC{}
	b := 0
	for a := 0; a < embeddedBits; a++ {
		e.raw[a] = m[b]
		b += 16
		if b > 127 {
			b -= 127
		}
	}
	return e
}

// Fragment returns the 4-byte fragment for voice burst B..E (n = 1..4) and
// the LCSS to signal with it.
func (e *EmbeddedLC) Fragment(n int) ([4]byte, uint8) {
	var out [4]byte
	if n < 1 || n > 4 {
		return out, LCSS_SINGLE
	}
	v := codec.BitVector(out[:])
	for i := 0; i < embeddedFragmentBits; i++ {
		v.SetBit(i, e.raw[(n-1)*embeddedFragmentBits+i])
	}

	switch n {
	case 1:
		return out, LCSS_FIRST
	case 4:
		return out, LCSS_LAST
	default:
		return out, LCSS_CONTINUE
	}
}

// PutEmbeddedFragment writes a fragment into the embedded signalling field
// of a 33-byte burst.
func PutEmbeddedFragment(frag []byte, burst []byte) {
	b := codec.BitVector(burst)
	b.SetUint(embeddedFieldBit, embeddedFragmentBits, codec.BitVector(frag).Uint(0, embeddedFragmentBits))
}

// GetEmbeddedFragment reads the embedded signalling field of a burst.
func GetEmbeddedFragment(burst []byte) [4]byte {
	var out [4]byte
	v := codec.BitVector(burst).Uint(embeddedFieldBit, embeddedFragmentBits)
	out[0], out[1], out[2], out[3] = uint8(v>>24), uint8(v>>16), uint8(v>>8), uint8(v)
	return out
}

// DecodeEmbeddedLC checks and decodes the 16 bytes formed by fragments B to
// E in order. It returns the 9-byte link control when the Hamming rows,
// column parity and CRC-5 all pass.
func DecodeEmbeddedLC(raw []byte) ([]byte, bool) {
	if len(raw) < embeddedBits/8 {
		return nil, false
	}
	var bits [embeddedBits]bool
	v := codec.BitVector(raw)
	for i := range bits {
		bits[i] = v.Bit(i)
	}
	return decodeEmbedded(bits)
}

func decodeEmbedded(raw [embeddedBits]bool) ([]byte, bool) {
	var m [embeddedBits]bool
	b := 0
	for a := 0; a < embeddedBits; a++ {
		m[b] = raw[a]
		b += 16
		if b > 127 {
			b -= 127
		}
	}

	for row := 0; row < 112; row += 16 {
		if !codec.DecodeHamming16114(m[row : row+16]) {
			return nil, false
		}
	}
	for col := 0; col < 16; col++ {
		p := false
		for row := 0; row < embeddedBits; row += 16 {
			p = p != m[row+col]
		}
		if p {
			return nil, false
		}
	}

	bits := make([]bool, 0, LC_BYTES*8)
	for _, r := range lcDataRows {
		bits = append(bits, m[r[0]:r[1]]...)
	}
	var crc uint8
	for i, pos := range lcCRCBits {
		if m[pos] {
			crc |= 0x10 >> uint(i)
		}
	}
	if codec.CRC5(bits) != crc {
		return nil, false
	}

	lc := make([]byte, LC_BYTES)
	for i := range lc {
		lc[i] = codec.BitsToByteBE(bits[i*8 : i*8+8])
	}
	return lc, true
}
