package codec

import "errors"

// ErrUncorrectable is returned when a codeword carries more errors than the
// code can correct. The best-effort data is still returned alongside it.
var ErrUncorrectable = errors.New("codeword uncorrectable")

// GOLAY_GENERATOR is the (23,12) generator polynomial
// x^11 + x^10 + x^6 + x^5 + x^4 + x^2 + 1.
const GOLAY_GENERATOR = 0xC75

var (
	golayParity   [4096]uint32
	golaySyndrome [2048]uint32
)

func init() {
	for d := uint32(0); d < 4096; d++ {
		golayParity[d] = golayRemainder(d << 11)
	}

	// The (23,12) code is perfect: every syndrome maps to exactly one
	// error pattern of weight three or less.
	for i := 0; i < 23; i++ {
		e1 := uint32(1) << i
		golaySyndrome[golayRemainder(e1)] = e1
		for j := i + 1; j < 23; j++ {
			e2 := e1 | uint32(1)<<j
			golaySyndrome[golayRemainder(e2)] = e2
			for k := j + 1; k < 23; k++ {
				e3 := e2 | uint32(1)<<k
				golaySyndrome[golayRemainder(e3)] = e3
			}
		}
	}
}

// golayRemainder divides a 23-bit polynomial by the generator.
func golayRemainder(v uint32) uint32 {
	v &= 0x7FFFFF
	for i := 22; i >= 11; i-- {
		if v&(1<<uint(i)) != 0 {
			v ^= GOLAY_GENERATOR << uint(i-11)
		}
	}
	return v & 0x7FF
}

// Encode23127 encodes 12 data bits into a 23-bit codeword laid out as
// data<<11 | parity.
func Encode23127(data uint32) uint32 {
	data &= 0xFFF
	return data<<11 | golayParity[data]
}

// Decode23127 corrects up to three errors in a 23-bit codeword and returns
// the data bits with the number of bits corrected. The code is perfect, so
// heavier error patterns decode silently to the nearest codeword.
func Decode23127(code uint32) (uint32, int) {
	code &= 0x7FFFFF
	e := golaySyndrome[golayRemainder(code)]
	return (code ^ e) >> 11, CountBits(e)
}

// Encode24128 encodes 12 data bits into a 24-bit extended Golay codeword:
// the 23-bit codeword shifted left with an even overall parity bit appended.
func Encode24128(data uint32) uint32 {
	c := Encode23127(data)
	return c<<1 | uint32(CountBits(c)&1)
}

// Decode24128 corrects up to three errors in a 24-bit codeword. Four or more
// errors yield ErrUncorrectable together with the best-effort data.
func Decode24128(code uint32) (uint32, error) {
	code &= 0xFFFFFF
	data, _ := Decode23127(code >> 1)
	if CountBits(Encode24128(data)^code) > 3 {
		return data, ErrUncorrectable
	}
	return data, nil
}

// EncodeGolay24128Bytes writes the codeword for data into out[0:3].
func EncodeGolay24128Bytes(data uint32, out []byte) {
	c := Encode24128(data)
	out[0] = uint8(c >> 16)
	out[1] = uint8(c >> 8)
	out[2] = uint8(c)
}

// DecodeGolay24128Bytes decodes the codeword held in in[0:3].
func DecodeGolay24128Bytes(in []byte) (uint32, error) {
	return Decode24128(uint32(in[0])<<16 | uint32(in[1])<<8 | uint32(in[2]))
}
