package correction

import "github.com/dbehnke/dvgateway/internal/codec"

// QR_GENERATOR is x^8 + x^5 + x^4 + x^3 + 1, the generator of the (15,7)
// quadratic residue code extended by one parity bit to (16,7,6).
const QR_GENERATOR = 0x139

var qrSyndrome [256]uint16

func init() {
	for i := range qrSyndrome {
		qrSyndrome[i] = 0xFFFF
	}
	qrSyndrome[0] = 0
	for i := 0; i < 15; i++ {
		e1 := uint16(1) << i
		qrSyndrome[qrRemainder(e1)] = e1
		for j := i + 1; j < 15; j++ {
			e2 := e1 | uint16(1)<<j
			qrSyndrome[qrRemainder(e2)] = e2
		}
	}
}

func qrRemainder(v uint16) uint16 {
	v &= 0x7FFF
	for i := 14; i >= 8; i-- {
		if v&(1<<uint(i)) != 0 {
			v ^= QR_GENERATOR << uint(i-8)
		}
	}
	return v & 0xFF
}

// EncodeQR1676 takes the 7 data bits from the top of data[0] and fills in
// the remaining 9 bits of data[0:2].
func EncodeQR1676(data []byte) {
	d := uint16(data[0] >> 1)
	c := d<<8 | qrRemainder(d<<8)
	c = c<<1 | uint16(codec.CountBits(uint32(c))&1)

	data[0] = uint8(c >> 8)
	data[1] = uint8(c)
}

// DecodeQR1676 corrects up to two bit errors and returns the 7 data bits.
// Heavier patterns with an unknown syndrome return the raw data bits and
// false.
func DecodeQR1676(data []byte) (uint8, bool) {
	code := uint16(data[0])<<7 | uint16(data[1])>>1
	e := qrSyndrome[qrRemainder(code)]
	if e == 0xFFFF {
		return uint8(code >> 8), false
	}
	return uint8((code ^ e) >> 8), true
}

// EMB is the embedded signalling header of voice bursts B to F.
type EMB struct {
	ColorCode uint8
	PI        bool
	LCSS      uint8
}

// EMB bits sit as two bytes either side of the embedded signalling field.
const (
	embFirstBit  = 108
	embSecondBit = 148
)

// EncodeEMB writes the QR protected EMB into a 33-byte burst.
func EncodeEMB(emb EMB, burst []byte) {
	var e [2]byte
	e[0] = emb.ColorCode<<4 | (emb.LCSS&0x03)<<1
	if emb.PI {
		e[0] |= 0x08
	}
	EncodeQR1676(e[:])

	b := codec.BitVector(burst)
	b.SetUint(embFirstBit, 8, uint32(e[0]))
	b.SetUint(embSecondBit, 8, uint32(e[1]))
}

// DecodeEMB reads the EMB of a 33-byte burst.
func DecodeEMB(burst []byte) (EMB, bool) {
	b := codec.BitVector(burst)
	e := [2]byte{uint8(b.Uint(embFirstBit, 8)), uint8(b.Uint(embSecondBit, 8))}
	v, ok := DecodeQR1676(e[:])
	return EMB{
		ColorCode: v >> 3,
		PI:        v&0x04 != 0,
		LCSS:      v & 0x03,
	}, ok
}
