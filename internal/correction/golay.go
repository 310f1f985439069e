// Package correction holds the short block codes that protect DMR burst
// signalling: slot type, EMB, full LC parity and the embedded LC.
package correction

import (
	"fmt"

	"github.com/dbehnke/dvgateway/internal/codec"
)

// The (20,8) code is the (23,12) Golay code shortened to 19 bits with an
// appended overall parity bit. It carries the 8-bit slot type.
const GOLAY_20_8_BYTES = 3

// Golay2087Encode protects data[0] and writes the 12 check bits into
// data[1] and the top nibble of data[2]. The low nibble of data[2] is kept.
func Golay2087Encode(data []byte) error {
	if len(data) < GOLAY_20_8_BYTES {
		return fmt.Errorf("golay 20,8: need %d bytes, got %d", GOLAY_20_8_BYTES, len(data))
	}
	c := codec.Encode23127(uint32(data[0]))
	parity := uint32(codec.CountBits(c) & 1)

	data[1] = uint8(c >> 3)
	data[2] = uint8(c&0x07)<<5 | uint8(parity)<<4 | data[2]&0x0F
	return nil
}

// Golay2087Decode corrects up to three errors and returns the data byte with
// the number of bits corrected.
func Golay2087Decode(data []byte) (uint8, int) {
	if len(data) < GOLAY_20_8_BYTES {
		return 0, 0
	}
	code := uint32(data[0])<<11 | uint32(data[1])<<3 | uint32(data[2])>>5
	v, n := codec.Decode23127(code)
	return uint8(v), n
}

// SlotType is the 8-bit field repeated around the sync of every data burst.
type SlotType struct {
	ColorCode uint8
	DataType  uint8
}

// Slot type bits occupy two 10-bit runs on either side of the sync.
const (
	slotTypeFirstBit  = 98
	slotTypeSecondBit = 156
)

// EncodeSlotType writes the Golay protected slot type into a 33-byte burst.
func EncodeSlotType(st SlotType, burst []byte) {
	var s [GOLAY_20_8_BYTES]byte
	s[0] = st.ColorCode<<4 | st.DataType&0x0F
	_ = Golay2087Encode(s[:])

	src, dst := codec.BitVector(s[:]), codec.BitVector(burst)
	for i := 0; i < 10; i++ {
		dst.SetBit(slotTypeFirstBit+i, src.Bit(i))
		dst.SetBit(slotTypeSecondBit+i, src.Bit(10+i))
	}
}

// DecodeSlotType reads and corrects the slot type of a 33-byte burst.
func DecodeSlotType(burst []byte) (SlotType, int) {
	var s [GOLAY_20_8_BYTES]byte
	src, dst := codec.BitVector(burst), codec.BitVector(s[:])
	for i := 0; i < 10; i++ {
		dst.SetBit(i, src.Bit(slotTypeFirstBit+i))
		dst.SetBit(10+i, src.Bit(slotTypeSecondBit+i))
	}
	v, n := Golay2087Decode(s[:])
	return SlotType{ColorCode: v >> 4, DataType: v & 0x0F}, n
}
