package codec

import (
	"github.com/sigurn/crc16"
)

// CCITTVariant selects which CRC-CCITT flavour protects a field.
type CCITTVariant int

const (
	// CCITT161 is the reflected X.25 form stored low byte first (D-STAR headers).
	CCITT161 CCITTVariant = iota
	// CCITT162 is the unreflected form stored high byte first (YSF FICH/DCH, DMR data).
	CCITT162
)

// CRC masks applied on top of CCITT162 to distinguish DMR frame subtypes.
const (
	CRC_MASK_NONE        uint16 = 0x0000
	CRC_MASK_DATA_HEADER uint16 = 0xCCCC
	CRC_MASK_CSBK        uint16 = 0xA5A5
)

var (
	ccitt161Table = crc16.MakeTable(crc16.CRC16_X_25)
	ccitt162Table = crc16.MakeTable(crc16.Params{
		Poly:   0x1021,
		Init:   0x0000,
		RefIn:  false,
		RefOut: false,
		XorOut: 0xFFFF,
		Check:  0xCE3C,
		Name:   "CRC-16/GSM",
	})
	m17Table = crc16.MakeTable(crc16.Params{
		Poly:   0x5935,
		Init:   0xFFFF,
		RefIn:  false,
		RefOut: false,
		XorOut: 0x0000,
		Check:  0x772B,
		Name:   "CRC-16/M17",
	})
)

func ccittTable(variant CCITTVariant) *crc16.Table {
	if variant == CCITT161 {
		return ccitt161Table
	}
	return ccitt162Table
}

// ComputeCCITT16 returns the CRC of data, XORed with mask.
func ComputeCCITT16(data []byte, variant CCITTVariant, mask uint16) uint16 {
	return crc16.Checksum(data, ccittTable(variant)) ^ mask
}

// AppendCCITT16 computes the CRC over buf[:len(buf)-2] and stores it in the
// last two bytes using the byte order of the variant.
func AppendCCITT16(buf []byte, variant CCITTVariant, mask uint16) {
	if len(buf) < 3 {
		return
	}
	n := len(buf) - 2
	crc := ComputeCCITT16(buf[:n], variant, mask)
	putCRC(buf[n:], crc, variant)
}

// VerifyCCITT16 reports whether the last two bytes of buf hold the CRC of
// the preceding bytes.
func VerifyCCITT16(buf []byte, variant CCITTVariant, mask uint16) bool {
	if len(buf) < 3 {
		return false
	}
	n := len(buf) - 2
	var want [2]byte
	putCRC(want[:], ComputeCCITT16(buf[:n], variant, mask), variant)
	return buf[n] == want[0] && buf[n+1] == want[1]
}

func putCRC(dst []byte, crc uint16, variant CCITTVariant) {
	if variant == CCITT161 {
		dst[0] = uint8(crc)
		dst[1] = uint8(crc >> 8)
		return
	}
	dst[0] = uint8(crc >> 8)
	dst[1] = uint8(crc)
}

// ComputeM17CRC returns the M17 CRC (poly 0x5935, init 0xFFFF) of data.
func ComputeM17CRC(data []byte) uint16 {
	return crc16.Checksum(data, m17Table)
}

// AppendM17CRC stores the CRC of buf[:len(buf)-2] big-endian in the last two bytes.
func AppendM17CRC(buf []byte) {
	if len(buf) < 3 {
		return
	}
	n := len(buf) - 2
	crc := ComputeM17CRC(buf[:n])
	buf[n] = uint8(crc >> 8)
	buf[n+1] = uint8(crc)
}

// VerifyM17CRC checks the trailing big-endian M17 CRC.
func VerifyM17CRC(buf []byte) bool {
	if len(buf) < 3 {
		return false
	}
	n := len(buf) - 2
	crc := ComputeM17CRC(buf[:n])
	return buf[n] == uint8(crc>>8) && buf[n+1] == uint8(crc)
}

// CRC5 is the DMR embedded LC checksum: the byte sum of the first 72 bits mod 31.
func CRC5(bits []bool) uint8 {
	var total uint32
	for i := 0; i+8 <= 72 && i+8 <= len(bits); i += 8 {
		total += uint32(BitsToByteBE(bits[i : i+8]))
	}
	return uint8(total % 31)
}

// CRC6 computes the NXDN SACCH CRC (init 0x3F, poly 0x27) over the first
// nBits bits of data.
func CRC6(data []byte, nBits int) uint8 {
	bits := BitVector(data)
	crc := uint8(0x3F)
	for i := 0; i < nBits; i++ {
		bit1 := bits.Bit(i)
		bit2 := crc&0x20 == 0x20
		crc <<= 1
		if bit1 != bit2 {
			crc ^= 0x27
		}
	}
	return crc & 0x3F
}

// AppendCRC6 writes the 6-bit CRC of the first nBits bits immediately after them.
func AppendCRC6(data []byte, nBits int) {
	BitVector(data).SetUint(nBits, 6, uint32(CRC6(data, nBits)))
}

// VerifyCRC6 checks the 6-bit CRC stored after the first nBits bits.
func VerifyCRC6(data []byte, nBits int) bool {
	return BitVector(data).Uint(nBits, 6) == uint32(CRC6(data, nBits))
}

var crc8Table = func() [256]uint8 {
	var t [256]uint8
	for i := 0; i < 256; i++ {
		crc := uint8(i)
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC8 computes CRC-8 (poly 0x07, init 0) over data.
func CRC8(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}
