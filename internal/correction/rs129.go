package correction

// Full link control is 9 bytes followed by three Reed-Solomon (12,9) parity
// bytes over GF(256), XORed with a mask that depends on the burst type.
const (
	LC_BYTES      = 9
	FULL_LC_BYTES = 12
	rsParity      = 3
)

// Parity masks.
const (
	RS_MASK_VOICE_LC_HEADER    = 0x96
	RS_MASK_TERMINATOR_WITH_LC = 0x99
	RS_MASK_PI_HEADER          = 0x69
	RS_MASK_DATA_HEADER        = 0xCC
	RS_MASK_CSBK               = 0xA5
)

var (
	gfExp [512]uint8
	gfLog [256]uint8

	rsPoly = [rsParity + 1]uint8{64, 56, 14, 1}
)

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = uint8(x)
		gfLog[x] = uint8(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= 0x11D
		}
	}
	for i := 255; i < 512; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func gmult(a, b uint8) uint8 {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

// RS129Parity computes the three parity bytes for msg, highest order first.
func RS129Parity(msg []byte) [rsParity]byte {
	var p [rsParity + 1]uint8
	for _, m := range msg {
		d := m ^ p[rsParity-1]
		for j := rsParity - 1; j > 0; j-- {
			p[j] = p[j-1] ^ gmult(rsPoly[j], d)
		}
		p[0] = gmult(rsPoly[0], d)
	}
	return [rsParity]byte{p[2], p[1], p[0]}
}

// EncodeFullLC appends the masked parity to a 9-byte link control.
func EncodeFullLC(lc []byte, mask uint8) [FULL_LC_BYTES]byte {
	var out [FULL_LC_BYTES]byte
	copy(out[:LC_BYTES], lc)
	p := RS129Parity(out[:LC_BYTES])
	for i := range p {
		out[LC_BYTES+i] = p[i] ^ mask
	}
	return out
}

// CheckFullLC verifies the masked parity of a 12-byte full LC.
func CheckFullLC(data []byte, mask uint8) bool {
	if len(data) < FULL_LC_BYTES {
		return false
	}
	p := RS129Parity(data[:LC_BYTES])
	for i := range p {
		if data[LC_BYTES+i] != p[i]^mask {
			return false
		}
	}
	return true
}
