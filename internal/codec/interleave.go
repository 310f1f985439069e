package codec

// Interleave tables map logical bit i to transmitted bit table[i].

// YSF DCH tables interleave symbol pairs: entry k is the position of the
// first bit of coded pair k, the second bit follows it.
var (
	YSF_INTERLEAVE_5_20 = pairTable(5, 20)
	YSF_INTERLEAVE_9_20 = pairTable(9, 20)
)

// YSF_INTERLEAVE_26_4 permutes the 104 bits of a VD mode 2 VCH.
var YSF_INTERLEAVE_26_4 = func() []int {
	t := make([]int, 104)
	for row := 0; row < 4; row++ {
		for col := 0; col < 26; col++ {
			t[row*26+col] = row + col*4
		}
	}
	return t
}()

// YSF_IMBE_INTERLEAVE permutes the 144 bits of a full-rate VCH.
var YSF_IMBE_INTERLEAVE = []int{
	0, 7, 12, 19, 24, 31, 36, 43, 48, 55, 60, 67, 72, 79, 84, 91, 96, 103, 108, 115, 120, 127, 132, 139,
	1, 6, 13, 18, 25, 30, 37, 42, 49, 54, 61, 66, 73, 78, 85, 90, 97, 102, 109, 114, 121, 126, 133, 138,
	2, 9, 14, 21, 26, 33, 38, 45, 50, 57, 62, 69, 74, 81, 86, 93, 98, 105, 110, 117, 122, 129, 134, 141,
	3, 8, 15, 20, 27, 32, 39, 44, 51, 56, 63, 68, 75, 80, 87, 92, 99, 104, 111, 116, 123, 128, 135, 140,
	4, 11, 16, 23, 28, 35, 40, 47, 52, 59, 64, 71, 76, 83, 88, 95, 100, 107, 112, 119, 124, 131, 136, 143,
	5, 10, 17, 22, 29, 34, 41, 46, 53, 58, 65, 70, 77, 82, 89, 94, 101, 106, 113, 118, 125, 130, 137, 142,
}

// BPTC_INTERLEAVE is the (a*181) mod 196 permutation of the BPTC matrix.
var BPTC_INTERLEAVE = func() []int {
	t := make([]int, BPTC19696_TOTAL_BITS)
	for a := range t {
		t[a] = (a * 181) % BPTC19696_TOTAL_BITS
	}
	return t
}()

// M17_INTERLEAVE is the quadratic permutation (45x + 92x^2) mod 368. It is
// its own inverse.
var M17_INTERLEAVE = func() []int {
	t := make([]int, 368)
	for x := range t {
		t[x] = (45*x + 92*x*x) % 368
	}
	return t
}()

func pairTable(rows, cols int) []int {
	t := make([]int, 0, rows*cols)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			t = append(t, r*40+c*2)
		}
	}
	return t
}

// ExpandPairTable turns a symbol pair table into a per-bit table so that it
// can be used with Interleave.
func ExpandPairTable(pairs []int) []int {
	t := make([]int, 2*len(pairs))
	for k, p := range pairs {
		t[2*k] = p
		t[2*k+1] = p + 1
	}
	return t
}

// Interleave copies bit i of in (from inOff) to bit table[i] of out (from outOff).
func Interleave(out []byte, outOff int, in []byte, inOff int, table []int) {
	src, dst := BitVector(in), BitVector(out)
	for i, n := range table {
		dst.SetBit(outOff+n, src.Bit(inOff+i))
	}
}

// Deinterleave copies bit table[i] of in to bit i of out.
func Deinterleave(out []byte, outOff int, in []byte, inOff int, table []int) {
	src, dst := BitVector(in), BitVector(out)
	for i, n := range table {
		dst.SetBit(outOff+i, src.Bit(inOff+n))
	}
}

// YSF_WHITENING is the YSF data whitening sequence. Its first 13 bytes also
// scramble the VD mode 2 VCH.
var YSF_WHITENING = []byte{
	0x93, 0xD7, 0x51, 0x21, 0x9C, 0x2F, 0x6C, 0xD0, 0xEF, 0x0F,
	0xF8, 0x3D, 0xF1, 0x73, 0x20, 0x94, 0xED, 0x1E, 0x7C, 0xD8,
}

// M17_SCRAMBLER decorrelates the 46 bytes following the M17 sync word; the
// two leading zero bytes leave the sync itself untouched.
var M17_SCRAMBLER = []byte{
	0x00, 0x00, 0xD6, 0xB5, 0xE2, 0x30, 0x82, 0xFF, 0x84, 0x62, 0xBA, 0x4E, 0x96, 0x90, 0xD8, 0x98, 0xDD,
	0x5D, 0x0C, 0xC8, 0x52, 0x43, 0x91, 0x1D, 0xF8, 0x6E, 0x68, 0x2F, 0x35, 0xDA, 0x14, 0xEA, 0xCD, 0x76,
	0x19, 0x8D, 0xD5, 0x80, 0xD1, 0x33, 0x87, 0x13, 0x57, 0x18, 0x2D, 0x29, 0x78, 0xC3,
}

// Scramble XORs seq into buf starting at byte offset. It is self-inverse.
// Bytes past the end of either slice are left alone.
func Scramble(buf []byte, seq []byte, offset int) {
	for i := offset; i < len(buf) && i < len(seq); i++ {
		buf[i] ^= seq[i]
	}
}

// ScrambleBits XORs the first n bits of seq into buf starting at bit off.
func ScrambleBits(buf []byte, off int, seq []byte, n int) {
	b, s := BitVector(buf), BitVector(seq)
	for i := 0; i < n; i++ {
		if s.Bit(i) {
			b.FlipBit(off + i)
		}
	}
}

// Puncture patterns: a 1 keeps the coded bit, a 0 drops it. The pattern is
// applied cyclically.
var (
	// M17_PUNCTURE_P1 takes the 488 coded LSF bits down to 368.
	M17_PUNCTURE_P1 = []uint8{
		1, 1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1,
		1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1,
		1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1,
		1, 0, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1,
	}
	// M17_PUNCTURE_P2 takes the 296 coded stream bits down to 272.
	M17_PUNCTURE_P2 = []uint8{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0}
)

// Puncture drops the coded bits marked 0 in pattern and returns the packed
// result together with its length in bits.
func Puncture(in []byte, nBits int, pattern []uint8) ([]byte, int) {
	src := BitVector(in)
	kept := 0
	for i := 0; i < nBits; i++ {
		if pattern[i%len(pattern)] == 1 {
			kept++
		}
	}
	out := NewBitVector(kept)
	n := 0
	for i := 0; i < nBits; i++ {
		if pattern[i%len(pattern)] == 1 {
			out.SetBit(n, src.Bit(i))
			n++
		}
	}
	return out, kept
}

// Depuncture expands a punctured bit stream back to nBits soft symbols,
// filling dropped positions with SYMBOL_ERASURE.
func Depuncture(in []byte, nBits int, pattern []uint8) []uint8 {
	src := BitVector(in)
	out := make([]uint8, nBits)
	n := 0
	for i := range out {
		if pattern[i%len(pattern)] == 0 {
			out[i] = SYMBOL_ERASURE
			continue
		}
		out[i] = hardSymbol(src.Bit(n))
		n++
	}
	return out
}
