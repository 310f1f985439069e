package codec

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Payload lengths of the YSF DCH/FICH, M17 LSF and M17 stream frames.
var convFrameBits = []int{96, 176, 240, 144}

func TestConvRoundTripFixedPatterns(t *testing.T) {
	for _, n := range convFrameBits {
		for _, fill := range []byte{0x00, 0xFF} {
			t.Run(fmt.Sprintf("%d_%02X", n, fill), func(t *testing.T) {
				in := make([]byte, n/8)
				for i := range in {
					in[i] = fill
				}
				coded := ConvEncode(in, n)
				require.Len(t, coded, (2*(n+CONV_TAIL_BITS)+7)/8)

				out, metric := ConvDecode(coded, n)
				assert.Equal(t, in, []byte(out))
				assert.Zero(t, metric)
			})
		}
	}
}

func TestConvRoundTripRandom(t *testing.T) {
	for _, n := range convFrameBits {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				in := rapid.SliceOfN(rapid.Byte(), n/8, n/8).Draw(t, "in")
				out, _ := ConvDecode(ConvEncode(in, n), n)
				assert.Equal(t, in, []byte(out))
			})
		})
	}
}

func TestConvCorrectsSparseErrors(t *testing.T) {
	in := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	coded := BitVector(ConvEncode(in, 96))
	for _, bit := range []int{10, 100, 190} {
		coded.FlipBit(bit)
	}
	out, metric := ConvDecode(coded, 96)
	assert.Equal(t, in, []byte(out))
	assert.NotZero(t, metric)
}

func TestConvPuncturedRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		nBits   int
		pattern []uint8
		kept    int
	}{
		{"lsf", 240, M17_PUNCTURE_P1, 368},
		{"stream", 144, M17_PUNCTURE_P2, 272},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				in := rapid.SliceOfN(rapid.Byte(), tc.nBits/8, tc.nBits/8).Draw(t, "in")
				coded := ConvEncode(in, tc.nBits)
				codedBits := 2 * (tc.nBits + CONV_TAIL_BITS)

				punctured, kept := Puncture(coded, codedBits, tc.pattern)
				require.Equal(t, tc.kept, kept)

				symbols := Depuncture(punctured, codedBits, tc.pattern)
				out, _ := ConvDecodeSoft(symbols, tc.nBits)
				assert.Equal(t, in, []byte(out))
			})
		})
	}
}
