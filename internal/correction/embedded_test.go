package correction

import (
	"testing"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func joined(e *EmbeddedLC) ([]byte, []uint8) {
	var raw []byte
	var lcss []uint8
	for n := 1; n <= 4; n++ {
		f, s := e.Fragment(n)
		raw = append(raw, f[:]...)
		lcss = append(lcss, s)
	}
	return raw, lcss
}

func TestEmbeddedLCRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lc := rapid.SliceOfN(rapid.Byte(), LC_BYTES, LC_BYTES).Draw(t, "lc")
		raw, lcss := joined(NewEmbeddedLC(lc))
		assert.Equal(t, []uint8{LCSS_FIRST, LCSS_CONTINUE, LCSS_CONTINUE, LCSS_LAST}, lcss)

		got, ok := DecodeEmbeddedLC(raw)
		require.True(t, ok)
		assert.Equal(t, lc, got)
	})
}

func TestEmbeddedLCSingleBitError(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lc := rapid.SliceOfN(rapid.Byte(), LC_BYTES, LC_BYTES).Draw(t, "lc")
		raw, _ := joined(NewEmbeddedLC(lc))
		codec.BitVector(raw).FlipBit(rapid.IntRange(0, 127).Draw(t, "bit"))

		// A flip is either corrected or rejected, never decoded as other data.
		if got, ok := DecodeEmbeddedLC(raw); ok {
			assert.Equal(t, lc, got)
		}
	})
}

func TestEmbeddedLCRejects(t *testing.T) {
	lc := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x09, 0x31, 0x2D, 0x6C}
	raw, _ := joined(NewEmbeddedLC(lc))

	t.Run("short", func(t *testing.T) {
		_, ok := DecodeEmbeddedLC(raw[:12])
		assert.False(t, ok)
	})

	t.Run("bad_index", func(t *testing.T) {
		f, lcss := NewEmbeddedLC(lc).Fragment(5)
		assert.Equal(t, [4]byte{}, f)
		assert.Equal(t, uint8(LCSS_SINGLE), lcss)
	})
}

func TestEmbeddedFragmentPlacement(t *testing.T) {
	burst := make([]byte, 33)
	frag := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	PutEmbeddedFragment(frag, burst)

	assert.Equal(t, [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, GetEmbeddedFragment(burst))
	// bits 116..147 start in the low nibble of byte 14
	assert.Equal(t, uint8(0x0D), burst[14])
	assert.Equal(t, uint8(0xF0), burst[18])
}
