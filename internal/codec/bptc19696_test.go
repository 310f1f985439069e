package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// burstBit maps a codeword bit index to its position in the 33-byte burst.
func burstBit(i int) int {
	switch {
	case i < 98:
		return i
	case i < 100:
		return 20*8 + 6 + (i - 98)
	default:
		return 21*8 + (i - 100)
	}
}

func TestBPTC19696RoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"zeros":       make([]byte, 12),
		"ones":        {0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		"sequential":  {0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF, 0xFE, 0xDC, 0xBA, 0x98},
		"alternating": {0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55, 0xAA, 0x55},
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			bptc := NewBPTC19696()
			burst := make([]byte, BPTC19696_BURST_BYTES)
			bptc.Encode(payload, burst)
			assert.Equal(t, payload, bptc.Decode(burst))
		})
	}
}

func TestBPTC19696CorrectsAnySingleFlip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 12, 12).Draw(t, "payload")
		bit := rapid.IntRange(0, BPTC19696_TOTAL_BITS-1).Draw(t, "bit")

		var bptc BPTC19696
		burst := make([]byte, BPTC19696_BURST_BYTES)
		bptc.Encode(payload, burst)
		BitVector(burst).FlipBit(burstBit(bit))

		assert.Equal(t, payload, bptc.Decode(burst))
	})
}

func TestBPTC19696EncodePreservesSlotAndSync(t *testing.T) {
	burst := make([]byte, BPTC19696_BURST_BYTES)
	burst[12] = 0x3F
	for i := 13; i < 20; i++ {
		burst[i] = 0xFF
	}
	burst[20] = 0xFC

	NewBPTC19696().Encode(make([]byte, 12), burst)

	assert.Equal(t, byte(0x3F), burst[12]&0x3F)
	for i := 13; i < 20; i++ {
		assert.Equal(t, byte(0xFF), burst[i], "byte %d", i)
	}
	assert.Equal(t, byte(0xFC), burst[20]&0xFC)
}

func TestBPTC19696ShortBurst(t *testing.T) {
	require.Nil(t, NewBPTC19696().Decode(make([]byte, 20)))
}
