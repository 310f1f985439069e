package session

import "encoding/binary"

// PCM_FRAME is one 20 ms vocoder frame at 8 kHz.
const PCM_FRAME = 160

// Vocoder converts between PCM and codec frames. The speech codecs
// themselves live outside this module.
type Vocoder interface {
	// Encode compresses PCM_FRAME samples into one codec frame.
	Encode(pcm []int16) []byte
	// Decode expands one codec frame into PCM_FRAME samples.
	Decode(frame []byte) []int16
}

// NullVocoder encodes everything as zero bytes and decodes to silence,
// for headless operation without a codec.
type NullVocoder struct {
	FrameBytes int
}

func (v NullVocoder) Encode(pcm []int16) []byte {
	return make([]byte, v.FrameBytes)
}

func (v NullVocoder) Decode(frame []byte) []int16 {
	return make([]int16, PCM_FRAME)
}

func pcmBytes(pcm []int16) []byte {
	out := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func pcmSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}
