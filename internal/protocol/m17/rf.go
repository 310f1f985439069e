package m17

import (
	"bytes"
	"fmt"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// RF frame layout
const (
	RF_FRAME_LENGTH = 48
	SYNC_LENGTH     = 2

	LSF_BITS        = 240
	lsfCodedBits    = 2 * (LSF_BITS + codec.CONV_TAIL_BITS)
	lsfErasures     = lsfCodedBits - 368
	STREAM_BITS     = 144 // frame number + payload
	streamCodedBits = 2 * (STREAM_BITS + codec.CONV_TAIL_BITS)
	streamErasures  = streamCodedBits - 272

	LICH_OFFSET        = SYNC_LENGTH
	LICH_FEC_LENGTH    = 12
	LICH_LENGTH        = 6
	LICH_FRAGMENTS     = 6
	LSF_FRAG_LENGTH    = 5
	STREAM_DATA_OFFSET = LICH_OFFSET + LICH_FEC_LENGTH
)

var (
	LSF_SYNC    = []byte{0x55, 0xF7}
	STREAM_SYNC = []byte{0xFF, 0x5D}
	EOT_SYNC    = []byte{0x55, 0x5D}
)

// finishRF interleaves and decorrelates everything after the sync word.
func finishRF(sync []byte, body []byte) []byte {
	out := make([]byte, RF_FRAME_LENGTH)
	copy(out, sync)
	codec.Interleave(out, SYNC_LENGTH*8, body, SYNC_LENGTH*8, codec.M17_INTERLEAVE)
	codec.Scramble(out, codec.M17_SCRAMBLER, SYNC_LENGTH)
	return out
}

// openRF reverses finishRF.
func openRF(frame []byte) []byte {
	in := bytes.Clone(frame[:RF_FRAME_LENGTH])
	codec.Scramble(in, codec.M17_SCRAMBLER, SYNC_LENGTH)
	out := make([]byte, RF_FRAME_LENGTH)
	copy(out, in[:SYNC_LENGTH])
	codec.Deinterleave(out, SYNC_LENGTH*8, in, SYNC_LENGTH*8, codec.M17_INTERLEAVE)
	return out
}

func bitErrors(metric uint16, erasures int) int {
	e := (int(metric) - erasures) / 2
	if e < 0 {
		return 0
	}
	return e
}

// EncodeLSFFrame returns the link setup RF frame for a 30 byte LSF.
func EncodeLSFFrame(lsf []byte) []byte {
	body := make([]byte, RF_FRAME_LENGTH)
	coded := codec.ConvEncode(lsf, LSF_BITS)
	punct, _ := codec.Puncture(coded, lsfCodedBits, codec.M17_PUNCTURE_P1)
	copy(body[SYNC_LENGTH:], punct)
	return finishRF(LSF_SYNC, body)
}

// DecodeLSFFrame recovers the LSF from a link setup RF frame and reports
// the corrected bit count. The CRC is checked by DecodeLSF.
func DecodeLSFFrame(frame []byte) ([]byte, int, error) {
	if len(frame) < RF_FRAME_LENGTH || !bytes.Equal(frame[:SYNC_LENGTH], LSF_SYNC) {
		return nil, 0, fmt.Errorf("m17 lsf frame: %w", protocol.ErrFraming)
	}
	body := openRF(frame)
	symbols := codec.Depuncture(body[SYNC_LENGTH:], lsfCodedBits, codec.M17_PUNCTURE_P1)
	lsf, metric := codec.ConvDecodeSoft(symbols, LSF_BITS)
	return lsf, bitErrors(metric, lsfErasures), nil
}

// LICHFragment returns LICH n: five LSF bytes and the fragment counter.
func LICHFragment(lsf []byte, n int) []byte {
	out := make([]byte, LICH_LENGTH)
	copy(out, lsf[n*LSF_FRAG_LENGTH:(n+1)*LSF_FRAG_LENGTH])
	out[5] = uint8(n&0x07) << 5
	return out
}

// EncodeStreamFrame returns the stream RF frame carrying lich and the 18
// byte frame number and payload.
func EncodeStreamFrame(lich []byte, data []byte) []byte {
	body := make([]byte, RF_FRAME_LENGTH)
	v := codec.BitVector(lich)
	for i := 0; i < 4; i++ {
		codec.EncodeGolay24128Bytes(v.Uint(i*12, 12), body[LICH_OFFSET+i*3:])
	}
	coded := codec.ConvEncode(data, STREAM_BITS)
	punct, _ := codec.Puncture(coded, streamCodedBits, codec.M17_PUNCTURE_P2)
	copy(body[STREAM_DATA_OFFSET:], punct)
	return finishRF(STREAM_SYNC, body)
}

// StreamFrame is a decoded stream RF frame.
type StreamFrame struct {
	LICH    []byte // nil when a Golay word was uncorrectable
	FN      uint16
	Payload []byte
	Errors  int
}

// Fragment is the LSF position carried in the LICH.
func (s StreamFrame) Fragment() int {
	return int(s.LICH[5] >> 5)
}

// DecodeStreamFrame decodes a stream RF frame.
func DecodeStreamFrame(frame []byte) (StreamFrame, error) {
	var s StreamFrame
	if len(frame) < RF_FRAME_LENGTH || !bytes.Equal(frame[:SYNC_LENGTH], STREAM_SYNC) {
		return s, fmt.Errorf("m17 stream frame: %w", protocol.ErrFraming)
	}
	body := openRF(frame)

	lich := make([]byte, LICH_LENGTH)
	v := codec.BitVector(lich)
	s.LICH = lich
	for i := 0; i < 4; i++ {
		word, err := codec.DecodeGolay24128Bytes(body[LICH_OFFSET+i*3:])
		if err != nil {
			s.LICH = nil
			break
		}
		v.SetUint(i*12, 12, word)
	}

	symbols := codec.Depuncture(body[STREAM_DATA_OFFSET:], streamCodedBits, codec.M17_PUNCTURE_P2)
	data, metric := codec.ConvDecodeSoft(symbols, STREAM_BITS)
	s.FN = uint16(data[0])<<8 | uint16(data[1])
	s.Payload = bytes.Clone(data[FN_LENGTH:])
	s.Errors = bitErrors(metric, streamErasures)
	return s, nil
}

// EOTFrame is the end of transmission marker, the EOT sync repeated.
func EOTFrame() []byte {
	return bytes.Repeat(EOT_SYNC, RF_FRAME_LENGTH/SYNC_LENGTH)
}

// NewLSFAssembler collects LSF fragments from stream LICHs and releases
// the LSF once its CRC checks.
func NewLSFAssembler() *protocol.Reassembler {
	return protocol.NewReassembler(LICH_FRAGMENTS, LSF_FRAG_LENGTH, func(buf []byte) ([]byte, error) {
		if !codec.VerifyM17CRC(buf) {
			return nil, fmt.Errorf("lsf fragments: %w", protocol.ErrCRCMismatch)
		}
		return bytes.Clone(buf), nil
	})
}
