package m17

import (
	"bytes"
	"fmt"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// Network stream packet: "M17 ", stream id, LSF without CRC, frame number,
// payload, CRC.
const (
	PACKET_LENGTH  = 54
	STREAM_OFFSET  = 4
	LSF_OFFSET     = 6
	FN_OFFSET      = 34
	PAYLOAD_OFFSET = 36
	CRC_OFFSET     = 52

	LSF_LENGTH     = 30 // with CRC
	META_LENGTH    = 14
	FN_LENGTH      = 2
	PAYLOAD_LENGTH = 16
	CODEC_LENGTH   = 8

	// Frame number bit marking the last frame of a stream.
	FN_EOT = 0x8000
)

// LSF TYPE field
const (
	TYPE_STREAM = 0x0001

	DATA_TYPE_MASK       = 0x0006
	DATA_TYPE_DATA       = 0x0002
	DATA_TYPE_VOICE      = 0x0004 // 3200 bps voice
	DATA_TYPE_VOICE_DATA = 0x0006 // 1600 bps voice + data

	CAN_SHIFT = 7
	CAN_MASK  = 0x0F
)

// CodecMode selects the Codec2 rate carried in stream frames.
type CodecMode int

const (
	MODE_3200 CodecMode = iota
	MODE_1600
)

func (m CodecMode) String() string {
	if m == MODE_1600 {
		return "1600"
	}
	return "3200"
}

// Quiet frames sent with the end of stream.
var (
	QUIET_3200 = []byte{0x00, 0x01, 0x43, 0x09, 0xE4, 0x9C, 0x08, 0x21}
	QUIET_1600 = []byte{0x01, 0x00, 0x04, 0x00, 0x25, 0x75, 0xDD, 0xF2}
)

var packetMagic = []byte("M17 ")

// LSF is the link setup frame.
type LSF struct {
	Dst  string
	Src  string
	Type uint16
	Meta [META_LENGTH]byte
}

// StreamType returns the TYPE field of a voice stream.
func StreamType(mode CodecMode, can uint8) uint16 {
	t := uint16(TYPE_STREAM) | uint16(can&CAN_MASK)<<CAN_SHIFT
	if mode == MODE_1600 {
		return t | DATA_TYPE_VOICE_DATA
	}
	return t | DATA_TYPE_VOICE
}

// Mode reports the codec rate announced by the TYPE field.
func (l LSF) Mode() CodecMode {
	if l.Type&DATA_TYPE_MASK == DATA_TYPE_VOICE {
		return MODE_3200
	}
	return MODE_1600
}

// CAN is the channel access number.
func (l LSF) CAN() uint8 {
	return uint8(l.Type>>CAN_SHIFT) & CAN_MASK
}

// Encode returns the 30 byte LSF with its CRC.
func (l LSF) Encode() []byte {
	out := make([]byte, LSF_LENGTH)
	copy(out[0:6], EncodeCallsign(l.Dst))
	copy(out[6:12], EncodeCallsign(l.Src))
	out[12], out[13] = uint8(l.Type>>8), uint8(l.Type)
	copy(out[14:28], l.Meta[:])
	codec.AppendM17CRC(out)
	return out
}

// ParseLSF reads the first 28 bytes of an LSF without checking a CRC.
func ParseLSF(in []byte) (LSF, error) {
	var l LSF
	if len(in) < LSF_LENGTH-2 {
		return l, fmt.Errorf("lsf: %d bytes: %w", len(in), protocol.ErrFraming)
	}
	var err error
	if l.Dst, err = DecodeCallsign(in[0:6]); err != nil {
		return l, err
	}
	if l.Src, err = DecodeCallsign(in[6:12]); err != nil {
		return l, err
	}
	l.Type = uint16(in[12])<<8 | uint16(in[13])
	copy(l.Meta[:], in[14:28])
	return l, nil
}

// DecodeLSF checks the CRC of a 30 byte LSF and parses it.
func DecodeLSF(in []byte) (LSF, error) {
	if len(in) < LSF_LENGTH {
		return LSF{}, fmt.Errorf("lsf: %d bytes: %w", len(in), protocol.ErrFraming)
	}
	if !codec.VerifyM17CRC(in[:LSF_LENGTH]) {
		return LSF{}, fmt.Errorf("lsf: %w", protocol.ErrCRCMismatch)
	}
	return ParseLSF(in)
}

// Packet is one network stream packet.
type Packet struct {
	StreamID uint16
	LSF      LSF
	FN       uint16
	Payload  []byte
}

// EOT reports whether this is the last packet of the stream.
func (p Packet) EOT() bool {
	return p.FN&FN_EOT != 0
}

// ParsePacket splits a 54 byte stream packet. The trailing CRC is not
// checked; reflectors fill it inconsistently.
func ParsePacket(pkt []byte) (Packet, error) {
	if len(pkt) != PACKET_LENGTH || !bytes.Equal(pkt[:4], packetMagic) {
		return Packet{}, fmt.Errorf("m17 packet: %d bytes: %w", len(pkt), protocol.ErrFraming)
	}
	l, err := ParseLSF(pkt[LSF_OFFSET:FN_OFFSET])
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		StreamID: uint16(pkt[4])<<8 | uint16(pkt[5]),
		LSF:      l,
		FN:       uint16(pkt[FN_OFFSET])<<8 | uint16(pkt[FN_OFFSET+1]),
		Payload:  bytes.Clone(pkt[PAYLOAD_OFFSET:CRC_OFFSET]),
	}, nil
}

// Build assembles the packet. The CRC field holds the CRC of the LSF part,
// as gateways send it.
func (p Packet) Build() []byte {
	out := make([]byte, PACKET_LENGTH)
	copy(out, packetMagic)
	out[4], out[5] = uint8(p.StreamID>>8), uint8(p.StreamID)
	lsf := p.LSF.Encode()
	copy(out[LSF_OFFSET:FN_OFFSET], lsf[:LSF_LENGTH-2])
	out[FN_OFFSET], out[FN_OFFSET+1] = uint8(p.FN>>8), uint8(p.FN)
	copy(out[PAYLOAD_OFFSET:CRC_OFFSET], p.Payload)
	copy(out[CRC_OFFSET:], lsf[LSF_LENGTH-2:])
	return out
}
