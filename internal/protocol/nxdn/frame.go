package nxdn

import (
	"bytes"
	"fmt"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// NXDN frame constants
const (
	PACKET_LENGTH  = 43 // NXDND packet
	LICH_OFFSET    = 10
	SACCH_OFFSET   = 11
	SACCH_LENGTH   = 4
	PAYLOAD_OFFSET = 15
	LAYER3_LENGTH  = 14
	AMBE_LENGTH    = 7 // 49 bits used
	AMBE_PER_FRAME = 4
	ambeBits       = 49

	// SACCH: 2 bit structure, 6 bit RAN, 18 data bits, CRC-6.
	SACCH_DATA_BITS = 18
	SACCH_FRAGMENTS = 4
	sacchCRCBits    = 26
)

// LICH fields
const (
	LICH_RFCT_RDCH = 2

	LICH_USC_SACCH_NS = 0 // non-superframe SACCH: header and terminator
	LICH_USC_UDCH     = 1
	LICH_USC_SACCH_SS = 2 // superframe SACCH: voice

	LICH_STEAL_FACCH = 0
	LICH_STEAL_NONE  = 3

	LICH_DIRECTION_INBOUND  = 0
	LICH_DIRECTION_OUTBOUND = 1
)

// Layer 3 message types
const (
	MESSAGE_TYPE_VCALL  = 0x01
	MESSAGE_TYPE_TX_REL = 0x08
	MESSAGE_TYPE_IDLE   = 0x10
)

// Flag bits in byte 9 of an NXDND packet.
const (
	FLAG_VOICE = 0x01
	FLAG_DATA  = 0x02
	FLAG_VCALL = 0x04
	FLAG_EOT   = 0x08
)

const DEFAULT_RAN = 0x01

var nxdndMagic = []byte("NXDND")

// LICH is the link information channel byte.
type LICH struct {
	RFCT      uint8
	FCT       uint8
	Option    uint8
	Direction uint8
}

func lichParity(b uint8) bool {
	switch b & 0xF0 {
	case 0x80, 0xB0:
		return true
	}
	return false
}

// Encode packs the LICH and sets its parity bit.
func (l LICH) Encode() uint8 {
	b := (l.RFCT&0x03)<<6 | (l.FCT&0x03)<<4 | (l.Option&0x03)<<2 | (l.Direction&0x01)<<1
	if lichParity(b) {
		b |= 0x01
	}
	return b
}

// DecodeLICH unpacks b. A parity mismatch is reported with the fields
// still decoded, so the caller can decide what the frame was meant to be.
func DecodeLICH(b uint8) (LICH, error) {
	l := LICH{
		RFCT:      b >> 6,
		FCT:       (b >> 4) & 0x03,
		Option:    (b >> 2) & 0x03,
		Direction: (b >> 1) & 0x01,
	}
	if lichParity(b) != (b&0x01 != 0) {
		return l, fmt.Errorf("lich %02X: %w", b, protocol.ErrCRCMismatch)
	}
	return l, nil
}

// SACCH is the slow associated control channel.
type SACCH struct {
	Structure uint8 // 3,2,1,0 for fragments 1..4 of a superframe
	RAN       uint8
	Data      [3]byte // 18 bits, MSB first
}

// Encode returns the four SACCH bytes with CRC-6.
func (s SACCH) Encode() []byte {
	out := make([]byte, SACCH_LENGTH)
	out[0] = (s.Structure&0x03)<<6 | s.RAN&0x3F
	v := codec.BitVector(out)
	d := codec.BitVector(s.Data[:])
	for i := 0; i < SACCH_DATA_BITS; i++ {
		v.SetBit(8+i, d.Bit(i))
	}
	codec.AppendCRC6(out, sacchCRCBits)
	return out
}

// DecodeSACCH checks the CRC and unpacks four SACCH bytes.
func DecodeSACCH(in []byte) (SACCH, error) {
	var s SACCH
	if len(in) < SACCH_LENGTH {
		return s, fmt.Errorf("sacch: %d bytes: %w", len(in), protocol.ErrFraming)
	}
	if !codec.VerifyCRC6(in, sacchCRCBits) {
		return s, fmt.Errorf("sacch: %w", protocol.ErrCRCMismatch)
	}
	s.Structure = in[0] >> 6
	s.RAN = in[0] & 0x3F
	v := codec.BitVector(in)
	d := codec.BitVector(s.Data[:])
	for i := 0; i < SACCH_DATA_BITS; i++ {
		d.SetBit(i, v.Bit(8+i))
	}
	return s, nil
}

// Fragment is the position of this SACCH in the layer 3 message.
func (s SACCH) Fragment() int {
	return SACCH_FRAGMENTS - 1 - int(s.Structure)
}

// Layer3 is the call control message spread over the SACCH superframe and
// repeated in headers and terminators.
type Layer3 struct {
	MessageType uint8
	Group       bool
	SrcID       uint16
	DstID       uint16
	Blocks      uint8
}

// Encode returns the 14 byte layer 3 block.
func (l Layer3) Encode() []byte {
	out := make([]byte, LAYER3_LENGTH)
	out[0] = l.MessageType & 0x3F
	if l.Group {
		out[2] = 0x20
	}
	out[3], out[4] = uint8(l.SrcID>>8), uint8(l.SrcID)
	out[5], out[6] = uint8(l.DstID>>8), uint8(l.DstID)
	out[8] = l.Blocks & 0x0F
	return out
}

// DecodeLayer3 reads the first nine bytes of a layer 3 block.
func DecodeLayer3(in []byte) (Layer3, error) {
	if len(in) < 9 {
		return Layer3{}, fmt.Errorf("layer3: %d bytes: %w", len(in), protocol.ErrFraming)
	}
	return Layer3{
		MessageType: in[0] & 0x3F,
		Group:       in[2]&0x20 != 0,
		SrcID:       uint16(in[3])<<8 | uint16(in[4]),
		DstID:       uint16(in[5])<<8 | uint16(in[6]),
		Blocks:      in[8] & 0x0F,
	}, nil
}

// Layer3Fragment returns the 18 bits of l carried by SACCH fragment n.
func Layer3Fragment(l Layer3, n int) [3]byte {
	var out [3]byte
	src := codec.BitVector(l.Encode())
	dst := codec.BitVector(out[:])
	for i := 0; i < SACCH_DATA_BITS; i++ {
		dst.SetBit(i, src.Bit(n*SACCH_DATA_BITS+i))
	}
	return out
}

// joinLayer3 packs four 18 bit fragments, three bytes each, into nine
// layer 3 bytes.
func joinLayer3(frags []byte) ([]byte, error) {
	out := make([]byte, 9)
	dst := codec.BitVector(out)
	for n := 0; n < SACCH_FRAGMENTS; n++ {
		src := codec.BitVector(frags[n*3 : n*3+3])
		for i := 0; i < SACCH_DATA_BITS; i++ {
			dst.SetBit(n*SACCH_DATA_BITS+i, src.Bit(i))
		}
	}
	return out, nil
}

// Packet is one NXDND network packet.
type Packet struct {
	SrcID   uint16
	DstID   uint16
	Flags   uint8
	LICH    uint8
	SACCH   []byte // 4 bytes
	Payload []byte // 28 bytes: four codec frames or two layer 3 copies
}

// ParsePacket splits an NXDND packet.
func ParsePacket(pkt []byte) (Packet, error) {
	if len(pkt) != PACKET_LENGTH || !bytes.Equal(pkt[:5], nxdndMagic) {
		return Packet{}, fmt.Errorf("nxdnd: %d bytes: %w", len(pkt), protocol.ErrFraming)
	}
	return Packet{
		SrcID:   uint16(pkt[5])<<8 | uint16(pkt[6]),
		DstID:   uint16(pkt[7])<<8 | uint16(pkt[8]),
		Flags:   pkt[9],
		LICH:    pkt[LICH_OFFSET],
		SACCH:   bytes.Clone(pkt[SACCH_OFFSET:PAYLOAD_OFFSET]),
		Payload: bytes.Clone(pkt[PAYLOAD_OFFSET:]),
	}, nil
}

// Build assembles the packet. The VCALL and EOT flags are derived from
// the LICH and payload as gateways expect them.
func (p *Packet) Build() []byte {
	out := make([]byte, PACKET_LENGTH)
	copy(out, nxdndMagic)
	out[5], out[6] = uint8(p.SrcID>>8), uint8(p.SrcID)
	out[7], out[8] = uint8(p.DstID>>8), uint8(p.DstID)
	out[LICH_OFFSET] = p.LICH
	copy(out[SACCH_OFFSET:], p.SACCH)
	copy(out[PAYLOAD_OFFSET:], p.Payload)

	flags := p.Flags | FLAG_VOICE
	switch {
	case p.LICH == 0x81 || p.LICH == 0x83:
		if out[15] == MESSAGE_TYPE_VCALL {
			flags |= FLAG_VCALL
		}
		if out[15] == MESSAGE_TYPE_TX_REL {
			flags |= FLAG_EOT
		}
	case p.LICH&0xF0 == 0x90:
		flags |= FLAG_DATA
		switch p.LICH {
		case 0x90, 0x92, 0x9C, 0x9E:
			if out[12] == 0x09 {
				flags |= FLAG_VCALL
			}
			if out[12] == 0x08 {
				flags |= FLAG_EOT
			}
		}
	}
	out[9] = flags
	return out
}

func ambeOffset(i int) int {
	return PAYLOAD_OFFSET*8 + (i/2)*LAYER3_LENGTH*8 + (i%2)*ambeBits
}

// ExtractAMBE returns the four codec frames of a voice packet. Frames two
// and four start one bit into their first byte.
func ExtractAMBE(pkt []byte) []byte {
	out := make([]byte, AMBE_PER_FRAME*AMBE_LENGTH)
	src := codec.BitVector(pkt)
	for i := 0; i < AMBE_PER_FRAME; i++ {
		dst := codec.BitVector(out[i*AMBE_LENGTH:])
		off := ambeOffset(i)
		for b := 0; b < ambeBits; b++ {
			dst.SetBit(b, src.Bit(off+b))
		}
	}
	return out
}

// InsertAMBE places four codec frames into a packet.
func InsertAMBE(pkt []byte, ambe []byte) {
	dst := codec.BitVector(pkt)
	for i := 0; i < AMBE_PER_FRAME; i++ {
		src := codec.BitVector(ambe[i*AMBE_LENGTH:])
		off := ambeOffset(i)
		for b := 0; b < ambeBits; b++ {
			dst.SetBit(off+b, src.Bit(b))
		}
	}
}
