package ysf

import (
	"bytes"
	"fmt"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// YSF frame constants
const (
	FRAME_LENGTH    = 120 // sync + FICH + payload, as sent over the air
	YSFD_LENGTH     = 155 // YSFD network packet
	YSFD_OFFSET     = 35  // frame offset inside YSFD
	FCS_LENGTH      = 130 // FCS network packet
	FCS_NAME_OFFSET = 121
	SYNC_LENGTH     = 5
	FICH_LENGTH     = 25
	DATA_OFFSET     = SYNC_LENGTH + FICH_LENGTH
	CALLSIGN_LENGTH = 10

	// A VD mode 2 frame carries five 18 byte sections: a 5 byte DCH
	// fragment followed by a 13 byte VCH.
	SECTIONS       = 5
	SECTION_LENGTH = 18
	VCH_LENGTH     = 7 // one codec frame, 49 bits used
	vchBits        = 104
)

// Frame indicator
const (
	FI_HEADER         = 0x00
	FI_COMMUNICATIONS = 0x01
	FI_TERMINATOR     = 0x02
	FI_TEST           = 0x03
)

// Data type
const (
	DT_VD_MODE1      = 0x00
	DT_DATA_FR_MODE  = 0x01
	DT_VD_MODE2      = 0x02
	DT_VOICE_FR_MODE = 0x03
)

// YSF sync pattern
var SYNC = []byte{0xD4, 0x71, 0xC9, 0x63, 0x4D}

var (
	ysfdMagic = []byte("YSFD")

	fichTable = codec.ExpandPairTable(codec.YSF_INTERLEAVE_5_20)
	dch1Table = codec.ExpandPairTable(codec.YSF_INTERLEAVE_9_20)
	dch2Table = fichTable
)

// FICH is the Frame Information CHannel that follows the sync.
type FICH struct {
	FI   uint8 // frame indicator
	CS   uint8 // callsign information
	CM   uint8 // call mode (0=group, 3=individual)
	BN   uint8 // block number
	BT   uint8 // block total
	FN   uint8 // frame number in the superframe
	FT   uint8 // frame total
	DT   uint8 // data type
	MR   uint8 // message route
	VoIP bool
	Dev  bool
	SQL  bool
	SQ   uint8 // squelch code
}

func (f *FICH) pack() []byte {
	b := make([]byte, 6)
	b[0] = (f.FI&0x03)<<6 | (f.CS&0x03)<<4 | (f.CM&0x03)<<2 | f.BN&0x03
	b[1] = (f.BT&0x03)<<6 | (f.FN&0x07)<<3 | f.FT&0x07
	b[2] = f.DT&0x03 | (f.MR&0x07)<<3
	if f.VoIP {
		b[2] |= 0x04
	}
	if f.Dev {
		b[2] |= 0x40
	}
	b[3] = f.SQ & 0x7F
	if f.SQL {
		b[3] |= 0x80
	}
	return b
}

func (f *FICH) unpack(b []byte) {
	f.FI = b[0] >> 6
	f.CS = (b[0] >> 4) & 0x03
	f.CM = (b[0] >> 2) & 0x03
	f.BN = b[0] & 0x03
	f.BT = b[1] >> 6
	f.FN = (b[1] >> 3) & 0x07
	f.FT = b[1] & 0x07
	f.DT = b[2] & 0x03
	f.MR = (b[2] >> 3) & 0x07
	f.VoIP = b[2]&0x04 != 0
	f.Dev = b[2]&0x40 != 0
	f.SQL = b[3]&0x80 != 0
	f.SQ = b[3] & 0x7F
}

// Encode writes the FICH into frame, which starts with the sync.
// 32 bits plus CCITT162 become four Golay(24,12) words, then 200
// convolved bits interleaved 5x20.
func (f *FICH) Encode(frame []byte) {
	b := f.pack()
	codec.AppendCCITT16(b, codec.CCITT162, codec.CRC_MASK_NONE)

	golay := make([]byte, 13)
	words := [4]uint32{
		uint32(b[0])<<4 | uint32(b[1])>>4,
		uint32(b[1]&0x0F)<<8 | uint32(b[2]),
		uint32(b[3])<<4 | uint32(b[4])>>4,
		uint32(b[4]&0x0F)<<8 | uint32(b[5]),
	}
	for i, w := range words {
		codec.EncodeGolay24128Bytes(w, golay[i*3:])
	}

	coded := codec.ConvEncode(golay, 96)
	codec.Interleave(frame, SYNC_LENGTH*8, coded, 0, fichTable)
}

// Decode reads the FICH from frame. It returns the number of corrected
// bits, and an error wrapping ErrCRCMismatch when the checksum fails.
func (f *FICH) Decode(frame []byte) (int, error) {
	if len(frame) < DATA_OFFSET {
		return 0, fmt.Errorf("fich: %d bytes: %w", len(frame), protocol.ErrFraming)
	}
	coded := make([]byte, FICH_LENGTH)
	codec.Deinterleave(coded, 0, frame, SYNC_LENGTH*8, fichTable)
	golay, metric := codec.ConvDecode(coded, 96)

	var words [4]uint32
	for i := range words {
		// The CRC decides; an uncorrectable word simply fails it.
		words[i], _ = codec.DecodeGolay24128Bytes(golay[i*3:])
	}
	b := []byte{
		uint8(words[0] >> 4),
		uint8(words[0]<<4) | uint8(words[1]>>8),
		uint8(words[1]),
		uint8(words[2] >> 4),
		uint8(words[2]<<4) | uint8(words[3]>>8),
		uint8(words[3]),
	}
	if !codec.VerifyCCITT16(b, codec.CCITT162, codec.CRC_MASK_NONE) {
		return int(metric / 2), fmt.Errorf("fich: %w", protocol.ErrCRCMismatch)
	}
	f.unpack(b)
	return int(metric / 2), nil
}

// String returns a human-readable representation of the FICH
func (f *FICH) String() string {
	frameTypes := []string{"Header", "Communications", "Terminator", "Test"}
	dataTypes := []string{"VD Mode 1", "Data", "VD Mode 2", "Voice FR"}
	return fmt.Sprintf("FICH{%s, %s, FN=%d/%d, CM=%d}",
		frameTypes[f.FI&0x03], dataTypes[f.DT&0x03], f.FN, f.FT, f.CM)
}

// gather pulls the blockLen byte pieces at blockOff of every section into
// one buffer.
func gather(frame []byte, blockOff, blockLen int) []byte {
	out := make([]byte, SECTIONS*blockLen)
	for i := 0; i < SECTIONS; i++ {
		p := DATA_OFFSET + i*SECTION_LENGTH + blockOff
		copy(out[i*blockLen:], frame[p:p+blockLen])
	}
	return out
}

func scatter(frame []byte, blockOff, blockLen int, in []byte) {
	for i := 0; i < SECTIONS; i++ {
		p := DATA_OFFSET + i*SECTION_LENGTH + blockOff
		copy(frame[p:p+blockLen], in[i*blockLen:])
	}
}

// decodeDCH recovers nBits of whitened, CRC protected data from a data
// channel and returns the payload without its CRC.
func decodeDCH(frame []byte, blockOff, blockLen int, table []int, nBits int) ([]byte, error) {
	raw := gather(frame, blockOff, blockLen)
	coded := make([]byte, len(raw))
	codec.Deinterleave(coded, 0, raw, 0, table)
	out, _ := codec.ConvDecode(coded, nBits)

	n := nBits / 8
	if !codec.VerifyCCITT16(out[:n], codec.CCITT162, codec.CRC_MASK_NONE) {
		return nil, fmt.Errorf("dch: %w", protocol.ErrCRCMismatch)
	}
	codec.Scramble(out[:n-2], codec.YSF_WHITENING, 0)
	return out[:n-2], nil
}

func encodeDCH(frame []byte, blockOff, blockLen int, table []int, nBits int, data []byte) {
	n := nBits / 8
	buf := make([]byte, n)
	copy(buf, data)
	codec.Scramble(buf[:n-2], codec.YSF_WHITENING, 0)
	codec.AppendCCITT16(buf, codec.CCITT162, codec.CRC_MASK_NONE)

	coded := codec.ConvEncode(buf, nBits)
	raw := make([]byte, SECTIONS*blockLen)
	codec.Interleave(raw, 0, coded, 0, table)
	scatter(frame, blockOff, blockLen, raw)
}

// DecodeHeaderCSD returns the first callsign data block of a header or
// terminator: destination then source, ten bytes each.
func DecodeHeaderCSD(frame []byte) (dst, src string, err error) {
	csd, err := decodeDCH(frame, 0, 9, dch1Table, 176)
	if err != nil {
		return "", "", err
	}
	return protocol.TrimCallsign(csd[:10]), protocol.TrimCallsign(csd[10:20]), nil
}

// EncodeHeaderCSD writes both callsign data blocks of a header.
func EncodeHeaderCSD(frame []byte, csd1, csd2 []byte) {
	encodeDCH(frame, 0, 9, dch1Table, 176, csd1)
	encodeDCH(frame, 9, 9, dch1Table, 176, csd2)
}

// DecodeVD2DCH returns the ten data bytes of a VD mode 2 frame.
func DecodeVD2DCH(frame []byte) ([]byte, error) {
	return decodeDCH(frame, 0, 5, dch2Table, 96)
}

// EncodeVD2DCH writes ten data bytes into a VD mode 2 frame.
func EncodeVD2DCH(frame []byte, data []byte) {
	encodeDCH(frame, 0, 5, dch2Table, 96, data)
}

// DecodeVCH extracts the five codec frames of a VD mode 2 frame, seven
// bytes each. The first 27 bits are sent three times; a majority vote
// picks each of them and the disagreements are returned as errors.
func DecodeVCH(frame []byte) ([]byte, int) {
	out := make([]byte, SECTIONS*VCH_LENGTH)
	errs := 0
	for j := 0; j < SECTIONS; j++ {
		buf := make([]byte, vchBits/8)
		off := (DATA_OFFSET + j*SECTION_LENGTH + 5) * 8
		codec.Deinterleave(buf, 0, frame, off, codec.YSF_INTERLEAVE_26_4)
		codec.Scramble(buf, codec.YSF_WHITENING, 0)

		in := codec.BitVector(buf)
		v := codec.BitVector(out[j*VCH_LENGTH : (j+1)*VCH_LENGTH])
		for i := 0; i < 27; i++ {
			n := 0
			for k := 0; k < 3; k++ {
				if in.Bit(3*i + k) {
					n++
				}
			}
			if n == 1 || n == 2 {
				errs++
			}
			v.SetBit(i, n >= 2)
		}
		for i := 0; i < 22; i++ {
			v.SetBit(27+i, in.Bit(81+i))
		}
	}
	return out, errs
}

// EncodeVCH writes five seven byte codec frames into a VD mode 2 frame.
func EncodeVCH(frame []byte, ambe []byte) {
	for j := 0; j < SECTIONS; j++ {
		a := codec.BitVector(ambe[j*VCH_LENGTH : (j+1)*VCH_LENGTH])
		buf := make([]byte, vchBits/8)
		v := codec.BitVector(buf)
		for i := 0; i < 27; i++ {
			for k := 0; k < 3; k++ {
				v.SetBit(3*i+k, a.Bit(i))
			}
		}
		for i := 0; i < 22; i++ {
			v.SetBit(81+i, a.Bit(27+i))
		}
		codec.Scramble(buf, codec.YSF_WHITENING, 0)
		off := (DATA_OFFSET + j*SECTION_LENGTH + 5) * 8
		codec.Interleave(frame, off, buf, 0, codec.YSF_INTERLEAVE_26_4)
	}
}

// NewFrame returns a 120 byte frame holding the sync and fich.
func NewFrame(fich FICH) []byte {
	frame := make([]byte, FRAME_LENGTH)
	copy(frame, SYNC)
	fich.Encode(frame)
	return frame
}

// HasSync reports whether frame starts with the YSF sync.
func HasSync(frame []byte) bool {
	return len(frame) >= SYNC_LENGTH && bytes.Equal(frame[:SYNC_LENGTH], SYNC)
}

// Packet is one YSFD or FCS network packet.
type Packet struct {
	Gateway string
	Src     string
	Dst     string
	Counter uint8 // 7 bit frame counter, YSFD only
	EOT     bool
	Frame   []byte // 120 bytes
}

// ParsePacket splits a network packet into its routing and its frame.
func ParsePacket(pkt []byte, fcs bool) (Packet, error) {
	var p Packet
	if fcs {
		if len(pkt) != FCS_LENGTH {
			return p, fmt.Errorf("fcs: %d bytes: %w", len(pkt), protocol.ErrFraming)
		}
		p.Gateway = protocol.TrimCallsign(pkt[FCS_NAME_OFFSET : FCS_NAME_OFFSET+8])
		p.Frame = bytes.Clone(pkt[:FRAME_LENGTH])
		return p, nil
	}
	if len(pkt) != YSFD_LENGTH || !bytes.Equal(pkt[:4], ysfdMagic) {
		return p, fmt.Errorf("ysfd: %d bytes: %w", len(pkt), protocol.ErrFraming)
	}
	p.Gateway = protocol.TrimCallsign(pkt[4:14])
	p.Src = protocol.TrimCallsign(pkt[14:24])
	p.Dst = protocol.TrimCallsign(pkt[24:34])
	p.Counter = pkt[34] >> 1
	p.EOT = pkt[34]&0x01 != 0
	p.Frame = bytes.Clone(pkt[YSFD_OFFSET:YSFD_LENGTH])
	return p, nil
}

// BuildYSFD wraps a frame in a YSFD packet.
func (p *Packet) BuildYSFD() []byte {
	out := make([]byte, YSFD_LENGTH)
	copy(out, ysfdMagic)
	copy(out[4:14], protocol.PadCallsign(p.Gateway, CALLSIGN_LENGTH))
	copy(out[14:24], protocol.PadCallsign(p.Src, CALLSIGN_LENGTH))
	copy(out[24:34], protocol.PadCallsign(p.Dst, CALLSIGN_LENGTH))
	out[34] = (p.Counter & 0x7F) << 1
	if p.EOT {
		out[34] |= 0x01
	}
	copy(out[YSFD_OFFSET:], p.Frame)
	return out
}

// BuildFCS wraps a frame in an FCS packet; Gateway is the room name.
func (p *Packet) BuildFCS() []byte {
	out := make([]byte, FCS_LENGTH)
	copy(out, p.Frame)
	copy(out[FCS_NAME_OFFSET:], protocol.PadCallsign(p.Gateway, 8))
	return out
}
