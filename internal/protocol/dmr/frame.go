package dmr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// DMR frame constants
const (
	DMR_FRAME_LENGTH  = 33 // one burst
	DMRD_LENGTH       = 55 // Homebrew DMRD packet
	DMRD_BURST_OFFSET = 20
	AMBE_LENGTH       = 9
	AMBE_PER_BURST    = 3
	VOICE_BURSTS      = 6 // bursts A..F of a superframe

	// FLCO (Full Link Control Opcode) values
	FLCO_GROUP     = 0x00
	FLCO_USER_USER = 0x03

	// Data types carried in the slot type
	DT_VOICE_PI_HEADER    = 0x00
	DT_VOICE_LC_HEADER    = 0x01
	DT_TERMINATOR_WITH_LC = 0x02
	DT_CSBK               = 0x03
	DT_DATA_HEADER        = 0x06
	DT_RATE_12_DATA       = 0x07
	DT_RATE_34_DATA       = 0x08
	DT_IDLE               = 0x09
	DT_RATE_1_DATA        = 0x0A

	// Color code range
	COLOR_CODE_MIN = 0
	COLOR_CODE_MAX = 15
)

// Frame types in bits 4-5 of the DMRD flags byte.
const (
	FT_VOICE      = 0x00
	FT_VOICE_SYNC = 0x01
	FT_DATA_SYNC  = 0x02
)

// DMRD flag bits.
const (
	FLAG_SLOT2   = 0x80
	FLAG_PRIVATE = 0x40
)

// Modem type byte bits that go in front of a burst.
const (
	MODEM_SYNC_DATA  = 0x40
	MODEM_SYNC_AUDIO = 0x20
)

// SyncType represents the type of DMR sync pattern
type SyncType int

const (
	SYNC_NONE SyncType = iota
	SYNC_VOICE
	SYNC_DATA
)

// DMR sync patterns, 48 bits at burst bit 108. Base station patterns are
// what a repeater transmits; mobile station patterns are what the network
// expects from a hotspot.
var (
	BS_VOICE_SYNC = []byte{0x75, 0x5F, 0xD7, 0xDF, 0x75, 0xF7}
	BS_DATA_SYNC  = []byte{0xDF, 0xF5, 0x7D, 0x75, 0xDF, 0x5D}
	MS_VOICE_SYNC = []byte{0x7F, 0x7D, 0x5D, 0xD5, 0x7D, 0xFD}
	MS_DATA_SYNC  = []byte{0xD5, 0xD7, 0xF7, 0x7F, 0xD7, 0x57}
)

const syncBit = 108

var dmrdMagic = []byte("DMRD")

// Data represents a Homebrew DMRD packet
type Data struct {
	Seq       uint8  // packet counter
	SrcID     uint32 // source radio ID (24-bit)
	DstID     uint32 // destination ID (24-bit)
	RptID     uint32 // repeater ID, essid included
	Slot      uint8  // 1 or 2
	Private   bool   // unit to unit call
	FrameType uint8  // FT_VOICE, FT_VOICE_SYNC or FT_DATA_SYNC
	DataType  uint8  // voice burst index or slot data type
	StreamID  uint32
	Burst     [DMR_FRAME_LENGTH]byte
	BER       uint8
	RSSI      uint8
}

// Parse parses a DMRD packet from raw bytes
func (d *Data) Parse(data []byte) error {
	if len(data) < DMRD_LENGTH || !bytes.Equal(data[:4], dmrdMagic) {
		return fmt.Errorf("dmrd: %d bytes: %w", len(data), protocol.ErrFraming)
	}

	d.Seq = data[4]
	d.SrcID = uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
	d.DstID = uint32(data[8])<<16 | uint32(data[9])<<8 | uint32(data[10])
	d.RptID = binary.BigEndian.Uint32(data[11:15])

	flags := data[15]
	d.Slot = 1
	if flags&FLAG_SLOT2 != 0 {
		d.Slot = 2
	}
	d.Private = flags&FLAG_PRIVATE != 0
	d.FrameType = (flags >> 4) & 0x03
	d.DataType = flags & 0x0F

	d.StreamID = binary.BigEndian.Uint32(data[16:20])
	copy(d.Burst[:], data[DMRD_BURST_OFFSET:DMRD_BURST_OFFSET+DMR_FRAME_LENGTH])
	d.BER = data[53]
	d.RSSI = data[54]
	return nil
}

// Build constructs a DMRD packet from the structure
func (d *Data) Build() []byte {
	out := make([]byte, DMRD_LENGTH)
	copy(out, dmrdMagic)
	out[4] = d.Seq
	out[5], out[6], out[7] = uint8(d.SrcID>>16), uint8(d.SrcID>>8), uint8(d.SrcID)
	out[8], out[9], out[10] = uint8(d.DstID>>16), uint8(d.DstID>>8), uint8(d.DstID)
	binary.BigEndian.PutUint32(out[11:], d.RptID)

	var flags uint8
	if d.Slot == 2 {
		flags |= FLAG_SLOT2
	}
	if d.Private {
		flags |= FLAG_PRIVATE
	}
	flags |= (d.FrameType & 0x03) << 4
	flags |= d.DataType & 0x0F
	out[15] = flags

	binary.BigEndian.PutUint32(out[16:], d.StreamID)
	copy(out[DMRD_BURST_OFFSET:], d.Burst[:])
	out[53] = d.BER
	out[54] = d.RSSI
	return out
}

// IsVoice returns true for bursts that carry AMBE
func (d *Data) IsVoice() bool {
	return d.FrameType == FT_VOICE || d.FrameType == FT_VOICE_SYNC
}

// IsHeader returns true if this is a voice LC header
func (d *Data) IsHeader() bool {
	return d.FrameType == FT_DATA_SYNC && d.DataType == DT_VOICE_LC_HEADER
}

// IsTerminator returns true if this is a terminator with LC
func (d *Data) IsTerminator() bool {
	return d.FrameType == FT_DATA_SYNC && d.DataType == DT_TERMINATOR_WITH_LC
}

// VoiceBurst is the position of a voice burst in its superframe, 0 for
// burst A (the one carrying sync).
func (d *Data) VoiceBurst() int {
	if d.FrameType == FT_VOICE_SYNC {
		return 0
	}
	return int(d.DataType)
}

// ModemType is the type byte the MMDVM expects in front of the burst.
func (d *Data) ModemType() uint8 {
	switch d.FrameType {
	case FT_DATA_SYNC:
		return MODEM_SYNC_DATA | d.DataType
	case FT_VOICE_SYNC:
		return MODEM_SYNC_AUDIO
	default:
		return d.DataType
	}
}

// String returns a human-readable representation of the DMR data
func (d *Data) String() string {
	callType := "Group"
	if d.Private {
		callType = "Private"
	}
	return fmt.Sprintf("DMR{Slot=%d, FT=%d, DT=%d, %s Call, Src=%d, Dst=%d, Seq=%d, Stream=%08X}",
		d.Slot, d.FrameType, d.DataType, callType, d.SrcID, d.DstID, d.Seq, d.StreamID)
}

// DecodeDMRD parses one DMRD packet.
func DecodeDMRD(pkt []byte) (Data, error) {
	var d Data
	err := d.Parse(pkt)
	return d, err
}

// LinkControl represents the 9-byte DMR link control
type LinkControl struct {
	FLCO    uint8  // opcode, low six bits of byte 0
	FID     uint8  // feature ID
	Options uint8  // service options
	DstID   uint32 // destination ID (24-bit)
	SrcID   uint32 // source radio ID (24-bit)
}

// Encode encodes the Link Control information into 9 bytes
func (lc *LinkControl) Encode() []byte {
	data := make([]byte, 9)
	data[0] = lc.FLCO & 0x3F
	data[1] = lc.FID
	data[2] = lc.Options
	data[3], data[4], data[5] = uint8(lc.DstID>>16), uint8(lc.DstID>>8), uint8(lc.DstID)
	data[6], data[7], data[8] = uint8(lc.SrcID>>16), uint8(lc.SrcID>>8), uint8(lc.SrcID)
	return data
}

// Decode decodes 9 bytes into the Link Control structure
func (lc *LinkControl) Decode(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("link control: %d bytes: %w", len(data), protocol.ErrFraming)
	}
	lc.FLCO = data[0] & 0x3F
	lc.FID = data[1]
	lc.Options = data[2]
	lc.DstID = uint32(data[3])<<16 | uint32(data[4])<<8 | uint32(data[5])
	lc.SrcID = uint32(data[6])<<16 | uint32(data[7])<<8 | uint32(data[8])
	return nil
}

// AddSync writes a 48-bit sync pattern into the middle of a burst.
func AddSync(burst []byte, pattern []byte) {
	v := codec.BitVector(burst)
	for i, b := range pattern {
		v.SetUint(syncBit+i*8, 8, uint32(b))
	}
}

// DetectSync detects the sync pattern in a burst
func DetectSync(burst []byte) SyncType {
	if len(burst) < DMR_FRAME_LENGTH {
		return SYNC_NONE
	}
	v := codec.BitVector(burst)
	var got [6]byte
	for i := range got {
		got[i] = uint8(v.Uint(syncBit+i*8, 8))
	}
	switch {
	case bytes.Equal(got[:], BS_VOICE_SYNC), bytes.Equal(got[:], MS_VOICE_SYNC):
		return SYNC_VOICE
	case bytes.Equal(got[:], BS_DATA_SYNC), bytes.Equal(got[:], MS_DATA_SYNC):
		return SYNC_DATA
	}
	return SYNC_NONE
}

// ExtractAMBE returns the three AMBE frames of a voice burst. They fill the
// 108 bits on either side of the sync/embedded field.
func ExtractAMBE(burst []byte) []byte {
	out := make([]byte, AMBE_LENGTH*AMBE_PER_BURST)
	copy(out, burst[:13])
	out[13] = burst[13]&0xF0 | burst[19]&0x0F
	copy(out[14:], burst[20:33])
	return out
}

// InsertAMBE places 27 codec bytes around the middle field of a burst.
func InsertAMBE(burst []byte, ambe []byte) {
	copy(burst[:13], ambe[:13])
	burst[13] = burst[13]&0x0F | ambe[13]&0xF0
	burst[19] = burst[19]&0xF0 | ambe[13]&0x0F
	copy(burst[20:33], ambe[14:27])
}
