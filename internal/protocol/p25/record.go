package p25

import (
	"bytes"
	"fmt"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// Network record types. LDU1 carries link control (ids) in 0x62..0x6A,
// LDU2 carries encryption sync in 0x6B..0x73.
const (
	REC_LDU1_START = 0x62
	REC_LDU1_LCF   = 0x64
	REC_LDU1_DST   = 0x65
	REC_LDU1_SRC   = 0x66
	REC_LDU1_END   = 0x6A
	REC_LDU2_START = 0x6B
	REC_LDU2_END   = 0x73
	REC_TERMINATOR = 0x80

	IMBE_LENGTH       = 11
	LDU_RECORDS       = 18
	TERMINATOR_LENGTH = 17

	LCF_GROUP   = 0x00
	LCF_PRIVATE = 0x03
)

type record struct {
	length int
	offset int // IMBE position
	tmpl   []byte
}

// Templates are the fixed parts of each record; the codec frame and ids are
// written over them.
var records = map[uint8]record{
	0x62: {22, 10, []byte{0x62, 0x02, 0x02, 0x0C, 0x0B, 0x12, 0x64, 0x00, 0x00, 0x80}},
	0x63: {14, 1, []byte{0x63, 13: 0x02}},
	0x64: {17, 5, []byte{0x64, 16: 0x02}},
	0x65: {17, 5, []byte{0x65, 16: 0x02}},
	0x66: {17, 5, []byte{0x66, 16: 0x02}},
	0x67: {17, 5, []byte{0x67, 0xF0, 0x9D, 0x6A, 16: 0x02}},
	0x68: {17, 5, []byte{0x68, 0x19, 0xD4, 0x26, 16: 0x02}},
	0x69: {17, 5, []byte{0x69, 0xE0, 0xEB, 0x7B, 16: 0x02}},
	0x6A: {16, 4, []byte{0x6A, 0x00, 0x00, 0x02}},
	0x6B: {22, 10, []byte{0x6B, 0x02, 0x02, 0x0C, 0x0B, 0x12, 0x64, 0x00, 0x00, 0x80}},
	0x6C: {14, 1, []byte{0x6C, 13: 0x02}},
	0x6D: {17, 5, []byte{0x6D, 16: 0x02}},
	0x6E: {17, 5, []byte{0x6E, 16: 0x02}},
	0x6F: {17, 5, []byte{0x6F, 16: 0x02}},
	0x70: {17, 5, []byte{0x70, 0x80, 16: 0x02}},
	0x71: {17, 5, []byte{0x71, 0xAC, 0xB8, 0xA4, 16: 0x02}},
	0x72: {17, 5, []byte{0x72, 0x9B, 0xDC, 0x75, 16: 0x02}},
	0x73: {16, 4, []byte{0x73, 0x00, 0x00, 0x02}},
}

// RecordType is the record sent at position step (0..17) of the LDU cycle.
func RecordType(step int) uint8 {
	if step < 9 {
		return uint8(REC_LDU1_START + step)
	}
	return uint8(REC_LDU2_START + step - 9)
}

// Record is one decoded voice record.
type Record struct {
	Type  uint8
	IMBE  []byte
	ID    uint32 // destination for 0x65, source for 0x66
	LCF   uint8  // link control format, 0x64 only
	Final bool   // terminator
}

func get24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func put24(b []byte, v uint32) {
	b[0], b[1], b[2] = uint8(v>>16), uint8(v>>8), uint8(v)
}

// ParseRecord decodes a voice or terminator record.
func ParseRecord(pkt []byte) (Record, error) {
	if len(pkt) == 0 {
		return Record{}, fmt.Errorf("p25: empty record: %w", protocol.ErrFraming)
	}
	r := Record{Type: pkt[0]}
	if r.Type == REC_TERMINATOR {
		r.Final = true
		return r, nil
	}
	rec, ok := records[r.Type]
	if !ok {
		return r, fmt.Errorf("p25: record %02X: %w", r.Type, protocol.ErrFraming)
	}
	if len(pkt) < rec.offset+IMBE_LENGTH {
		return r, fmt.Errorf("p25: record %02X: %d bytes: %w", r.Type, len(pkt), protocol.ErrFraming)
	}
	r.IMBE = bytes.Clone(pkt[rec.offset : rec.offset+IMBE_LENGTH])
	switch r.Type {
	case REC_LDU1_LCF:
		r.LCF = pkt[1]
	case REC_LDU1_DST, REC_LDU1_SRC:
		r.ID = get24(pkt[1:4])
	}
	return r, nil
}

// BuildRecord fills the template for step with imbe and the link control.
func BuildRecord(step int, imbe []byte, lcf uint8, src, dst uint32) []byte {
	typ := RecordType(step % LDU_RECORDS)
	rec := records[typ]
	out := make([]byte, rec.length)
	copy(out, rec.tmpl)
	copy(out[rec.offset:rec.offset+IMBE_LENGTH], imbe)
	switch typ {
	case REC_LDU1_LCF:
		out[1] = lcf
	case REC_LDU1_DST:
		put24(out[1:4], dst)
	case REC_LDU1_SRC:
		put24(out[1:4], src)
	}
	return out
}

// Terminator is the end of transmission record.
func Terminator() []byte {
	out := make([]byte, TERMINATOR_LENGTH)
	out[0] = REC_TERMINATOR
	return out
}
