// Package modem frames traffic for an MMDVM compatible modem: every frame
// is 0xE0, a length byte that counts the whole frame, a type byte and the
// payload.
package modem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const FRAME_START = 0xE0

// Frame types.
const (
	GET_VERSION = 0x00
	GET_STATUS  = 0x01
	SET_CONFIG  = 0x02
	SET_MODE    = 0x03
	SET_FREQ    = 0x04

	DSTAR_HEADER = 0x10
	DSTAR_DATA   = 0x11
	DSTAR_LOST   = 0x12
	DSTAR_EOT    = 0x13

	DMR_DATA1   = 0x18
	DMR_LOST1   = 0x19
	DMR_DATA2   = 0x1A
	DMR_LOST2   = 0x1B
	DMR_SHORTLC = 0x1C
	DMR_START   = 0x1D
	DMR_ABORT   = 0x1E

	YSF_DATA = 0x20
	YSF_LOST = 0x21

	P25_HDR  = 0x30
	P25_LDU  = 0x31
	P25_LOST = 0x32

	NXDN_DATA = 0x40
	NXDN_LOST = 0x41

	M17_LINK_SETUP = 0x45
	M17_STREAM     = 0x46
	M17_PACKET     = 0x47
	M17_LOST       = 0x48
	M17_EOT        = 0x49

	ACK = 0x70
	NAK = 0x7F
)

// Modes for SET_MODE.
const (
	MODE_IDLE  = 0
	MODE_DSTAR = 1
	MODE_DMR   = 2
	MODE_YSF   = 3
	MODE_P25   = 4
	MODE_NXDN  = 5
	MODE_M17   = 7
)

const (
	headerLength = 3
	maxFrame     = 255
)

var (
	ErrNoStart  = errors.New("missing frame start")
	ErrTooLarge = errors.New("frame too large")
	ErrShort    = errors.New("short frame")
)

// Encode wraps payload in an envelope of the given type.
func Encode(typ byte, payload []byte) ([]byte, error) {
	n := headerLength + len(payload)
	if n > maxFrame {
		return nil, fmt.Errorf("encode type 0x%02X: %w", typ, ErrTooLarge)
	}
	out := make([]byte, 0, n)
	out = append(out, FRAME_START, byte(n), typ)
	return append(out, payload...), nil
}

// MustEncode is Encode for callers with fixed, known-small payloads.
func MustEncode(typ byte, payload []byte) []byte {
	out, err := Encode(typ, payload)
	if err != nil {
		panic(err)
	}
	return out
}

// Decode splits one complete envelope into its type and payload.
func Decode(frame []byte) (byte, []byte, error) {
	if len(frame) < headerLength {
		return 0, nil, ErrShort
	}
	if frame[0] != FRAME_START {
		return 0, nil, ErrNoStart
	}
	n := int(frame[1])
	if n < headerLength || len(frame) < n {
		return 0, nil, fmt.Errorf("length %d of %d: %w", n, len(frame), ErrShort)
	}
	return frame[2], frame[headerLength:n], nil
}

// Reader pulls envelopes from a byte stream, skipping anything that does
// not start with FRAME_START.
type Reader struct {
	r       *bufio.Reader
	skipped int
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame blocks until a whole frame has arrived.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != FRAME_START {
			r.skipped++
			continue
		}
		n, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if n < headerLength {
			r.skipped += 2
			continue
		}
		frame := make([]byte, n)
		frame[0], frame[1] = FRAME_START, n
		if _, err := io.ReadFull(r.r, frame[2:]); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

// Skipped is the number of bytes discarded while resynchronising.
func (r *Reader) Skipped() int {
	return r.skipped
}
