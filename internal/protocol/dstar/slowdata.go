package dstar

import (
	"strings"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// Slow data rides in the last three bytes of every voice frame. Frame 0 of
// a superframe carries the sync pattern; the rest are scrambled. A 20
// character message is sent as four blocks of five characters, each block
// spread over an odd frame (header byte 0x40+k and two characters) and the
// even frame after it (three characters).
var (
	SLOW_DATA_SYNC     = [SLOW_DATA_LENGTH]byte{0x55, 0x2D, 0x16}
	SLOW_DATA_SCRAMBLE = [SLOW_DATA_LENGTH]byte{0x70, 0x4F, 0x93}
	SLOW_DATA_FILLER   = [SLOW_DATA_LENGTH]byte{0x16, 0x29, 0xF5}
	SLOW_DATA_END      = [SLOW_DATA_LENGTH]byte{0x55, 0x55, 0x55}
)

const (
	MESSAGE_LENGTH   = 20
	messageBlocks    = 4
	messageBlockSize = 5
	messageHeader    = 0x40
)

func scramble(b [SLOW_DATA_LENGTH]byte) [SLOW_DATA_LENGTH]byte {
	for i := range b {
		b[i] ^= SLOW_DATA_SCRAMBLE[i]
	}
	return b
}

// EncodeSlowData returns the slow data bytes for frame seq (0..20) of a
// superframe carrying text.
func EncodeSlowData(seq int, text string) [SLOW_DATA_LENGTH]byte {
	if seq == 0 {
		return SLOW_DATA_SYNC
	}
	if seq > 2*messageBlocks {
		return SLOW_DATA_FILLER
	}
	msg := make([]byte, MESSAGE_LENGTH)
	n := copy(msg, text)
	copy(msg[n:], strings.Repeat(" ", MESSAGE_LENGTH-n))
	k := (seq - 1) / 2
	block := msg[k*messageBlockSize : (k+1)*messageBlockSize]

	var b [SLOW_DATA_LENGTH]byte
	if seq%2 == 1 {
		b = [SLOW_DATA_LENGTH]byte{messageHeader + byte(k), block[0], block[1]}
	} else {
		b = [SLOW_DATA_LENGTH]byte{block[2], block[3], block[4]}
	}
	return scramble(b)
}

// SlowDataDecoder recovers the text message from a stream of voice frames.
type SlowDataDecoder struct {
	synced  bool
	block   int
	partial [2]byte
	text    *protocol.Reassembler
}

// NewSlowDataDecoder returns a decoder waiting for a sync frame.
func NewSlowDataDecoder() *SlowDataDecoder {
	return &SlowDataDecoder{
		block: -1,
		text: protocol.NewReassembler(messageBlocks, messageBlockSize, func(b []byte) ([]byte, error) {
			return []byte(strings.TrimRight(string(b), " \x00")), nil
		}),
	}
}

// Add feeds the slow data of frame seq and returns the message once all
// four blocks have arrived.
func (d *SlowDataDecoder) Add(seq byte, slow []byte) (string, bool) {
	if len(slow) < SLOW_DATA_LENGTH {
		return "", false
	}
	var raw [SLOW_DATA_LENGTH]byte
	copy(raw[:], slow)

	if seq&0x1F == 0 {
		if raw == SLOW_DATA_SYNC {
			d.synced = true
			d.block = -1
		}
		return "", false
	}
	if !d.synced {
		return "", false
	}

	b := scramble(raw)
	if d.block < 0 {
		if b[0]&0xF0 == messageHeader && int(b[0]&0x0F) < messageBlocks {
			d.block = int(b[0] & 0x0F)
			d.partial = [2]byte{b[1], b[2]}
		}
		return "", false
	}

	frag := []byte{d.partial[0], d.partial[1], b[0], b[1], b[2]}
	k := d.block
	d.block = -1
	msg, err := d.text.Add(k, frag)
	if err != nil || msg == nil {
		return "", false
	}
	return string(msg), true
}

// Reset forgets everything collected for the current stream.
func (d *SlowDataDecoder) Reset() {
	d.synced = false
	d.block = -1
	d.text.Reset()
}
