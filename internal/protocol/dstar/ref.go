package dstar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// DPlus packet sizes.
const (
	REF_HEADER_LENGTH = 58
	REF_VOICE_LENGTH  = 29
	REF_EOT_LENGTH    = 32
	REF_LOGIN_LENGTH  = 28
	REF_REPLY_LENGTH  = 8
)

var refMagic = []byte{0x80, 'D', 'S', 'V', 'T'}

// REF is a DPlus reflector link.
type REF struct {
	link
	serial func() int
}

// NewREF returns a REF backend for st.
func NewREF(st protocol.Station) *REF {
	return &REF{
		link:   newLink(protocol.KIND_REF, st),
		serial: func() int { return 7245 + rand.IntN(999999-7245+1) },
	}
}

func (r *REF) connectPacket() []byte {
	return []byte{0x05, 0x00, 0x18, 0x00, 0x01}
}

// Connect starts the DPlus handshake.
func (r *REF) Connect() ([][]byte, error) {
	r.startConnect()
	return [][]byte{r.connectPacket()}, nil
}

// Disconnect returns the unlink request.
func (r *REF) Disconnect() [][]byte {
	r.status = protocol.DISCONNECTED
	return [][]byte{{0x05, 0x00, 0x18, 0x00, 0x00}}
}

// Ping returns the keepalive.
func (r *REF) Ping() [][]byte {
	return [][]byte{{0x03, 0x60, 0x00}}
}

// Tick resends the connect request while the login is pending.
func (r *REF) Tick(elapsed time.Duration) [][]byte {
	return r.tick(elapsed, r.connectPacket)
}

func (r *REF) login() []byte {
	out := make([]byte, REF_LOGIN_LENGTH)
	copy(out, []byte{0x1C, 0xC0, 0x04, 0x00})
	copy(out[4:10], protocol.PadCallsign(r.station.Callsign, 6))
	copy(out[20:], fmt.Sprintf("HS%06d", r.serial()))
	return out
}

// DecodeFrame interprets one packet from the reflector.
func (r *REF) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event

	switch {
	case len(pkt) == 5 && pkt[0] == 0x05:
		ev.Frame = protocol.FRAME_CONTROL
		ev.Reply = [][]byte{r.login()}
		return ev, nil
	case len(pkt) == 3:
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		return ev, nil
	case r.status == protocol.CONNECTING && len(pkt) == REF_REPLY_LENGTH:
		ev.Frame = protocol.FRAME_CONTROL
		switch string(pkt[4:8]) {
		case "OKRW", "BUSY":
			r.setStatus(&ev, protocol.CONNECTED_RW)
		case "OKRO":
			r.setStatus(&ev, protocol.CONNECTED_RO)
		default:
			r.setStatus(&ev, protocol.DISCONNECTED)
		}
		return ev, nil
	}

	if !r.status.Connected() {
		return ev, nil
	}

	switch {
	case len(pkt) == REF_HEADER_LENGTH && bytes.Equal(pkt[1:6], refMagic):
		return r.decodeHeader(pkt)
	case len(pkt) == REF_VOICE_LENGTH && bytes.Equal(pkt[1:6], refMagic):
		return r.decodeVoice(pkt)
	case len(pkt) == REF_EOT_LENGTH && bytes.Equal(pkt[1:6], refMagic):
		sid := binary.BigEndian.Uint16(pkt[14:16])
		if sid != r.streamID {
			return ev, nil
		}
		r.EndStream()
		ev.Frame = protocol.FRAME_TERMINATOR
		ev.StreamID = uint32(sid)
		ev.Modem = [][]byte{ModemEOT()}
		return ev, nil
	}
	return ev, fmt.Errorf("ref: %d byte packet: %w", len(pkt), protocol.ErrFraming)
}

func (r *REF) decodeHeader(pkt []byte) (protocol.Event, error) {
	if !codec.VerifyCCITT16(pkt[17:REF_HEADER_LENGTH], codec.CCITT161, codec.CRC_MASK_NONE) {
		return protocol.Event{}, fmt.Errorf("ref header: %w", protocol.ErrCRCMismatch)
	}
	h := readRouting(pkt, 20)
	if !h.matches(r.reflector()) {
		return protocol.Event{}, nil
	}
	sid := binary.BigEndian.Uint16(pkt[14:16])
	ev := event(h)
	ev.Frame = protocol.FRAME_HEADER
	ev.StreamID = uint32(sid)
	if sid != r.streamID {
		r.slow.Reset()
		r.streamID = sid
		ev.Modem = [][]byte{ModemHeader(h)}
	}
	return ev, nil
}

func (r *REF) decodeVoice(pkt []byte) (protocol.Event, error) {
	sid := binary.BigEndian.Uint16(pkt[14:16])
	if r.streamID == 0 || sid != r.streamID {
		return protocol.Event{}, nil
	}
	ev := protocol.Event{
		Frame:    protocol.FRAME_VOICE,
		StreamID: uint32(sid),
		Codec:    bytes.Clone(pkt[17:26]),
		Modem:    [][]byte{ModemVoice(pkt[17:26], pkt[26:29])},
	}
	if text, ok := r.slow.Add(pkt[16], pkt[26:29]); ok {
		ev.Text = text
	}
	return ev, nil
}

func (r *REF) header(sid uint16) []byte {
	out := make([]byte, REF_HEADER_LENGTH)
	copy(out, []byte{0x3A, 0x80, 'D', 'S', 'V', 'T', 0x10, 0x00, 0x00, 0x00, 0x20, 0x00, 0x02, 0x01})
	binary.BigEndian.PutUint16(out[14:], sid)
	out[16] = 0x80
	r.tx.putRouting(out, 20)
	codec.AppendCCITT16(out[17:], codec.CCITT161, codec.CRC_MASK_NONE)
	return out
}

func (r *REF) voice(sid uint16, seq byte, ambe []byte) []byte {
	out := make([]byte, REF_VOICE_LENGTH)
	copy(out, []byte{0x1D, 0x80, 'D', 'S', 'V', 'T', 0x20, 0x00, 0x00, 0x00, 0x20, 0x00, 0x02, 0x01})
	binary.BigEndian.PutUint16(out[14:], sid)
	out[16] = seq
	copy(out[17:26], ambe)
	slow := EncodeSlowData(int(seq), r.station.Text)
	copy(out[26:], slow[:])
	return out
}

// EncodeFrame builds the packets for one outgoing frame. The header is
// repeated at the start of every superframe.
func (r *REF) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	sid := uint16(tx.StreamID)
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return [][]byte{r.header(sid)}, nil
	case protocol.FRAME_VOICE:
		if len(tx.Codec) < AMBE_LENGTH {
			return nil, fmt.Errorf("ref voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		seq := superframeSeq(tx.Seq)
		v := r.voice(sid, seq, tx.Codec[:AMBE_LENGTH])
		if seq == 0 && tx.Seq > 1 {
			return [][]byte{r.header(sid), v}, nil
		}
		return [][]byte{v}, nil
	case protocol.FRAME_TERMINATOR:
		out := make([]byte, REF_EOT_LENGTH)
		copy(out, r.voice(sid, superframeSeq(tx.Seq)|SEQ_END, make([]byte, AMBE_LENGTH)))
		out[0] = 0x20
		copy(out[26:], SLOW_DATA_END[:])
		copy(out[29:], []byte{0x55, 0xC8, 0x7A})
		return [][]byte{out}, nil
	}
	return nil, fmt.Errorf("ref: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
}
