package dstar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	XRF_HEADER_LENGTH    = 56
	XRF_VOICE_LENGTH     = 27
	XRF_ACK_LENGTH       = 14
	XRF_KEEPALIVE_LENGTH = 9
)

// XRF is a DExtra reflector link.
type XRF struct {
	link
}

// NewXRF returns an XRF backend for st.
func NewXRF(st protocol.Station) *XRF {
	return &XRF{link: newLink(protocol.KIND_XRF, st)}
}

func (x *XRF) connectPacket() []byte {
	return append(protocol.PadCallsign(x.station.Callsign, CALLSIGN_LENGTH), x.station.Module, x.station.Module, 11)
}

// Connect sends the link request.
func (x *XRF) Connect() ([][]byte, error) {
	x.startConnect()
	return [][]byte{x.connectPacket()}, nil
}

// Disconnect returns the unlink request.
func (x *XRF) Disconnect() [][]byte {
	x.status = protocol.DISCONNECTED
	return [][]byte{append(protocol.PadCallsign(x.station.Callsign, CALLSIGN_LENGTH), x.station.Module, ' ', 0x00)}
}

// Ping returns the keepalive.
func (x *XRF) Ping() [][]byte {
	return [][]byte{append(protocol.PadCallsign(x.station.Callsign, CALLSIGN_LENGTH), 0x00)}
}

// Tick resends the link request while it is unanswered.
func (x *XRF) Tick(elapsed time.Duration) [][]byte {
	return x.tick(elapsed, x.connectPacket)
}

// DecodeFrame interprets one packet from the reflector.
func (x *XRF) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event

	switch {
	case len(pkt) == XRF_KEEPALIVE_LENGTH:
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		return ev, nil
	case x.status == protocol.CONNECTING && len(pkt) == XRF_ACK_LENGTH:
		ev.Frame = protocol.FRAME_CONTROL
		if string(pkt[10:13]) == "ACK" {
			x.setStatus(&ev, protocol.CONNECTED_RW)
		} else {
			x.setStatus(&ev, protocol.DISCONNECTED)
		}
		return ev, nil
	}

	if !x.status.Connected() {
		return ev, nil
	}

	switch {
	case len(pkt) == XRF_HEADER_LENGTH && string(pkt[:4]) == "DSVT":
		if !codec.VerifyCCITT16(pkt[15:XRF_HEADER_LENGTH], codec.CCITT161, codec.CRC_MASK_NONE) {
			return ev, fmt.Errorf("xrf header: %w", protocol.ErrCRCMismatch)
		}
		h := readRouting(pkt, 18)
		sid := binary.BigEndian.Uint16(pkt[12:14])
		ev = event(h)
		ev.Frame = protocol.FRAME_HEADER
		ev.StreamID = uint32(sid)
		if sid != x.streamID {
			x.EndStream()
			x.streamID = sid
			ev.Modem = [][]byte{ModemHeader(h)}
		}
		return ev, nil
	case len(pkt) == XRF_VOICE_LENGTH && string(pkt[:4]) == "DSVT":
		return x.decodeVoice(pkt), nil
	}
	return ev, fmt.Errorf("xrf: %d byte packet: %w", len(pkt), protocol.ErrFraming)
}

func (x *XRF) decodeVoice(pkt []byte) protocol.Event {
	sid := binary.BigEndian.Uint16(pkt[12:14])
	seq := pkt[14]
	ambe, slow := pkt[15:24], pkt[24:27]

	if sid != x.streamID {
		x.EndStream()
		x.streamID = sid
	}
	ev := protocol.Event{StreamID: uint32(sid)}
	if seq&SEQ_END != 0 {
		x.EndStream()
		ev.Frame = protocol.FRAME_TERMINATOR
		ev.Modem = [][]byte{ModemEOT()}
		return ev
	}
	ev.Frame = protocol.FRAME_VOICE
	ev.Codec = bytes.Clone(ambe)
	ev.Modem = [][]byte{ModemVoice(ambe, slow)}
	if text, ok := x.slow.Add(seq, slow); ok {
		ev.Text = text
	}
	return ev
}

func (x *XRF) header(sid uint16) []byte {
	out := make([]byte, XRF_HEADER_LENGTH)
	copy(out, []byte{'D', 'S', 'V', 'T', 0x10, 0x00, 0x00, 0x00, 0x20, 0x00, 0x01, 0x02})
	binary.BigEndian.PutUint16(out[12:], sid)
	out[14] = 0x80
	x.tx.putRouting(out, 18)
	codec.AppendCCITT16(out[15:], codec.CCITT161, codec.CRC_MASK_NONE)
	return out
}

func (x *XRF) voice(sid uint16, seq byte, ambe []byte) []byte {
	out := make([]byte, XRF_VOICE_LENGTH)
	copy(out, []byte{'D', 'S', 'V', 'T', 0x20, 0x00, 0x00, 0x00, 0x20, 0x00, 0x01, 0x02})
	binary.BigEndian.PutUint16(out[12:], sid)
	out[14] = seq
	copy(out[15:24], ambe)
	slow := EncodeSlowData(int(seq), x.station.Text)
	copy(out[24:], slow[:])
	return out
}

// EncodeFrame builds the packets for one outgoing frame. The header takes
// sequence slot 0 of the first superframe.
func (x *XRF) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	sid := uint16(tx.StreamID)
	seq := byte(tx.Seq % SUPERFRAME)
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return [][]byte{x.header(sid)}, nil
	case protocol.FRAME_VOICE:
		if len(tx.Codec) < AMBE_LENGTH {
			return nil, fmt.Errorf("xrf voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		return [][]byte{x.voice(sid, seq, tx.Codec[:AMBE_LENGTH])}, nil
	case protocol.FRAME_TERMINATOR:
		return [][]byte{x.voice(sid, seq|SEQ_END, AMBE_SILENCE)}, nil
	}
	return nil, fmt.Errorf("xrf: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
}
