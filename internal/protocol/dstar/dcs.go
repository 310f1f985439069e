package dstar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	DCS_CONNECT_LENGTH   = 519
	DCS_FRAME_LENGTH     = 100
	DCS_ACK_LENGTH       = 14
	DCS_KEEPALIVE_LENGTH = 22
	DCS_NETMSG_LENGTH    = 35
)

// DCS is a DCS reflector link. Every voice frame carries the full routing
// header, so there is no separate header packet.
type DCS struct {
	link
}

// NewDCS returns a DCS backend for st.
func NewDCS(st protocol.Station) *DCS {
	return &DCS{link: newLink(protocol.KIND_DCS, st)}
}

func (d *DCS) connectPacket() []byte {
	out := make([]byte, DCS_CONNECT_LENGTH)
	copy(out, protocol.PadCallsign(d.station.Callsign, CALLSIGN_LENGTH))
	out[8] = d.station.Module
	out[9] = d.station.Module
	out[10] = 11
	return out
}

// Connect sends the link request.
func (d *DCS) Connect() ([][]byte, error) {
	d.startConnect()
	return [][]byte{d.connectPacket()}, nil
}

// Disconnect returns the unlink request.
func (d *DCS) Disconnect() [][]byte {
	d.status = protocol.DISCONNECTED
	out := append(protocol.PadCallsign(d.station.Callsign, CALLSIGN_LENGTH), d.station.Module, ' ', 0x00)
	return [][]byte{out}
}

// Ping returns the keepalive: callsign and module, then the reflector
// name and module, NUL separated.
func (d *DCS) Ping() [][]byte {
	out := protocol.PadCallsign(d.station.Callsign, CALLSIGN_LENGTH-1)
	out = append(out, d.station.Module, 0x00)
	out = append(out, []byte(d.station.Reflector)...)
	out = append(out, 0x00, d.station.Module)
	return [][]byte{out}
}

// Tick resends the link request while it is unanswered.
func (d *DCS) Tick(elapsed time.Duration) [][]byte {
	return d.tick(elapsed, d.connectPacket)
}

// DecodeFrame interprets one packet from the reflector.
func (d *DCS) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event

	switch {
	case len(pkt) == DCS_KEEPALIVE_LENGTH:
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		return ev, nil
	case d.status == protocol.CONNECTING && len(pkt) == DCS_ACK_LENGTH:
		ev.Frame = protocol.FRAME_CONTROL
		if string(pkt[10:13]) == "ACK" {
			d.setStatus(&ev, protocol.CONNECTED_RW)
		} else {
			d.setStatus(&ev, protocol.DISCONNECTED)
		}
		return ev, nil
	}

	if !d.status.Connected() {
		return ev, nil
	}

	switch {
	case len(pkt) == DCS_NETMSG_LENGTH:
		ev.Frame = protocol.FRAME_CONTROL
		ev.Text = protocol.TrimCallsign(pkt)
		return ev, nil
	case len(pkt) == DCS_FRAME_LENGTH && string(pkt[:4]) == "0001":
		return d.decodeVoice(pkt), nil
	}
	return ev, fmt.Errorf("dcs: %d byte packet: %w", len(pkt), protocol.ErrFraming)
}

func (d *DCS) decodeVoice(pkt []byte) protocol.Event {
	h := readRouting(pkt, 7)
	sid := binary.BigEndian.Uint16(pkt[43:45])
	seq := pkt[45]
	ambe, slow := pkt[46:55], pkt[55:58]

	ev := event(h)
	ev.StreamID = uint32(sid)
	if sid != d.streamID {
		d.EndStream()
		d.streamID = sid
		ev.Modem = append(ev.Modem, ModemHeader(h))
	}

	if seq&SEQ_END != 0 {
		d.EndStream()
		ev.Frame = protocol.FRAME_TERMINATOR
		ev.Modem = append(ev.Modem, ModemEOT())
		return ev
	}

	ev.Frame = protocol.FRAME_VOICE
	ev.Codec = bytes.Clone(ambe)
	ev.Modem = append(ev.Modem, ModemVoice(ambe, slow))
	if text, ok := d.slow.Add(seq, slow); ok {
		ev.Text = text
	}
	return ev
}

func (d *DCS) frame(sid uint16, n uint32, ambe []byte) []byte {
	out := make([]byte, DCS_FRAME_LENGTH)
	copy(out, "0001")
	d.tx.putRouting(out, 7)
	binary.BigEndian.PutUint16(out[43:], sid)
	seq := byte(n % SUPERFRAME)
	out[45] = seq
	copy(out[46:55], ambe)
	slow := EncodeSlowData(int(seq), d.station.Text)
	copy(out[55:], slow[:])
	out[58] = byte(n)
	out[59] = byte(n >> 8)
	out[60] = byte(n >> 16)
	out[61] = 0x01
	return out
}

// EncodeFrame builds the packets for one outgoing frame.
func (d *DCS) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	sid := uint16(tx.StreamID)
	n := uint32(0)
	if tx.Seq > 0 {
		n = tx.Seq - 1
	}
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return nil, nil
	case protocol.FRAME_VOICE:
		if len(tx.Codec) < AMBE_LENGTH {
			return nil, fmt.Errorf("dcs voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		return [][]byte{d.frame(sid, n, tx.Codec[:AMBE_LENGTH])}, nil
	case protocol.FRAME_TERMINATOR:
		out := d.frame(sid, n, AMBE_SILENCE)
		out[45] |= SEQ_END
		return [][]byte{out}, nil
	}
	return nil, fmt.Errorf("dcs: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
}
