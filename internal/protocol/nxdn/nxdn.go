// Package nxdn links to NXDN reflectors (NXDNReflector/NXDNGateway
// network protocol).
package nxdn

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	POLL_LENGTH   = 17
	CONNECT_RETRY = 5 * time.Second
)

// NXDN is a reflector link. The talkgroup is the reflector's gateway id.
type NXDN struct {
	station  protocol.Station
	desc     protocol.Descriptor
	status   protocol.Status
	retry    *protocol.Timer
	gwID     uint16
	streamID uint32
	inStream bool
	layer3   *protocol.Reassembler
}

// New returns an NXDN backend for st. The reflector id comes from
// st.Talkgroup, or from the digits of st.Reflector ("NXDN65000").
func New(st protocol.Station) *NXDN {
	desc, _ := protocol.DescriptorFor(protocol.KIND_NXDN)
	n := &NXDN{
		station: st,
		desc:    desc,
		status:  protocol.DISCONNECTED,
		retry:   protocol.NewTimer(CONNECT_RETRY),
		layer3:  protocol.NewReassembler(SACCH_FRAGMENTS, 3, joinLayer3),
	}
	n.gwID = gatewayID(st)
	return n
}

func gatewayID(st protocol.Station) uint16 {
	if st.Talkgroup != 0 {
		return uint16(st.Talkgroup)
	}
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(st.Reflector)), "NXDN")
	id, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(id)
}

func (n *NXDN) Descriptor() protocol.Descriptor {
	return n.desc
}

// Status is the current login state.
func (n *NXDN) Status() protocol.Status {
	return n.status
}

// GatewayID is the reflector id sent in polls and as destination.
func (n *NXDN) GatewayID() uint16 {
	return n.gwID
}

func (n *NXDN) poll(tag byte) []byte {
	out := append([]byte("NXDN"), tag)
	out = append(out, protocol.PadCallsign(n.station.Callsign, 10)...)
	return append(out, uint8(n.gwID>>8), uint8(n.gwID))
}

// Connect sends the first poll; the reflector echoes it as ack.
func (n *NXDN) Connect() ([][]byte, error) {
	if n.station.NXDNID == 0 {
		return nil, errors.New("nxdn: no NXDN id configured")
	}
	if n.gwID == 0 {
		return nil, fmt.Errorf("nxdn: no reflector id in %q", n.station.Reflector)
	}
	n.status = protocol.CONNECTING
	n.retry.Start()
	return [][]byte{n.poll('P')}, nil
}

// Disconnect returns the unlink request.
func (n *NXDN) Disconnect() [][]byte {
	n.status = protocol.DISCONNECTED
	n.retry.Stop()
	return [][]byte{n.poll('U')}
}

// Ping returns the poll.
func (n *NXDN) Ping() [][]byte {
	return [][]byte{n.poll('P')}
}

// Tick repeats the poll while the login is pending.
func (n *NXDN) Tick(elapsed time.Duration) [][]byte {
	n.retry.Clock(elapsed)
	if n.status != protocol.CONNECTING || !n.retry.HasExpired() {
		return nil
	}
	n.retry.Start()
	return [][]byte{n.poll('P')}
}

// DecodeFrame interprets one packet from the reflector.
func (n *NXDN) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event

	if len(pkt) == POLL_LENGTH {
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		if n.status == protocol.CONNECTING {
			n.status = protocol.CONNECTED_RW
			ev.Status = protocol.CONNECTED_RW
			n.retry.Stop()
		}
		return ev, nil
	}
	if !n.status.Connected() {
		return ev, nil
	}

	p, err := ParsePacket(pkt)
	if err != nil {
		return ev, err
	}
	// A bad LICH parity only drops header and terminator frames.
	lich, err := DecodeLICH(p.LICH)
	if err != nil {
		if lich.FCT == LICH_USC_SACCH_NS {
			return ev, err
		}
		ev.Errors++
	}
	ev.SrcID = uint32(p.SrcID)
	ev.DstID = uint32(p.DstID)

	if lich.FCT == LICH_USC_SACCH_NS {
		return n.decodeControl(ev, p)
	}
	if lich.FCT == LICH_USC_UDCH {
		ev.Frame = protocol.FRAME_DATA
		ev.StreamID = n.streamID
		return ev, nil
	}

	if !n.inStream {
		n.startStream()
	}
	ev.Frame = protocol.FRAME_VOICE
	ev.StreamID = n.streamID
	ev.Codec = ExtractAMBE(pkt)

	s, err := DecodeSACCH(p.SACCH)
	if err != nil {
		ev.Errors++
		return ev, nil
	}
	msg, err := n.layer3.Add(s.Fragment(), s.Data[:])
	if err != nil {
		ev.Errors++
		return ev, nil
	}
	if msg != nil {
		if l3, err := DecodeLayer3(msg); err == nil && l3.MessageType == MESSAGE_TYPE_VCALL {
			ev.SrcID = uint32(l3.SrcID)
			ev.DstID = uint32(l3.DstID)
		}
	}
	return ev, nil
}

// decodeControl handles headers and terminators, which carry layer 3 in
// the payload rather than voice.
func (n *NXDN) decodeControl(ev protocol.Event, p Packet) (protocol.Event, error) {
	if _, err := DecodeSACCH(p.SACCH); err != nil {
		return protocol.Event{}, err
	}
	l3, err := DecodeLayer3(p.Payload)
	if err != nil {
		return protocol.Event{}, err
	}

	if p.Flags&FLAG_EOT != 0 || l3.MessageType == MESSAGE_TYPE_TX_REL {
		ev.Frame = protocol.FRAME_TERMINATOR
		ev.StreamID = n.streamID
		n.inStream = false
		n.layer3.Reset()
		return ev, nil
	}
	n.startStream()
	ev.Frame = protocol.FRAME_HEADER
	ev.StreamID = n.streamID
	ev.SrcID = uint32(l3.SrcID)
	ev.DstID = uint32(l3.DstID)
	return ev, nil
}

func (n *NXDN) startStream() {
	n.streamID++
	n.inStream = true
	n.layer3.Reset()
}

// EndStream forgets the receive stream, e.g. after the watchdog fired.
func (n *NXDN) EndStream() {
	n.inStream = false
	n.layer3.Reset()
}

func (n *NXDN) txLayer3(msgType uint8) Layer3 {
	return Layer3{MessageType: msgType, Group: true, SrcID: n.station.NXDNID, DstID: n.gwID}
}

func (n *NXDN) control(msgType uint8) []byte {
	lich := LICH{RFCT: LICH_RFCT_RDCH, FCT: LICH_USC_SACCH_NS, Option: LICH_STEAL_FACCH, Direction: LICH_DIRECTION_INBOUND}
	sacch := SACCH{RAN: DEFAULT_RAN, Data: [3]byte{MESSAGE_TYPE_IDLE, 0, 0}}
	l3 := n.txLayer3(msgType).Encode()
	p := Packet{
		SrcID:   n.station.NXDNID,
		DstID:   n.gwID,
		LICH:    lich.Encode(),
		SACCH:   sacch.Encode(),
		Payload: append(bytes.Clone(l3), l3...),
	}
	return p.Build()
}

// EncodeFrame builds the packet for one outgoing frame. Voice packets
// carry four codec frames and one quarter of the VCALL message in SACCH,
// selected by Seq.
func (n *NXDN) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return [][]byte{n.control(MESSAGE_TYPE_VCALL)}, nil
	case protocol.FRAME_TERMINATOR:
		return [][]byte{n.control(MESSAGE_TYPE_TX_REL)}, nil
	case protocol.FRAME_VOICE:
		if len(tx.Codec) < AMBE_PER_FRAME*AMBE_LENGTH {
			return nil, fmt.Errorf("nxdn voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		frag := int(tx.Seq % SACCH_FRAGMENTS)
		lich := LICH{RFCT: LICH_RFCT_RDCH, FCT: LICH_USC_SACCH_SS, Option: LICH_STEAL_NONE, Direction: LICH_DIRECTION_INBOUND}
		sacch := SACCH{
			Structure: uint8(SACCH_FRAGMENTS - 1 - frag),
			RAN:       DEFAULT_RAN,
			Data:      Layer3Fragment(n.txLayer3(MESSAGE_TYPE_VCALL), frag),
		}
		p := Packet{
			SrcID: n.station.NXDNID,
			DstID: n.gwID,
			LICH:  lich.Encode(),
			SACCH: sacch.Encode(),
		}
		out := p.Build()
		InsertAMBE(out, tx.Codec)
		return [][]byte{out}, nil
	}
	return nil, fmt.Errorf("nxdn: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
}
