// Package m17 links to M17 reflectors (mrefd). Stream packets carry the
// link setup frame in every packet. The reflector sends PING and expects
// PONG; the client also sends PONG on its own every 8 seconds.
package m17

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	CONTROL_LENGTH = 10 // tag + callsign
	CONN_LENGTH    = 11 // tag + callsign + module
	ACK_LENGTH     = 4
	CONNECT_RETRY  = 5 * time.Second

	// Suffix of the local address in control packets and LSF source.
	STATION_SUFFIX = 'D'
)

// M17 is a reflector link.
type M17 struct {
	station protocol.Station
	desc    protocol.Descriptor
	status  protocol.Status
	retry   *protocol.Timer
	mode    CodecMode

	rxStream uint16
	inStream bool
	rxLSF    []byte
	lichCnt  int

	rf       *protocol.Reassembler
	rfLSF    *LSF
	rfStream uint16
}

// New returns an M17 backend for st transmitting in mode. The reflector
// module comes from st.Module.
func New(st protocol.Station, mode CodecMode) *M17 {
	desc, _ := protocol.DescriptorFor(protocol.KIND_M17)
	st.Reflector = strings.ToUpper(strings.TrimSpace(st.Reflector))
	return &M17{
		station: st,
		desc:    desc,
		status:  protocol.DISCONNECTED,
		retry:   protocol.NewTimer(CONNECT_RETRY),
		mode:    mode,
		rf:      NewLSFAssembler(),
	}
}

func (m *M17) Descriptor() protocol.Descriptor {
	return m.desc
}

func (m *M17) Status() protocol.Status {
	return m.status
}

// Mode is the codec rate used for transmission.
func (m *M17) Mode() CodecMode {
	return m.mode
}

// PacketCodecBytes is the codec data one stream packet takes from the
// vocoder: two 3200 frames, or a single 1600 frame.
func (m *M17) PacketCodecBytes() int {
	if m.mode == MODE_1600 {
		return CODEC_LENGTH
	}
	return PAYLOAD_LENGTH
}

func (m *M17) local() string {
	return Address(m.station.Callsign, STATION_SUFFIX)
}

func (m *M17) reflector() string {
	return Address(m.station.Reflector, m.station.Module)
}

func (m *M17) control(tag string) []byte {
	return append([]byte(tag), EncodeCallsign(m.local())...)
}

func (m *M17) conn() []byte {
	return append(m.control("CONN"), m.station.Module)
}

// Connect sends CONN; the reflector answers ACKN or NACK.
func (m *M17) Connect() ([][]byte, error) {
	if m.station.Module < 'A' || m.station.Module > 'Z' {
		return nil, fmt.Errorf("m17: bad module %q", m.station.Module)
	}
	if m.station.Reflector == "" {
		return nil, errors.New("m17: no reflector")
	}
	m.status = protocol.CONNECTING
	m.retry.Start()
	return [][]byte{m.conn()}, nil
}

func (m *M17) Disconnect() [][]byte {
	m.status = protocol.DISCONNECTED
	m.retry.Stop()
	return [][]byte{m.control("DISC")}
}

// Ping sends an unsolicited PONG, which mrefd accepts as a keepalive.
func (m *M17) Ping() [][]byte {
	return [][]byte{m.control("PONG")}
}

// Tick repeats CONN while the login is pending.
func (m *M17) Tick(elapsed time.Duration) [][]byte {
	m.retry.Clock(elapsed)
	if m.status != protocol.CONNECTING || !m.retry.HasExpired() {
		return nil
	}
	m.retry.Start()
	return [][]byte{m.conn()}
}

func (m *M17) setStatus(ev *protocol.Event, s protocol.Status) {
	if s == m.status {
		return
	}
	m.status = s
	ev.Status = s
	m.retry.Stop()
}

// DecodeFrame interprets one packet from the reflector.
func (m *M17) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event
	connected := m.status.Connected()

	switch {
	case len(pkt) == ACK_LENGTH && string(pkt) == "ACKN":
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		if m.status == protocol.CONNECTING {
			m.setStatus(&ev, protocol.CONNECTED_RW)
		}
		return ev, nil
	case len(pkt) == ACK_LENGTH && string(pkt) == "NACK":
		ev.Frame = protocol.FRAME_CONTROL
		if !connected {
			m.setStatus(&ev, protocol.DISCONNECTED)
		}
		return ev, nil
	case len(pkt) >= ACK_LENGTH && string(pkt[:4]) == "PING":
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		ev.Reply = [][]byte{m.control("PONG")}
		return ev, nil
	case len(pkt) >= ACK_LENGTH && string(pkt[:4]) == "DISC":
		ev.Frame = protocol.FRAME_CONTROL
		if connected {
			m.setStatus(&ev, protocol.CLOSED)
		}
		return ev, nil
	case len(pkt) == PACKET_LENGTH && bytes.HasPrefix(pkt, packetMagic):
		if !connected {
			return ev, nil
		}
		p, err := ParsePacket(pkt)
		if err != nil {
			return ev, err
		}
		return m.decodeStream(p), nil
	}
	return ev, fmt.Errorf("m17: %d byte packet: %w", len(pkt), protocol.ErrFraming)
}

func (m *M17) decodeStream(p Packet) protocol.Event {
	ev := protocol.Event{
		Frame:    protocol.FRAME_VOICE,
		StreamID: uint32(p.StreamID),
		Src:      p.LSF.Src,
		Dst:      p.LSF.Dst,
	}
	if !m.inStream || p.StreamID != m.rxStream {
		m.rxStream = p.StreamID
		m.inStream = true
		m.lichCnt = 0
		m.rxLSF = p.LSF.Encode()
		ev.Modem = append(ev.Modem, modem.MustEncode(modem.M17_LINK_SETUP, rfPayload(EncodeLSFFrame(m.rxLSF))))
	}

	data := make([]byte, FN_LENGTH+PAYLOAD_LENGTH)
	data[0], data[1] = uint8(p.FN>>8), uint8(p.FN)
	copy(data[FN_LENGTH:], p.Payload)
	frame := EncodeStreamFrame(LICHFragment(m.rxLSF, m.lichCnt), data)
	m.lichCnt = (m.lichCnt + 1) % LICH_FRAGMENTS
	ev.Modem = append(ev.Modem, modem.MustEncode(modem.M17_STREAM, rfPayload(frame)))

	if p.EOT() {
		ev.Frame = protocol.FRAME_TERMINATOR
		ev.Modem = append(ev.Modem, modem.MustEncode(modem.M17_EOT, rfPayload(EOTFrame())))
		m.inStream = false
		return ev
	}
	if p.LSF.Mode() == MODE_1600 {
		ev.Codec = p.Payload[:CODEC_LENGTH]
	} else {
		ev.Codec = p.Payload
	}
	return ev
}

func rfPayload(frame []byte) []byte {
	return append([]byte{0x00}, frame...)
}

// EndStream forgets the receive stream, e.g. after the watchdog fired.
func (m *M17) EndStream() {
	m.inStream = false
}

func (m *M17) txPacket(tx protocol.Transmit, fn uint16, payload []byte) []byte {
	p := Packet{
		StreamID: uint16(tx.StreamID),
		LSF: LSF{
			Dst:  m.reflector(),
			Src:  m.local(),
			Type: StreamType(m.mode, m.station.CAN),
		},
		FN:      fn,
		Payload: payload,
	}
	return p.Build()
}

func (m *M17) quiet() []byte {
	q := QUIET_3200
	if m.mode == MODE_1600 {
		q = QUIET_1600
	}
	return append(bytes.Clone(q), q...)
}

// EncodeFrame builds the packet for one outgoing frame. The header
// produces nothing; its LSF rides in every stream packet. Voice Seq 1 is
// frame number 0.
func (m *M17) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	fn := uint16(0)
	if tx.Seq > 0 {
		fn = uint16(tx.Seq-1) & 0x7FFF
	}
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return nil, nil
	case protocol.FRAME_TERMINATOR:
		return [][]byte{m.txPacket(tx, fn|FN_EOT, m.quiet())}, nil
	case protocol.FRAME_VOICE:
		need := PAYLOAD_LENGTH
		if m.mode == MODE_1600 {
			need = CODEC_LENGTH
		}
		if len(tx.Codec) < need {
			return nil, fmt.Errorf("m17 voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		payload := make([]byte, PAYLOAD_LENGTH)
		copy(payload, tx.Codec[:need])
		return [][]byte{m.txPacket(tx, fn, payload)}, nil
	}
	return nil, fmt.Errorf("m17: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
}

// DecodeModem turns RF frames from a local modem into stream packets for
// the reflector, returned in Reply. Stream frames are dropped until an LSF
// is known, either from a link setup frame or reassembled from LICHs.
func (m *M17) DecodeModem(frame []byte) (protocol.Event, error) {
	var ev protocol.Event
	typ, payload, err := modem.Decode(frame)
	if err != nil {
		return ev, fmt.Errorf("m17 modem: %w", err)
	}

	switch typ {
	case modem.M17_LOST, modem.M17_EOT:
		if m.rfLSF != nil {
			ev.Frame = protocol.FRAME_TERMINATOR
			ev.StreamID = uint32(m.rfStream)
		}
		m.rfLSF = nil
		m.rfStream = 0
		m.rf.Reset()
		return ev, nil
	case modem.M17_LINK_SETUP, modem.M17_STREAM:
	default:
		return ev, nil
	}
	if len(payload) < 1+RF_FRAME_LENGTH {
		return ev, fmt.Errorf("m17 modem type 0x%02X: %d bytes: %w", typ, len(payload), protocol.ErrFraming)
	}
	rf := payload[1 : 1+RF_FRAME_LENGTH]

	if typ == modem.M17_LINK_SETUP {
		raw, errs, err := DecodeLSFFrame(rf)
		if err != nil {
			return ev, err
		}
		lsf, err := DecodeLSF(raw)
		if err != nil {
			return ev, err
		}
		m.startRF(&lsf)
		ev.Frame = protocol.FRAME_HEADER
		ev.StreamID = uint32(m.rfStream)
		ev.Src, ev.Dst = lsf.Src, lsf.Dst
		ev.Errors = errs
		return ev, nil
	}

	s, err := DecodeStreamFrame(rf)
	if err != nil {
		return ev, err
	}
	if s.LICH != nil {
		if raw, err := m.rf.Add(s.Fragment(), s.LICH); err == nil && raw != nil {
			if lsf, err := DecodeLSF(raw); err == nil && m.rfLSF == nil {
				m.startRF(&lsf)
			}
		}
	}
	if m.rfLSF == nil {
		return ev, nil
	}

	ev.Frame = protocol.FRAME_VOICE
	if s.FN&FN_EOT != 0 {
		ev.Frame = protocol.FRAME_TERMINATOR
	}
	ev.StreamID = uint32(m.rfStream)
	ev.Src, ev.Dst = m.rfLSF.Src, m.reflector()
	ev.Errors = s.Errors
	p := Packet{
		StreamID: m.rfStream,
		LSF:      LSF{Dst: m.reflector(), Src: m.rfLSF.Src, Type: m.rfLSF.Type, Meta: m.rfLSF.Meta},
		FN:       s.FN,
		Payload:  s.Payload,
	}
	if m.status.Connected() {
		ev.Reply = [][]byte{p.Build()}
	}
	if ev.Frame == protocol.FRAME_TERMINATOR {
		m.rfLSF = nil
		m.rf.Reset()
	}
	return ev, nil
}

func (m *M17) startRF(lsf *LSF) {
	m.rfLSF = lsf
	m.rfStream = uint16(rand.N(0xFFFF)) + 1
	m.rf.Reset()
}
