// Package ysf links to System Fusion reflectors, both YSF (YSFD packets)
// and FCS rooms, and converts their frames for an MMDVM modem.
package ysf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

// Control packet sizes.
const (
	YSF_ACK_LENGTH  = 14
	FCS_ACK_LENGTH  = 7
	ONLINE_LENGTH   = 10
	FCS_INFO_LENGTH = 100
	FCS_PING_LENGTH = 25

	CONNECT_RETRY = 5 * time.Second

	// Frames per voice superframe, FN 0..6.
	SUPERFRAME = 7
)

const (
	defaultFreq    = 438000000
	defaultLocator = "AA00AA"
	defaultID      = 1234567
)

var (
	txDestination = "ALL"
	blankDCH      = []byte("          ")
	starsDCH      = []byte("**********")
	// DCH contents radios expect on FN 6 from an FT-70D.
	ft70d1DCH = []byte{0x01, 0x22, 0x61, 0x5F, 0x2B, 0x03, 0x11, 0x00, 0x00, 0x00}
)

// YSF is a System Fusion reflector link. One type serves both YSF and
// FCS; they differ in their control messages and packet wrapping.
type YSF struct {
	station  protocol.Station
	desc     protocol.Descriptor
	fcs      bool
	status   protocol.Status
	retry    *protocol.Timer
	streamID uint32
	inStream bool
	online   int
}

// NewYSF returns a backend for a YSF reflector.
func NewYSF(st protocol.Station) *YSF {
	return newYSF(protocol.KIND_YSF, st)
}

// NewFCS returns a backend for an FCS room; st.Reflector names the room,
// e.g. "FCS00290".
func NewFCS(st protocol.Station) *YSF {
	return newYSF(protocol.KIND_FCS, st)
}

func newYSF(kind protocol.Kind, st protocol.Station) *YSF {
	desc, _ := protocol.DescriptorFor(kind)
	return &YSF{
		station: st,
		desc:    desc,
		fcs:     kind == protocol.KIND_FCS,
		status:  protocol.DISCONNECTED,
		retry:   protocol.NewTimer(CONNECT_RETRY),
	}
}

func (y *YSF) Descriptor() protocol.Descriptor {
	return y.desc
}

// Status is the current login state.
func (y *YSF) Status() protocol.Status {
	return y.status
}

// Online counts the ONLINE and ack keepalives seen since Connect.
func (y *YSF) Online() int {
	return y.online
}

func (y *YSF) room() string {
	name := strings.ToUpper(y.station.Reflector)
	if len(name) > 8 {
		name = name[:8]
	}
	return name
}

func (y *YSF) poll() []byte {
	if y.fcs {
		out := make([]byte, 0, FCS_PING_LENGTH)
		out = append(out, "PING"...)
		out = append(out, protocol.PadCallsign(y.station.Callsign, 6)...)
		out = append(out, protocol.PadCallsign(y.room(), 8)...)
		return append(out, make([]byte, 7)...)
	}
	return append([]byte("YSFP"), protocol.PadCallsign(y.station.Callsign, CALLSIGN_LENGTH)...)
}

// info is the station description an FCS room expects after its ack.
func (y *YSF) info() []byte {
	rx, tx, id := y.station.RxFreq, y.station.TxFreq, y.station.DMRID
	if rx == 0 {
		rx = defaultFreq
	}
	if tx == 0 {
		tx = defaultFreq
	}
	if id == 0 {
		id = defaultID
	}
	s := fmt.Sprintf("%9d%9d%-6.6s%-12.12s%7d", rx, tx, defaultLocator, "MMDVM", id%10000000)
	out := bytes.Repeat([]byte{' '}, FCS_INFO_LENGTH)
	copy(out, s)
	return out
}

// Connect sends the first poll; the reflector answers with an ack.
func (y *YSF) Connect() ([][]byte, error) {
	if y.fcs && !strings.HasPrefix(y.room(), "FCS") {
		return nil, fmt.Errorf("fcs: room %q", y.station.Reflector)
	}
	y.status = protocol.CONNECTING
	y.online = 0
	y.retry.Start()
	return [][]byte{y.poll()}, nil
}

// Disconnect returns the unlink request.
func (y *YSF) Disconnect() [][]byte {
	y.status = protocol.DISCONNECTED
	y.retry.Stop()
	if y.fcs {
		return [][]byte{[]byte("CLOSE      ")}
	}
	return [][]byte{append([]byte("YSFU"), protocol.PadCallsign(y.station.Callsign, CALLSIGN_LENGTH)...)}
}

// Ping returns the poll, which doubles as keepalive.
func (y *YSF) Ping() [][]byte {
	return [][]byte{y.poll()}
}

// Tick repeats the poll while the login is pending.
func (y *YSF) Tick(elapsed time.Duration) [][]byte {
	y.retry.Clock(elapsed)
	if y.status != protocol.CONNECTING || !y.retry.HasExpired() {
		return nil
	}
	y.retry.Start()
	return [][]byte{y.poll()}
}

func (y *YSF) ackLength() int {
	if y.fcs {
		return FCS_ACK_LENGTH
	}
	return YSF_ACK_LENGTH
}

// DecodeFrame interprets one packet from the reflector.
func (y *YSF) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event

	switch {
	case len(pkt) == y.ackLength():
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		y.online++
		if y.status == protocol.CONNECTING {
			y.status = protocol.CONNECTED_RW
			ev.Status = protocol.CONNECTED_RW
			y.retry.Stop()
			if y.fcs {
				ev.Reply = [][]byte{y.info()}
			}
		}
		return ev, nil
	case len(pkt) == ONLINE_LENGTH && bytes.HasPrefix(pkt, []byte("ONLINE")):
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		y.online++
		return ev, nil
	}

	if !y.status.Connected() {
		return ev, nil
	}

	p, err := ParsePacket(pkt, y.fcs)
	if err != nil {
		return ev, err
	}
	if !HasSync(p.Frame) {
		return ev, fmt.Errorf("%s: no sync: %w", y.desc.Name, protocol.ErrFraming)
	}
	return y.decodeFrame(p)
}

func (y *YSF) decodeFrame(p Packet) (protocol.Event, error) {
	var fich FICH
	corrected, err := fich.Decode(p.Frame)
	if err != nil {
		return protocol.Event{}, err
	}

	ev := protocol.Event{
		Gateway: p.Gateway,
		Src:     p.Src,
		Dst:     p.Dst,
		Errors:  corrected,
		Modem:   [][]byte{ModemFrame(p.Frame)},
	}

	switch fich.FI {
	case FI_HEADER:
		y.streamID++
		y.inStream = true
		ev.Frame = protocol.FRAME_HEADER
		if dst, src, err := DecodeHeaderCSD(p.Frame); err == nil {
			ev.Dst, ev.Src = dst, src
		} else {
			ev.Errors++
		}
	case FI_TERMINATOR:
		y.inStream = false
		ev.Frame = protocol.FRAME_TERMINATOR
	case FI_COMMUNICATIONS:
		if !y.inStream {
			y.streamID++
			y.inStream = true
		}
		ev.Frame = protocol.FRAME_VOICE
		y.decodeCommunications(&ev, fich, p.Frame)
	default:
		ev.Frame = protocol.FRAME_DATA
	}
	ev.StreamID = y.streamID
	return ev, nil
}

func (y *YSF) decodeCommunications(ev *protocol.Event, fich FICH, frame []byte) {
	switch fich.DT {
	case DT_VD_MODE2:
		ambe, errs := DecodeVCH(frame)
		ev.Codec = ambe
		ev.Errors += errs
		if fich.FN > 1 {
			return
		}
		dch, err := DecodeVD2DCH(frame)
		if err != nil {
			ev.Errors++
			return
		}
		if fich.FN == 0 {
			ev.Dst = protocol.TrimCallsign(dch)
		} else {
			ev.Src = protocol.TrimCallsign(dch)
		}
	case DT_VD_MODE1:
		if fich.FN != 0 {
			return
		}
		if dst, src, err := DecodeHeaderCSD(frame); err == nil {
			ev.Dst, ev.Src = dst, src
		}
	case DT_DATA_FR_MODE:
		ev.Frame = protocol.FRAME_DATA
	}
}

// EndStream forgets the receive stream, e.g. after the watchdog fired.
func (y *YSF) EndStream() {
	y.inStream = false
}

func (y *YSF) txFICH(fi uint8, fn uint8) FICH {
	return FICH{FI: fi, CS: 2, FN: fn, FT: SUPERFRAME - 1, DT: DT_VD_MODE2}
}

func (y *YSF) headerFrame(fi uint8) []byte {
	cs := protocol.PadCallsign(y.station.Callsign, CALLSIGN_LENGTH)
	frame := NewFrame(y.txFICH(fi, 0))
	csd1 := append(bytes.Clone(starsDCH), cs...)
	csd2 := append(bytes.Clone(cs), cs...)
	EncodeHeaderCSD(frame, csd1, csd2)
	return frame
}

func (y *YSF) voiceDCH(fn uint8) []byte {
	switch fn {
	case 0:
		return starsDCH
	case 1, 2, 3:
		return protocol.PadCallsign(y.station.Callsign, CALLSIGN_LENGTH)
	case 6:
		return ft70d1DCH
	default:
		return blankDCH
	}
}

func (y *YSF) wrap(frame []byte, seq uint32, eot bool) []byte {
	p := Packet{Frame: frame, Counter: uint8(seq & 0x7F), EOT: eot}
	if y.fcs {
		p.Gateway = y.room()
		return p.BuildFCS()
	}
	p.Gateway = y.station.Callsign
	p.Src = y.station.Callsign
	p.Dst = txDestination
	return p.BuildYSFD()
}

// EncodeFrame builds the packet for one outgoing frame. Voice frames
// carry five codec frames of VCH_LENGTH bytes.
func (y *YSF) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return [][]byte{y.wrap(y.headerFrame(FI_HEADER), 0, false)}, nil
	case protocol.FRAME_VOICE:
		if len(tx.Codec) < SECTIONS*VCH_LENGTH {
			return nil, fmt.Errorf("%s voice: %d codec bytes: %w", y.desc.Name, len(tx.Codec), protocol.ErrFraming)
		}
		var fn uint8
		if tx.Seq > 0 {
			fn = uint8((tx.Seq - 1) % SUPERFRAME)
		}
		frame := NewFrame(y.txFICH(FI_COMMUNICATIONS, fn))
		EncodeVD2DCH(frame, y.voiceDCH(fn))
		EncodeVCH(frame, tx.Codec[:SECTIONS*VCH_LENGTH])
		return [][]byte{y.wrap(frame, tx.Seq, false)}, nil
	case protocol.FRAME_TERMINATOR:
		return [][]byte{y.wrap(y.headerFrame(FI_TERMINATOR), tx.Seq, true)}, nil
	}
	return nil, fmt.Errorf("%s: cannot encode %s: %w", y.desc.Name, tx.Frame, protocol.ErrFraming)
}

// ModemFrame wraps a 120 byte frame for the modem.
func ModemFrame(frame []byte) []byte {
	return modem.MustEncode(modem.YSF_DATA, append([]byte{0x00}, frame...))
}
