// Package p25 links to P25 reflectors (P25Reflector/P25Gateway network
// protocol). Voice travels as one IMBE frame per record in an 18 record
// LDU1/LDU2 cycle; there is no header.
package p25

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	POLL_LENGTH   = 11
	TAG_POLL      = 0xF0
	TAG_UNLINK    = 0xF1
	CONNECT_RETRY = 5 * time.Second
)

// P25 is a reflector link. The talkgroup is the reflector number.
type P25 struct {
	station  protocol.Station
	desc     protocol.Descriptor
	status   protocol.Status
	retry    *protocol.Timer
	tg       uint32
	streamID uint32
	inStream bool
	srcID    uint32
	dstID    uint32
}

// New returns a P25 backend for st. The talkgroup comes from st.Talkgroup,
// or from the digits of st.Reflector ("P25 10200" or "10200").
func New(st protocol.Station) *P25 {
	desc, _ := protocol.DescriptorFor(protocol.KIND_P25)
	p := &P25{
		station: st,
		desc:    desc,
		status:  protocol.DISCONNECTED,
		retry:   protocol.NewTimer(CONNECT_RETRY),
		tg:      st.Talkgroup,
	}
	if p.tg == 0 {
		s := strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(st.Reflector)), "P25"))
		if id, err := strconv.ParseUint(s, 10, 24); err == nil {
			p.tg = uint32(id)
		}
	}
	return p
}

func (p *P25) Descriptor() protocol.Descriptor {
	return p.desc
}

func (p *P25) Status() protocol.Status {
	return p.status
}

// Talkgroup is the destination of outgoing calls.
func (p *P25) Talkgroup() uint32 {
	return p.tg
}

func (p *P25) poll(tag byte) []byte {
	return append([]byte{tag}, protocol.PadCallsign(p.station.Callsign, 10)...)
}

// Connect sends the first poll; the reflector echoes an 11 byte poll back.
func (p *P25) Connect() ([][]byte, error) {
	if p.station.DMRID == 0 {
		return nil, errors.New("p25: no radio id configured")
	}
	if p.tg == 0 {
		return nil, fmt.Errorf("p25: no talkgroup in %q", p.station.Reflector)
	}
	p.status = protocol.CONNECTING
	p.retry.Start()
	return [][]byte{p.poll(TAG_POLL)}, nil
}

func (p *P25) Disconnect() [][]byte {
	p.status = protocol.DISCONNECTED
	p.retry.Stop()
	return [][]byte{p.poll(TAG_UNLINK)}
}

func (p *P25) Ping() [][]byte {
	return [][]byte{p.poll(TAG_POLL)}
}

// Tick repeats the poll while the login is pending.
func (p *P25) Tick(elapsed time.Duration) [][]byte {
	p.retry.Clock(elapsed)
	if p.status != protocol.CONNECTING || !p.retry.HasExpired() {
		return nil
	}
	p.retry.Start()
	return [][]byte{p.poll(TAG_POLL)}
}

// DecodeFrame interprets one packet from the reflector. The first voice
// record after a terminator opens a new stream; ids are picked up from the
// LDU1 link control records as they pass.
func (p *P25) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event

	if len(pkt) == POLL_LENGTH {
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		if p.status == protocol.CONNECTING {
			p.status = protocol.CONNECTED_RW
			ev.Status = protocol.CONNECTED_RW
			p.retry.Stop()
		}
		return ev, nil
	}
	if !p.status.Connected() {
		return ev, nil
	}

	r, err := ParseRecord(pkt)
	if err != nil {
		return ev, err
	}
	if r.Final {
		ev.Frame = protocol.FRAME_TERMINATOR
		ev.StreamID = p.streamID
		ev.SrcID, ev.DstID = p.srcID, p.dstID
		p.inStream = false
		return ev, nil
	}

	if !p.inStream {
		p.streamID++
		p.inStream = true
		p.srcID, p.dstID = 0, 0
	}
	switch r.Type {
	case REC_LDU1_DST:
		p.dstID = r.ID
	case REC_LDU1_SRC:
		p.srcID = r.ID
	}
	ev.Frame = protocol.FRAME_VOICE
	ev.StreamID = p.streamID
	ev.SrcID, ev.DstID = p.srcID, p.dstID
	ev.Codec = r.IMBE
	return ev, nil
}

// EndStream forgets the receive stream, e.g. after the watchdog fired.
func (p *P25) EndStream() {
	p.inStream = false
}

// EncodeFrame builds the record for one outgoing frame. Voice Seq 1 is the
// first record of the LDU cycle. A header produces nothing.
func (p *P25) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	switch tx.Frame {
	case protocol.FRAME_HEADER:
		return nil, nil
	case protocol.FRAME_TERMINATOR:
		return [][]byte{Terminator()}, nil
	case protocol.FRAME_VOICE:
		if len(tx.Codec) < IMBE_LENGTH {
			return nil, fmt.Errorf("p25 voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		step := 0
		if tx.Seq > 0 {
			step = int((tx.Seq - 1) % LDU_RECORDS)
		}
		lcf := uint8(LCF_GROUP)
		if p.station.Private {
			lcf = LCF_PRIVATE
		}
		return [][]byte{BuildRecord(step, tx.Codec, lcf, p.station.DMRID, p.tg)}, nil
	}
	return nil, fmt.Errorf("p25: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
}
