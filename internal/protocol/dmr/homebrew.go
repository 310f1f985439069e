// Package dmr implements a Homebrew (MMDVM network) DMR client: the
// RPTL/RPTK/RPTC login, DMRD voice packets and the burst level coding the
// local modem needs (full LC in BPTC, embedded LC, EMB and slot type).
package dmr

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/correction"
	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	CONFIG_LENGTH = 302
	// RETRY_TIMEOUT restarts a login that stalled before CONNECTED_RW.
	RETRY_TIMEOUT = 10 * time.Second

	DEFAULT_SLOT       = 2
	DEFAULT_COLOR_CODE = 1
)

// Homebrew is a DMR network backend.
type Homebrew struct {
	station protocol.Station
	desc    protocol.Descriptor
	status  protocol.Status
	rptID   uint32

	streamID uint32
	embedded *protocol.Reassembler
	bptc     *codec.BPTC19696
	retry    *protocol.Timer

	txLC       []byte
	txEmbedded *correction.EmbeddedLC
}

// RepeaterID folds the essid into the DMR id the way hotspots do:
// id*100 + essid-1, or the plain id when essid is 0.
func RepeaterID(id uint32, essid uint8) uint32 {
	if essid == 0 {
		return id
	}
	return id*100 + uint32(essid) - 1
}

// NewHomebrew returns a DMR backend for st.
func NewHomebrew(st protocol.Station) *Homebrew {
	if st.Slot != 1 && st.Slot != 2 {
		st.Slot = DEFAULT_SLOT
	}
	if st.ColorCode == 0 || st.ColorCode > COLOR_CODE_MAX {
		st.ColorCode = DEFAULT_COLOR_CODE
	}
	desc, _ := protocol.DescriptorFor(protocol.KIND_DMR)
	return &Homebrew{
		station: st,
		desc:    desc,
		status:  protocol.DISCONNECTED,
		rptID:   RepeaterID(st.DMRID, st.ESSID),
		embedded: protocol.NewReassembler(4, 4, func(raw []byte) ([]byte, error) {
			lc, ok := correction.DecodeEmbeddedLC(raw)
			if !ok {
				return nil, protocol.ErrCRCMismatch
			}
			return lc, nil
		}),
		bptc:  codec.NewBPTC19696(),
		retry: protocol.NewTimer(RETRY_TIMEOUT),
	}
}

func (h *Homebrew) Descriptor() protocol.Descriptor {
	return h.desc
}

// Status is the current login state.
func (h *Homebrew) Status() protocol.Status {
	return h.status
}

func (h *Homebrew) tagged(tag string, extra ...[]byte) []byte {
	out := make([]byte, 0, len(tag)+4)
	out = append(out, tag...)
	out = binary.BigEndian.AppendUint32(out, h.rptID)
	for _, e := range extra {
		out = append(out, e...)
	}
	return out
}

// Connect sends RPTL.
func (h *Homebrew) Connect() ([][]byte, error) {
	if h.station.DMRID == 0 {
		return nil, fmt.Errorf("dmr: no DMR id configured")
	}
	h.status = protocol.CONNECTING
	h.retry.Start()
	return [][]byte{h.tagged("RPTL")}, nil
}

// Disconnect returns RPTCL.
func (h *Homebrew) Disconnect() [][]byte {
	h.status = protocol.DISCONNECTED
	h.retry.Stop()
	return [][]byte{h.tagged("RPTCL")}
}

// Ping returns RPTPING.
func (h *Homebrew) Ping() [][]byte {
	return [][]byte{h.tagged("RPTPING")}
}

// Tick restarts a login that got no answer.
func (h *Homebrew) Tick(elapsed time.Duration) [][]byte {
	h.retry.Clock(elapsed)
	if h.status == protocol.CONNECTED_RW || h.status == protocol.DISCONNECTED ||
		h.status == protocol.CLOSED || !h.retry.HasExpired() {
		return nil
	}
	pkts, _ := h.Connect()
	return pkts
}

// config renders the RPTC packet.
func (h *Homebrew) config() []byte {
	st := h.station
	lat := fmt.Sprintf("%08f", st.Latitude)
	lon := fmt.Sprintf("%09f", st.Longitude)
	body := fmt.Sprintf("%-8.8s%09d%09d%02d%02d%8.8s%9.9s%03d%-20.20s%-19.19s%c%-124.124s%-40.40s%-40.40s",
		st.Callsign, st.RxFreq, st.TxFreq, 1, 1, lat, lon, 0,
		st.Location, st.Description, '4', st.URL, st.SoftwareID, st.PackageID)
	out := h.tagged("RPTC", []byte(body))
	if len(out) < CONFIG_LENGTH {
		out = append(out, make([]byte, CONFIG_LENGTH-len(out))...)
	}
	return out[:CONFIG_LENGTH]
}

func (h *Homebrew) setStatus(ev *protocol.Event, s protocol.Status) {
	if s == h.status {
		return
	}
	h.status = s
	ev.Status = s
	switch s {
	case protocol.CONNECTED_RW, protocol.DISCONNECTED, protocol.CLOSED:
		h.retry.Stop()
	}
}

// ack advances the login on RPTACK.
func (h *Homebrew) ack(pkt []byte, ev *protocol.Event) {
	switch h.status {
	case protocol.CONNECTING:
		if len(pkt) < 10 {
			return
		}
		salted := append(bytes.Clone(pkt[6:10]), h.station.Password...)
		sum := sha256.Sum256(salted)
		ev.Reply = [][]byte{h.tagged("RPTK", sum[:])}
		h.setStatus(ev, protocol.DMR_AUTH)
	case protocol.DMR_AUTH:
		ev.Reply = [][]byte{h.config()}
		h.setStatus(ev, protocol.DMR_CONF)
	case protocol.DMR_CONF:
		if h.station.Options != "" {
			ev.Reply = [][]byte{h.tagged("RPTO", []byte(h.station.Options))}
			h.setStatus(ev, protocol.DMR_OPTS)
			return
		}
		h.setStatus(ev, protocol.CONNECTED_RW)
	case protocol.DMR_OPTS:
		h.setStatus(ev, protocol.CONNECTED_RW)
	}
}

// DecodeFrame interprets one packet from the master.
func (h *Homebrew) DecodeFrame(pkt []byte) (protocol.Event, error) {
	var ev protocol.Event
	rw := h.status == protocol.CONNECTED_RW

	switch {
	case bytes.HasPrefix(pkt, []byte("MSTCL")):
		ev.Frame = protocol.FRAME_CONTROL
		h.setStatus(&ev, protocol.CLOSED)
		return ev, nil
	case !rw && len(pkt) >= 6 && string(pkt[3:6]) == "NAK":
		ev.Frame = protocol.FRAME_CONTROL
		h.setStatus(&ev, protocol.DISCONNECTED)
		return ev, nil
	case !rw && bytes.HasPrefix(pkt, []byte("RPTACK")):
		ev.Frame = protocol.FRAME_CONTROL
		h.ack(pkt, &ev)
		return ev, nil
	case bytes.HasPrefix(pkt, []byte("MSTPONG")):
		ev.Frame = protocol.FRAME_CONTROL
		ev.Keepalive = true
		return ev, nil
	case len(pkt) == DMRD_LENGTH && bytes.HasPrefix(pkt, dmrdMagic):
		if !rw {
			return ev, nil
		}
		d, err := DecodeDMRD(pkt)
		if err != nil {
			return ev, err
		}
		return h.decodeData(&d)
	}
	return ev, fmt.Errorf("dmr: %d byte packet: %w", len(pkt), protocol.ErrFraming)
}

func (h *Homebrew) modemFrame(d *Data) []byte {
	typ := byte(modem.DMR_DATA2)
	if d.Slot == 1 {
		typ = modem.DMR_DATA1
	}
	payload := make([]byte, 0, 1+DMR_FRAME_LENGTH)
	payload = append(payload, d.ModemType())
	payload = append(payload, d.Burst[:]...)
	return modem.MustEncode(typ, payload)
}

func (h *Homebrew) decodeData(d *Data) (protocol.Event, error) {
	ev := protocol.Event{
		StreamID: d.StreamID,
		SrcID:    d.SrcID,
		DstID:    d.DstID,
		Gateway:  strconv.FormatUint(uint64(d.RptID), 10),
	}

	// Header and terminator LCs are checked before any stream state
	// changes; a bad one is dropped and the watchdog ends the stream.
	var full []byte
	if d.IsHeader() || d.IsTerminator() {
		mask := uint8(correction.RS_MASK_VOICE_LC_HEADER)
		if d.IsTerminator() {
			mask = correction.RS_MASK_TERMINATOR_WITH_LC
		}
		full = h.bptc.Decode(d.Burst[:])
		if !correction.CheckFullLC(full, mask) {
			return protocol.Event{}, fmt.Errorf("dmr lc: %w", protocol.ErrCRCMismatch)
		}
	}

	if d.StreamID != h.streamID {
		h.streamID = d.StreamID
		h.embedded.Reset()
	}

	switch {
	case d.IsHeader(), d.IsTerminator():
		ev.Frame = protocol.FRAME_HEADER
		if d.IsTerminator() {
			ev.Frame = protocol.FRAME_TERMINATOR
		}
		var lc LinkControl
		_ = lc.Decode(full)
		ev.SrcID, ev.DstID = lc.SrcID, lc.DstID
		if ev.Frame == protocol.FRAME_TERMINATOR {
			h.streamID = 0
			h.embedded.Reset()
		}
		ev.Modem = [][]byte{h.modemFrame(d)}
		return ev, nil

	case d.FrameType == FT_DATA_SYNC:
		ev.Frame = protocol.FRAME_DATA
		ev.Modem = [][]byte{h.modemFrame(d)}
		return ev, nil
	}

	ev.Frame = protocol.FRAME_VOICE
	ev.Codec = ExtractAMBE(d.Burst[:])
	ev.Modem = [][]byte{h.modemFrame(d)}

	if n := d.VoiceBurst(); n >= 1 && n <= 4 {
		if _, ok := correction.DecodeEMB(d.Burst[:]); !ok {
			ev.Errors++
			return ev, nil
		}
		frag := correction.GetEmbeddedFragment(d.Burst[:])
		lcBytes, err := h.embedded.Add(n-1, frag[:])
		if err != nil {
			ev.Errors++
		} else if lcBytes != nil {
			var lc LinkControl
			_ = lc.Decode(lcBytes)
			ev.SrcID, ev.DstID = lc.SrcID, lc.DstID
		}
	}
	return ev, nil
}

// EndStream drops the receive stream and any partial embedded LC.
func (h *Homebrew) EndStream() {
	h.streamID = 0
	h.embedded.Reset()
}

func (h *Homebrew) flco() uint8 {
	if h.station.Private {
		return FLCO_USER_USER
	}
	return FLCO_GROUP
}

func (h *Homebrew) data(tx protocol.Transmit) Data {
	return Data{
		Seq:      uint8(tx.Seq),
		SrcID:    h.station.DMRID,
		DstID:    h.station.Talkgroup,
		RptID:    h.rptID,
		Slot:     h.station.Slot,
		Private:  h.station.Private,
		StreamID: tx.StreamID,
	}
}

// lcBurst builds a header or terminator: data sync, slot type and the full
// LC in BPTC(196,96).
func (h *Homebrew) lcBurst(d *Data, dataType uint8, mask uint8) {
	d.FrameType = FT_DATA_SYNC
	d.DataType = dataType
	AddSync(d.Burst[:], MS_DATA_SYNC)
	correction.EncodeSlotType(correction.SlotType{ColorCode: h.station.ColorCode, DataType: dataType}, d.Burst[:])
	full := correction.EncodeFullLC(h.txLC, mask)
	h.bptc.Encode(full[:], d.Burst[:])
}

// EncodeFrame builds the DMRD packet for one outgoing frame. Voice bursts
// cycle A..F: A carries the voice sync, B..E the embedded LC and F an
// empty embedded field.
func (h *Homebrew) EncodeFrame(tx protocol.Transmit) ([][]byte, error) {
	d := h.data(tx)

	switch tx.Frame {
	case protocol.FRAME_HEADER:
		lc := LinkControl{FLCO: h.flco(), DstID: h.station.Talkgroup, SrcID: h.station.DMRID}
		h.txLC = lc.Encode()
		h.txEmbedded = correction.NewEmbeddedLC(h.txLC)
		h.lcBurst(&d, DT_VOICE_LC_HEADER, correction.RS_MASK_VOICE_LC_HEADER)

	case protocol.FRAME_VOICE:
		if len(tx.Codec) < AMBE_LENGTH*AMBE_PER_BURST {
			return nil, fmt.Errorf("dmr voice: %d codec bytes: %w", len(tx.Codec), protocol.ErrFraming)
		}
		if h.txEmbedded == nil {
			return nil, fmt.Errorf("dmr voice before header: %w", protocol.ErrFraming)
		}
		InsertAMBE(d.Burst[:], tx.Codec)
		n := 0
		if tx.Seq > 0 {
			n = int((tx.Seq - 1) % VOICE_BURSTS)
		}
		if n == 0 {
			d.FrameType = FT_VOICE_SYNC
			AddSync(d.Burst[:], MS_VOICE_SYNC)
		} else {
			d.FrameType = FT_VOICE
			d.DataType = uint8(n)
			frag, lcss := h.txEmbedded.Fragment(n)
			correction.PutEmbeddedFragment(frag[:], d.Burst[:])
			correction.EncodeEMB(correction.EMB{ColorCode: h.station.ColorCode, LCSS: lcss}, d.Burst[:])
		}

	case protocol.FRAME_TERMINATOR:
		if h.txLC == nil {
			lc := LinkControl{FLCO: h.flco(), DstID: h.station.Talkgroup, SrcID: h.station.DMRID}
			h.txLC = lc.Encode()
		}
		h.lcBurst(&d, DT_TERMINATOR_WITH_LC, correction.RS_MASK_TERMINATOR_WITH_LC)
		h.txLC, h.txEmbedded = nil, nil

	default:
		return nil, fmt.Errorf("dmr: cannot encode %s: %w", tx.Frame, protocol.ErrFraming)
	}
	return [][]byte{d.Build()}, nil
}
