// Package protocol holds the types shared by every network backend: the
// backend kind, the immutable descriptor selected by it, link status values
// and the decoded event a backend hands to the session.
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrFraming reports a packet of the wrong length or without its magic.
	ErrFraming = errors.New("framing error")
	// ErrCRCMismatch reports a complete message whose checksum failed.
	ErrCRCMismatch = errors.New("crc mismatch")
)

// Kind selects a backend and its descriptor.
type Kind int

const (
	KIND_NONE Kind = iota
	KIND_REF
	KIND_DCS
	KIND_XRF
	KIND_DMR
	KIND_YSF
	KIND_FCS
	KIND_NXDN
	KIND_P25
	KIND_M17
)

var kindNames = map[Kind]string{
	KIND_REF:  "REF",
	KIND_DCS:  "DCS",
	KIND_XRF:  "XRF",
	KIND_DMR:  "DMR",
	KIND_YSF:  "YSF",
	KIND_FCS:  "FCS",
	KIND_NXDN: "NXDN",
	KIND_P25:  "P25",
	KIND_M17:  "M17",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "NONE"
}

// IsDSTAR reports whether the kind carries D-STAR framing.
func (k Kind) IsDSTAR() bool {
	return k == KIND_REF || k == KIND_DCS || k == KIND_XRF
}

// ParseKind accepts a backend name as written in configuration. Reflector
// names such as "XRF757" or "M17-M17" are matched by prefix.
func ParseKind(s string) (Kind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, k := range []Kind{KIND_NXDN, KIND_REF, KIND_DCS, KIND_XRF, KIND_DMR, KIND_YSF, KIND_FCS, KIND_P25, KIND_M17} {
		if strings.HasPrefix(s, kindNames[k]) {
			return k, nil
		}
	}
	return KIND_NONE, fmt.Errorf("unknown backend %q", s)
}

// FrameKind is the logical kind of a decoded or encoded wire unit.
type FrameKind int

const (
	FRAME_NONE FrameKind = iota
	FRAME_CONTROL
	FRAME_HEADER
	FRAME_VOICE
	FRAME_DATA
	FRAME_TERMINATOR
)

func (f FrameKind) String() string {
	switch f {
	case FRAME_CONTROL:
		return "CONTROL"
	case FRAME_HEADER:
		return "HEADER"
	case FRAME_VOICE:
		return "VOICE"
	case FRAME_DATA:
		return "DATA"
	case FRAME_TERMINATOR:
		return "TERMINATOR"
	default:
		return "NONE"
	}
}

// Status is the state of the link to the server. NO_CHANGE is only used in
// events to say a packet left the link as it was.
type Status int

const (
	NO_CHANGE Status = iota
	DISCONNECTED
	CONNECTING
	DMR_AUTH
	DMR_CONF
	DMR_OPTS
	CONNECTED_RW
	CONNECTED_RO
	CLOSED
)

func (s Status) String() string {
	switch s {
	case DISCONNECTED:
		return "DISCONNECTED"
	case CONNECTING:
		return "CONNECTING"
	case DMR_AUTH:
		return "DMR_AUTH"
	case DMR_CONF:
		return "DMR_CONF"
	case DMR_OPTS:
		return "DMR_OPTS"
	case CONNECTED_RW:
		return "CONNECTED_RW"
	case CONNECTED_RO:
		return "CONNECTED_RO"
	case CLOSED:
		return "CLOSED"
	default:
		return "NO_CHANGE"
	}
}

// Connected reports whether traffic may flow.
func (s Status) Connected() bool {
	return s == CONNECTED_RW || s == CONNECTED_RO
}

// Station identifies the local end of a link.
type Station struct {
	Callsign  string
	Module    byte
	Reflector string // reflector name, e.g. "REF001"
	DMRID     uint32
	NXDNID    uint16
	ESSID     uint8
	Talkgroup uint32
	Private   bool
	Slot      uint8
	ColorCode uint8
	CAN       uint8 // M17 channel access number
	Password  string
	Options   string
	Text      string // slow data / info text sent with transmissions

	// DMR repeater configuration
	RxFreq      uint32
	TxFreq      uint32
	Latitude    float64
	Longitude   float64
	Location    string
	Description string
	URL         string
	SoftwareID  string
	PackageID   string
}

// Event is everything a backend extracted from one packet.
type Event struct {
	Frame     FrameKind
	Status    Status
	Keepalive bool
	Reply     [][]byte // packets to send back to the server

	StreamID uint32
	Src      string
	Dst      string
	Gateway  string
	SrcID    uint32
	DstID    uint32
	Text     string

	Codec  []byte   // vocoder frames, CodecBytes each
	Modem  [][]byte // MMDVM envelopes for the local modem
	Errors int      // bits corrected or flagged by FEC
}

// Transmit asks a backend to build the packets for one outgoing frame.
// Seq counts frames from the header (0) onwards.
type Transmit struct {
	Frame    FrameKind
	StreamID uint32
	Seq      uint32
	Codec    []byte
}

// Call summarises a finished stream for the call log.
type Call struct {
	Kind     Kind
	StreamID uint32
	Src      string
	Dst      string
	SrcID    uint32
	DstID    uint32
	Gateway  string
	Text     string
	Start    time.Time
	End      time.Time
	Frames   int
	Errors   int
	Lost     bool // ended by the watchdog or pre-empted, not by a terminator
}

// PadCallsign returns s upper-cased, truncated or space padded to n bytes.
func PadCallsign(s string, n int) []byte {
	out := []byte(strings.ToUpper(s))
	if len(out) > n {
		return out[:n]
	}
	for len(out) < n {
		out = append(out, ' ')
	}
	return out
}

// TrimCallsign strips padding and NULs from a wire callsign.
func TrimCallsign(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
