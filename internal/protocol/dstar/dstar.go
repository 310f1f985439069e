// Package dstar implements the D-STAR reflector links: DPlus (REF), DCS and
// DExtra (XRF). All three carry 9-byte AMBE frames plus 3 bytes of slow
// data, grouped into superframes of 21 with a sync pattern in frame 0.
package dstar

import (
	"strings"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

const (
	CALLSIGN_LENGTH  = 8
	AMBE_LENGTH      = 9
	SLOW_DATA_LENGTH = 3
	SUPERFRAME       = 21
	SEQ_END          = 0x40
)

// AMBE_SILENCE is the AMBE frame sent in closing frames.
var AMBE_SILENCE = []byte{0xDC, 0x8E, 0x0A, 0x40, 0xAD, 0xED, 0xAD, 0x39, 0x6E}

// Header is the routing part of a D-STAR header.
type Header struct {
	Flags  [3]byte
	Rptr2  string
	Rptr1  string
	Ur     string
	My     string
	Suffix string
}

// FormatCallsign lays out a routing field: "REF001 C" becomes the base
// padded to seven characters followed by the module, anything else is
// padded to eight.
func FormatCallsign(s string) string {
	f := strings.Fields(strings.ToUpper(s))
	if len(f) > 1 {
		return string(protocol.PadCallsign(f[0], CALLSIGN_LENGTH-1)) + f[1][:1]
	}
	if len(f) == 0 {
		return strings.Repeat(" ", CALLSIGN_LENGTH)
	}
	return string(protocol.PadCallsign(f[0], CALLSIGN_LENGTH))
}

// TxHeader builds the header a station sends to reflector.
func TxHeader(st protocol.Station) Header {
	module := string(st.Module)
	return Header{
		Rptr2:  FormatCallsign(st.Reflector + " " + module),
		Rptr1:  FormatCallsign(st.Callsign + " " + module),
		Ur:     FormatCallsign("CQCQCQ"),
		My:     FormatCallsign(st.Callsign),
		Suffix: "AMBE",
	}
}

// putRouting writes rptr2, rptr1, ur, my and the suffix starting at off.
func (h Header) putRouting(b []byte, off int) {
	copy(b[off:], protocol.PadCallsign(h.Rptr2, CALLSIGN_LENGTH))
	copy(b[off+8:], protocol.PadCallsign(h.Rptr1, CALLSIGN_LENGTH))
	copy(b[off+16:], protocol.PadCallsign(h.Ur, CALLSIGN_LENGTH))
	copy(b[off+24:], protocol.PadCallsign(h.My, CALLSIGN_LENGTH))
	copy(b[off+32:], protocol.PadCallsign(h.Suffix, 4))
}

func readRouting(b []byte, off int) Header {
	return Header{
		Rptr2:  string(b[off : off+8]),
		Rptr1:  string(b[off+8 : off+16]),
		Ur:     string(b[off+16 : off+24]),
		My:     string(b[off+24 : off+32]),
		Suffix: string(b[off+32 : off+36]),
	}
}

// matches reports whether either repeater field names the linked module.
func (h Header) matches(reflector string) bool {
	want := strings.Join(strings.Fields(reflector), " ")
	return strings.Join(strings.Fields(h.Rptr1), " ") == want ||
		strings.Join(strings.Fields(h.Rptr2), " ") == want
}

// ModemHeader encodes h as a DSTAR_HEADER envelope: three flag bytes, the
// routing fields and a CCITT161 over all 41 bytes before it.
func ModemHeader(h Header) []byte {
	payload := make([]byte, 41)
	payload[0] = 0x40
	h.putRouting(payload, 3)
	codec.AppendCCITT16(payload, codec.CCITT161, codec.CRC_MASK_NONE)
	return modem.MustEncode(modem.DSTAR_HEADER, payload)
}

// DecodeModemHeader checks the CRC of a DSTAR_HEADER payload.
func DecodeModemHeader(payload []byte) (Header, error) {
	if len(payload) < 41 {
		return Header{}, protocol.ErrFraming
	}
	if !codec.VerifyCCITT16(payload[:41], codec.CCITT161, codec.CRC_MASK_NONE) {
		return Header{}, protocol.ErrCRCMismatch
	}
	h := readRouting(payload, 3)
	copy(h.Flags[:], payload[:3])
	return h, nil
}

// ModemVoice wraps one AMBE frame and its slow data.
func ModemVoice(ambe, slow []byte) []byte {
	payload := make([]byte, AMBE_LENGTH+SLOW_DATA_LENGTH)
	copy(payload, ambe)
	copy(payload[AMBE_LENGTH:], slow)
	return modem.MustEncode(modem.DSTAR_DATA, payload)
}

// ModemEOT ends a modem transmission.
func ModemEOT() []byte {
	return modem.MustEncode(modem.DSTAR_EOT, nil)
}

func event(h Header) protocol.Event {
	return protocol.Event{
		Src:     protocol.TrimCallsign([]byte(h.My)),
		Dst:     protocol.TrimCallsign([]byte(h.Ur)),
		Gateway: protocol.TrimCallsign([]byte(h.Rptr1)),
	}
}
