package m17

import (
	"fmt"
	"strings"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// CALLSIGN_ALPHABET maps base-40 digits to characters; digit 0 is space.
const CALLSIGN_ALPHABET = " ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-/."

const (
	CALLSIGN_LENGTH = 6
	MAX_CALLSIGN    = 9
	BROADCAST       = "@ALL"
)

const (
	maxEncoded uint64 = 0xEE6B27FFFFFF // 40^9 - 1
	broadcast  uint64 = 0xFFFFFFFFFFFF
)

// EncodeCallsign packs up to nine characters base-40, first character
// least significant. Characters outside the alphabet encode as space.
func EncodeCallsign(s string) []byte {
	s = strings.ToUpper(s)
	if len(s) > MAX_CALLSIGN {
		s = s[:MAX_CALLSIGN]
	}
	var v uint64
	if s == BROADCAST {
		v = broadcast
	}
	for i := len(s) - 1; i >= 0 && v != broadcast; i-- {
		pos := strings.IndexByte(CALLSIGN_ALPHABET, s[i])
		if pos < 0 {
			pos = 0
		}
		v = v*40 + uint64(pos)
	}
	out := make([]byte, CALLSIGN_LENGTH)
	for i := range out {
		out[i] = uint8(v >> (8 * (CALLSIGN_LENGTH - 1 - i)))
	}
	return out
}

// DecodeCallsign unpacks a six byte base-40 callsign. Trailing spaces are
// dropped; inner spaces (before a module letter) are kept.
func DecodeCallsign(b []byte) (string, error) {
	if len(b) < CALLSIGN_LENGTH {
		return "", fmt.Errorf("m17 callsign: %d bytes: %w", len(b), protocol.ErrFraming)
	}
	var v uint64
	for _, c := range b[:CALLSIGN_LENGTH] {
		v = v<<8 | uint64(c)
	}
	if v == broadcast {
		return BROADCAST, nil
	}
	if v > maxEncoded {
		return "", fmt.Errorf("m17 callsign %012X out of range: %w", v, protocol.ErrFraming)
	}
	var sb strings.Builder
	for v != 0 {
		sb.WriteByte(CALLSIGN_ALPHABET[v%40])
		v /= 40
	}
	return strings.TrimRight(sb.String(), " "), nil
}

// Address is a callsign padded to eight characters with the module or
// suffix letter in the ninth, e.g. "M17-USA C" or "N0CALL  D".
func Address(callsign string, module byte) string {
	if module == 0 {
		module = ' '
	}
	return string(protocol.PadCallsign(callsign, 8)) + string(module)
}
