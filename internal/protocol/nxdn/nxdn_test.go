package nxdn

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

func station() protocol.Station {
	return protocol.Station{Callsign: "N0CALL", NXDNID: 12345, Reflector: "NXDN65000"}
}

func connected(t *testing.T) *NXDN {
	t.Helper()
	n := New(station())
	_, err := n.Connect()
	require.NoError(t, err)
	_, err = n.DecodeFrame(n.poll('P'))
	require.NoError(t, err)
	require.Equal(t, protocol.CONNECTED_RW, n.Status())
	return n
}

func testCodec(seed byte) []byte {
	out := make([]byte, AMBE_PER_FRAME*AMBE_LENGTH)
	for i := range out {
		out[i] = seed ^ byte(i*29)
		if i%AMBE_LENGTH == AMBE_LENGTH-1 {
			out[i] &= 0x80
		}
	}
	return out
}

func TestLICH(t *testing.T) {
	tests := []struct {
		name  string
		lich  LICH
		value uint8
	}{
		{"header", LICH{RFCT: LICH_RFCT_RDCH, FCT: LICH_USC_SACCH_NS, Option: LICH_STEAL_FACCH}, 0x81},
		{"voice", LICH{RFCT: LICH_RFCT_RDCH, FCT: LICH_USC_SACCH_SS, Option: LICH_STEAL_NONE}, 0xAC},
		{"data", LICH{RFCT: LICH_RFCT_RDCH, FCT: LICH_USC_UDCH}, 0x90},
		{"outbound", LICH{RFCT: LICH_RFCT_RDCH, FCT: 3, Direction: LICH_DIRECTION_OUTBOUND}, 0xB3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.value, tt.lich.Encode())
			got, err := DecodeLICH(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.lich, got)
		})
	}

	for _, bad := range []uint8{0x80, 0xAD, 0xB2} {
		got, err := DecodeLICH(bad)
		assert.ErrorIs(t, err, protocol.ErrCRCMismatch, "%02X", bad)
		assert.Equal(t, (bad>>4)&0x03, got.FCT, "fields decoded despite parity")
	}
}

func TestSACCH_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := SACCH{
			Structure: rapid.Uint8Range(0, 3).Draw(t, "struct"),
			RAN:       rapid.Uint8Range(0, 63).Draw(t, "ran"),
		}
		copy(s.Data[:], rapid.SliceOfN(rapid.Byte(), 3, 3).Draw(t, "data"))
		s.Data[2] &= 0xC0

		enc := s.Encode()
		got, err := DecodeSACCH(enc)
		require.NoError(t, err)
		assert.Equal(t, s, got)

		bit := rapid.IntRange(0, 31).Draw(t, "flip")
		enc[bit/8] ^= 0x80 >> (bit % 8)
		_, err = DecodeSACCH(enc)
		assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
	})
}

func TestLayer3_Fragments(t *testing.T) {
	l3 := Layer3{MessageType: MESSAGE_TYPE_VCALL, Group: true, SrcID: 12345, DstID: 65000, Blocks: 3}
	enc := l3.Encode()
	require.Len(t, enc, LAYER3_LENGTH)
	assert.Equal(t, []byte{0x01, 0x00, 0x20, 0x30, 0x39, 0xFD, 0xE8, 0x00, 0x03}, enc[:9])

	r := protocol.NewReassembler(SACCH_FRAGMENTS, 3, joinLayer3)
	var msg []byte
	for _, n := range []int{1, 2, 3, 0} {
		frag := Layer3Fragment(l3, n)
		var err error
		msg, err = r.Add(n, frag[:])
		require.NoError(t, err)
	}
	require.NotNil(t, msg)
	got, err := DecodeLayer3(msg)
	require.NoError(t, err)
	assert.Equal(t, l3, got)

	_, err = DecodeLayer3([]byte{1, 2})
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestAMBE_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ambe := rapid.SliceOfN(rapid.Byte(), 28, 28).Draw(t, "ambe")
		for i := AMBE_LENGTH - 1; i < len(ambe); i += AMBE_LENGTH {
			ambe[i] &= 0x80
		}
		pkt := make([]byte, PACKET_LENGTH)
		InsertAMBE(pkt, ambe)
		assert.Equal(t, ambe, ExtractAMBE(pkt))
		assert.Zero(t, pkt[PACKET_LENGTH-1]&0x3F)
	})
}

func TestAMBE_Layout(t *testing.T) {
	ambe := make([]byte, 28)
	for _, i := range []int{1, 3} {
		copy(ambe[i*7:], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x80})
	}
	pkt := make([]byte, PACKET_LENGTH)
	InsertAMBE(pkt, ambe)
	// Frames two and four start one bit into bytes 21 and 35.
	assert.Equal(t, byte(0x00), pkt[20])
	assert.Equal(t, byte(0x7F), pkt[21])
	assert.Equal(t, byte(0xC0), pkt[27])
	assert.Equal(t, byte(0x00), pkt[28])
	assert.Equal(t, byte(0x7F), pkt[35])
	assert.Equal(t, byte(0xC0), pkt[41])
}

func TestPacket_Flags(t *testing.T) {
	tests := []struct {
		name    string
		lich    uint8
		payload []byte
		flags   uint8
	}{
		{"vcall header", 0x81, []byte{MESSAGE_TYPE_VCALL}, 0x05},
		{"tx release", 0x81, []byte{MESSAGE_TYPE_TX_REL}, 0x09},
		{"voice", 0xAC, nil, 0x01},
		{"data header", 0x90, nil, 0x03},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Packet{SrcID: 1, DstID: 2, LICH: tt.lich, SACCH: make([]byte, 4), Payload: tt.payload}
			pkt := p.Build()
			assert.Equal(t, tt.flags, pkt[9])

			got, err := ParsePacket(pkt)
			require.NoError(t, err)
			assert.Equal(t, uint16(1), got.SrcID)
			assert.Equal(t, uint16(2), got.DstID)
			assert.Equal(t, tt.lich, got.LICH)
		})
	}

	_, err := ParsePacket([]byte("NXDND"))
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestNXDN_Login(t *testing.T) {
	n := New(station())
	assert.Equal(t, uint16(65000), n.GatewayID())

	pkts, err := n.Connect()
	require.NoError(t, err)
	want := append([]byte("NXDNPN0CALL    "), 0xFD, 0xE8)
	assert.Equal(t, [][]byte{want}, pkts)
	assert.Equal(t, protocol.CONNECTING, n.Status())

	assert.Empty(t, n.Tick(4*time.Second))
	assert.Equal(t, [][]byte{want}, n.Tick(time.Second))

	ev, err := n.DecodeFrame(want)
	require.NoError(t, err)
	assert.Equal(t, protocol.CONNECTED_RW, ev.Status)
	assert.True(t, ev.Keepalive)

	ev, err = n.DecodeFrame(want)
	require.NoError(t, err)
	assert.Equal(t, protocol.NO_CHANGE, ev.Status)

	unlink := append([]byte("NXDNUN0CALL    "), 0xFD, 0xE8)
	assert.Equal(t, [][]byte{unlink}, n.Disconnect())
	assert.Equal(t, protocol.DISCONNECTED, n.Status())
}

func TestNXDN_ConnectErrors(t *testing.T) {
	st := station()
	st.NXDNID = 0
	_, err := New(st).Connect()
	assert.Error(t, err)

	st = station()
	st.Reflector = "somewhere"
	_, err = New(st).Connect()
	assert.Error(t, err)

	st.Talkgroup = 31337
	assert.Equal(t, uint16(31337), New(st).GatewayID())
}

func TestNXDN_StreamRoundTrip(t *testing.T) {
	tx := New(station())
	rx := connected(t)

	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER})
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	hdr := pkts[0]
	assert.Equal(t, "NXDND", string(hdr[:5]))
	assert.Equal(t, byte(0x05), hdr[9])
	assert.Equal(t, byte(0x81), hdr[10])
	assert.Equal(t, hdr[15:29], hdr[29:43])

	ev, err := rx.DecodeFrame(hdr)
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_HEADER, ev.Frame)
	assert.Equal(t, uint32(1), ev.StreamID)
	assert.Equal(t, uint32(12345), ev.SrcID)
	assert.Equal(t, uint32(65000), ev.DstID)

	for seq := uint32(1); seq <= 8; seq++ {
		ambe := testCodec(byte(seq))
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: seq, Codec: ambe})
		require.NoError(t, err)
		pkt := pkts[0]
		assert.Equal(t, byte(0xAC), pkt[10])

		// Blank the routing so the ids can only come from SACCH.
		pkt[5], pkt[6] = 0, 0
		ev, err := rx.DecodeFrame(pkt)
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, uint32(1), ev.StreamID)
		assert.Equal(t, ambe, ev.Codec)
		assert.Zero(t, ev.Errors)
		if seq%4 == 0 {
			assert.Equal(t, uint32(12345), ev.SrcID, "seq %d", seq)
		} else {
			assert.Zero(t, ev.SrcID, "seq %d", seq)
		}
	}

	pkts, err = tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, Seq: 9})
	require.NoError(t, err)
	assert.Equal(t, byte(0x09), pkts[0][9])
	ev, err = rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
	assert.Equal(t, uint32(1), ev.StreamID)

	// Late entry: voice after the terminator opens a new stream.
	pkts, err = tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: 2, Codec: testCodec(7)})
	require.NoError(t, err)
	ev, err = rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ev.StreamID)
}

func TestNXDN_DecodeErrors(t *testing.T) {
	tx := New(station())
	rx := connected(t)

	hdr, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER})
	require.NoError(t, err)
	voice, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: 1, Codec: testCodec(1)})
	require.NoError(t, err)

	t.Run("header sacch", func(t *testing.T) {
		pkt := bytes.Clone(hdr[0])
		pkt[SACCH_OFFSET+1] ^= 0x10
		_, err := rx.DecodeFrame(pkt)
		assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
	})

	t.Run("voice sacch still forwarded", func(t *testing.T) {
		pkt := bytes.Clone(voice[0])
		pkt[SACCH_OFFSET+2] ^= 0x01
		ev, err := rx.DecodeFrame(pkt)
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, 1, ev.Errors)
		assert.Equal(t, testCodec(1), ev.Codec)
	})

	t.Run("voice lich parity still forwarded", func(t *testing.T) {
		pkt := bytes.Clone(voice[0])
		pkt[LICH_OFFSET] ^= 0x01
		ev, err := rx.DecodeFrame(pkt)
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, 1, ev.Errors)
		assert.Equal(t, testCodec(1), ev.Codec)
	})

	t.Run("header lich parity", func(t *testing.T) {
		pkt := bytes.Clone(hdr[0])
		pkt[LICH_OFFSET] ^= 0x01
		_, err := rx.DecodeFrame(pkt)
		assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
	})

	t.Run("framing", func(t *testing.T) {
		_, err := rx.DecodeFrame(make([]byte, 30))
		assert.ErrorIs(t, err, protocol.ErrFraming)
	})

	t.Run("short codec", func(t *testing.T) {
		_, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Codec: make([]byte, 7)})
		assert.ErrorIs(t, err, protocol.ErrFraming)
	})
}

func TestNXDN_IgnoredBeforeLogin(t *testing.T) {
	tx := New(station())
	rx := New(station())
	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER})
	require.NoError(t, err)
	ev, err := rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_NONE, ev.Frame)
}
