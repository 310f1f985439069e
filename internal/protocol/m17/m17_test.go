package m17

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

func station() protocol.Station {
	return protocol.Station{Callsign: "N0CALL", Reflector: "M17-USA", Module: 'C'}
}

func connected(t *testing.T, m *M17) {
	t.Helper()
	_, err := m.Connect()
	require.NoError(t, err)
	_, err = m.DecodeFrame([]byte("ACKN"))
	require.NoError(t, err)
	require.Equal(t, protocol.CONNECTED_RW, m.Status())
}

func TestCallsign_Vectors(t *testing.T) {
	tests := []struct {
		call string
		enc  []byte
	}{
		{"A", []byte{0, 0, 0, 0, 0, 0x01}},
		{"AB", []byte{0, 0, 0, 0, 0, 0x51}},
		{"@ALL", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"", []byte{0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			assert.Equal(t, tt.enc, EncodeCallsign(tt.call))
			got, err := DecodeCallsign(tt.enc)
			require.NoError(t, err)
			assert.Equal(t, tt.call, got)
		})
	}
}

func TestCallsign_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[A-Z0-9/.-]([A-Z0-9 /.-]{0,7}[A-Z0-9/.-])?`).Draw(t, "call")
		got, err := DecodeCallsign(EncodeCallsign(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	})
}

func TestCallsign_Edges(t *testing.T) {
	got, err := DecodeCallsign(EncodeCallsign("n0call"))
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", got)

	// Unknown characters become spaces.
	got, err = DecodeCallsign(EncodeCallsign("N0*CALL"))
	require.NoError(t, err)
	assert.Equal(t, "N0 CALL", got)

	_, err = DecodeCallsign([]byte{0xF0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, protocol.ErrFraming)
	_, err = DecodeCallsign([]byte{1, 2})
	assert.ErrorIs(t, err, protocol.ErrFraming)

	assert.Equal(t, "M17-USA C", Address("m17-usa", 'C'))
	assert.Equal(t, "N0CALL   ", Address("N0CALL", 0))
}

func TestStreamType(t *testing.T) {
	assert.Equal(t, uint16(0x0005), StreamType(MODE_3200, 0))
	assert.Equal(t, uint16(0x0007), StreamType(MODE_1600, 0))
	assert.Equal(t, uint16(0x0285), StreamType(MODE_3200, 5))

	l := LSF{Type: StreamType(MODE_1600, 9)}
	assert.Equal(t, MODE_1600, l.Mode())
	assert.Equal(t, uint8(9), l.CAN())
}

func TestLSF_RoundTrip(t *testing.T) {
	want := LSF{Dst: "M17-USA C", Src: "N0CALL  D", Type: StreamType(MODE_3200, 3)}
	copy(want.Meta[:], "meta")
	raw := want.Encode()
	require.Len(t, raw, LSF_LENGTH)

	got, err := DecodeLSF(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw[20] ^= 0x01
	_, err = DecodeLSF(raw)
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
}

func TestPacket_Layout(t *testing.T) {
	p := Packet{
		StreamID: 0xBEEF,
		LSF:      LSF{Dst: "M17-USA C", Src: "N0CALL  D", Type: StreamType(MODE_3200, 0)},
		FN:       0x8003,
		Payload:  bytes.Repeat([]byte{0x5A}, PAYLOAD_LENGTH),
	}
	pkt := p.Build()
	require.Len(t, pkt, PACKET_LENGTH)
	assert.Equal(t, "M17 ", string(pkt[:4]))
	assert.Equal(t, []byte{0xBE, 0xEF}, pkt[4:6])
	assert.Equal(t, []byte{0x00, 0x05}, pkt[18:20])
	assert.Equal(t, make([]byte, META_LENGTH), pkt[20:34])
	assert.Equal(t, []byte{0x80, 0x03}, pkt[34:36])

	lsf := p.LSF.Encode()
	assert.Equal(t, lsf[28:], pkt[CRC_OFFSET:])

	got, err := ParsePacket(pkt)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.True(t, got.EOT())

	_, err = ParsePacket(pkt[:53])
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestLSFFrame_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lsf := rapid.SliceOfN(rapid.Byte(), LSF_LENGTH, LSF_LENGTH).Draw(t, "lsf")
		frame := EncodeLSFFrame(lsf)
		require.Len(t, frame, RF_FRAME_LENGTH)
		assert.Equal(t, LSF_SYNC, frame[:2])

		got, errs, err := DecodeLSFFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, lsf, got)
		assert.Zero(t, errs)

		bit := rapid.IntRange(16, RF_FRAME_LENGTH*8-1).Draw(t, "bit")
		codec.BitVector(frame).FlipBit(bit)
		got, errs, err = DecodeLSFFrame(frame)
		require.NoError(t, err)
		assert.Equal(t, lsf, got)
		assert.LessOrEqual(t, errs, 1)
	})
}

func TestStreamFrame_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lsf := rapid.SliceOfN(rapid.Byte(), LSF_LENGTH, LSF_LENGTH).Draw(t, "lsf")
		n := rapid.IntRange(0, LICH_FRAGMENTS-1).Draw(t, "n")
		data := rapid.SliceOfN(rapid.Byte(), FN_LENGTH+PAYLOAD_LENGTH, FN_LENGTH+PAYLOAD_LENGTH).Draw(t, "data")

		frame := EncodeStreamFrame(LICHFragment(lsf, n), data)
		require.Len(t, frame, RF_FRAME_LENGTH)
		assert.Equal(t, STREAM_SYNC, frame[:2])

		s, err := DecodeStreamFrame(frame)
		require.NoError(t, err)
		require.NotNil(t, s.LICH)
		assert.Equal(t, n, s.Fragment())
		assert.Equal(t, lsf[n*5:n*5+5], s.LICH[:5])
		assert.Equal(t, uint16(data[0])<<8|uint16(data[1]), s.FN)
		assert.Equal(t, data[2:], s.Payload)
		assert.Zero(t, s.Errors)
	})
}

func TestRFFrame_BadSync(t *testing.T) {
	frame := EncodeLSFFrame(make([]byte, LSF_LENGTH))
	_, err := DecodeStreamFrame(frame)
	assert.ErrorIs(t, err, protocol.ErrFraming)
	_, _, err = DecodeLSFFrame(frame[:20])
	assert.ErrorIs(t, err, protocol.ErrFraming)
	assert.Equal(t, bytes.Repeat([]byte{0x55, 0x5D}, 24), EOTFrame())
}

func TestLSFAssembler(t *testing.T) {
	lsf := LSF{Dst: "M17-USA C", Src: "N0CALL  D", Type: 5}.Encode()
	a := NewLSFAssembler()
	for _, n := range []int{3, 1, 0, 5, 2} {
		got, err := a.Add(n, LICHFragment(lsf, n))
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	got, err := a.Add(4, LICHFragment(lsf, 4))
	require.NoError(t, err)
	assert.Equal(t, lsf, got)

	bad := LICHFragment(lsf, 0)
	bad[0] ^= 0xFF
	for n := 1; n < LICH_FRAGMENTS; n++ {
		_, _ = a.Add(n, LICHFragment(lsf, n))
	}
	_, err = a.Add(0, bad)
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
}

func TestM17_Login(t *testing.T) {
	m := New(station(), MODE_3200)
	assert.Equal(t, protocol.KIND_M17, m.Descriptor().Kind)

	pkts, err := m.Connect()
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	require.Len(t, pkts[0], CONN_LENGTH)
	assert.Equal(t, "CONN", string(pkts[0][:4]))
	assert.Equal(t, EncodeCallsign("N0CALL  D"), pkts[0][4:10])
	assert.Equal(t, byte('C'), pkts[0][10])

	ev, err := m.DecodeFrame([]byte("ACKN"))
	require.NoError(t, err)
	assert.Equal(t, protocol.CONNECTED_RW, ev.Status)

	require.Len(t, m.Ping(), 1)
	assert.Equal(t, append([]byte("PONG"), EncodeCallsign("N0CALL  D")...), m.Ping()[0])
	assert.Equal(t, 8*time.Second, m.Descriptor().PingInterval)

	ping := append([]byte("PING"), EncodeCallsign("M17-USA")...)
	ev, err = m.DecodeFrame(ping)
	require.NoError(t, err)
	assert.True(t, ev.Keepalive)
	require.Len(t, ev.Reply, 1)
	assert.Equal(t, append([]byte("PONG"), EncodeCallsign("N0CALL  D")...), ev.Reply[0])

	ev, err = m.DecodeFrame([]byte("DISC"))
	require.NoError(t, err)
	assert.Equal(t, protocol.CLOSED, ev.Status)

	out := m.Disconnect()
	require.Len(t, out, 1)
	assert.Equal(t, "DISC", string(out[0][:4]))
	assert.Len(t, out[0], CONTROL_LENGTH)
}

func TestM17_Refused(t *testing.T) {
	m := New(station(), MODE_3200)
	_, err := m.Connect()
	require.NoError(t, err)
	ev, err := m.DecodeFrame([]byte("NACK"))
	require.NoError(t, err)
	assert.Equal(t, protocol.DISCONNECTED, ev.Status)
	assert.Empty(t, m.Tick(time.Minute))
}

func TestM17_ConnectErrors(t *testing.T) {
	st := station()
	st.Module = 0
	_, err := New(st, MODE_3200).Connect()
	assert.Error(t, err)

	st = station()
	st.Reflector = " "
	_, err = New(st, MODE_3200).Connect()
	assert.Error(t, err)
}

func TestM17_ConnectRetry(t *testing.T) {
	m := New(station(), MODE_3200)
	_, err := m.Connect()
	require.NoError(t, err)
	assert.Empty(t, m.Tick(4*time.Second))
	assert.Len(t, m.Tick(time.Second), 1)
}

func voice(seed byte) []byte {
	out := make([]byte, PAYLOAD_LENGTH)
	for i := range out {
		out[i] = seed ^ byte(i*29)
	}
	return out
}

func TestM17_StreamRoundTrip(t *testing.T) {
	tx := New(station(), MODE_3200)
	rx := New(protocol.Station{Callsign: "W1AW", Reflector: "M17-USA", Module: 'C'}, MODE_3200)
	connected(t, rx)

	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: 0x1234})
	require.NoError(t, err)
	assert.Empty(t, pkts)

	for seq := uint32(1); seq <= 8; seq++ {
		c := voice(byte(seq))
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: 0x1234, Seq: seq, Codec: c})
		require.NoError(t, err)
		require.Len(t, pkts, 1)
		assert.Equal(t, []byte{0, byte(seq - 1)}, pkts[0][FN_OFFSET:FN_OFFSET+2])

		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, uint32(0x1234), ev.StreamID)
		assert.Equal(t, "N0CALL  D", ev.Src)
		assert.Equal(t, "M17-USA C", ev.Dst)
		assert.Equal(t, c, ev.Codec)
		if seq == 1 {
			require.Len(t, ev.Modem, 2)
			assert.Equal(t, []byte{modem.FRAME_START, 52, modem.M17_LINK_SETUP, 0x00}, ev.Modem[0][:4])
			assert.Equal(t, byte(modem.M17_STREAM), ev.Modem[1][2])
		} else {
			require.Len(t, ev.Modem, 1)
		}
	}

	pkts, err = tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, StreamID: 0x1234, Seq: 9})
	require.NoError(t, err)
	require.Len(t, pkts, 1)
	assert.Equal(t, []byte{0x80, 0x08}, pkts[0][FN_OFFSET:FN_OFFSET+2])
	assert.Equal(t, QUIET_3200, pkts[0][PAYLOAD_OFFSET:PAYLOAD_OFFSET+8])

	ev, err := rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
	assert.Nil(t, ev.Codec)
	require.Len(t, ev.Modem, 2)
	assert.Equal(t, byte(modem.M17_EOT), ev.Modem[1][2])
}

func TestM17_Mode1600(t *testing.T) {
	tx := New(station(), MODE_1600)
	rx := New(station(), MODE_3200)
	connected(t, rx)

	c := voice(7)[:CODEC_LENGTH]
	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: 1, Codec: c})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x07}, pkts[0][18:20])

	ev, err := rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, c, ev.Codec)

	pkts, err = tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, Seq: 2})
	require.NoError(t, err)
	assert.Equal(t, QUIET_1600, pkts[0][PAYLOAD_OFFSET+8:PAYLOAD_OFFSET+16])
}

func TestM17_NewStreamID(t *testing.T) {
	tx := New(station(), MODE_3200)
	rx := New(station(), MODE_3200)
	connected(t, rx)

	for _, id := range []uint32{1, 1, 2} {
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: id, Seq: 1, Codec: voice(1)})
		require.NoError(t, err)
		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		assert.Equal(t, id, ev.StreamID)
	}
	// A new stream id starts with a fresh link setup frame.
	pkts, _ := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: 3, Seq: 1, Codec: voice(1)})
	ev, err := rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Len(t, ev.Modem, 2)
}

// modemFrames runs a stream through a receiving link and collects the RF
// frames it would send to the modem.
func modemFrames(t *testing.T, n int) [][]byte {
	t.Helper()
	tx := New(station(), MODE_3200)
	rx := New(station(), MODE_3200)
	connected(t, rx)
	var out [][]byte
	for seq := uint32(1); seq <= uint32(n); seq++ {
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: 9, Seq: seq, Codec: voice(byte(seq))})
		require.NoError(t, err)
		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		out = append(out, ev.Modem...)
	}
	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, StreamID: 9, Seq: uint32(n + 1)})
	require.NoError(t, err)
	ev, err := rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	return append(out, ev.Modem...)
}

func TestM17_ModemRelay(t *testing.T) {
	frames := modemFrames(t, 3)
	require.Len(t, frames, 1+3+2)

	gw := New(protocol.Station{Callsign: "N0GW", Reflector: "M17-XOR", Module: 'A'}, MODE_3200)
	connected(t, gw)

	ev, err := gw.DecodeModem(frames[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_HEADER, ev.Frame)
	assert.Equal(t, "N0CALL  D", ev.Src)
	assert.Equal(t, "M17-USA C", ev.Dst)
	stream := ev.StreamID
	assert.NotZero(t, stream)

	for i := 1; i <= 3; i++ {
		ev, err = gw.DecodeModem(frames[i])
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, stream, ev.StreamID)
		require.Len(t, ev.Reply, 1)

		p, err := ParsePacket(ev.Reply[0])
		require.NoError(t, err)
		assert.Equal(t, uint16(i-1), p.FN)
		assert.Equal(t, voice(byte(i)), p.Payload)
		assert.Equal(t, "M17-XOR A", p.LSF.Dst)
		assert.Equal(t, "N0CALL  D", p.LSF.Src)
	}

	ev, err = gw.DecodeModem(frames[4])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
	p, err := ParsePacket(ev.Reply[0])
	require.NoError(t, err)
	assert.True(t, p.EOT())

	ev, err = gw.DecodeModem(frames[5])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_NONE, ev.Frame)
}

func TestM17_ModemLateEntry(t *testing.T) {
	frames := modemFrames(t, 8)
	gw := New(station(), MODE_3200)
	connected(t, gw)

	// Without the link setup frame the LSF comes from six LICHs.
	for i := 1; i <= 5; i++ {
		ev, err := gw.DecodeModem(frames[i])
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_NONE, ev.Frame)
		assert.Empty(t, ev.Reply)
	}
	ev, err := gw.DecodeModem(frames[6])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
	assert.Equal(t, "N0CALL  D", ev.Src)
	require.Len(t, ev.Reply, 1)

	// Lost resets the relay.
	ev, err = gw.DecodeModem(modem.MustEncode(modem.M17_LOST, nil))
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
	ev, err = gw.DecodeModem(frames[7])
	require.NoError(t, err)
	assert.Empty(t, ev.Reply)
}

func TestM17_ModemErrors(t *testing.T) {
	gw := New(station(), MODE_3200)
	_, err := gw.DecodeModem([]byte{0x00})
	assert.Error(t, err)
	_, err = gw.DecodeModem(modem.MustEncode(modem.M17_STREAM, []byte{0, 1, 2}))
	assert.ErrorIs(t, err, protocol.ErrFraming)

	bad := rfPayload(EncodeLSFFrame(make([]byte, LSF_LENGTH)))
	_, err = gw.DecodeModem(modem.MustEncode(modem.M17_LINK_SETUP, bad))
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)

	ev, err := gw.DecodeModem(modem.MustEncode(modem.YSF_DATA, bytes.Repeat([]byte{0}, 10)))
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_NONE, ev.Frame)
}

func TestM17_DecodeErrors(t *testing.T) {
	m := New(station(), MODE_3200)
	connected(t, m)
	_, err := m.DecodeFrame(make([]byte, 20))
	assert.ErrorIs(t, err, protocol.ErrFraming)

	pkt := Packet{LSF: LSF{Dst: "A", Src: "B"}, Payload: make([]byte, PAYLOAD_LENGTH)}.Build()
	copy(pkt[LSF_OFFSET:], []byte{0xFA, 0, 0, 0, 0, 0})
	_, err = m.DecodeFrame(pkt)
	assert.ErrorIs(t, err, protocol.ErrFraming)

	_, err = m.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: 1, Codec: make([]byte, 8)})
	assert.ErrorIs(t, err, protocol.ErrFraming)
	_, err = m.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_DATA})
	assert.ErrorIs(t, err, protocol.ErrFraming)
	assert.True(t, strings.HasPrefix(m.Mode().String(), "3200"))
}

func BenchmarkDecodeStreamFrame(b *testing.B) {
	frame := EncodeStreamFrame(make([]byte, LICH_LENGTH), make([]byte, FN_LENGTH+PAYLOAD_LENGTH))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = DecodeStreamFrame(frame)
	}
}
