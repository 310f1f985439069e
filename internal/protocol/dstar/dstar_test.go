package dstar

import (
	"bytes"
	"testing"
	"time"

	"github.com/dbehnke/dvgateway/internal/modem"
	"github.com/dbehnke/dvgateway/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testStation() protocol.Station {
	return protocol.Station{
		Callsign:  "N0CALL",
		Module:    'C',
		Reflector: "REF001",
		Text:      "Hello from dvgateway",
	}
}

func TestFormatCallsign(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"REF001 C", "REF001 C"},
		{"n0call b", "N0CALL B"},
		{"AB1C D", "AB1C   D"},
		{"CQCQCQ", "CQCQCQ  "},
		{"", "        "},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatCallsign(tt.in))
		})
	}
}

func TestSlowDataMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringMatching(`[A-Z0-9 ]{0,20}`).Draw(t, "text")
		d := NewSlowDataDecoder()
		var got string
		var done bool
		for seq := 0; seq < SUPERFRAME; seq++ {
			sd := EncodeSlowData(seq, text)
			if s, ok := d.Add(byte(seq), sd[:]); ok {
				got, done = s, true
			}
		}
		require.True(t, done)
		assert.Equal(t, string(bytes.TrimRight([]byte(text), " ")), got)
	})
}

func TestSlowDataNeedsSync(t *testing.T) {
	d := NewSlowDataDecoder()
	for seq := 1; seq < SUPERFRAME; seq++ {
		sd := EncodeSlowData(seq, "NO SYNC")
		_, ok := d.Add(byte(seq), sd[:])
		assert.False(t, ok)
	}
}

func TestSlowDataWireBytes(t *testing.T) {
	assert.Equal(t, SLOW_DATA_SYNC, EncodeSlowData(0, "x"))
	assert.Equal(t, [3]byte{0x30, 'A' ^ 0x4F, 'B' ^ 0x93}, EncodeSlowData(1, "AB"))
	assert.Equal(t, [3]byte{0x33, ' ' ^ 0x4F, ' ' ^ 0x93}, EncodeSlowData(7, ""))
	assert.Equal(t, SLOW_DATA_FILLER, EncodeSlowData(9, "x"))
}

func TestModemHeaderCRC(t *testing.T) {
	h := TxHeader(testStation())
	frame := ModemHeader(h)
	require.Len(t, frame, 44)

	typ, payload, err := modem.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, byte(modem.DSTAR_HEADER), typ)

	got, err := DecodeModemHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, "REF001 C", got.Rptr2)
	assert.Equal(t, "N0CALL C", got.Rptr1)
	assert.Equal(t, "CQCQCQ  ", got.Ur)

	payload[10] ^= 0x01
	_, err = DecodeModemHeader(payload)
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
}

func connectREF(t *testing.T, r *REF) {
	t.Helper()
	pkts, err := r.Connect()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x05, 0x00, 0x18, 0x00, 0x01}}, pkts)

	ev, err := r.DecodeFrame([]byte{0x08, 0xC0, 0x04, 0x00, 'O', 'K', 'R', 'W'})
	require.NoError(t, err)
	require.Equal(t, protocol.CONNECTED_RW, ev.Status)
}

func TestREFLogin(t *testing.T) {
	r := NewREF(testStation())
	r.serial = func() int { return 12345 }
	_, err := r.Connect()
	require.NoError(t, err)
	assert.Equal(t, protocol.CONNECTING, r.Status())

	ev, err := r.DecodeFrame([]byte{0x05, 0x00, 0x18, 0x00, 0x01})
	require.NoError(t, err)
	require.Len(t, ev.Reply, 1)
	login := ev.Reply[0]
	require.Len(t, login, REF_LOGIN_LENGTH)
	assert.Equal(t, []byte{0x1C, 0xC0, 0x04, 0x00}, login[:4])
	assert.Equal(t, "N0CALL", string(login[4:10]))
	assert.Equal(t, make([]byte, 10), login[10:20])
	assert.Equal(t, "HS012345", string(login[20:]))

	tests := []struct {
		reply string
		want  protocol.Status
	}{
		{"OKRW", protocol.CONNECTED_RW},
		{"OKRO", protocol.CONNECTED_RO},
		{"BUSY", protocol.CONNECTED_RW},
		{"FAIL", protocol.DISCONNECTED},
		{"WHAT", protocol.DISCONNECTED},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			r := NewREF(testStation())
			r.Connect()
			ev, err := r.DecodeFrame(append([]byte{0x08, 0xC0, 0x04, 0x00}, tt.reply...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Status)
			assert.Equal(t, tt.want, r.Status())
		})
	}
}

func TestREFConnectRetry(t *testing.T) {
	r := NewREF(testStation())
	r.Connect()
	assert.Empty(t, r.Tick(time.Second))
	pkts := r.Tick(CONNECT_RETRY)
	assert.Equal(t, [][]byte{{0x05, 0x00, 0x18, 0x00, 0x01}}, pkts)

	connectREF(t, r)
	assert.Empty(t, r.Tick(time.Minute))
}

func TestREFStreamRoundTrip(t *testing.T) {
	tx := NewREF(testStation())
	rx := NewREF(testStation())
	connectREF(t, rx)

	const sid = 0xBEEF
	hdr, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: sid})
	require.NoError(t, err)
	require.Len(t, hdr, 1)
	require.Len(t, hdr[0], REF_HEADER_LENGTH)

	ev, err := rx.DecodeFrame(hdr[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_HEADER, ev.Frame)
	assert.Equal(t, uint32(sid), ev.StreamID)
	assert.Equal(t, "N0CALL", ev.Src)
	assert.Equal(t, "CQCQCQ", ev.Dst)
	require.Len(t, ev.Modem, 1)
	assert.Len(t, ev.Modem[0], 44)

	var text string
	for n := uint32(1); n <= SUPERFRAME; n++ {
		ambe := bytes.Repeat([]byte{byte(n)}, AMBE_LENGTH)
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: sid, Seq: n, Codec: ambe})
		require.NoError(t, err)
		require.Len(t, pkts, 1)
		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, ambe, ev.Codec)
		if ev.Text != "" {
			text = ev.Text
		}
	}
	assert.Equal(t, "Hello from dvgateway", text)

	// The next superframe starts with a repeated header.
	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: sid, Seq: SUPERFRAME + 1, Codec: make([]byte, 9)})
	require.NoError(t, err)
	require.Len(t, pkts, 2)
	assert.Len(t, pkts[0], REF_HEADER_LENGTH)
	ev, err = rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Empty(t, ev.Modem, "repeated header for the same stream")

	end, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, StreamID: sid, Seq: SUPERFRAME + 2})
	require.NoError(t, err)
	require.Len(t, end[0], REF_EOT_LENGTH)
	assert.Equal(t, byte(0x20), end[0][0])
	assert.Equal(t, byte(1|SEQ_END), end[0][16])
	assert.Equal(t, []byte{0x55, 0x55, 0x55, 0x55, 0xC8, 0x7A}, end[0][26:])

	ev, err = rx.DecodeFrame(end[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
	assert.Equal(t, [][]byte{ModemEOT()}, ev.Modem)
}

func TestREFDropsForeignTraffic(t *testing.T) {
	rx := NewREF(testStation())
	connectREF(t, rx)

	other := testStation()
	other.Reflector = "REF002"
	hdr, _ := NewREF(other).EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: 1})
	ev, err := rx.DecodeFrame(hdr[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_NONE, ev.Frame)

	voice, _ := NewREF(testStation()).EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: 1, Seq: 1, Codec: make([]byte, 9)})
	ev, err = rx.DecodeFrame(voice[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_NONE, ev.Frame, "voice without a header")

	good, _ := NewREF(testStation()).EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: 1})
	good[0][30] ^= 0x20
	_, err = rx.DecodeFrame(good[0])
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)

	_, err = rx.DecodeFrame(make([]byte, 40))
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestREFKeepalive(t *testing.T) {
	r := NewREF(testStation())
	ev, err := r.DecodeFrame([]byte{0x03, 0x60, 0x00})
	require.NoError(t, err)
	assert.True(t, ev.Keepalive)
	assert.Equal(t, [][]byte{{0x03, 0x60, 0x00}}, r.Ping())
	assert.Equal(t, [][]byte{{0x05, 0x00, 0x18, 0x00, 0x00}}, r.Disconnect())
}

func connectDCS(t *testing.T, d *DCS) {
	t.Helper()
	pkts, err := d.Connect()
	require.NoError(t, err)
	require.Len(t, pkts[0], DCS_CONNECT_LENGTH)
	assert.Equal(t, "N0CALL  CC", string(pkts[0][:10]))
	assert.Equal(t, byte(11), pkts[0][10])

	ack := append([]byte("N0CALL  CC"), 'A', 'C', 'K', 0)
	ev, err := d.DecodeFrame(ack)
	require.NoError(t, err)
	require.Equal(t, protocol.CONNECTED_RW, ev.Status)
}

func TestDCSStreamRoundTrip(t *testing.T) {
	st := testStation()
	st.Reflector = "DCS006"
	tx, rx := NewDCS(st), NewDCS(st)
	connectDCS(t, rx)

	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: 0x1234})
	require.NoError(t, err)
	assert.Empty(t, pkts)

	for n := uint32(1); n <= 30; n++ {
		ambe := bytes.Repeat([]byte{byte(n)}, AMBE_LENGTH)
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: 0x1234, Seq: n, Codec: ambe})
		require.NoError(t, err)
		require.Len(t, pkts[0], DCS_FRAME_LENGTH)
		assert.Equal(t, byte((n-1)%SUPERFRAME), pkts[0][45])
		assert.Equal(t, byte(n-1), pkts[0][58])

		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, ambe, ev.Codec)
		assert.Equal(t, "N0CALL", ev.Src)
		if n == 1 {
			require.Len(t, ev.Modem, 2, "first frame carries the modem header")
		} else {
			require.Len(t, ev.Modem, 1)
		}
	}

	end, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, StreamID: 0x1234, Seq: 31})
	require.NoError(t, err)
	assert.Equal(t, AMBE_SILENCE, end[0][46:55])
	ev, err := rx.DecodeFrame(end[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
}

func TestDCSControl(t *testing.T) {
	st := testStation()
	st.Reflector = "DCS006"
	d := NewDCS(st)
	assert.Equal(t, [][]byte{[]byte("N0CALL C\x00DCS006\x00C")}, d.Ping())
	assert.Equal(t, [][]byte{[]byte("N0CALL  C \x00")}, d.Disconnect())

	ev, err := d.DecodeFrame(make([]byte, DCS_KEEPALIVE_LENGTH))
	require.NoError(t, err)
	assert.True(t, ev.Keepalive)

	connectDCS(t, d)
	msg := append([]byte("Welcome to DCS006"), make([]byte, 18)...)
	ev, err = d.DecodeFrame(msg)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to DCS006", ev.Text)
}

func TestXRFStreamRoundTrip(t *testing.T) {
	st := testStation()
	st.Reflector = "XRF757"
	tx, rx := NewXRF(st), NewXRF(st)

	pkts, err := rx.Connect()
	require.NoError(t, err)
	assert.Equal(t, []byte("N0CALL  CC\x0b"), pkts[0])
	ev, err := rx.DecodeFrame([]byte("N0CALL  CCACK\x00"))
	require.NoError(t, err)
	require.Equal(t, protocol.CONNECTED_RW, ev.Status)

	hdr, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: 0x4242})
	require.NoError(t, err)
	require.Len(t, hdr[0], XRF_HEADER_LENGTH)
	ev, err = rx.DecodeFrame(hdr[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_HEADER, ev.Frame)
	assert.Equal(t, "N0CALL", ev.Src)

	for n := uint32(1); n <= 25; n++ {
		ambe := bytes.Repeat([]byte{byte(n)}, AMBE_LENGTH)
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: 0x4242, Seq: n, Codec: ambe})
		require.NoError(t, err)
		assert.Equal(t, byte(n%SUPERFRAME), pkts[0][14])
		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		assert.Equal(t, ambe, ev.Codec)
	}

	end, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, StreamID: 0x4242, Seq: 26})
	require.NoError(t, err)
	assert.Equal(t, byte(5|SEQ_END), end[0][14])
	ev, err = rx.DecodeFrame(end[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)

	hdr[0][20] ^= 0x01
	_, err = rx.DecodeFrame(hdr[0])
	assert.ErrorIs(t, err, protocol.ErrCRCMismatch)
}

func TestXRFControl(t *testing.T) {
	x := NewXRF(testStation())
	assert.Equal(t, [][]byte{[]byte("N0CALL  \x00")}, x.Ping())
	assert.Equal(t, [][]byte{[]byte("N0CALL  C \x00")}, x.Disconnect())
	ev, err := x.DecodeFrame(make([]byte, XRF_KEEPALIVE_LENGTH))
	require.NoError(t, err)
	assert.True(t, ev.Keepalive)
}
