package p25

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

func station() protocol.Station {
	return protocol.Station{Callsign: "N0CALL", Reflector: "10200", DMRID: 3120001}
}

func connected(t *testing.T, p *P25) {
	t.Helper()
	_, err := p.Connect()
	require.NoError(t, err)
	_, err = p.DecodeFrame(make([]byte, POLL_LENGTH))
	require.NoError(t, err)
	require.Equal(t, protocol.CONNECTED_RW, p.Status())
}

func TestRecordType(t *testing.T) {
	assert.Equal(t, uint8(0x62), RecordType(0))
	assert.Equal(t, uint8(0x6A), RecordType(8))
	assert.Equal(t, uint8(0x6B), RecordType(9))
	assert.Equal(t, uint8(0x73), RecordType(17))
}

func TestRecord_Layout(t *testing.T) {
	imbe := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	tests := []struct {
		step   int
		length int
		offset int
	}{
		{0, 22, 10},
		{1, 14, 1},
		{2, 17, 5},
		{8, 16, 4},
		{9, 22, 10},
		{10, 14, 1},
		{14, 17, 5},
		{17, 16, 4},
	}
	for _, tt := range tests {
		t.Run(string(rune('A'+tt.step)), func(t *testing.T) {
			out := BuildRecord(tt.step, imbe, LCF_GROUP, 1, 2)
			require.Len(t, out, tt.length)
			assert.Equal(t, RecordType(tt.step), out[0])
			assert.Equal(t, imbe, out[tt.offset:tt.offset+IMBE_LENGTH])
		})
	}

	// Fixed template bytes survive.
	out := BuildRecord(5, imbe, LCF_GROUP, 0, 0)
	assert.Equal(t, []byte{0x67, 0xF0, 0x9D, 0x6A}, out[:4])
	assert.Equal(t, byte(0x02), out[16])
	out = BuildRecord(14, imbe, LCF_GROUP, 0, 0)
	assert.Equal(t, byte(0x80), out[1])
}

func TestRecord_IDs(t *testing.T) {
	imbe := make([]byte, IMBE_LENGTH)
	dst := BuildRecord(3, imbe, LCF_GROUP, 3120001, 10200)
	assert.Equal(t, []byte{0x65, 0x00, 0x27, 0xD8}, dst[:4])
	src := BuildRecord(4, imbe, LCF_GROUP, 3120001, 10200)
	assert.Equal(t, []byte{0x66, 0x2F, 0x9B, 0x81}, src[:4])
	lcf := BuildRecord(2, imbe, LCF_PRIVATE, 0, 0)
	assert.Equal(t, byte(LCF_PRIVATE), lcf[1])

	r, err := ParseRecord(src)
	require.NoError(t, err)
	assert.Equal(t, uint32(3120001), r.ID)
	r, err = ParseRecord(lcf)
	require.NoError(t, err)
	assert.Equal(t, uint8(LCF_PRIVATE), r.LCF)
}

func TestRecord_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		step := rapid.IntRange(0, LDU_RECORDS-1).Draw(t, "step")
		imbe := rapid.SliceOfN(rapid.Byte(), IMBE_LENGTH, IMBE_LENGTH).Draw(t, "imbe")
		src := rapid.Uint32Range(0, 0xFFFFFF).Draw(t, "src")
		dst := rapid.Uint32Range(0, 0xFFFFFF).Draw(t, "dst")

		r, err := ParseRecord(BuildRecord(step, imbe, LCF_GROUP, src, dst))
		require.NoError(t, err)
		assert.Equal(t, RecordType(step), r.Type)
		assert.Equal(t, imbe, r.IMBE)
		switch r.Type {
		case REC_LDU1_DST:
			assert.Equal(t, dst, r.ID)
		case REC_LDU1_SRC:
			assert.Equal(t, src, r.ID)
		}
	})
}

func TestParseRecord_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"unknown type", make([]byte, 17)},
		{"truncated", []byte{0x62, 0x02, 0x02}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.input)
			assert.ErrorIs(t, err, protocol.ErrFraming)
		})
	}
}

func TestP25_Login(t *testing.T) {
	p := New(station())
	assert.Equal(t, protocol.KIND_P25, p.Descriptor().Kind)
	assert.Equal(t, uint32(10200), p.Talkgroup())

	pkts, err := p.Connect()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{append([]byte{0xF0}, "N0CALL    "...)}, pkts)

	ev, err := p.DecodeFrame(append([]byte{0xF0}, "P25REF    "...))
	require.NoError(t, err)
	assert.Equal(t, protocol.CONNECTED_RW, ev.Status)
	assert.True(t, ev.Keepalive)

	ev, err = p.DecodeFrame(append([]byte{0xF0}, "P25REF    "...))
	require.NoError(t, err)
	assert.Equal(t, protocol.NO_CHANGE, ev.Status)

	assert.Equal(t, [][]byte{append([]byte{0xF1}, "N0CALL    "...)}, p.Disconnect())
	assert.Equal(t, protocol.DISCONNECTED, p.Status())
}

func TestP25_Talkgroup(t *testing.T) {
	tests := []struct {
		reflector string
		tg        uint32
		want      uint32
	}{
		{"10200", 0, 10200},
		{"P25 31010", 0, 31010},
		{"p2591", 0, 91},
		{"10200", 777, 777},
		{"PARROT", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.reflector, func(t *testing.T) {
			st := station()
			st.Reflector, st.Talkgroup = tt.reflector, tt.tg
			assert.Equal(t, tt.want, New(st).Talkgroup())
		})
	}
}

func TestP25_ConnectErrors(t *testing.T) {
	st := station()
	st.DMRID = 0
	_, err := New(st).Connect()
	assert.Error(t, err)

	st = station()
	st.Reflector = "PARROT"
	_, err = New(st).Connect()
	assert.Error(t, err)
}

func TestP25_ConnectRetry(t *testing.T) {
	p := New(station())
	_, err := p.Connect()
	require.NoError(t, err)
	assert.Empty(t, p.Tick(4*time.Second))
	assert.Len(t, p.Tick(time.Second), 1)
}

func TestP25_StreamRoundTrip(t *testing.T) {
	tx := New(station())
	rx := New(protocol.Station{Callsign: "W1AW", DMRID: 1, Reflector: "10200"})
	connected(t, rx)

	pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_HEADER})
	require.NoError(t, err)
	assert.Empty(t, pkts)

	for seq := uint32(1); seq <= 2*LDU_RECORDS; seq++ {
		imbe := make([]byte, IMBE_LENGTH)
		for i := range imbe {
			imbe[i] = byte(seq) + byte(i)
		}
		pkts, err := tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: seq, Codec: imbe})
		require.NoError(t, err)
		require.Len(t, pkts, 1)
		assert.Equal(t, RecordType(int(seq-1)%LDU_RECORDS), pkts[0][0])

		ev, err := rx.DecodeFrame(pkts[0])
		require.NoError(t, err)
		assert.Equal(t, protocol.FRAME_VOICE, ev.Frame)
		assert.Equal(t, uint32(1), ev.StreamID)
		assert.Equal(t, imbe, ev.Codec)
		if seq >= 5 {
			assert.Equal(t, uint32(3120001), ev.SrcID)
		}
		if seq >= 4 {
			assert.Equal(t, uint32(10200), ev.DstID)
		}
	}

	pkts, err = tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR})
	require.NoError(t, err)
	require.Len(t, pkts[0], TERMINATOR_LENGTH)
	ev, err := rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_TERMINATOR, ev.Frame)
	assert.Equal(t, uint32(1), ev.StreamID)
	assert.Equal(t, uint32(3120001), ev.SrcID)

	// Late entry mid-cycle opens a new stream without ids.
	pkts, err = tx.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: 12, Codec: make([]byte, IMBE_LENGTH)})
	require.NoError(t, err)
	ev, err = rx.DecodeFrame(pkts[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(2), ev.StreamID)
	assert.Zero(t, ev.SrcID)
}

func TestP25_Decode(t *testing.T) {
	p := New(station())

	// Voice before login is ignored.
	ev, err := p.DecodeFrame(BuildRecord(0, make([]byte, IMBE_LENGTH), 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, protocol.FRAME_NONE, ev.Frame)

	connected(t, p)
	_, err = p.DecodeFrame([]byte{0x55, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	assert.ErrorIs(t, err, protocol.ErrFraming)

	_, err = p.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_VOICE, Seq: 1, Codec: make([]byte, 4)})
	assert.ErrorIs(t, err, protocol.ErrFraming)
	_, err = p.EncodeFrame(protocol.Transmit{Frame: protocol.FRAME_DATA})
	assert.ErrorIs(t, err, protocol.ErrFraming)
}
