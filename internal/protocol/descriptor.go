package protocol

import (
	"slices"
	"time"

	"github.com/dbehnke/dvgateway/internal/codec"
)

// Timing shared by every backend.
const (
	RX_TICK = 20 * time.Millisecond
	TX_TICK = 19 * time.Millisecond
)

// Descriptor is the fixed set of constants that parameterise one backend.
type Descriptor struct {
	Kind        Kind
	Name        string
	DefaultPort int

	// FrameLength is the size of a voice packet on the wire; Sync is the
	// magic it starts with (at SyncOffset).
	FrameLength int
	Sync        []byte
	SyncOffset  int

	// Watchdog is the number of receive ticks without a valid frame after
	// which a stream is LOST.
	Watchdog     int
	PingInterval time.Duration // zero when the server drives keepalives
	TxInterval   time.Duration

	CodecBytes           int // one vocoder frame
	CodecFramesPerPacket int
	DrainThreshold       int // modem frames queued before END/LOST may go IDLE

	Interleave []int
	HeaderCRC  codec.CCITTVariant
}

// PacketCodecBytes is the codec payload carried by one voice packet.
func (d Descriptor) PacketCodecBytes() int {
	return d.CodecBytes * d.CodecFramesPerPacket
}

var descriptors = map[Kind]Descriptor{
	KIND_REF: {
		Name: "REF", DefaultPort: 20001,
		FrameLength: 29, Sync: []byte("DSVT"), SyncOffset: 2,
		Watchdog: 50, PingInterval: time.Second, TxInterval: TX_TICK,
		CodecBytes: 9, CodecFramesPerPacket: 1, DrainThreshold: 50,
		HeaderCRC: codec.CCITT161,
	},
	KIND_DCS: {
		Name: "DCS", DefaultPort: 30051,
		FrameLength: 100, Sync: []byte("0001"),
		Watchdog: 100, PingInterval: 2 * time.Second, TxInterval: TX_TICK,
		CodecBytes: 9, CodecFramesPerPacket: 1, DrainThreshold: 50,
		HeaderCRC: codec.CCITT161,
	},
	KIND_XRF: {
		Name: "XRF", DefaultPort: 30001,
		FrameLength: 27, Sync: []byte("DSVT"),
		Watchdog: 100, PingInterval: 3 * time.Second, TxInterval: TX_TICK,
		CodecBytes: 9, CodecFramesPerPacket: 1, DrainThreshold: 50,
		HeaderCRC: codec.CCITT161,
	},
	KIND_DMR: {
		Name: "DMR", DefaultPort: 62031,
		FrameLength: 55, Sync: []byte("DMRD"),
		Watchdog: 100, PingInterval: 5 * time.Second, TxInterval: TX_TICK,
		CodecBytes: 9, CodecFramesPerPacket: 3, DrainThreshold: 50,
		Interleave: codec.BPTC_INTERLEAVE,
	},
	KIND_YSF: {
		Name: "YSF", DefaultPort: 42000,
		FrameLength: 155, Sync: []byte("YSFD"),
		Watchdog: 20, PingInterval: 5 * time.Second, TxInterval: TX_TICK,
		CodecBytes: 7, CodecFramesPerPacket: 5, DrainThreshold: 100,
		Interleave: codec.YSF_INTERLEAVE_26_4, HeaderCRC: codec.CCITT162,
	},
	KIND_FCS: {
		Name: "FCS", DefaultPort: 62500,
		FrameLength: 130,
		Watchdog: 20, PingInterval: 800 * time.Millisecond, TxInterval: TX_TICK,
		CodecBytes: 7, CodecFramesPerPacket: 5, DrainThreshold: 100,
		Interleave: codec.YSF_INTERLEAVE_26_4, HeaderCRC: codec.CCITT162,
	},
	KIND_NXDN: {
		Name: "NXDN", DefaultPort: 41400,
		FrameLength: 43, Sync: []byte("NXDND"),
		Watchdog: 25, PingInterval: time.Second, TxInterval: TX_TICK,
		CodecBytes: 7, CodecFramesPerPacket: 4, DrainThreshold: 50,
	},
	KIND_P25: {
		Name: "P25", DefaultPort: 41000,
		FrameLength: 22,
		Watchdog: 50, PingInterval: 5 * time.Second, TxInterval: TX_TICK,
		CodecBytes: 11, CodecFramesPerPacket: 1, DrainThreshold: 50,
	},
	KIND_M17: {
		Name: "M17", DefaultPort: 17000,
		FrameLength: 54, Sync: []byte("M17 "),
		Watchdog: 50, PingInterval: 8 * time.Second, TxInterval: 38 * time.Millisecond,
		CodecBytes: 8, CodecFramesPerPacket: 2, DrainThreshold: 50,
		Interleave: codec.M17_INTERLEAVE,
	},
}

// DescriptorFor returns a copy of the descriptor for kind. The second
// result is false for an unknown kind.
func DescriptorFor(kind Kind) (Descriptor, bool) {
	d, ok := descriptors[kind]
	if !ok {
		return Descriptor{}, false
	}
	d.Kind = kind
	d.Sync = slices.Clone(d.Sync)
	d.Interleave = slices.Clone(d.Interleave)
	return d, true
}
