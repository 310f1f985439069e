package session

import (
	"fmt"
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
	"github.com/dbehnke/dvgateway/internal/protocol/dmr"
	"github.com/dbehnke/dvgateway/internal/protocol/dstar"
	"github.com/dbehnke/dvgateway/internal/protocol/m17"
	"github.com/dbehnke/dvgateway/internal/protocol/nxdn"
	"github.com/dbehnke/dvgateway/internal/protocol/p25"
	"github.com/dbehnke/dvgateway/internal/protocol/ysf"
)

// Backend is one network protocol. Backends are pure state machines: they
// turn packets into events and transmit requests into packets, and never
// touch the network themselves.
type Backend interface {
	Descriptor() protocol.Descriptor
	Status() protocol.Status

	// Connect returns the login packets. It fails only on configuration
	// the server could never accept.
	Connect() ([][]byte, error)
	Disconnect() [][]byte
	Ping() [][]byte
	// Tick advances retry timers and returns packets to resend.
	Tick(elapsed time.Duration) [][]byte

	DecodeFrame(pkt []byte) (protocol.Event, error)
	EncodeFrame(tx protocol.Transmit) ([][]byte, error)
	// EndStream drops per-stream receive state.
	EndStream()
}

// ModemDecoder is implemented by backends that can relay RF frames from a
// local modem to the server.
type ModemDecoder interface {
	DecodeModem(frame []byte) (protocol.Event, error)
}

// packetSizer overrides the descriptor's codec bytes per packet when it
// depends on runtime options.
type packetSizer interface {
	PacketCodecBytes() int
}

// Config is everything a session needs to reach its server.
type Config struct {
	Kind      protocol.Kind
	Host      string
	Port      int // zero selects the descriptor default
	LocalPort int
	Station   protocol.Station
	M17Mode   m17.CodecMode
}

// NewBackend builds the backend for cfg.Kind.
func NewBackend(cfg Config) (Backend, error) {
	st := cfg.Station
	switch cfg.Kind {
	case protocol.KIND_REF:
		return dstar.NewREF(st), nil
	case protocol.KIND_DCS:
		return dstar.NewDCS(st), nil
	case protocol.KIND_XRF:
		return dstar.NewXRF(st), nil
	case protocol.KIND_DMR:
		return dmr.NewHomebrew(st), nil
	case protocol.KIND_YSF:
		return ysf.NewYSF(st), nil
	case protocol.KIND_FCS:
		return ysf.NewFCS(st), nil
	case protocol.KIND_NXDN:
		return nxdn.New(st), nil
	case protocol.KIND_P25:
		return p25.New(st), nil
	case protocol.KIND_M17:
		return m17.New(st, cfg.M17Mode), nil
	}
	return nil, fmt.Errorf("no backend for kind %s", cfg.Kind)
}
