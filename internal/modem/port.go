package modem

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
)

const DEFAULT_BAUD = 115200

// Port is a serial link to a modem. Writes may come from any goroutine.
type Port struct {
	device string
	t      *term.Term
	logger *log.Logger

	mu sync.Mutex
}

// Open opens device in raw mode at baud and asks the modem for its version.
func Open(device string, baud int, logger *log.Logger) (*Port, error) {
	if logger == nil {
		logger = log.Default()
	}
	if baud == 0 {
		baud = DEFAULT_BAUD
	}
	t, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open modem %s: %w", device, err)
	}
	p := &Port{device: device, t: t, logger: logger.With("modem", device)}
	if err := p.Write(MustEncode(GET_VERSION, nil)); err != nil {
		t.Close()
		return nil, err
	}
	return p, nil
}

// Write sends one complete envelope.
func (p *Port) Write(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t == nil {
		return fmt.Errorf("write modem %s: port closed", p.device)
	}
	if _, err := p.t.Write(frame); err != nil {
		return fmt.Errorf("write modem %s: %w", p.device, err)
	}
	return nil
}

// SetMode switches the modem to one of the MODE_ values.
func (p *Port) SetMode(mode byte) error {
	return p.Write(MustEncode(SET_MODE, []byte{mode}))
}

// SetFreq programs the receive and transmit frequencies in Hz. rfLevel is
// a percentage.
func (p *Port) SetFreq(rx, tx uint32, rfLevel float32) error {
	payload := make([]byte, 14)
	binary.LittleEndian.PutUint32(payload[1:], rx)
	binary.LittleEndian.PutUint32(payload[5:], tx)
	payload[9] = byte(rfLevel*2.55 + 0.5)
	binary.LittleEndian.PutUint32(payload[10:], 433000000)
	return p.Write(MustEncode(SET_FREQ, payload))
}

// Run reads frames until ctx is cancelled or the port fails, handing each
// one to handle. Closing the port unblocks a pending read.
func (p *Port) Run(ctx context.Context, handle func(frame []byte)) error {
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	r := NewReader(p.t)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read modem %s: %w", p.device, err)
		}
		typ, _, _ := Decode(frame)
		switch typ {
		case NAK:
			p.logger.Warn("modem NAK", "frame", fmt.Sprintf("% X", frame))
		case GET_VERSION:
			p.logger.Info("modem version", "reply", string(frame[headerLength:]))
		default:
			handle(frame)
		}
	}
}

// Close releases the serial device.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.t == nil {
		return nil
	}
	err := p.t.Close()
	p.t = nil
	return err
}
