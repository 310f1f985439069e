package dstar

import (
	"time"

	"github.com/dbehnke/dvgateway/internal/protocol"
)

// CONNECT_RETRY is how long a backend waits for a login reply before
// sending the connect request again.
const CONNECT_RETRY = 5 * time.Second

// link is the state the three reflector protocols have in common.
type link struct {
	station  protocol.Station
	desc     protocol.Descriptor
	status   protocol.Status
	streamID uint16
	slow     *SlowDataDecoder
	tx       Header
	retry    *protocol.Timer
}

func newLink(kind protocol.Kind, st protocol.Station) link {
	if st.Module == 0 {
		st.Module = 'C'
	}
	desc, _ := protocol.DescriptorFor(kind)
	return link{
		station: st,
		desc:    desc,
		status:  protocol.DISCONNECTED,
		slow:    NewSlowDataDecoder(),
		tx:      TxHeader(st),
		retry:   protocol.NewTimer(CONNECT_RETRY),
	}
}

func (l *link) Descriptor() protocol.Descriptor {
	return l.desc
}

// Status is the current login state.
func (l *link) Status() protocol.Status {
	return l.status
}

func (l *link) setStatus(ev *protocol.Event, s protocol.Status) {
	if s == l.status {
		return
	}
	l.status = s
	ev.Status = s
	if s != protocol.CONNECTING {
		l.retry.Stop()
	}
}

// reflector is the "NAME M" string headers are routed to.
func (l *link) reflector() string {
	return l.station.Reflector + " " + string(l.station.Module)
}

// tick resends connect while the login is outstanding.
func (l *link) tick(elapsed time.Duration, connect func() []byte) [][]byte {
	l.retry.Clock(elapsed)
	if l.status != protocol.CONNECTING || !l.retry.HasExpired() {
		return nil
	}
	l.retry.Start()
	return [][]byte{connect()}
}

func (l *link) startConnect() {
	l.status = protocol.CONNECTING
	l.retry.Start()
}

// EndStream forgets the receive stream and its slow data.
func (l *link) EndStream() {
	l.streamID = 0
	l.slow.Reset()
}

// superframeSeq maps a transmit counter (header = 0) onto the 0..20 voice
// sequence.
func superframeSeq(n uint32) byte {
	if n == 0 {
		return 0
	}
	return byte((n - 1) % SUPERFRAME)
}
