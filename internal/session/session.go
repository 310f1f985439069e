// Package session drives one backend against its server. A single
// goroutine owns all state and consumes a mailbox fed by the network
// reader, the tickers and the local audio and modem inputs.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dbehnke/dvgateway/internal/codec"
	"github.com/dbehnke/dvgateway/internal/network"
	"github.com/dbehnke/dvgateway/internal/protocol"
)

var (
	// ErrTimeout reports a stream ended by the receive watchdog.
	ErrTimeout = errors.New("stream watchdog expired")
	// ErrAuthFailed reports a login the server refused.
	ErrAuthFailed = errors.New("login rejected")
)

const (
	MAILBOX_LENGTH     = 500
	MODEM_QUEUE_LENGTH = 64 * 1024
	AUDIO_QUEUE_LENGTH = 100*2*PCM_FRAME + 1
	CODEC_QUEUE_LENGTH = 4096
	STREAM_ID_MAX      = 0xFFFF
)

// Conn carries packets to and from the server. network.Transport is the
// production implementation.
type Conn interface {
	Open(ctx context.Context, deliver func(pkt []byte)) error
	Write(pkt []byte) error
	Close() error
}

// ModemSink takes MMDVM frames for the local modem.
type ModemSink interface {
	Write(frame []byte) error
}

// AudioSink plays decoded PCM, one frame per receive tick.
type AudioSink interface {
	Play(pcm []int16)
}

// CallLogger records finished streams.
type CallLogger interface {
	LogCall(call protocol.Call) error
}

// Directory names radio ids.
type Directory interface {
	FindCS(id uint32) string
}

// Options are the optional collaborators of a session. A nil Conn is
// replaced by a network.Transport to cfg.Host; a nil Vocoder by a
// NullVocoder.
type Options struct {
	Conn      Conn
	Vocoder   Vocoder
	Audio     AudioSink
	Modem     ModemSink
	Calls     CallLogger
	Directory Directory
	Logger    *log.Logger
}

type msgKind int

const (
	msgPacket msgKind = iota
	msgTxTick
	msgDrainTick
	msgPingTick
	msgAudio
	msgModem
)

type message struct {
	kind msgKind
	data []byte
	pcm  []int16
	end  bool
}

type txState struct {
	active bool
	ending bool
	id     uint32
	seq    uint32
	start  time.Time
}

// Session links one backend to its server.
type Session struct {
	cfg     Config
	backend Backend
	desc    protocol.Descriptor
	conn    Conn
	vocoder Vocoder
	audio   AudioSink
	modem   ModemSink
	calls   CallLogger
	dir     Directory
	logger  *log.Logger
	now     func() time.Time

	mailbox chan message
	done    chan struct{}
	quit    chan struct{}
	stop    sync.Once
	dropped atomic.Uint64
	opened  bool

	// Owned by the Run goroutine.
	status  protocol.Status
	lastErr error
	rx      Stream
	modemQ  *network.RingBuffer
	pcmOut  *codec.RingBuffer
	tx      txState
	txCodec *codec.RingBuffer
	pcmIn   []int16
}

// New builds the backend for cfg and a session around it.
func New(cfg Config, opts Options) (*Session, error) {
	b, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, b, opts)
}

// NewWithBackend wraps an existing backend.
func NewWithBackend(cfg Config, b Backend, opts Options) (*Session, error) {
	desc := b.Descriptor()
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("backend", desc.Name)

	conn := opts.Conn
	if conn == nil {
		port := cfg.Port
		if port == 0 {
			port = desc.DefaultPort
		}
		t, err := network.NewTransport(cfg.Host, port, cfg.LocalPort, logger)
		if err != nil {
			return nil, fmt.Errorf("%s session: %w", desc.Name, err)
		}
		conn = t
	}
	voc := opts.Vocoder
	if voc == nil {
		voc = NullVocoder{FrameBytes: desc.CodecBytes}
	}

	return &Session{
		cfg:     cfg,
		backend: b,
		desc:    desc,
		conn:    conn,
		vocoder: voc,
		audio:   opts.Audio,
		modem:   opts.Modem,
		calls:   opts.Calls,
		dir:     opts.Directory,
		logger:  logger,
		now:     time.Now,
		mailbox: make(chan message, MAILBOX_LENGTH),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
		status:  b.Status(),
		modemQ:  network.NewRingBuffer(MODEM_QUEUE_LENGTH, "modem"),
		pcmOut:  codec.NewRingBuffer(AUDIO_QUEUE_LENGTH, "audio out"),
		txCodec: codec.NewRingBuffer(CODEC_QUEUE_LENGTH, "codec in"),
	}, nil
}

// Open starts the network reader and sends the login. It is called by Run
// when the caller has not done so.
func (s *Session) Open(ctx context.Context) error {
	if s.opened {
		return nil
	}
	if err := s.conn.Open(ctx, s.deliver); err != nil {
		return fmt.Errorf("%s open: %w", s.desc.Name, err)
	}
	pkts, err := s.backend.Connect()
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("%s connect: %w", s.desc.Name, err)
	}
	s.opened = true
	s.status = s.backend.Status()
	s.logger.Info("connecting", "host", s.cfg.Host, "callsign", s.cfg.Station.Callsign)
	s.send(pkts)
	return nil
}

// Run processes the mailbox until ctx is cancelled or Stop is called. On
// the way out it ends any transmission, logs out and closes the transport.
// Run returns at once if Stop came first.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	select {
	case <-s.quit:
		return nil
	default:
	}
	if err := s.Open(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	s.every(ctx, &wg, protocol.RX_TICK, msgDrainTick)
	s.every(ctx, &wg, s.desc.TxInterval, msgTxTick)
	if s.desc.PingInterval > 0 {
		s.every(ctx, &wg, s.desc.PingInterval, msgPingTick)
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.quit:
			s.shutdown()
			return nil
		case m := <-s.mailbox:
			s.handle(m)
		}
	}
}

func (s *Session) every(ctx context.Context, wg *sync.WaitGroup, d time.Duration, kind msgKind) {
	if d <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.post(message{kind: kind})
			}
		}
	}()
}

// post never blocks; a full mailbox drops the message.
func (s *Session) post(m message) bool {
	select {
	case s.mailbox <- m:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// postWait blocks until the message is queued or the session has ended
// or been stopped.
func (s *Session) postWait(m message) {
	select {
	case s.mailbox <- m:
	case <-s.done:
	case <-s.quit:
	}
}

func (s *Session) deliver(pkt []byte) {
	s.post(message{kind: msgPacket, data: pkt})
}

// Audio queues local PCM for transmission. The first call after idle
// keys up a new stream. It reports false when the mailbox was full. pcm
// is copied, so the caller may reuse it.
func (s *Session) Audio(pcm []int16) bool {
	return s.post(message{kind: msgAudio, pcm: slices.Clone(pcm)})
}

// EndTransmit unkeys once the queued audio has been sent.
func (s *Session) EndTransmit() {
	s.postWait(message{kind: msgAudio, end: true})
}

// Modem hands a frame read from the local modem to the session.
func (s *Session) Modem(frame []byte) bool {
	return s.post(message{kind: msgModem, data: frame})
}

// Stop asks Run to shut down. It never blocks and may be called before
// Run, after it, or more than once.
func (s *Session) Stop() {
	s.stop.Do(func() { close(s.quit) })
}

// Dropped counts mailbox messages lost to overflow.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Session) handle(m message) {
	switch m.kind {
	case msgPacket:
		s.receive(m.data)
	case msgDrainTick:
		s.drain()
	case msgTxTick:
		s.transmit()
	case msgPingTick:
		s.ping()
	case msgAudio:
		s.localAudio(m.pcm, m.end)
	case msgModem:
		s.modemFrame(m.data)
	}
}

func (s *Session) send(pkts [][]byte) {
	for _, p := range pkts {
		if err := s.conn.Write(p); err != nil {
			s.logger.Warn("send failed", "err", err)
		}
	}
}

func (s *Session) receive(pkt []byte) {
	ev, err := s.backend.DecodeFrame(pkt)
	if err != nil {
		if !errors.Is(err, protocol.ErrFraming) {
			s.logger.Debug("packet dropped", "err", err)
		}
		return
	}
	s.send(ev.Reply)
	s.setStatus(ev.Status)
	s.track(ev)
}

func (s *Session) setStatus(st protocol.Status) {
	if st == protocol.NO_CHANGE || st == s.status {
		return
	}
	prev := s.status
	s.status = st

	switch {
	case st.Connected():
		s.logger.Info("connected", "status", st)
	case st == protocol.DISCONNECTED && !prev.Connected():
		s.lastErr = fmt.Errorf("%s %s: %w", s.desc.Name, s.cfg.Host, ErrAuthFailed)
		s.logger.Error("login failed", "err", s.lastErr)
	case st == protocol.CLOSED || st == protocol.DISCONNECTED:
		s.logger.Warn("link closed", "status", st)
	default:
		s.logger.Debug("login progress", "status", st)
	}
	if !st.Connected() && s.tx.active {
		s.endTx()
	}
}

func streamFrame(f protocol.FrameKind) bool {
	switch f {
	case protocol.FRAME_HEADER, protocol.FRAME_VOICE, protocol.FRAME_DATA, protocol.FRAME_TERMINATOR:
		return true
	}
	return false
}

// track runs the receive state machine for one decoded event.
func (s *Session) track(ev protocol.Event) {
	if !streamFrame(ev.Frame) {
		return
	}
	rx := &s.rx
	now := s.now()

	// Repeated terminators and stragglers of a finished stream.
	if rx.State == END && ev.StreamID == rx.ID {
		return
	}
	if rx.Active() && ev.StreamID != rx.ID {
		s.logger.Info("stream replaced", "old", rx.ID, "new", ev.StreamID)
		s.finish(true)
	}
	opened := false
	if !rx.Active() {
		if ev.Frame == protocol.FRAME_TERMINATOR {
			return
		}
		rx.begin(ev.StreamID, now)
		opened = true
	}

	rx.Watchdog = 0
	rx.Last = now
	rx.update(ev, s.dir)
	rx.Errors += ev.Errors
	s.queueModem(ev.Modem)
	if opened {
		s.logger.Info("stream start", "id", rx.ID, "src", rx.Src, "dst", rx.Dst)
	}

	switch ev.Frame {
	case protocol.FRAME_VOICE, protocol.FRAME_DATA:
		rx.Frames++
		s.playCodec(ev.Codec)
		if !opened {
			rx.State = STREAMING
		}
	case protocol.FRAME_TERMINATOR:
		s.finish(false)
	}
}

// finish closes the receive stream and logs the call.
func (s *Session) finish(lost bool) {
	rx := &s.rx
	rx.State = END
	if lost {
		rx.State = LOST
	}
	call := rx.Call(s.desc.Kind, s.now(), lost)
	s.logger.Info("stream end", "id", call.StreamID, "src", call.Src, "dst", call.Dst,
		"frames", call.Frames, "errors", call.Errors, "lost", lost,
		"duration", call.End.Sub(call.Start).Round(10*time.Millisecond))
	if s.calls != nil {
		if err := s.calls.LogCall(call); err != nil {
			s.logger.Warn("call log", "err", err)
		}
	}
}

func (s *Session) queueModem(frames [][]byte) {
	if s.modem == nil {
		return
	}
	for _, f := range frames {
		if !s.modemQ.AddFrame(f) {
			s.logger.Debug("modem queue full", "queue", s.modemQ)
		}
	}
}

func (s *Session) playCodec(c []byte) {
	if s.audio == nil {
		return
	}
	n := s.desc.CodecBytes
	for off := 0; off+n <= len(c); off += n {
		pcm := s.vocoder.Decode(c[off : off+n])
		if !s.pcmOut.AddData(pcmBytes(pcm)) {
			s.logger.Debug("audio queue overflow", "dropped", s.pcmOut.Dropped())
		}
	}
}

// drain runs every receive tick: backend timers, one modem frame, one
// audio frame, the watchdog and the END/LOST to IDLE transition.
func (s *Session) drain() {
	s.send(s.backend.Tick(protocol.RX_TICK))

	if s.modem != nil {
		if f, ok := s.modemQ.GetFrame(); ok {
			if err := s.modem.Write(f); err != nil {
				s.logger.Warn("modem write", "err", err)
			}
		}
	}
	if s.audio != nil {
		if b, ok := s.pcmOut.GetData(2 * PCM_FRAME); ok {
			s.audio.Play(pcmSamples(b))
		}
	}

	switch s.rx.State {
	case NEW, STREAMING:
		s.rx.Watchdog++
		if s.rx.Watchdog > s.desc.Watchdog {
			s.lastErr = fmt.Errorf("stream %d: %w", s.rx.ID, ErrTimeout)
			s.logger.Warn("stream lost", "err", s.lastErr)
			s.backend.EndStream()
			s.finish(true)
		}
	case END, LOST:
		if s.modemQ.Frames() < s.desc.DrainThreshold {
			s.rx.State = IDLE
		}
	}
}

func (s *Session) ping() {
	if s.status.Connected() {
		s.send(s.backend.Ping())
	}
}

func (s *Session) packetBytes() uint32 {
	if p, ok := s.backend.(packetSizer); ok {
		return uint32(p.PacketCodecBytes())
	}
	return uint32(s.desc.PacketCodecBytes())
}

func newStreamID() uint32 {
	return rand.N(uint32(STREAM_ID_MAX)) + 1
}

func (s *Session) localAudio(pcm []int16, end bool) {
	if end {
		if s.tx.active {
			s.tx.ending = true
		}
		return
	}
	if !s.tx.active {
		if s.status != protocol.CONNECTED_RW {
			s.logger.Debug("not connected read-write, audio dropped", "status", s.status)
			return
		}
		s.startTx()
	}
	s.tx.ending = false
	s.pcmIn = append(s.pcmIn, pcm...)
	for len(s.pcmIn) >= PCM_FRAME {
		frame := s.vocoder.Encode(s.pcmIn[:PCM_FRAME])
		s.pcmIn = s.pcmIn[PCM_FRAME:]
		if !s.txCodec.AddData(frame) {
			s.logger.Debug("codec queue overflow", "dropped", s.txCodec.Dropped())
		}
	}
}

func (s *Session) encode(tx protocol.Transmit) {
	pkts, err := s.backend.EncodeFrame(tx)
	if err != nil {
		s.logger.Warn("encode failed", "frame", tx.Frame, "err", err)
		return
	}
	s.send(pkts)
}

func (s *Session) startTx() {
	s.tx = txState{active: true, id: newStreamID(), start: s.now()}
	s.txCodec.Clear()
	s.pcmIn = nil
	s.logger.Info("transmit start", "id", s.tx.id)
	s.encode(protocol.Transmit{Frame: protocol.FRAME_HEADER, StreamID: s.tx.id})
}

// transmit runs every transmit tick: one voice packet when enough codec
// data is queued, the terminator once the queue runs dry after unkey.
func (s *Session) transmit() {
	if !s.tx.active {
		return
	}
	if data, ok := s.txCodec.GetData(s.packetBytes()); ok {
		s.tx.seq++
		s.encode(protocol.Transmit{Frame: protocol.FRAME_VOICE, StreamID: s.tx.id, Seq: s.tx.seq, Codec: data})
		return
	}
	if s.tx.ending {
		s.endTx()
	}
}

func (s *Session) endTx() {
	s.tx.seq++
	s.encode(protocol.Transmit{Frame: protocol.FRAME_TERMINATOR, StreamID: s.tx.id, Seq: s.tx.seq})
	s.logger.Info("transmit end", "id", s.tx.id, "frames", s.tx.seq-1,
		"duration", s.now().Sub(s.tx.start).Round(10*time.Millisecond))
	s.tx = txState{}
	s.txCodec.Clear()
	s.pcmIn = nil
}

// modemFrame relays RF from the local modem when the backend supports it.
func (s *Session) modemFrame(frame []byte) {
	md, ok := s.backend.(ModemDecoder)
	if !ok {
		return
	}
	ev, err := md.DecodeModem(frame)
	if err != nil {
		s.logger.Debug("modem frame dropped", "err", err)
		return
	}
	s.send(ev.Reply)
	switch ev.Frame {
	case protocol.FRAME_HEADER:
		s.logger.Info("rf stream start", "id", ev.StreamID, "src", ev.Src, "dst", ev.Dst)
	case protocol.FRAME_TERMINATOR:
		s.logger.Info("rf stream end", "id", ev.StreamID)
	}
}

func (s *Session) shutdown() {
	if s.tx.active {
		s.endTx()
	}
	if s.rx.Active() {
		s.finish(true)
	}
	s.backend.EndStream()
	s.send(s.backend.Disconnect())
	s.status = s.backend.Status()
	if err := s.conn.Close(); err != nil {
		s.logger.Warn("close", "err", err)
	}
	s.modemQ.Clear()
	s.pcmOut.Clear()
	s.txCodec.Clear()
	s.logger.Info("session closed")
}
