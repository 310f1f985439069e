package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	BUFFER_LENGTH = 2000
	READ_TIMEOUT  = 100 * time.Millisecond
)

// Transport is a UDP link to one server. A reader goroutine hands every
// datagram from the server to the deliver callback; writes go straight to
// the socket.
type Transport struct {
	server    *net.UDPAddr
	localPort int
	logger    *log.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	wg      sync.WaitGroup
	ignored atomic.Uint64
}

// NewTransport resolves host and prepares a transport. localPort 0 lets
// the system pick an ephemeral port.
func NewTransport(host string, port, localPort int, logger *log.Logger) (*Transport, error) {
	if logger == nil {
		logger = log.Default()
	}
	addr, err := ParseUDPAddr(host, port)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	return &Transport{
		server:    addr,
		localPort: localPort,
		logger:    logger,
	}, nil
}

// Server is the resolved remote address.
func (t *Transport) Server() *net.UDPAddr {
	return t.server
}

// Open binds the socket and starts the reader. deliver is called from the
// reader goroutine with a copy of each datagram and must not block.
func (t *Transport) Open(ctx context.Context, deliver func(pkt []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return errors.New("transport already open")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: t.localPort})
	if err != nil {
		return fmt.Errorf("bind udp port %d: %w", t.localPort, err)
	}
	t.conn = conn
	t.logger.Debug("udp socket bound", "local", conn.LocalAddr(), "server", t.server)

	t.wg.Add(1)
	go t.reader(ctx, conn, deliver)
	return nil
}

func (t *Transport) reader(ctx context.Context, conn *net.UDPConn, deliver func([]byte)) {
	defer t.wg.Done()
	buffer := make([]byte, BUFFER_LENGTH)

	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(READ_TIMEOUT))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("udp read", "err", err)
			continue
		}
		if !from.IP.Equal(t.server.IP) || from.Port != t.server.Port {
			t.ignored.Add(1)
			t.logger.Debug("ignoring packet", "from", from, "expected", t.server)
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buffer[:n])
		deliver(pkt)
	}
}

// Write sends one packet to the server.
func (t *Transport) Write(pkt []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("transport not open")
	}
	if _, err := conn.WriteToUDP(pkt, t.server); err != nil {
		return fmt.Errorf("udp write to %s: %w", t.server, err)
	}
	return nil
}

// LocalAddr is the bound address, nil before Open.
func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Ignored counts datagrams from addresses other than the server.
func (t *Transport) Ignored() uint64 {
	return t.ignored.Load()
}

// Close shuts the socket and waits for the reader to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	t.wg.Wait()
	return err
}

// Lookup resolves hostname to an IPv4 address.
func Lookup(hostname string) (net.IP, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address found for %s", hostname)
}

// ParseUDPAddr resolves address and pairs it with port.
func ParseUDPAddr(address string, port int) (*net.UDPAddr, error) {
	if address == "" {
		return nil, errors.New("empty host")
	}
	if port <= 0 || port > 0xFFFF {
		return nil, fmt.Errorf("bad port %d", port)
	}
	ip, err := Lookup(address)
	if err != nil {
		return nil, err
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}
