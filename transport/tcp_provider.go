package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"goairdrop/model"
)

// DefaultConnectTimeout bounds an outbound TCP dial.
const DefaultConnectTimeout = 10 * time.Second

// TCPProvider opens a same-subnet TCP connection to (peer.IP, peer.Port) on
// the send side, and listens on a fixed local port on the receive side.
type TCPProvider struct {
	Port           int
	ConnectTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	links    chan PeerLink
	stopped  chan struct{}
}

// NewTCPProvider creates a TCPProvider bound to port, the AirDrop HTTP/2
// listen port.
func NewTCPProvider(port int) *TCPProvider {
	return &TCPProvider{Port: port, ConnectTimeout: DefaultConnectTimeout}
}

// Name identifies this provider.
func (p *TCPProvider) Name() string { return "tcp" }

// Available reports whether peer carries an IP and port to dial.
func (p *TCPProvider) Available(peer model.PeerRecord) bool {
	return peer.IP != "" && peer.Port > 0
}

// Connect dials (peer.IP, peer.Port).
func (p *TCPProvider) Connect(ctx context.Context, peer model.PeerRecord) (PeerLink, error) {
	if !p.Available(peer) {
		return nil, fmt.Errorf("transport: tcp provider has no address for peer %q", peer.PeerID)
	}

	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(peer.IP, strconv.Itoa(peer.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial %s: %w", addr, err)
	}
	return wrapConn(conn, p.Name()), nil
}

// Listen binds a TCP listener on Port and streams accepted connections as
// PeerLinks until ctx is cancelled.
func (p *TCPProvider) Listen(ctx context.Context) (<-chan PeerLink, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(p.Port)))
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listen on port %d: %w", p.Port, err)
	}

	p.mu.Lock()
	p.listener = listener
	p.links = make(chan PeerLink, 16)
	p.stopped = make(chan struct{})
	links := p.links
	stopped := p.stopped
	p.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	go p.acceptLoop(listener, links, stopped)

	return links, nil
}

// Stop closes the active listener, if any.
func (p *TCPProvider) Stop() error {
	p.mu.Lock()
	listener := p.listener
	stopped := p.stopped
	p.mu.Unlock()

	if listener == nil {
		return nil
	}
	err := listener.Close()
	if stopped != nil {
		<-stopped
	}
	return err
}

func (p *TCPProvider) acceptLoop(listener net.Listener, links chan<- PeerLink, stopped chan struct{}) {
	defer close(stopped)
	defer close(links)

	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		select {
		case links <- wrapConn(conn, "tcp"):
		default:
			_ = conn.Close()
		}
	}
}
