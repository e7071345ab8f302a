package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"goairdrop/model"
)

// ErrWifiDirectUnavailable is returned by a PeerLinkSource when the host has
// no Wi-Fi Direct group-owner capability.
var ErrWifiDirectUnavailable = errors.New("transport: wifi direct unavailable")

// PeerLinkSource is the abstract platform collaborator named out of scope by
// the core: it owns locating a peer among OS-enumerated Wi-Fi Direct
// devices (matched by display_name or peer_id), negotiating the
// group-owner session, and handing back the resulting link-local socket.
// The core only ever talks to this interface.
type PeerLinkSource interface {
	// Connect negotiates a Wi-Fi Direct session with peer and returns the
	// connected link-local socket.
	Connect(ctx context.Context, peer model.PeerRecord) (net.Conn, error)
	// Listen advertises as group owner and streams accepted connections
	// until ctx is cancelled or Stop is called.
	Listen(ctx context.Context) (<-chan net.Conn, error)
	// Stop releases the group-owner session, if any.
	Stop() error
}

// NullPeerLinkSource is a PeerLinkSource that reports ErrWifiDirectUnavailable
// for every operation, letting the Peer-Link Manager's fallback to TCP be
// exercised without a real host Wi-Fi Direct stack.
type NullPeerLinkSource struct{}

func (NullPeerLinkSource) Connect(ctx context.Context, peer model.PeerRecord) (net.Conn, error) {
	return nil, ErrWifiDirectUnavailable
}

func (NullPeerLinkSource) Listen(ctx context.Context) (<-chan net.Conn, error) {
	return nil, ErrWifiDirectUnavailable
}

func (NullPeerLinkSource) Stop() error { return nil }

// WifiDirectProvider adapts a PeerLinkSource into a PeerLinkProvider,
// supplying the accept-loop plumbing the source itself does not: each
// connection the source hands back over Listen is surfaced as one PeerLink,
// rather than left to accumulate on a listener nobody drains.
type WifiDirectProvider struct {
	source PeerLinkSource

	mu      sync.Mutex
	cancel  context.CancelFunc
	links   chan PeerLink
	stopped chan struct{}
}

// NewWifiDirectProvider creates a WifiDirectProvider over source.
func NewWifiDirectProvider(source PeerLinkSource) *WifiDirectProvider {
	return &WifiDirectProvider{source: source}
}

// Name identifies this provider.
func (p *WifiDirectProvider) Name() string { return "wifidirect" }

// Available reports whether peer advertised wifidirect as a transport.
func (p *WifiDirectProvider) Available(peer model.PeerRecord) bool {
	return strings.Contains(peer.Metadata["transport"], "wifidirect")
}

// Connect negotiates a Wi-Fi Direct session with peer via the source.
func (p *WifiDirectProvider) Connect(ctx context.Context, peer model.PeerRecord) (PeerLink, error) {
	conn, err := p.source.Connect(ctx, peer)
	if err != nil {
		return nil, err
	}
	return wrapConn(conn, p.Name()), nil
}

// Listen starts the source's group-owner session and relays each accepted
// connection as a PeerLink. This is the accept loop the Wi-Fi Direct
// listener never used to surface: every accepted socket now reaches the
// AirDrop Server instead of being silently held by the platform layer.
func (p *WifiDirectProvider) Listen(ctx context.Context) (<-chan PeerLink, error) {
	conns, err := p.source.Listen(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancel = cancel
	p.links = make(chan PeerLink, 16)
	p.stopped = make(chan struct{})
	links := p.links
	stopped := p.stopped
	p.mu.Unlock()

	go p.relayLoop(runCtx, conns, links, stopped)

	return links, nil
}

// Stop cancels the relay loop and releases the source's group-owner
// session.
func (p *WifiDirectProvider) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	stopped := p.stopped
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
	return p.source.Stop()
}

func (p *WifiDirectProvider) relayLoop(ctx context.Context, conns <-chan net.Conn, links chan<- PeerLink, stopped chan struct{}) {
	defer close(stopped)
	defer close(links)

	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-conns:
			if !ok {
				return
			}
			select {
			case links <- wrapConn(conn, p.Name()):
			case <-ctx.Done():
				_ = conn.Close()
				return
			default:
				_ = conn.Close()
			}
		}
	}
}
