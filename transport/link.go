// Package transport implements the Peer-Link Manager: it picks a transport
// (Wi-Fi Direct primary, same-subnet TCP fallback), opens an authenticated
// socket, and hands back one PeerLink regardless of which provider won,
// mirroring the accept-loop/connect-loop split the teacher's network
// package uses for its own TCP server and dialer.
package transport

import (
	"errors"
	"net"
)

// ErrNoTransport is returned when every configured provider fails or
// reports itself unavailable for a peer.
var ErrNoTransport = errors.New("transport: no transport available for peer")

// PeerLink is an authenticated bidirectional byte stream between local and
// remote, regardless of underlying transport.
type PeerLink interface {
	net.Conn
	// Transport names the provider that established this link (e.g.
	// "wifidirect", "tcp").
	Transport() string
}

// netPeerLink adapts a net.Conn into a PeerLink tagged with its transport
// name.
type netPeerLink struct {
	net.Conn
	transport string
}

func (l *netPeerLink) Transport() string { return l.transport }

func wrapConn(conn net.Conn, transport string) PeerLink {
	return &netPeerLink{Conn: conn, transport: transport}
}
