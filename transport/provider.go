package transport

import (
	"context"

	"goairdrop/model"
)

// PeerLinkProvider is the abstract interface for one transport the Peer-Link
// Manager can use to reach a peer. The core ships a real TCPProvider and a
// WifiDirectProvider that wraps an injected platform collaborator; the
// platform-specific Wi-Fi Direct negotiation itself is an external
// collaborator, named out of scope.
type PeerLinkProvider interface {
	// Name identifies the transport, e.g. "wifidirect" or "tcp".
	Name() string
	// Available reports whether this provider could plausibly reach peer
	// given what's known about it (e.g. an IP/port for TCP).
	Available(peer model.PeerRecord) bool
	// Connect opens an outbound link to peer.
	Connect(ctx context.Context, peer model.PeerRecord) (PeerLink, error)
	// Listen starts accepting inbound links and streams them until ctx is
	// cancelled or Stop is called.
	Listen(ctx context.Context) (<-chan PeerLink, error)
	// Stop halts any active listener and releases its resources.
	Stop() error
}
