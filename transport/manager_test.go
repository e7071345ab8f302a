package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"goairdrop/model"
)

func TestTCPProviderConnectAndListenRoundTrip(t *testing.T) {
	provider := NewTCPProvider(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	links, err := provider.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer provider.Stop()

	addr := provider.listener.Addr().(*net.TCPAddr)
	peer := model.PeerRecord{PeerID: "p1", IP: "127.0.0.1", Port: addr.Port}

	link, err := provider.Connect(context.Background(), peer)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer link.Close()

	if link.Transport() != "tcp" {
		t.Fatalf("expected transport tag 'tcp', got %q", link.Transport())
	}

	select {
	case accepted, ok := <-links:
		if !ok {
			t.Fatalf("links channel closed unexpectedly")
		}
		if accepted.Transport() != "tcp" {
			t.Fatalf("expected accepted link tagged 'tcp', got %q", accepted.Transport())
		}
		accepted.Close()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for accepted connection")
	}
}

func TestTCPProviderAvailableRequiresIPAndPort(t *testing.T) {
	provider := NewTCPProvider(8771)
	if provider.Available(model.PeerRecord{}) {
		t.Fatalf("expected unavailable with no IP/port")
	}
	if !provider.Available(model.PeerRecord{IP: "10.0.0.5", Port: 8771}) {
		t.Fatalf("expected available with IP and port set")
	}
}

type fakeWFDSource struct {
	connectErr error
	conns      chan net.Conn
	listenErr  error
}

func (s *fakeWFDSource) Connect(ctx context.Context, peer model.PeerRecord) (net.Conn, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	client, _ := net.Pipe()
	return client, nil
}

func (s *fakeWFDSource) Listen(ctx context.Context) (<-chan net.Conn, error) {
	if s.listenErr != nil {
		return nil, s.listenErr
	}
	return s.conns, nil
}

func (s *fakeWFDSource) Stop() error { return nil }

func TestWifiDirectProviderAvailableChecksAdvertisedTransport(t *testing.T) {
	provider := NewWifiDirectProvider(NullPeerLinkSource{})

	if provider.Available(model.PeerRecord{Metadata: map[string]string{"transport": "wifi"}}) {
		t.Fatalf("expected unavailable when peer did not advertise wifidirect")
	}
	if !provider.Available(model.PeerRecord{Metadata: map[string]string{"transport": "wifi,wifidirect"}}) {
		t.Fatalf("expected available when peer advertised wifidirect")
	}
}

func TestWifiDirectProviderRelaysAcceptedConnections(t *testing.T) {
	server, client := net.Pipe()
	source := &fakeWFDSource{conns: make(chan net.Conn, 1)}
	source.conns <- server

	provider := NewWifiDirectProvider(source)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	links, err := provider.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer provider.Stop()
	defer client.Close()

	select {
	case link, ok := <-links:
		if !ok {
			t.Fatalf("links channel closed unexpectedly")
		}
		if link.Transport() != "wifidirect" {
			t.Fatalf("expected transport tag 'wifidirect', got %q", link.Transport())
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for relayed connection")
	}
}

func TestManagerFallsBackToTCPWhenWifiDirectUnavailable(t *testing.T) {
	tcpProvider := NewTCPProvider(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := tcpProvider.Listen(ctx); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer tcpProvider.Stop()

	addr := tcpProvider.listener.Addr().(*net.TCPAddr)
	manager := NewManager(NewWifiDirectProvider(NullPeerLinkSource{}), tcpProvider)

	peer := model.PeerRecord{
		PeerID:   "p1",
		IP:       "127.0.0.1",
		Port:     addr.Port,
		Metadata: map[string]string{"transport": "wifidirect,wifi"},
	}

	link, err := manager.Connect(context.Background(), peer)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer link.Close()

	if link.Transport() != "tcp" {
		t.Fatalf("expected fallback to tcp, got %q", link.Transport())
	}
}

func TestManagerReturnsNoTransportWhenAllProvidersFail(t *testing.T) {
	manager := NewManager(NewWifiDirectProvider(NullPeerLinkSource{}))

	_, err := manager.Connect(context.Background(), model.PeerRecord{
		PeerID:   "p1",
		Metadata: map[string]string{"transport": "wifidirect"},
	})
	if !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
}

func TestManagerSkipsProvidersPeerDidNotAdvertise(t *testing.T) {
	manager := NewManager(NewWifiDirectProvider(NullPeerLinkSource{}), NewTCPProvider(0))

	_, err := manager.Connect(context.Background(), model.PeerRecord{PeerID: "p1"})
	if !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport when peer has no IP/port and no wifidirect advert, got %v", err)
	}
}
