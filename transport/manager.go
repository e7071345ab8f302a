package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"goairdrop/model"
)

// Manager holds an ordered list of transport providers (Wi-Fi Direct first,
// same-subnet TCP second by convention, but caller-configurable) and picks
// the first one that can reach a given peer.
type Manager struct {
	providers []PeerLinkProvider
}

// NewManager creates a Manager trying providers in the given order.
func NewManager(providers ...PeerLinkProvider) *Manager {
	return &Manager{providers: providers}
}

// Connect iterates providers in order, skipping any whose Available(peer)
// is false, and returns the first successfully established link. On total
// failure it returns ErrNoTransport.
func (m *Manager) Connect(ctx context.Context, peer model.PeerRecord) (PeerLink, error) {
	var lastErr error
	for _, provider := range m.providers {
		if !provider.Available(peer) {
			continue
		}
		link, err := provider.Connect(ctx, peer)
		if err != nil {
			lastErr = err
			continue
		}
		return link, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoTransport, lastErr)
	}
	return nil, ErrNoTransport
}

// Listen starts every provider's accept loop and fans their accepted links
// into one channel, so the AirDrop Server can serve HTTP/2 over whichever
// transport a peer happened to connect on.
func (m *Manager) Listen(ctx context.Context) (<-chan PeerLink, error) {
	out := make(chan PeerLink, 32)
	var wg sync.WaitGroup

	for _, provider := range m.providers {
		links, err := provider.Listen(ctx)
		if err != nil {
			log.Printf("transport: %s provider disabled: %v", provider.Name(), err)
			continue
		}
		wg.Add(1)
		go func(links <-chan PeerLink) {
			defer wg.Done()
			for link := range links {
				select {
				case out <- link:
				case <-ctx.Done():
					_ = link.Close()
				}
			}
		}(links)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// Stop stops every provider's listener.
func (m *Manager) Stop() {
	for _, provider := range m.providers {
		_ = provider.Stop()
	}
}
