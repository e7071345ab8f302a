// Package registry implements the Device Registry: it merges BLE and mDNS
// sightings into one PeerRecord per peer_id and ages entries out on a
// timer.
package registry

import (
	"context"
	"sync"
	"time"

	"goairdrop/model"
)

// EventType identifies a registry change.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event carries one registry change, in strict per-peer order
// (added -> updated* -> removed).
type Event struct {
	Type EventType
	Peer model.PeerRecord
}

// DefaultExpirationWindow is how long a peer may go unseen before the
// sweeper removes it.
const DefaultExpirationWindow = 60 * time.Second

// DefaultSweepInterval is how often the sweeper checks for expired peers.
const DefaultSweepInterval = 10 * time.Second

// Registry maintains peer_id -> PeerRecord under concurrent access.
type Registry struct {
	expirationWindow time.Duration
	sweepInterval    time.Duration

	mu    sync.Mutex
	peers map[string]model.PeerRecord

	events chan Event

	cancel  context.CancelFunc
	stopped chan struct{}
}

// New creates a Registry with the given expiration window and sweep
// interval; zero values fall back to the package defaults.
func New(expirationWindow, sweepInterval time.Duration) *Registry {
	if expirationWindow <= 0 {
		expirationWindow = DefaultExpirationWindow
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Registry{
		expirationWindow: expirationWindow,
		sweepInterval:    sweepInterval,
		peers:            make(map[string]model.PeerRecord),
		events:           make(chan Event, 256),
	}
}

// Events returns the registry's ordered change stream.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Start begins the periodic expiration sweep.
func (r *Registry) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.stopped = make(chan struct{})

	go func() {
		defer close(r.stopped)
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now())
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweeper and closes the event stream.
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.stopped != nil {
		<-r.stopped
	}
	close(r.events)
}

// AddOrUpdate inserts or merges a sighting. last_seen is always bumped to
// now; display_name/device_class/ip/port/identity-hash metadata are
// overwritten only by non-empty/non-Unknown/non-zero incoming values;
// metadata keys are unioned with incoming values winning on conflict.
func (r *Registry) AddOrUpdate(incoming model.PeerRecord) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, found := r.peers[incoming.PeerID]
	if !found {
		merged := incoming.Clone()
		merged.FirstSeen = now
		merged.LastSeen = now
		r.peers[incoming.PeerID] = merged
		r.emit(Event{Type: EventAdded, Peer: merged.Clone()})
		return
	}

	merged := mergePeer(existing, incoming)
	merged.LastSeen = now
	r.peers[incoming.PeerID] = merged
	r.emit(Event{Type: EventUpdated, Peer: merged.Clone()})
}

// Get returns a copy of one peer record.
func (r *Registry) Get(peerID string) (model.PeerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return model.PeerRecord{}, false
	}
	return p.Clone(), true
}

// Snapshot returns only records currently within the expiration window.
func (r *Registry) Snapshot() []model.PeerRecord {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.PeerRecord, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Available(now, r.expirationWindow) {
			out = append(out, p.Clone())
		}
	}
	return out
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > r.expirationWindow {
			delete(r.peers, id)
			r.emit(Event{Type: EventRemoved, Peer: p.Clone()})
		}
	}
}

func (r *Registry) emit(event Event) {
	select {
	case r.events <- event:
	default:
	}
}

func mergePeer(existing, incoming model.PeerRecord) model.PeerRecord {
	out := existing.Clone()
	out.PeerID = existing.PeerID
	out.FirstSeen = existing.FirstSeen

	if incoming.DisplayName != "" {
		out.DisplayName = incoming.DisplayName
	}
	if incoming.DeviceClass != "" && incoming.DeviceClass != model.DeviceClassUnknown {
		out.DeviceClass = incoming.DeviceClass
	}
	if incoming.IP != "" {
		out.IP = incoming.IP
	}
	if incoming.Port != 0 {
		out.Port = incoming.Port
	}

	if len(incoming.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]string, len(incoming.Metadata))
		}
		for k, v := range incoming.Metadata {
			// An empty identity hash never replaces a known one.
			if k == "identityID" && v == "" {
				continue
			}
			out.Metadata[k] = v
		}
	}

	return out
}
