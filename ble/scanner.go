package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// InRangeRSSIThreshold is the minimum signal strength (dBm) for a received
// frame to be considered in range.
const InRangeRSSIThreshold = -70

// OutOfRangeTimeout is how long a previously sighted peer may go without a
// fresh frame before the Scanner itself considers it out of BLE range.
// This is distinct from the Device Registry's 60s peer-expiration window
// (spec.md §5): it governs only the Scanner's own notion of "currently
// seeing this peer's beacon", not removal from the merged registry, which
// stays the sweeper's job so a peer still reachable via mDNS is never
// evicted early just because its BLE beacon went quiet.
const OutOfRangeTimeout = 10 * time.Second

// oorSweepInterval is how often the Scanner checks lastSeen for peers that
// have gone out of range.
const oorSweepInterval = 1 * time.Second

// Sighting is one classified AirDrop peer observation emitted by the
// Scanner.
type Sighting struct {
	PeerID      string
	DisplayName string
	RSSI        int
	Timestamp   time.Time
}

// Scanner continuously scans for BLE advertisements and emits classified
// AirDrop peer sightings.
type Scanner struct {
	radio BleRadio

	mu         sync.Mutex
	cancel     context.CancelFunc
	stopped    chan struct{}
	sightings  chan Sighting
	outOfRange chan string

	lastSeen map[string]time.Time
}

// NewScanner creates a Scanner bound to radio.
func NewScanner(radio BleRadio) *Scanner {
	return &Scanner{
		radio:      radio,
		sightings:  make(chan Sighting, 128),
		outOfRange: make(chan string, 32),
		lastSeen:   make(map[string]time.Time),
	}
}

// Sightings returns the channel of classified peer sightings.
func (s *Scanner) Sightings() <-chan Sighting {
	return s.sightings
}

// OutOfRange returns the channel of peer IDs the Scanner has stopped
// hearing a fresh frame from for longer than OutOfRangeTimeout. A peer
// reappearing after this fires is reported again as a fresh Sighting.
func (s *Scanner) OutOfRange() <-chan string {
	return s.outOfRange
}

// Start begins scanning in the background.
func (s *Scanner) Start(ctx context.Context) error {
	frames, err := s.radio.Scan(ctx)
	if err != nil {
		if errors.Is(err, ErrRadioUnavailable) {
			log.Printf("ble: radio unavailable, BLE scanner disabled")
			return nil
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx, frames)
	return nil
}

// Stop halts scanning.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
}

func (s *Scanner) run(ctx context.Context, frames <-chan Advertisement) {
	defer close(s.stopped)

	ticker := time.NewTicker(oorSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.handleFrame(frame)
		case now := <-ticker.C:
			s.sweepOutOfRange(now)
		}
	}
}

func (s *Scanner) handleFrame(frame Advertisement) {
	if frame.RSSI < InRangeRSSIThreshold {
		return
	}

	isPeer, _, localName, err := ClassifyFrame(frame.AdvData)
	if err != nil || !isPeer {
		return
	}

	displayName := localName
	if displayName == "" {
		displayName = lastSixOfMAC(frame.Address)
	}

	peerID := formatMAC(frame.Address)
	now := time.Now()

	sighting := Sighting{
		PeerID:      peerID,
		DisplayName: displayName,
		RSSI:        frame.RSSI,
		Timestamp:   now,
	}

	s.mu.Lock()
	s.lastSeen[peerID] = now
	s.mu.Unlock()

	select {
	case s.sightings <- sighting:
	default:
	}
}

// sweepOutOfRange drops any peer whose last fresh frame is older than
// OutOfRangeTimeout and reports it on the OutOfRange channel.
func (s *Scanner) sweepOutOfRange(now time.Time) {
	s.mu.Lock()
	var stale []string
	for peerID, seen := range s.lastSeen {
		if now.Sub(seen) > OutOfRangeTimeout {
			stale = append(stale, peerID)
			delete(s.lastSeen, peerID)
		}
	}
	s.mu.Unlock()

	for _, peerID := range stale {
		select {
		case s.outOfRange <- peerID:
		default:
		}
	}
}

func formatMAC(addr [6]byte) string {
	parts := make([]string, len(addr))
	for i, b := range addr {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func lastSixOfMAC(addr [6]byte) string {
	return fmt.Sprintf("%02X%02X%02X", addr[3], addr[4], addr[5])
}
