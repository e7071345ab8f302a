package ble

import (
	"context"
	"testing"
	"time"
)

func TestScannerEmitsSightingForInRangeAirDropFrame(t *testing.T) {
	radio := newFakeRadio()
	scanner := NewScanner(radio)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scanner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scanner.Stop()

	hash := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"[:64]
	payload, err := BuildAdvertisementPayload(hash)
	if err != nil {
		t.Fatalf("BuildAdvertisementPayload failed: %v", err)
	}

	radio.frames <- Advertisement{
		Address: [6]byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33},
		RSSI:    -60,
		AdvData: payload,
	}

	select {
	case sighting := <-scanner.Sightings():
		if sighting.PeerID != "AA:BB:CC:11:22:33" {
			t.Fatalf("expected formatted MAC peer ID, got %q", sighting.PeerID)
		}
		if sighting.DisplayName != "112233" {
			t.Fatalf("expected last-6-of-MAC display name, got %q", sighting.DisplayName)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sighting")
	}
}

func TestScannerIgnoresOutOfRangeFrame(t *testing.T) {
	radio := newFakeRadio()
	scanner := NewScanner(radio)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scanner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer scanner.Stop()

	hash := "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"[:64]
	payload, _ := BuildAdvertisementPayload(hash)

	radio.frames <- Advertisement{
		Address: [6]byte{1, 2, 3, 4, 5, 6},
		RSSI:    -90,
		AdvData: payload,
	}

	select {
	case s := <-scanner.Sightings():
		t.Fatalf("expected no sighting for out-of-range frame, got %+v", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestScannerSweepOutOfRangeDropsStalePeer(t *testing.T) {
	scanner := NewScanner(newFakeRadio())

	peerID := "AA:BB:CC:11:22:33"
	scanner.lastSeen[peerID] = time.Now().Add(-OutOfRangeTimeout - time.Second)

	scanner.sweepOutOfRange(time.Now())

	select {
	case got := <-scanner.OutOfRange():
		if got != peerID {
			t.Fatalf("expected %q out of range, got %q", peerID, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for out-of-range notification")
	}

	scanner.mu.Lock()
	_, stillTracked := scanner.lastSeen[peerID]
	scanner.mu.Unlock()
	if stillTracked {
		t.Fatalf("expected stale peer to be dropped from lastSeen")
	}
}

func TestScannerSweepOutOfRangeKeepsFreshPeer(t *testing.T) {
	scanner := NewScanner(newFakeRadio())

	peerID := "AA:BB:CC:11:22:33"
	scanner.lastSeen[peerID] = time.Now()

	scanner.sweepOutOfRange(time.Now())

	select {
	case got := <-scanner.OutOfRange():
		t.Fatalf("expected no out-of-range notification for fresh peer, got %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}
