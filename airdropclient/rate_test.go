package airdropclient

import (
	"testing"
	"time"
)

func TestRateTrackerConverges(t *testing.T) {
	tracker := newRateTracker()
	tracker.Add(0) // establishes the starting timestamp

	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		tracker.Add(1024)
	}

	if tracker.Rate() <= 0 {
		t.Fatalf("expected positive rate after samples, got %f", tracker.Rate())
	}
}

func TestRateTrackerETAZeroWhenNoRate(t *testing.T) {
	tracker := newRateTracker()
	if eta := tracker.ETA(1000); eta != 0 {
		t.Fatalf("expected zero ETA before any samples, got %v", eta)
	}
}

func TestRateTrackerETAZeroWhenNoRemaining(t *testing.T) {
	tracker := newRateTracker()
	tracker.Add(0)
	time.Sleep(time.Millisecond)
	tracker.Add(100)

	if eta := tracker.ETA(0); eta != 0 {
		t.Fatalf("expected zero ETA with nothing remaining, got %v", eta)
	}
}
