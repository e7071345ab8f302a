package airdropclient

import (
	"math"
	"time"
)

// rateTracker computes an exponentially weighted moving average of the
// transfer rate, sampled once per Add call: each new sample is weighted by
// alpha (0.3) against the previous average. The average is not limited to a
// fixed time window.
type rateTracker struct {
	alpha    float64
	rate     float64
	lastSeen time.Time
	started  bool
}

func newRateTracker() *rateTracker {
	return &rateTracker{alpha: 0.3}
}

// Add records n bytes transferred just now.
func (t *rateTracker) Add(n int64) {
	now := time.Now()
	if !t.started {
		t.started = true
		t.lastSeen = now
		return
	}

	elapsed := now.Sub(t.lastSeen).Seconds()
	t.lastSeen = now
	if elapsed <= 0 {
		return
	}
	instant := float64(n) / elapsed
	if t.rate == 0 {
		t.rate = instant
		return
	}
	t.rate = t.alpha*instant + (1-t.alpha)*t.rate
}

// Rate returns the current smoothed bytes/second estimate.
func (t *rateTracker) Rate() float64 {
	return t.rate
}

// ETA estimates the remaining time to transfer remaining bytes at the
// current rate.
func (t *rateTracker) ETA(remaining int64) time.Duration {
	if t.rate <= 0 || remaining <= 0 {
		return 0
	}
	seconds := float64(remaining) / t.rate
	if math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
