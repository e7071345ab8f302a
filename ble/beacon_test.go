package ble

import (
	"context"
	"testing"
	"time"
)

type fakeRadio struct {
	advertiseErr error
	advertised   chan []byte
	scanErr      error
	frames       chan Advertisement
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		advertised: make(chan []byte, 8),
		frames:     make(chan Advertisement, 8),
	}
}

func (r *fakeRadio) Advertise(ctx context.Context, payload []byte) error {
	if r.advertiseErr != nil {
		return r.advertiseErr
	}
	select {
	case r.advertised <- payload:
	default:
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRadio) StopAdvertising() error { return nil }

func (r *fakeRadio) Scan(ctx context.Context) (<-chan Advertisement, error) {
	if r.scanErr != nil {
		return nil, r.scanErr
	}
	return r.frames, nil
}

func TestPublisherAdvertisesThenStopsCleanly(t *testing.T) {
	radio := newFakeRadio()
	hash := "00112233445566778899001122334455667788990011223344556677889900"
	pub := NewPublisher(radio, hash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pub.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case payload := <-radio.advertised:
		if len(payload) == 0 {
			t.Fatalf("expected non-empty advertised payload")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for advertise call")
	}

	pub.Stop()
}

func TestPublisherDisablesOnRadioUnavailable(t *testing.T) {
	radio := newFakeRadio()
	radio.advertiseErr = ErrRadioUnavailable
	hash := "00112233445566778899001122334455667788990011223344556677889900"
	pub := NewPublisher(radio, hash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pub.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pub.mu.Lock()
	stopped := pub.stopped
	pub.mu.Unlock()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("expected publisher goroutine to exit after RadioUnavailable")
	}
}
