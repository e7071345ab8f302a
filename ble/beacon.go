package ble

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// initialBackoff and maxBackoff bound the Publisher's retry schedule for
// transient advertise failures (BLE/mDNS transient failures are retried
// with exponential backoff capped at 30s per the error handling design).
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Publisher advertises the local identity hash over BLE via an injected
// BleRadio. Advertisement is immutable for the lifetime of a Publisher;
// changing identity requires a new Publisher.
type Publisher struct {
	radio           BleRadio
	identityHashHex string

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	disabled bool
}

// NewPublisher creates a Publisher bound to radio and identityHashHex.
func NewPublisher(radio BleRadio, identityHashHex string) *Publisher {
	return &Publisher{radio: radio, identityHashHex: identityHashHex}
}

// Start begins advertising in the background. It returns once the advertise
// goroutine is launched; only a payload build error is returned. A
// RadioUnavailable from the radio is not returned: the background goroutine
// logs it once and disables the Publisher.
func (p *Publisher) Start(ctx context.Context) error {
	payload, err := BuildAdvertisementPayload(p.identityHashHex)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancel = cancel
	p.stopped = make(chan struct{})
	p.mu.Unlock()

	go p.run(runCtx, payload)
	return nil
}

// Stop halts advertising.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	stopped := p.stopped
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopped != nil {
		<-stopped
	}
	_ = p.radio.StopAdvertising()
}

func (p *Publisher) run(ctx context.Context, payload []byte) {
	defer close(p.stopped)

	backoff := initialBackoff
	for {
		err := p.radio.Advertise(ctx, payload)
		if err == nil {
			return
		}
		if errors.Is(err, ErrRadioUnavailable) {
			p.mu.Lock()
			alreadyDisabled := p.disabled
			p.disabled = true
			p.mu.Unlock()
			if !alreadyDisabled {
				log.Printf("ble: radio unavailable, BLE beacon disabled")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		log.Printf("ble: advertise failed, retrying in %s: %v", backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
