package ble

import (
	"context"
	"errors"
)

// ErrRadioUnavailable is returned by a BleRadio implementation when the
// platform has no usable Bluetooth LE adapter.
var ErrRadioUnavailable = errors.New("ble: radio unavailable")

// Advertisement is one received BLE advertising frame, already paired with
// the address and signal strength the platform radio reported.
type Advertisement struct {
	Address [6]byte
	RSSI    int
	AdvData []byte
}

// BleRadio is the abstract platform collaborator named out of scope by the
// core: it owns the actual Bluetooth adapter. The core only ever talks to
// this interface.
type BleRadio interface {
	// Advertise starts broadcasting payload as manufacturer-specific
	// advertising data until ctx is cancelled or StopAdvertising is
	// called.
	Advertise(ctx context.Context, payload []byte) error
	// StopAdvertising halts a previously started advertisement.
	StopAdvertising() error
	// Scan starts an active scan and streams received frames until ctx
	// is cancelled.
	Scan(ctx context.Context) (<-chan Advertisement, error)
}

// NullRadio is a BleRadio that reports ErrRadioUnavailable for every
// operation. It lets the Publisher and Scanner exercise the
// log-once-and-disable failure path (see RadioUnavailable in the error
// handling design) without a real host Bluetooth stack.
type NullRadio struct{}

// Advertise always fails with ErrRadioUnavailable.
func (r *NullRadio) Advertise(ctx context.Context, payload []byte) error {
	return ErrRadioUnavailable
}

// StopAdvertising is a no-op on a radio that was never advertising.
func (r *NullRadio) StopAdvertising() error {
	return nil
}

// Scan always fails with ErrRadioUnavailable.
func (r *NullRadio) Scan(ctx context.Context) (<-chan Advertisement, error) {
	return nil, ErrRadioUnavailable
}
