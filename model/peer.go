// Package model holds the data types shared across the discovery, transport,
// and transfer packages: peer records, local identity, file descriptors, and
// transfer records.
package model

import "time"

// DeviceClass is a coarse classification of a remote peer's platform.
type DeviceClass string

const (
	DeviceClassIPhone     DeviceClass = "iPhone"
	DeviceClassIPad       DeviceClass = "iPad"
	DeviceClassMac        DeviceClass = "Mac"
	DeviceClassWindowsPC  DeviceClass = "Windows-PC"
	DeviceClassUnknown    DeviceClass = "Unknown"
)

// PeerRecord is the Device Registry's unified view of a remote device,
// merged from BLE and mDNS sightings.
type PeerRecord struct {
	PeerID      string
	DisplayName string
	DeviceClass DeviceClass

	IP       string
	Port     int
	Metadata map[string]string

	FirstSeen time.Time
	LastSeen  time.Time
}

// Available reports whether the record was seen within window of now.
func (p PeerRecord) Available(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastSeen) <= window
}

// Clone returns a deep copy safe to hand to a consumer outside the registry's
// lock.
func (p PeerRecord) Clone() PeerRecord {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
