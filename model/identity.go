package model

import "time"

// Visibility gates whether the local BLE publisher and mDNS responder run.
type Visibility string

const (
	VisibilityOff          Visibility = "off"
	VisibilityContactsOnly Visibility = "contacts_only"
	VisibilityEveryone     Visibility = "everyone"
)

// CertificateInfo describes the currently active identity certificate.
type CertificateInfo struct {
	Thumbprint string
	NotBefore  time.Time
	NotAfter   time.Time
}

// RenewalDue reports whether fewer than threshold remain before NotAfter.
func (c CertificateInfo) RenewalDue(now time.Time, threshold time.Duration) bool {
	return c.NotAfter.Sub(now) < threshold
}

// LocalIdentity is the persistent per-installation identity.
type LocalIdentity struct {
	DeviceID     string
	DisplayName  string
	Visibility   Visibility
	SaveDir      string
	Email        string
	Phone        string
	IdentityHash string

	Certificate CertificateInfo
}
