// Package tlsguard wraps a byte stream with mutual TLS 1.2+. Peer
// authentication assurance comes from out-of-band user consent at the
// /Ask dialog and identity-hash matching, not from a public PKI: both
// server and client sides accept self-signed peer certificates, and
// client-side verification only rejects a peer certificate that fails to
// decode or has already expired.
package tlsguard

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// ErrHandshakeFailed is returned when a peer certificate is malformed or
// already expired. Chain-of-trust failures are explicitly tolerated and do
// not produce this error.
var ErrHandshakeFailed = errors.New("tlsguard: handshake failed")

// Options configures both the server and client TLS configs built by this
// package.
type Options struct {
	// Certificate is the local identity certificate and private key,
	// presented to the peer on both sides of the connection.
	Certificate tls.Certificate
	// Now is injected for deterministic expiry tests; nil defaults to
	// time.Now.
	Now func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// ServerConfig returns a *tls.Config for the AirDrop Server's listener: it
// presents the local certificate and requires a client certificate, but
// accepts any client certificate that decodes and has not expired,
// self-signed or not.
func (o Options) ServerConfig() *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{o.Certificate},
		ClientAuth:            tls.RequireAnyClientCert,
		MinVersion:            tls.VersionTLS12,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: acceptDecodableUnexpired(o.now),
		NextProtos:            []string{"h2"},
	}
}

// ClientConfig returns a *tls.Config for the AirDrop Client's dial: it
// presents the local certificate and rejects the server's certificate only
// if it fails to decode or has already expired.
func (o Options) ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{o.Certificate},
		ServerName:            serverName,
		MinVersion:            tls.VersionTLS12,
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: acceptDecodableUnexpired(o.now),
		NextProtos:            []string{"h2"},
	}
}

// acceptDecodableUnexpired builds a VerifyPeerCertificate callback that
// tolerates self-signed and otherwise untrusted chains, failing only on a
// certificate that does not parse or has already expired.
func acceptDecodableUnexpired(now func() time.Time) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: no peer certificate presented", ErrHandshakeFailed)
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("%w: malformed peer certificate: %v", ErrHandshakeFailed, err)
		}
		if now().After(leaf.NotAfter) {
			return fmt.Errorf("%w: peer certificate expired at %s", ErrHandshakeFailed, leaf.NotAfter)
		}
		return nil
	}
}

// PeerThumbprint returns the SHA-256 thumbprint of the leaf certificate the
// remote end presented during a completed handshake, used by the AirDrop
// Server to correlate /Ask and /Upload from the same peer (see the
// unexported correlator type in airdropserver).
func PeerThumbprint(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", fmt.Errorf("%w: no peer certificate on connection", ErrHandshakeFailed)
	}
	return thumbprint(state.PeerCertificates[0].Raw), nil
}
