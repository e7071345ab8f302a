package tlsguard

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T, notBefore, notAfter time.Time) tls.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "AirDrop-test"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
}

func TestServerConfigAcceptsSelfSigned(t *testing.T) {
	now := time.Now()
	cert := selfSignedCert(t, now.Add(-time.Hour), now.Add(365*24*time.Hour))
	opts := Options{Certificate: cert}

	cfg := opts.ServerConfig()
	if err := cfg.VerifyPeerCertificate([][]byte{cert.Certificate[0]}, nil); err != nil {
		t.Fatalf("expected self-signed cert to be accepted, got: %v", err)
	}
}

func TestClientConfigRejectsExpiredPeer(t *testing.T) {
	now := time.Now()
	local := selfSignedCert(t, now.Add(-time.Hour), now.Add(365*24*time.Hour))
	expiredPeer := selfSignedCert(t, now.Add(-48*time.Hour), now.Add(-time.Hour))

	opts := Options{Certificate: local}
	cfg := opts.ClientConfig("peer.local")

	err := cfg.VerifyPeerCertificate([][]byte{expiredPeer.Certificate[0]}, nil)
	if err == nil {
		t.Fatal("expected expired peer certificate to be rejected")
	}
}

func TestClientConfigAcceptsUnexpiredSelfSigned(t *testing.T) {
	now := time.Now()
	local := selfSignedCert(t, now.Add(-time.Hour), now.Add(365*24*time.Hour))
	peer := selfSignedCert(t, now.Add(-time.Hour), now.Add(30*24*time.Hour))

	opts := Options{Certificate: local}
	cfg := opts.ClientConfig("peer.local")

	if err := cfg.VerifyPeerCertificate([][]byte{peer.Certificate[0]}, nil); err != nil {
		t.Fatalf("expected unexpired self-signed peer to be accepted, got: %v", err)
	}
}

func TestVerifyPeerCertificateRejectsMalformed(t *testing.T) {
	now := time.Now()
	local := selfSignedCert(t, now.Add(-time.Hour), now.Add(365*24*time.Hour))
	opts := Options{Certificate: local}
	cfg := opts.ServerConfig()

	if err := cfg.VerifyPeerCertificate([][]byte{[]byte("not a certificate")}, nil); err == nil {
		t.Fatal("expected malformed certificate to be rejected")
	}
}

func TestPeerThumbprintMatchesIdentityThumbprint(t *testing.T) {
	now := time.Now()
	cert := selfSignedCert(t, now.Add(-time.Hour), now.Add(365*24*time.Hour))

	state := tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert.Leaf}}
	got, err := PeerThumbprint(state)
	if err != nil {
		t.Fatalf("PeerThumbprint: %v", err)
	}
	want := thumbprint(cert.Leaf.Raw)
	if got != want {
		t.Fatalf("thumbprint mismatch: got %s want %s", got, want)
	}
}
