// Package identity generates and persists the local device's long-lived
// self-signed X.509 certificate and derives its identity hash, mirroring the
// load-or-generate PEM idiom the rest of this codebase uses for key
// material.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"goairdrop/model"
)

// ErrStoreUnavailable is returned when the certificate/key directory cannot
// be created or written to.
var ErrStoreUnavailable = errors.New("identity: certificate store unavailable")

// ErrCryptoError is returned when key generation or certificate signing
// fails.
var ErrCryptoError = errors.New("identity: crypto operation failed")

const rsaKeyBits = 2048

// Store persists a single active RSA identity certificate and private key
// as PEM files.
type Store struct {
	certPath string
	keyPath  string
}

// NewStore creates a Store rooted at the given certificate and key paths.
func NewStore(certPath, keyPath string) *Store {
	return &Store{certPath: certPath, keyPath: keyPath}
}

// EnsureCertificate loads the active certificate, generating a fresh one if
// absent, malformed, expired, or within renewalThresholdDays of expiry.
func (s *Store) EnsureCertificate(validityDays, renewalThresholdDays int) (tls.Certificate, model.CertificateInfo, error) {
	cert, info, err := s.loadCertificate()
	if err == nil {
		threshold := time.Duration(renewalThresholdDays) * 24 * time.Hour
		if !info.RenewalDue(time.Now(), threshold) {
			return cert, info, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, errMalformed) {
		return tls.Certificate{}, model.CertificateInfo{}, err
	}

	return s.generateAndPersist(validityDays)
}

// RenewCertificate unconditionally generates and persists a fresh
// certificate, replacing any existing one. Idempotent: repeated calls each
// produce a new cert/thumbprint, matching the contract that renewal is
// always safe to call again.
func (s *Store) RenewCertificate(validityDays int) (tls.Certificate, model.CertificateInfo, error) {
	return s.generateAndPersist(validityDays)
}

var errMalformed = errors.New("identity: malformed certificate or key on disk")

func (s *Store) loadCertificate() (tls.Certificate, model.CertificateInfo, error) {
	certPEM, err := os.ReadFile(s.certPath)
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, err
	}
	keyPEM, err := os.ReadFile(s.keyPath)
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	cert.Leaf = leaf

	return cert, certificateInfo(leaf), nil
}

func (s *Store) generateAndPersist(validityDays int) (tls.Certificate, model.CertificateInfo, error) {
	if err := os.MkdirAll(filepath.Dir(s.certPath), 0o700); err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o700); err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: generate RSA key: %v", ErrCryptoError, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 120))
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: generate serial: %v", ErrCryptoError, err)
	}

	machine := "host"
	if host, err := os.Hostname(); err == nil && host != "" {
		machine = host
	}

	notBefore := time.Now().Add(-5 * time.Minute)
	notAfter := notBefore.Add(time.Duration(validityDays) * 24 * time.Hour)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "AirDrop-" + machine},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		SignatureAlgorithm: x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: create certificate: %v", ErrCryptoError, err)
	}

	certBlock := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	keyBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}

	if err := os.WriteFile(s.certPath, pem.EncodeToMemory(certBlock), 0o644); err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: write certificate: %v", ErrStoreUnavailable, err)
	}
	if err := os.WriteFile(s.keyPath, pem.EncodeToMemory(keyBlock), 0o600); err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: write private key: %v", ErrStoreUnavailable, err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, model.CertificateInfo{}, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}

	return tlsCert, certificateInfo(leaf), nil
}

func certificateInfo(leaf *x509.Certificate) model.CertificateInfo {
	sum := sha256.Sum256(leaf.Raw)
	return model.CertificateInfo{
		Thumbprint: hex.EncodeToString(sum[:]),
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
	}
}
