// Package config manages persistent, on-disk settings for the local AirDrop
// device: identity, visibility, and the timeout/buffer knobs the rest of the
// core reads at startup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "goairdrop"
	// DefaultPort is the HTTP/2 listen port and mDNS SRV port.
	DefaultPort = 8771
	// DefaultConnectTimeoutSeconds bounds transport connect attempts.
	DefaultConnectTimeoutSeconds = 30
	// DefaultApprovalTimeoutSeconds bounds the /Ask approval wait.
	DefaultApprovalTimeoutSeconds = 60
	// DefaultTransferTimeoutMinutes bounds a whole /Upload request.
	DefaultTransferTimeoutMinutes = 30
	// DefaultPeerExpirationSeconds is the registry sweep window.
	DefaultPeerExpirationSeconds = 60
	// DefaultBufferSize is the /Upload chunk size in bytes (80 KiB).
	DefaultBufferSize = 81920
	// DefaultCertValidityDays is the self-signed certificate lifetime.
	DefaultCertValidityDays = 365
	// DefaultCertRenewalThresholdDays triggers renewal this many days early.
	DefaultCertRenewalThresholdDays = 30
	// DefaultMaxConcurrentTransfers caps simultaneous in-flight transfers.
	DefaultMaxConcurrentTransfers = 3

	configFileName = "config.json"
)

// Visibility values accepted in the persisted config.
const (
	VisibilityOff          = "off"
	VisibilityContactsOnly = "contacts_only"
	VisibilityEveryone     = "everyone"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	SaveDir     string `json:"save_dir"`

	Visibility string `json:"visibility"`
	AutoAccept bool   `json:"auto_accept"`
	Port       int    `json:"port"`

	ConnectTimeoutSeconds     int  `json:"connect_timeout_s"`
	ApprovalTimeoutSeconds    int  `json:"approval_timeout_s"`
	TransferTimeoutMinutes    int  `json:"transfer_timeout_min"`
	PeerExpirationSeconds     int  `json:"peer_expiration_s"`
	BufferSize                int  `json:"buffer_size"`
	PreserveTimestamps        bool `json:"preserve_timestamps"`
	CertValidityDays          int  `json:"cert_validity_days"`
	CertRenewalThresholdDays  int  `json:"cert_renewal_threshold_days"`
	MaxConcurrentTransfers    int  `json:"max_concurrent_transfers"`

	CertificatePath string `json:"certificate_path"`
	PrivateKeyPath  string `json:"private_key_path"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If GOAIRDROP_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("GOAIRDROP_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
		filepath.Join(dataDir, "received"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *DeviceConfig {
	displayName := "Windows-Device"
	if host, err := os.Hostname(); err == nil && host != "" {
		displayName = host
	}

	keysDir := filepath.Join(dataDir, "keys")
	return &DeviceConfig{
		DeviceID:                 uuid.NewString(),
		DisplayName:              displayName,
		SaveDir:                  filepath.Join(dataDir, "received"),
		Visibility:               VisibilityEveryone,
		AutoAccept:               false,
		Port:                     DefaultPort,
		ConnectTimeoutSeconds:    DefaultConnectTimeoutSeconds,
		ApprovalTimeoutSeconds:   DefaultApprovalTimeoutSeconds,
		TransferTimeoutMinutes:   DefaultTransferTimeoutMinutes,
		PeerExpirationSeconds:    DefaultPeerExpirationSeconds,
		BufferSize:               DefaultBufferSize,
		PreserveTimestamps:       true,
		CertValidityDays:         DefaultCertValidityDays,
		CertRenewalThresholdDays: DefaultCertRenewalThresholdDays,
		MaxConcurrentTransfers:   DefaultMaxConcurrentTransfers,
		CertificatePath:          filepath.Join(keysDir, "identity_cert.pem"),
		PrivateKeyPath:           filepath.Join(keysDir, "identity_key.pem"),
	}
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false
	keysDir := filepath.Join(dataDir, "keys")

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}
	if cfg.DisplayName == "" {
		displayName := "Windows-Device"
		if host, err := os.Hostname(); err == nil && host != "" {
			displayName = host
		}
		cfg.DisplayName = displayName
		updated = true
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = filepath.Join(dataDir, "received")
		updated = true
	}
	if !isValidVisibility(cfg.Visibility) {
		cfg.Visibility = VisibilityEveryone
		updated = true
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
		updated = true
	}
	if cfg.ConnectTimeoutSeconds <= 0 {
		cfg.ConnectTimeoutSeconds = DefaultConnectTimeoutSeconds
		updated = true
	}
	if cfg.ApprovalTimeoutSeconds <= 0 {
		cfg.ApprovalTimeoutSeconds = DefaultApprovalTimeoutSeconds
		updated = true
	}
	if cfg.TransferTimeoutMinutes <= 0 {
		cfg.TransferTimeoutMinutes = DefaultTransferTimeoutMinutes
		updated = true
	}
	if cfg.PeerExpirationSeconds <= 0 {
		cfg.PeerExpirationSeconds = DefaultPeerExpirationSeconds
		updated = true
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
		updated = true
	}
	if cfg.CertValidityDays <= 0 {
		cfg.CertValidityDays = DefaultCertValidityDays
		updated = true
	}
	if cfg.CertRenewalThresholdDays <= 0 {
		cfg.CertRenewalThresholdDays = DefaultCertRenewalThresholdDays
		updated = true
	}
	if cfg.MaxConcurrentTransfers <= 0 {
		cfg.MaxConcurrentTransfers = DefaultMaxConcurrentTransfers
		updated = true
	}
	if cfg.CertificatePath == "" {
		cfg.CertificatePath = filepath.Join(keysDir, "identity_cert.pem")
		updated = true
	}
	if cfg.PrivateKeyPath == "" {
		cfg.PrivateKeyPath = filepath.Join(keysDir, "identity_key.pem")
		updated = true
	}

	return updated
}

func isValidVisibility(v string) bool {
	switch v {
	case VisibilityOff, VisibilityContactsOnly, VisibilityEveryone:
		return true
	default:
		return false
	}
}
