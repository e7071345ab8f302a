// Package mdns implements the mDNS Responder component: publishing and
// browsing the `_airdrop._tcp` service, built directly on the
// Broadcaster/Scanner split this codebase already uses for LAN peer
// discovery, generalized to AirDrop's service name and TXT record keys.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_airdrop._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultRefreshInterval is the background peer discovery interval.
	DefaultRefreshInterval = 10 * time.Second
	// DefaultScanTimeout bounds each discovery scan.
	DefaultScanTimeout = 3 * time.Second
	// DefaultTTL is the intended mDNS record TTL in seconds.
	DefaultTTL = 120
	// DefaultPort is the default AirDrop HTTP/2 and mDNS SRV port.
	DefaultPort = 8771

	maxServiceNameLen = 63
	defaultDeviceName = "Windows-Device"
)

// RegisterFunc matches zeroconf.Register's signature so callers can inject a
// fake in tests.
type RegisterFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// BrowseFunc matches a zeroconf resolver's Browse signature so callers can
// inject a fake in tests.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

var wifiInterfaceName = regexp.MustCompile(`(?i)wi-?fi|wireless|wlan`)

// Config controls mDNS broadcaster and browser behavior.
type Config struct {
	Service         string
	Domain          string
	Version         int
	RefreshInterval time.Duration
	ScanTimeout     time.Duration
	TTL             uint32

	SelfPeerID     string
	DisplayName    string
	Port           int
	IdentityHash   string
	Transports     []string // e.g. "wifidirect", "wifi"
	Capabilities   []string // e.g. "send", "receive"
	DeviceType     string

	// RegisterFn and BrowseFn override the zeroconf calls used to
	// broadcast and browse; left nil in production, they default to the
	// real zeroconf library. Tests inject fakes here to avoid touching
	// the network.
	RegisterFn RegisterFunc
	BrowseFn   BrowseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultScanTimeout
	}
	if out.TTL == 0 {
		out.TTL = DefaultTTL
	}
	if out.Port <= 0 {
		out.Port = DefaultPort
	}
	if out.RegisterFn == nil {
		out.RegisterFn = zeroconf.Register
	}
	return out
}

func (c Config) validateForBroadcast() error {
	if strings.TrimSpace(c.SelfPeerID) == "" {
		return errors.New("self peer ID is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be > 0")
	}
	return nil
}

func (c Config) validateForScan() error {
	if strings.TrimSpace(c.SelfPeerID) == "" {
		return errors.New("self peer ID is required")
	}
	return nil
}

// SanitizeServiceName keeps letters, digits, '-', '_'; truncates to 63
// characters; defaults to "Windows-Device" when the result is empty.
func SanitizeServiceName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxServiceNameLen {
		out = out[:maxServiceNameLen]
	}
	if out == "" {
		return defaultDeviceName
	}
	return out
}

// selectPublishInterfaces prefers a Wi-Fi-named interface, else the first
// non-loopback up interface, else nil (wildcard, all interfaces).
func selectPublishInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var fallback *net.Interface
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if wifiInterfaceName.MatchString(iface.Name) {
			return []net.Interface{iface}
		}
		if fallback == nil {
			fallback = &iface
		}
	}
	if fallback != nil {
		return []net.Interface{*fallback}
	}
	return nil
}

// Broadcaster advertises the local AirDrop service instance via mDNS.
type Broadcaster struct {
	server *zeroconf.Server
}

// StartBroadcaster registers and starts mDNS broadcast.
func StartBroadcaster(config Config) (*Broadcaster, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForBroadcast(); err != nil {
		return nil, err
	}

	instance := SanitizeServiceName(cfg.DisplayName)
	txt := []string{
		"deviceType=" + cfg.DeviceType,
		"transport=" + strings.Join(cfg.Transports, ","),
		"capabilities=" + strings.Join(cfg.Capabilities, ","),
		"version=" + strconv.Itoa(cfg.Version),
		"id=" + identityHashID(cfg.IdentityHash),
	}

	server, err := cfg.RegisterFn(instance, cfg.Service, cfg.Domain, cfg.Port, txt, selectPublishInterfaces())
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	return &Broadcaster{server: server}, nil
}

// Stop stops mDNS broadcasting.
func (b *Broadcaster) Stop() {
	if b == nil || b.server == nil {
		return
	}
	b.server.Shutdown()
}

func identityHashID(hash string) string {
	if len(hash) > 32 {
		return hash[:32]
	}
	return hash
}

// Service coordinates mDNS broadcast and browsing.
type Service struct {
	Broadcaster *Broadcaster
	Browser     *Browser
}

// Start starts broadcaster and browser using one config. It always
// publishes when called; visibility gating is done by the Discovery
// Coordinator, which skips the broadcaster when visibility is Off.
func Start(config Config) (*Service, error) {
	cfg := config.withDefaults()

	broadcaster, err := StartBroadcaster(cfg)
	if err != nil {
		return nil, err
	}

	browser, err := NewBrowser(cfg)
	if err != nil {
		broadcaster.Stop()
		return nil, err
	}
	if err := browser.Start(); err != nil {
		broadcaster.Stop()
		return nil, err
	}

	return &Service{Broadcaster: broadcaster, Browser: browser}, nil
}

// Stop stops browser and broadcaster.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	if s.Browser != nil {
		s.Browser.Stop()
	}
	if s.Broadcaster != nil {
		s.Broadcaster.Stop()
	}
}
