package mdns

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestConfigWithDefaultsFillsZeroFields(t *testing.T) {
	got := Config{}.withDefaults()
	if got.Service != DefaultService {
		t.Errorf("Service = %q, want %q", got.Service, DefaultService)
	}
	if got.Domain != DefaultDomain {
		t.Errorf("Domain = %q, want %q", got.Domain, DefaultDomain)
	}
	if got.Version != DefaultVersion {
		t.Errorf("Version = %d, want %d", got.Version, DefaultVersion)
	}
	if got.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("RefreshInterval = %v, want %v", got.RefreshInterval, DefaultRefreshInterval)
	}
	if got.ScanTimeout != DefaultScanTimeout {
		t.Errorf("ScanTimeout = %v, want %v", got.ScanTimeout, DefaultScanTimeout)
	}
	if got.TTL != DefaultTTL {
		t.Errorf("TTL = %d, want %d", got.TTL, DefaultTTL)
	}
	if got.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", got.Port, DefaultPort)
	}
	if got.RegisterFn == nil {
		t.Error("RegisterFn should default to zeroconf.Register")
	}
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Service:         "_custom._tcp",
		Domain:          "custom.",
		Version:         2,
		RefreshInterval: 5 * time.Second,
		ScanTimeout:     time.Second,
		TTL:             60,
		Port:            9000,
	}
	got := cfg.withDefaults()
	if got.Service != "_custom._tcp" || got.Domain != "custom." || got.Version != 2 ||
		got.RefreshInterval != 5*time.Second || got.ScanTimeout != time.Second ||
		got.TTL != 60 || got.Port != 9000 {
		t.Fatalf("withDefaults overwrote explicit values: %+v", got)
	}
}

func TestValidateForBroadcastRequiresSelfPeerIDAndPort(t *testing.T) {
	if err := (Config{Port: 8771}).validateForBroadcast(); err == nil {
		t.Error("expected error for missing SelfPeerID")
	}
	if err := (Config{SelfPeerID: "me", Port: 0}).validateForBroadcast(); err == nil {
		t.Error("expected error for non-positive port")
	}
	if err := (Config{SelfPeerID: "me", Port: 8771}).validateForBroadcast(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateForScanRequiresSelfPeerID(t *testing.T) {
	if err := (Config{}).validateForScan(); err == nil {
		t.Error("expected error for missing SelfPeerID")
	}
	if err := (Config{SelfPeerID: "me"}).validateForScan(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIdentityHashIDTruncatesTo32Chars(t *testing.T) {
	short := "abcd"
	if got := identityHashID(short); got != short {
		t.Errorf("identityHashID(%q) = %q, want unchanged", short, got)
	}

	long := strings.Repeat("f", 64)
	got := identityHashID(long)
	if len(got) != 32 {
		t.Fatalf("identityHashID len = %d, want 32", len(got))
	}
	if got != long[:32] {
		t.Errorf("identityHashID = %q, want prefix %q", got, long[:32])
	}
}

func TestStartBroadcasterRegistersWithSanitizedInstanceAndTXTRecords(t *testing.T) {
	var gotInstance, gotService, gotDomain string
	var gotPort int
	var gotText []string

	cfg := Config{
		SelfPeerID:   "self-id",
		DisplayName:  "Bob's PC!!",
		Port:         8771,
		IdentityHash: strings.Repeat("a", 64),
		Transports:   []string{"wifidirect", "wifi"},
		Capabilities: []string{"send", "receive"},
		DeviceType:   "Windows-PC",
		RegisterFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance, gotService, gotDomain, gotPort, gotText = instance, service, domain, port, text
			return nil, nil
		},
	}

	b, err := StartBroadcaster(cfg)
	if err != nil {
		t.Fatalf("StartBroadcaster failed: %v", err)
	}
	defer b.Stop()

	if gotInstance != "BobsPC" {
		t.Errorf("instance = %q, want %q", gotInstance, "BobsPC")
	}
	if gotService != DefaultService || gotDomain != DefaultDomain || gotPort != 8771 {
		t.Errorf("unexpected register args: service=%q domain=%q port=%d", gotService, gotDomain, gotPort)
	}

	want := map[string]string{
		"deviceType":   "Windows-PC",
		"transport":    "wifidirect,wifi",
		"capabilities": "send,receive",
		"version":      "1",
		"id":           strings.Repeat("a", 32),
	}
	for _, kv := range gotText {
		parts := strings.SplitN(kv, "=", 2)
		key, val := parts[0], parts[1]
		if want[key] != val {
			t.Errorf("TXT %s = %q, want %q", key, val, want[key])
		}
	}
}

func TestStartBroadcasterRejectsMissingSelfPeerID(t *testing.T) {
	_, err := StartBroadcaster(Config{Port: 8771})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStartBroadcasterWrapsRegisterError(t *testing.T) {
	cfg := Config{
		SelfPeerID: "self-id",
		Port:       8771,
		RegisterFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, errTestRegister
		},
	}
	_, err := StartBroadcaster(cfg)
	if err == nil {
		t.Fatal("expected error from RegisterFn")
	}
}

var errTestRegister = errWrap("register failed")

type errWrap string

func (e errWrap) Error() string { return string(e) }

func TestServiceStartAndStop(t *testing.T) {
	cfg := Config{
		SelfPeerID: "self-id",
		Port:       8771,
		RegisterFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, nil
		},
		BrowseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			<-ctx.Done()
			return nil
		},
	}

	svc, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.Broadcaster == nil || svc.Browser == nil {
		t.Fatal("expected both broadcaster and browser to be started")
	}
	svc.Stop()
}

func TestBroadcasterStopIsNilSafe(t *testing.T) {
	var b *Broadcaster
	b.Stop()

	b = &Broadcaster{}
	b.Stop()
}

func TestServiceStopIsNilSafe(t *testing.T) {
	var s *Service
	s.Stop()
}
