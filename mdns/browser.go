package mdns

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// EventType identifies mDNS browse updates.
type EventType string

const (
	// EventInstanceUpserted is emitted when an instance appears or its
	// record changes.
	EventInstanceUpserted EventType = "instance_upserted"
	// EventInstanceRemoved is emitted when a previously seen instance
	// disappears (TTL 0 goodbye, or it drops out of a scan window).
	EventInstanceRemoved EventType = "instance_removed"
)

// Event carries a browse update.
type Event struct {
	Type     EventType
	Instance DiscoveredInstance
}

// DiscoveredInstance is one `_airdrop._tcp` service instance, fully
// resolved: SRV (host/port), A/AAAA (addresses), and TXT (metadata).
type DiscoveredInstance struct {
	InstanceName string
	HostName     string
	Port         int
	Addresses    []string

	DeviceType   string
	Transports   []string
	Capabilities []string
	Version      int
	IdentityID   string

	LastSeen time.Time
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// Browser discovers `_airdrop._tcp` instances with periodic and manual mDNS
// browse operations.
type Browser struct {
	cfg Config

	browse BrowseFunc

	mu        sync.RWMutex
	instances map[string]DiscoveredInstance

	events chan Event

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewBrowser creates a Browser with config defaults applied.
func NewBrowser(config Config) (*Browser, error) {
	cfg := config.withDefaults()
	if err := cfg.validateForScan(); err != nil {
		return nil, err
	}

	browse := cfg.BrowseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		browse = resolver.Browse
	}

	return &Browser{
		cfg:             cfg,
		browse:          browse,
		instances:       make(map[string]DiscoveredInstance),
		events:          make(chan Event, 128),
		refreshRequests: make(chan refreshRequest),
	}, nil
}

// Start begins background browsing.
func (b *Browser) Start() error {
	b.startOnce.Do(func() {
		b.ctx, b.cancel = context.WithCancel(context.Background())
		b.wg.Add(1)
		go b.loop()
	})
	return nil
}

// Stop stops background browsing.
func (b *Browser) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		close(b.events)
	})
}

// Events provides asynchronous browse updates.
func (b *Browser) Events() <-chan Event {
	return b.events
}

// Refresh triggers an immediate scan, blocking until it completes.
func (b *Browser) Refresh(ctx context.Context) error {
	if b.ctx == nil {
		return errors.New("mdns browser is not started")
	}

	req := refreshRequest{ctx: ctx, done: make(chan error, 1)}

	select {
	case b.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return errors.New("mdns browser is stopped")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return errors.New("mdns browser is stopped")
	}
}

// Rescan restarts discovery with a short gap to force peers to re-announce,
// mirroring the coordinator's forced-rescan contract.
func (b *Browser) Rescan(ctx context.Context, gap time.Duration) error {
	select {
	case <-time.After(gap):
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Refresh(ctx)
}

// ListInstances returns the current in-memory snapshot.
func (b *Browser) ListInstances() []DiscoveredInstance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]DiscoveredInstance, 0, len(b.instances))
	for _, inst := range b.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InstanceName < out[j].InstanceName
	})
	return out
}

func (b *Browser) loop() {
	defer b.wg.Done()

	b.runScan(context.Background())

	ticker := time.NewTicker(b.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.runScan(context.Background())
		case req := <-b.refreshRequests:
			req.done <- b.runScan(req.ctx)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Browser) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithTimeout(b.ctx, b.cfg.ScanTimeout)
	defer cancel()

	if requestCtx != nil {
		go func() {
			select {
			case <-requestCtx.Done():
				cancel()
			case <-scanCtx.Done():
			}
		}()
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collected := make(map[string]DiscoveredInstance)
	var collectedMu sync.Mutex
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				inst, ok := parseEntry(entry, b.cfg.SelfPeerID)
				if !ok {
					continue
				}
				inst.LastSeen = time.Now()
				collectedMu.Lock()
				collected[inst.InstanceName] = inst
				collectedMu.Unlock()
			}
		}
	}()

	browseErr := b.browse(scanCtx, b.cfg.Service, b.cfg.Domain, entries)
	if browseErr != nil {
		return browseErr
	}

	<-scanCtx.Done()
	<-collectorDone
	collectedMu.Lock()
	next := collected
	collectedMu.Unlock()

	b.applySnapshot(next)

	if err := scanCtx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Browser) applySnapshot(next map[string]DiscoveredInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	previous := b.instances
	b.instances = next

	for id, inst := range next {
		old, exists := previous[id]
		if !exists || !instancesEqual(old, inst) {
			b.emitEvent(Event{Type: EventInstanceUpserted, Instance: inst})
		}
	}

	for id, inst := range previous {
		if _, exists := next[id]; !exists {
			b.emitEvent(Event{Type: EventInstanceRemoved, Instance: inst})
		}
	}
}

func (b *Browser) emitEvent(event Event) {
	select {
	case b.events <- event:
	default:
	}
}

func parseEntry(entry *zeroconf.ServiceEntry, selfPeerID string) (DiscoveredInstance, bool) {
	txt := txtToMap(entry.Text)

	identityID := strings.TrimSpace(txt["id"])
	instanceName := strings.TrimSpace(entry.Instance)
	if instanceName == "" || instanceName == selfPeerID {
		return DiscoveredInstance{}, false
	}

	version := 0
	if txt["version"] != "" {
		if parsed, err := strconv.Atoi(txt["version"]); err == nil {
			version = parsed
		}
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if raw == "" {
			continue
		}
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	sort.Strings(addresses)

	return DiscoveredInstance{
		InstanceName: instanceName,
		HostName:     entry.HostName,
		Port:         entry.Port,
		Addresses:    addresses,
		DeviceType:   strings.TrimSpace(txt["deviceType"]),
		Transports:   splitNonEmpty(txt["transport"]),
		Capabilities: splitNonEmpty(txt["capabilities"]),
		Version:      version,
		IdentityID:   identityID,
	}, true
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}

func instancesEqual(a, b DiscoveredInstance) bool {
	if a.InstanceName != b.InstanceName ||
		a.HostName != b.HostName ||
		a.Port != b.Port ||
		a.DeviceType != b.DeviceType ||
		a.Version != b.Version ||
		a.IdentityID != b.IdentityID ||
		len(a.Addresses) != len(b.Addresses) ||
		len(a.Transports) != len(b.Transports) ||
		len(a.Capabilities) != len(b.Capabilities) {
		return false
	}
	for i := range a.Addresses {
		if a.Addresses[i] != b.Addresses[i] {
			return false
		}
	}
	for i := range a.Transports {
		if a.Transports[i] != b.Transports[i] {
			return false
		}
	}
	for i := range a.Capabilities {
		if a.Capabilities[i] != b.Capabilities[i] {
			return false
		}
	}
	return true
}
