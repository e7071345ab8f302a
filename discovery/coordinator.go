// Package discovery implements the Discovery Coordinator: a lifecycle
// façade over the BLE Beacon, mDNS Responder, and Device Registry that
// emits found/updated/lost peer events.
package discovery

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"goairdrop/ble"
	"goairdrop/mdns"
	"goairdrop/model"
	"goairdrop/registry"
)

// RescanGap is the pause the coordinator waits before re-querying mDNS on a
// forced Rescan, to give peers a chance to re-announce.
const RescanGap = 500 * time.Millisecond

// Config configures a Coordinator.
type Config struct {
	LocalPeerID    string
	DisplayName    string
	IdentityHash   string
	Port           int
	Visibility     model.Visibility
	Transports     []string
	Capabilities   []string
	DeviceType     string

	Radio ble.BleRadio

	ExpirationWindow time.Duration
	SweepInterval    time.Duration

	// MDNSRegisterFn and MDNSBrowseFn override the underlying zeroconf
	// calls; left nil in production. Tests inject fakes here to avoid
	// touching the network.
	MDNSRegisterFn mdns.RegisterFunc
	MDNSBrowseFn   mdns.BrowseFunc
}

func (c Config) mdnsConfig() mdns.Config {
	return mdns.Config{
		SelfPeerID:   c.LocalPeerID,
		DisplayName:  c.DisplayName,
		Port:         c.Port,
		IdentityHash: c.IdentityHash,
		Transports:   c.Transports,
		Capabilities: c.Capabilities,
		DeviceType:   c.DeviceType,
		RegisterFn:   c.MDNSRegisterFn,
		BrowseFn:     c.MDNSBrowseFn,
	}
}

// Coordinator composes the BLE and mDNS discovery sub-services with the
// Device Registry.
type Coordinator struct {
	cfg Config

	registry *registry.Registry

	blePublisher *ble.Publisher
	bleScanner   *ble.Scanner
	mdnsService  *mdns.Service

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Coordinator; call Start to bring up its sub-services.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		registry: registry.New(cfg.ExpirationWindow, cfg.SweepInterval),
	}
}

// PeerEvents exposes the registry's added/updated/removed stream to
// consumers (the UI surface, in the full application).
func (c *Coordinator) PeerEvents() <-chan registry.Event {
	return c.registry.Events()
}

// Snapshot returns the currently available peers.
func (c *Coordinator) Snapshot() []model.PeerRecord {
	return c.registry.Snapshot()
}

// Start brings up the scanner and browser unconditionally, and the
// publisher and responder only when visibility != Off. Sub-services are
// started concurrently; the first start error is returned.
func (c *Coordinator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.registry.Start(runCtx)

	group, _ := errgroup.WithContext(runCtx)

	c.bleScanner = ble.NewScanner(c.cfg.Radio)
	group.Go(func() error { return c.bleScanner.Start(runCtx) })

	browser, err := mdns.NewBrowser(c.cfg.mdnsConfig())
	if err != nil {
		cancel()
		return err
	}
	group.Go(func() error { return browser.Start() })

	if c.cfg.Visibility != model.VisibilityOff {
		c.blePublisher = ble.NewPublisher(c.cfg.Radio, c.cfg.IdentityHash)
		group.Go(func() error { return c.blePublisher.Start(runCtx) })

		group.Go(func() error {
			broadcaster, err := mdns.StartBroadcaster(c.cfg.mdnsConfig())
			if err != nil {
				return err
			}
			c.mu.Lock()
			if c.mdnsService == nil {
				c.mdnsService = &mdns.Service{}
			}
			c.mdnsService.Broadcaster = broadcaster
			c.mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		cancel()
		return err
	}

	c.mu.Lock()
	if c.mdnsService == nil {
		c.mdnsService = &mdns.Service{}
	}
	c.mdnsService.Browser = browser
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consumeBLESightings(runCtx)
	c.wg.Add(1)
	go c.consumeMDNSEvents(browser)

	return nil
}

// Stop tears down in reverse order: publisher/responder, scanner/browser,
// then the registry sweeper.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}

	if c.blePublisher != nil {
		c.blePublisher.Stop()
	}
	c.mu.Lock()
	svc := c.mdnsService
	c.mu.Unlock()
	if svc != nil {
		svc.Stop()
	}
	if c.bleScanner != nil {
		c.bleScanner.Stop()
	}

	c.wg.Wait()
	c.registry.Stop()
}

// Rescan restarts mDNS browsing with a short gap to force peers to
// re-announce.
func (c *Coordinator) Rescan(ctx context.Context) error {
	c.mu.Lock()
	svc := c.mdnsService
	c.mu.Unlock()
	if svc == nil || svc.Browser == nil {
		return nil
	}
	return svc.Browser.Rescan(ctx, RescanGap)
}

// consumeBLESightings forwards classified BLE frames into the registry and
// logs the Scanner's own 10s out-of-range transitions. An out-of-range peer
// is not force-removed here: the registry's 60s sweep is the sole authority
// over removal, so a peer still reachable via mDNS after its BLE beacon
// goes quiet is left alone (spec.md §4.4's merge invariant).
func (c *Coordinator) consumeBLESightings(ctx context.Context) {
	defer c.wg.Done()

	sightings := c.bleScanner.Sightings()
	outOfRange := c.bleScanner.OutOfRange()
	for {
		select {
		case <-ctx.Done():
			return
		case sighting, ok := <-sightings:
			if !ok {
				return
			}
			c.registry.AddOrUpdate(sightingToPeerRecord(sighting))
		case peerID, ok := <-outOfRange:
			if !ok {
				return
			}
			log.Printf("discovery: peer %s out of BLE range", peerID)
		}
	}
}

func (c *Coordinator) consumeMDNSEvents(browser *mdns.Browser) {
	defer c.wg.Done()
	for event := range browser.Events() {
		switch event.Type {
		case mdns.EventInstanceUpserted:
			c.registry.AddOrUpdate(instanceToPeerRecord(event.Instance))
		case mdns.EventInstanceRemoved:
			// The registry's own sweeper, not an immediate forced
			// removal, governs visibility; an mDNS goodbye simply stops
			// refreshing last_seen and the sweeper will expire it.
		}
	}
}

// sightingToPeerRecord maps a BLE sighting onto a registry update. BLE alone
// carries no device class, so it always reports Unknown and lets a later
// mDNS upsert for the same peer_id refine it.
func sightingToPeerRecord(sighting ble.Sighting) model.PeerRecord {
	return model.PeerRecord{
		PeerID:      sighting.PeerID,
		DisplayName: sighting.DisplayName,
		DeviceClass: model.DeviceClassUnknown,
		Metadata: map[string]string{
			"rssi": strconv.Itoa(sighting.RSSI),
		},
	}
}

// instanceToPeerRecord maps a resolved mDNS instance onto a registry update.
func instanceToPeerRecord(inst mdns.DiscoveredInstance) model.PeerRecord {
	ip := ""
	if len(inst.Addresses) > 0 {
		ip = inst.Addresses[0]
	}
	return model.PeerRecord{
		PeerID:      inst.InstanceName,
		DisplayName: inst.InstanceName,
		DeviceClass: deviceClassFromType(inst.DeviceType),
		IP:          ip,
		Port:        inst.Port,
		Metadata: map[string]string{
			"transport":    joinCSV(inst.Transports),
			"capabilities": joinCSV(inst.Capabilities),
			"version":      strconv.Itoa(inst.Version),
			"identityID":   inst.IdentityID,
		},
	}
}

func deviceClassFromType(deviceType string) model.DeviceClass {
	switch deviceType {
	case "iPhone":
		return model.DeviceClassIPhone
	case "iPad":
		return model.DeviceClassIPad
	case "Mac":
		return model.DeviceClassMac
	case "Windows-PC":
		return model.DeviceClassWindowsPC
	default:
		return model.DeviceClassUnknown
	}
}

func joinCSV(values []string) string {
	return strings.Join(values, ",")
}

