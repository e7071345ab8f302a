package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"goairdrop/airdropclient"
	"goairdrop/airdropserver"
	"goairdrop/ble"
	"goairdrop/config"
	"goairdrop/discovery"
	"goairdrop/history"
	"goairdrop/identity"
	"goairdrop/model"
	"goairdrop/registry"
	"goairdrop/tlsguard"
	"goairdrop/transfer"
	"goairdrop/transport"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	dataDir := filepath.Dir(cfgPath)

	certStore := identity.NewStore(cfg.CertificatePath, cfg.PrivateKeyPath)
	tlsCert, certInfo, err := certStore.EnsureCertificate(cfg.CertValidityDays, cfg.CertRenewalThresholdDays)
	if err != nil {
		log.Fatalf("startup failed while preparing identity certificate: %v", err)
	}

	identityHash := identity.ComputeIdentityHash(cfg.Email, cfg.Phone)

	fmt.Printf("Device ID:          %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:        %s\n", cfg.DisplayName)
	fmt.Printf("Visibility:         %s\n", cfg.Visibility)
	fmt.Printf("Listening Port:     %d\n", cfg.Port)
	fmt.Printf("Certificate Thumb:  %s\n", certInfo.Thumbprint)
	fmt.Printf("Certificate Expiry: %s\n", certInfo.NotAfter.Format(time.RFC3339))
	fmt.Printf("Config File:        %s\n", cfgPath)
	fmt.Printf("Data Directory:     %s\n", dataDir)

	historyStore, historyPath, err := history.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening transfer history: %v", err)
	}
	defer historyStore.Close()
	fmt.Printf("History Database:   %s\n", historyPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coordinator := discovery.New(discovery.Config{
		LocalPeerID:      cfg.DeviceID,
		DisplayName:      cfg.DisplayName,
		IdentityHash:     identityHash,
		Port:             cfg.Port,
		Visibility:       model.Visibility(cfg.Visibility),
		Transports:       []string{"wifidirect", "wifi"},
		Capabilities:     []string{"send", "receive"},
		DeviceType:       "Windows-PC",
		Radio:            &ble.NullRadio{},
		ExpirationWindow: time.Duration(cfg.PeerExpirationSeconds) * time.Second,
	})
	if err := coordinator.Start(ctx); err != nil {
		log.Printf("discovery startup failed: %v", err)
	} else {
		defer coordinator.Stop()
		fmt.Println("Discovery:          running")
		go logDiscoveryEvents(coordinator.PeerEvents())
	}

	transportManager := transport.NewManager(
		transport.NewWifiDirectProvider(transport.NullPeerLinkSource{}),
		transport.NewTCPProvider(cfg.Port),
	)
	defer transportManager.Stop()

	events := make(chan transfer.Event, 64)
	go logTransferEvents(events, historyStore)

	tlsOpts := tlsguard.Options{Certificate: tlsCert}

	server := airdropserver.New(airdropserver.Config{
		ComputerName:       cfg.DisplayName,
		ModelName:          "Windows-PC",
		SaveDir:            cfg.SaveDir,
		BufferSize:         cfg.BufferSize,
		PreserveTimestamps: cfg.PreserveTimestamps,
		AutoAccept:         cfg.AutoAccept,
		Approve:            consolePrompt,
		ApprovalTimeout:    time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second,
		Events:             events,
		TLS:                tlsOpts,
	})

	links, err := transportManager.Listen(ctx)
	if err != nil {
		log.Fatalf("startup failed while starting transport listeners: %v", err)
	}
	go server.Serve(ctx, links)
	fmt.Println("AirDrop Server:     running")

	_ = airdropclient.New(airdropclient.Config{
		ComputerName: cfg.DisplayName,
		ModelName:    "Windows-PC",
		SenderID:     cfg.DeviceID,
		TLS:          tlsOpts,
	}, transportManager)

	fmt.Println("Status:             running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:             shutting down")
}

func logDiscoveryEvents(events <-chan registry.Event) {
	for event := range events {
		switch event.Type {
		case registry.EventAdded, registry.EventUpdated:
			log.Printf("discovery: peer available id=%s name=%q", event.Peer.PeerID, event.Peer.DisplayName)
		case registry.EventRemoved:
			log.Printf("discovery: peer removed id=%s", event.Peer.PeerID)
		default:
			log.Printf("discovery: event=%s id=%s", event.Type, event.Peer.PeerID)
		}
	}
}

func logTransferEvents(events <-chan transfer.Event, store *history.Store) {
	for event := range events {
		record := event.Record
		log.Printf("transfer: id=%s direction=%s state=%s bytes=%d/%d",
			record.TransferID, record.Direction, record.State, record.BytesDone, record.TotalBytes)

		if record.State.Terminal() {
			if err := store.RecordTerminal(record); err != nil {
				log.Printf("transfer history: %v", err)
			}
		}
	}
}

// consolePrompt is the default approval callback when no richer UI surface
// is wired in: it prints the incoming request and blocks on a y/n line from
// stdin, honoring the caller's timeout.
func consolePrompt(ctx context.Context, record model.TransferRecord) (transfer.Decision, error) {
	fmt.Printf("\nIncoming transfer from %s: %d file(s), %d bytes total. Accept? [y/N] ",
		record.Peer.DisplayName, len(record.Files), record.TotalBytes)

	answers := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answers <- strings.TrimSpace(strings.ToLower(line))
	}()

	select {
	case answer := <-answers:
		if answer == "y" || answer == "yes" {
			return transfer.Decision{Approve: true}, nil
		}
		return transfer.Decision{Approve: false, Reason: "declined by user"}, nil
	case <-ctx.Done():
		return transfer.Decision{}, ctx.Err()
	}
}
