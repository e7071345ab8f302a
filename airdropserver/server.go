// Package airdropserver implements the AirDrop Server: an HTTP/2 endpoint
// router for /Discover, /Ask, and /Upload, layered over golang.org/x/net/http2
// for h2-over-TLS the way the teacher layers its own framed protocol over a
// raw net.Conn, and routed with gorilla/mux the way
// VetheonGames-FileZap/Validator-Server routes its JSON POST endpoints.
package airdropserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/http2"

	"goairdrop/tlsguard"
	"goairdrop/transfer"
	"goairdrop/transport"
)

// ErrProtocolViolation names the error class for non-conforming JSON, bad
// multipart bodies, or an /Upload with no preceding approved /Ask. The
// handlers answer those cases with a 400 or 409 status directly; no function
// in this package returns this value.
var ErrProtocolViolation = errors.New("airdropserver: protocol violation")

// Config configures a Server.
type Config struct {
	// ComputerName and ModelName identify the local host in /Discover and
	// /Ask responses.
	ComputerName string
	ModelName    string

	// SaveDir is the destination directory for /Upload. Created on first
	// write if absent.
	SaveDir string

	// BufferSize is the /Upload chunk size; defaults to 80 KiB.
	BufferSize int
	// PreserveTimestamps applies an uploaded file's sibling "_timestamp"
	// part as its on-disk modification time.
	PreserveTimestamps bool

	// AutoAccept bypasses the approval callback with an immediate grant.
	AutoAccept bool
	// Approve is the user consent callback invoked once per inbound
	// /Ask. Required unless AutoAccept is set.
	Approve transfer.ApprovalFunc
	// ApprovalTimeout bounds how long Approve may take; default 60s.
	ApprovalTimeout time.Duration

	// CorrelationWindow bounds how long an approved /Ask authorizes a
	// following /Upload from the same peer certificate; default 5m.
	CorrelationWindow time.Duration

	// Events receives transfer lifecycle notifications; may be nil.
	Events chan<- transfer.Event

	TLS tlsguard.Options
}

func (c Config) withDefaults() Config {
	out := c
	if out.BufferSize <= 0 {
		out.BufferSize = DefaultBufferSize
	}
	if out.ApprovalTimeout <= 0 {
		out.ApprovalTimeout = DefaultApprovalTimeout
	}
	if out.CorrelationWindow <= 0 {
		out.CorrelationWindow = DefaultCorrelationWindow
	}
	return out
}

// Defaults mirroring spec.md §6/§7.
const (
	DefaultBufferSize        = 81920
	DefaultApprovalTimeout   = 60 * time.Second
	DefaultCorrelationWindow = 5 * time.Minute
)

// Server is the AirDrop Server: it accepts already-authenticated
// transport.PeerLink connections, wraps each in server-side mutual TLS, and
// serves /Discover, /Ask, /Upload over HTTP/2 on that single connection.
type Server struct {
	cfg    Config
	router *mux.Router

	correlator *correlator
	table      *transfer.Table

	h2srv *http2.Server

	wg sync.WaitGroup
}

// New builds a Server ready to accept PeerLinks via Serve.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:        cfg,
		router:     mux.NewRouter(),
		correlator: newCorrelator(cfg.CorrelationWindow),
		table:      transfer.NewTable(),
		h2srv:      &http2.Server{},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/Discover", s.handleDiscover).Methods(http.MethodPost)
	s.router.HandleFunc("/Ask", s.handleAsk).Methods(http.MethodPost)
	s.router.HandleFunc("/Upload", s.handleUpload).Methods(http.MethodPost)
}

// ErrTransferNotFound is returned by Cancel when no in-flight transfer is
// tracked under the given id (already completed, never existed, or already
// swept from the table).
var ErrTransferNotFound = errors.New("airdropserver: transfer not found")

// Cancel resolves transferID through the server's transfer table and flips
// its cancellation token, unwinding any blocked multipart read or write in
// progress (spec.md §4.10, §5, §8 boundary scenario 4). A cancel on an
// already-terminal transfer is a no-op, per Handle.Cancel.
func (s *Server) Cancel(transferID string) error {
	handle, ok := s.table.Get(transferID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransferNotFound, transferID)
	}
	handle.Cancel()
	return nil
}

// Serve consumes accepted links from a transport.Manager's Listen channel,
// server-side-TLS-wraps each, and serves HTTP/2 on it until links is
// closed or ctx is cancelled. It returns once every spawned connection
// handler has finished.
func (s *Server) Serve(ctx context.Context, links <-chan transport.PeerLink) {
	tlsCfg := s.cfg.TLS.ServerConfig()

	for {
		select {
		case link, ok := <-links:
			if !ok {
				s.wg.Wait()
				return
			}
			s.wg.Add(1)
			go s.serveOne(ctx, link, tlsCfg)
		case <-ctx.Done():
			s.wg.Wait()
			return
		}
	}
}

func (s *Server) serveOne(ctx context.Context, link transport.PeerLink, tlsCfg *tls.Config) {
	defer s.wg.Done()
	defer link.Close()

	conn := tls.Server(link, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, DefaultApprovalTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		log.Printf("airdropserver: TLS handshake failed for %s link from %s: %v", link.Transport(), link.RemoteAddr(), err)
		return
	}

	thumbprint, err := tlsguard.PeerThumbprint(conn.ConnectionState())
	if err != nil {
		log.Printf("airdropserver: %v", err)
		return
	}

	handler := withPeerThumbprint(s.router, thumbprint)
	opts := &http2.ServeConnOpts{Handler: handler}
	s.h2srv.ServeConn(conn, opts)
}
