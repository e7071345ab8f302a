// Package airdropclient implements the AirDrop Client: it issues the
// three-phase /Discover, /Ask, /Upload request sequence against a peer and
// streams files as multipart, the way the teacher's network.Dial issues its
// own handshake sequence against a freshly dialed connection.
package airdropclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	"goairdrop/model"
	"goairdrop/tlsguard"
	"goairdrop/transfer"
	"goairdrop/transport"
	"goairdrop/wire"
)

// ErrPeerUnreachable is returned when /Discover does not succeed.
var ErrPeerUnreachable = errors.New("airdropclient: peer unreachable")

// Sentinel errors surfaced by Send, mirroring spec.md §4.9/§7.
var (
	ErrApprovalTimeout = transfer.ErrApprovalTimeout
	ErrRejected        = transfer.ErrPeerRejected
)

// Config configures a Client.
type Config struct {
	ComputerName string
	ModelName    string
	SenderID     string

	ConnectTimeout    time.Duration
	DiscoverTimeout   time.Duration
	TransferTimeout   time.Duration

	TLS tlsguard.Options

	// Progress is invoked at most every transfer.ProgressTickInterval
	// while uploading. May be nil.
	Progress func(transfer.Progress)
	// Events receives transfer lifecycle notifications. May be nil.
	Events chan<- transfer.Event
}

func (c Config) withDefaults() Config {
	out := c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 30 * time.Second
	}
	if out.DiscoverTimeout <= 0 {
		out.DiscoverTimeout = 10 * time.Second
	}
	if out.TransferTimeout <= 0 {
		out.TransferTimeout = 30 * time.Minute
	}
	return out
}

// Client sends files to AirDrop peers.
type Client struct {
	cfg     Config
	manager *transport.Manager
}

// New creates a Client that reaches peers through manager.
func New(cfg Config, manager *transport.Manager) *Client {
	return &Client{cfg: cfg.withDefaults(), manager: manager}
}

// Send orchestrates a full send: open a link, wrap it in TLS, run
// /Discover, /Ask, /Upload in order, and report progress. It returns the
// final transfer.Handle snapshot's terminal state via the returned error
// (nil on success).
func (c *Client) Send(ctx context.Context, peer model.PeerRecord, files []model.FileDescriptor) (*transfer.Handle, error) {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}

	record := model.TransferRecord{
		TransferID:  generateTransferID(),
		Peer:        peer,
		Direction:   model.DirectionSend,
		Files:       files,
		TotalBytes:  total,
		State:       model.StatePending,
		InitiatedAt: time.Now(),
	}
	handle := transfer.NewHandle(record, c.cfg.Events)

	if err := handle.TransitionConnecting(); err != nil {
		return handle, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	link, err := c.manager.Connect(connectCtx, peer)
	cancel()
	if err != nil {
		c.settle(handle, err, fmt.Errorf("%w: %v", transfer.ErrNoTransport, err))
		return handle, err
	}

	transferCtx, transferCancel := handle.Context(ctx)
	defer transferCancel()

	httpClient, closeClient, err := c.dialHTTP2(transferCtx, link, peer)
	if err != nil {
		c.settle(handle, err, err)
		return handle, err
	}
	defer closeClient()

	if err := c.discover(transferCtx, httpClient); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrPeerUnreachable, err)
		c.settle(handle, err, wrapped)
		return handle, wrapped
	}

	if err := c.ask(transferCtx, httpClient, files); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			handle.Cancel()
		case errors.Is(err, errRejected):
			err = ErrRejected
			_ = handle.Fail(err)
		case errors.Is(err, errApprovalTimeout):
			err = ErrApprovalTimeout
			_ = handle.Fail(err)
		default:
			_ = handle.Fail(err)
		}
		return handle, err
	}

	if err := handle.TransitionTransferring(); err != nil {
		return handle, err
	}

	if err := c.upload(transferCtx, httpClient, handle, files); err != nil {
		c.settle(handle, err, err)
		return handle, err
	}

	if err := handle.Complete(); err != nil {
		return handle, err
	}
	return handle, nil
}

// settle routes a failed step to either Cancel or Fail depending on whether
// cause is a context cancellation: a caller that cancelled the ctx passed
// into Send should see the transfer land in Cancelled, not Failed, per
// spec.md §4.10's <any non-terminal> -> Cancelled transition. wrapped is the
// richer, caller-facing error used for the Fail path; cause is checked
// against context.Canceled directly since wrapping it would otherwise defeat
// errors.Is.
func (c *Client) settle(handle *transfer.Handle, cause, wrapped error) {
	if errors.Is(cause, context.Canceled) {
		handle.Cancel()
		return
	}
	_ = handle.Fail(wrapped)
}

// dialHTTP2 establishes the mutual-TLS connection over the given link and
// returns an *http.Client bound to exactly that connection.
func (c *Client) dialHTTP2(ctx context.Context, link transport.PeerLink, peer model.PeerRecord) (*http.Client, func(), error) {
	tlsCfg := c.cfg.TLS.ClientConfig(peer.DisplayName)
	conn := tls.Client(link, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		link.Close()
		return nil, nil, fmt.Errorf("%w: TLS handshake: %v", tlsguard.ErrHandshakeFailed, err)
	}

	transportRT := &http2.Transport{
		AllowHTTP: false,
		DialTLSContext: func(_ context.Context, _, _ string, _ *tls.Config) (net.Conn, error) {
			return conn, nil
		},
	}

	httpClient := &http.Client{
		Transport: transportRT,
		Timeout:   c.cfg.TransferTimeout,
	}
	return httpClient, func() { conn.Close() }, nil
}

func (c *Client) discover(ctx context.Context, httpClient *http.Client) error {
	body, err := json.Marshal(wire.DiscoverRequest{
		SenderComputerName: c.cfg.ComputerName,
		SenderModelName:    c.cfg.ModelName,
		SenderID:           c.cfg.SenderID,
	})
	if err != nil {
		return err
	}

	discoverCtx, cancel := context.WithTimeout(ctx, c.cfg.DiscoverTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(discoverCtx, http.MethodPost, "https://airdrop.local/Discover", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discover returned status %d", resp.StatusCode)
	}

	var out wire.DiscoverResponse
	return json.NewDecoder(resp.Body).Decode(&out)
}

var (
	errRejected        = errors.New("airdropclient: ask rejected")
	errApprovalTimeout = errors.New("airdropclient: ask approval timed out")
)

func (c *Client) ask(ctx context.Context, httpClient *http.Client, files []model.FileDescriptor) error {
	askFiles := make([]wire.AskFile, 0, len(files))
	for _, f := range files {
		askFiles = append(askFiles, wire.AskFile{
			FileName:        f.Name,
			FileSize:        f.SizeBytes,
			FileType:        f.MimeType,
			FileIsDirectory: f.IsDirectory,
		})
	}

	body, err := json.Marshal(wire.AskRequest{
		SenderComputerName: c.cfg.ComputerName,
		SenderID:           c.cfg.SenderID,
		Files:              askFiles,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://airdrop.local/Ask", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out wire.AskResponse
		return json.NewDecoder(resp.Body).Decode(&out)
	case http.StatusForbidden:
		return errRejected
	case http.StatusRequestTimeout:
		return errApprovalTimeout
	default:
		return fmt.Errorf("ask returned status %d", resp.StatusCode)
	}
}

func (c *Client) upload(ctx context.Context, httpClient *http.Client, handle *transfer.Handle, files []model.FileDescriptor) error {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.writeMultipart(writer, pw, handle, files)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://airdrop.local/Upload", pr)
	if err != nil {
		pw.CloseWithError(err)
		<-errCh
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := httpClient.Do(req)
	writeErr := <-errCh
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("upload rejected: no approved ask on record")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var out wire.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("upload failed: %s", out.Message)
	}
	return nil
}

// writeMultipart streams every file through the multipart writer into the
// pipe in chunks, reporting progress through an EWMA rate estimator, so a
// large file never fully buffers in memory (spec.md §4.9, generalized from
// the teacher's chunked framed file-transfer discipline).
func (c *Client) writeMultipart(writer *multipart.Writer, pw *io.PipeWriter, handle *transfer.Handle, files []model.FileDescriptor) error {
	defer pw.Close()

	tracker := newRateTracker()
	var bytesDone int64
	lastTick := time.Now()

	for i, f := range files {
		fieldName := fmt.Sprintf("file%d", i)
		part, err := writer.CreateFormFile(fieldName, f.Name)
		if err != nil {
			return err
		}

		src, err := openSource(f)
		if err != nil {
			return err
		}

		buf := make([]byte, 80*1024)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := part.Write(buf[:n]); werr != nil {
					src.Close()
					return werr
				}
				bytesDone += int64(n)
				tracker.Add(int64(n))
				if c.cfg.Progress != nil && time.Since(lastTick) >= transfer.ProgressTickInterval {
					handle.UpdateProgress(bytesDone)
					c.cfg.Progress(transfer.Progress{
						TransferID: handle.Snapshot().TransferID,
						BytesDone:  bytesDone,
						TotalBytes: handle.Snapshot().TotalBytes,
						BytesPerS:  tracker.Rate(),
						ETA:        tracker.ETA(handle.Snapshot().TotalBytes - bytesDone),
					})
					lastTick = time.Now()
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				src.Close()
				return rerr
			}
		}
		src.Close()

		if !f.ModifiedAt.IsZero() {
			tsPart, err := writer.CreateFormField(fieldName + wire.TimestampPartSuffix)
			if err != nil {
				return err
			}
			if _, err := tsPart.Write([]byte(f.ModifiedAt.UTC().Format(time.RFC3339))); err != nil {
				return err
			}
		}
	}

	handle.UpdateProgress(bytesDone)
	return writer.Close()
}

func generateTransferID() string {
	return uuid.NewString()
}
