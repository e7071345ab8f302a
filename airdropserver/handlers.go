package airdropserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"goairdrop/model"
	"goairdrop/transfer"
	"goairdrop/wire"
)

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var req wire.DiscoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, "decode /Discover body")
		return
	}

	resp := wire.DiscoverResponse{
		ReceiverComputerName: s.cfg.ComputerName,
		ReceiverModelName:    s.cfg.ModelName,
		ReceiverMediaCapabilities: wire.MediaCapabilities{
			Files:    true,
			Photos:   true,
			Videos:   true,
			Contacts: false,
			Urls:     true,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req wire.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, "decode /Ask body")
		return
	}

	files := make([]model.FileDescriptor, 0, len(req.Files))
	var total int64
	for _, f := range req.Files {
		files = append(files, model.FileDescriptor{
			Name:        f.FileName,
			SizeBytes:   f.FileSize,
			MimeType:    f.FileType,
			IsDirectory: f.FileIsDirectory,
		})
		total += f.FileSize
	}

	record := model.TransferRecord{
		TransferID:  uuid.NewString(),
		Direction:   model.DirectionReceive,
		Files:       files,
		TotalBytes:  total,
		State:       model.StatePending,
		InitiatedAt: time.Now(),
	}
	record.Peer.PeerID = req.SenderID
	record.Peer.DisplayName = req.SenderComputerName

	handle := transfer.NewHandle(record, s.cfg.Events)
	s.table.Put(record.TransferID, handle)

	approve := s.cfg.Approve
	switch {
	case s.cfg.AutoAccept:
		approve = autoApprove
	case approve == nil:
		approve = func(context.Context, model.TransferRecord) (transfer.Decision, error) {
			return transfer.Decision{Reason: "no approval callback configured"}, nil
		}
	}

	decision, err := handle.AwaitApproval(r.Context(), approve, s.cfg.ApprovalTimeout)
	if err != nil {
		if err == transfer.ErrApprovalTimeout {
			http.Error(w, "approval timed out", http.StatusRequestTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !decision.Approve {
		http.Error(w, "request rejected", http.StatusForbidden)
		return
	}

	thumbprint := thumbprintFrom(r.Context())
	s.correlator.MarkApproved(thumbprint, handle)

	writeJSON(w, http.StatusOK, wire.AskResponse{
		ReceiverComputerName: s.cfg.ComputerName,
		ReceiverModelName:    s.cfg.ModelName,
	})
}

func autoApprove(_ context.Context, _ model.TransferRecord) (transfer.Decision, error) {
	return transfer.Decision{Approve: true}, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	thumbprint := thumbprintFrom(r.Context())
	handle, ok := s.correlator.Consume(thumbprint)
	if !ok {
		writeConflict(w, "no approved /Ask precedes this /Upload")
		return
	}

	if err := handle.TransitionTransferring(); err != nil {
		// Already transitioned (e.g. approved but no first-byte yet is
		// fine; anything else is a logic error we still want to surface).
		log.Printf("airdropserver: /Upload transition: %v", err)
	}

	if err := os.MkdirAll(s.cfg.SaveDir, 0o700); err != nil {
		s.failUpload(w, handle, err)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		writeProtocolError(w, "not a multipart request")
		return
	}

	// handle.Context, not r.Context: a cancel delivered through Server.Cancel
	// must unwind this read loop even while the HTTP/2 stream itself is
	// still open and happily delivering bytes (spec.md §4.10, §8 boundary
	// scenario 4). Closing r.Body is the documented way to abort an
	// in-flight request body read: it resets the stream and unblocks
	// whichever NextPart/Read call is currently running, without any
	// second goroutine ever touching the multipart.Part itself.
	uploadCtx, cancel := handle.Context(r.Context())
	defer cancel()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-uploadCtx.Done():
			r.Body.Close()
		case <-watchDone:
		}
	}()

	received, writtenPaths, err := s.receiveParts(uploadCtx, reader, handle)
	if err != nil {
		for _, p := range writtenPaths {
			_ = os.Remove(p)
		}
		s.failUpload(w, handle, err)
		return
	}

	if err := handle.Complete(); err != nil {
		log.Printf("airdropserver: /Upload complete transition: %v", err)
	}

	writeJSON(w, http.StatusOK, wire.UploadResponse{
		Success:       true,
		FilesReceived: received,
		Message:       "ok",
	})
}

// receiveParts drains every part of an /Upload multipart body to disk.
// ctx is the transfer's own cancellation context (handle.Context), not just
// r.Context(): cancelling the tracked transfer closes the handler's body
// (see handleUpload's watcher goroutine), which unblocks the NextPart/Read
// call this loop is sitting in, even if the underlying HTTP/2 stream is
// otherwise healthy (spec.md §4.10, §8 boundary scenario 4).
func (s *Server) receiveParts(ctx context.Context, reader *multipart.Reader, handle *transfer.Handle) (int, []string, error) {
	timestamps := map[string]time.Time{}
	pathsByField := map[string]string{}
	written := make([]string, 0, len(handle.Snapshot().Files))
	received := 0
	var bytesDone int64
	lastTick := time.Now()

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return received, written, ctx.Err()
			}
			return received, written, err
		}

		name := part.FormName()
		if timestampFieldName(name) {
			ts, terr := readTimestampPart(part)
			part.Close()
			if terr == nil {
				timestamps[baseFieldName(name)] = ts
			}
			continue
		}

		filename := sanitizeFilename(part.FileName())
		if filename == "" {
			part.Close()
			log.Printf("airdropserver: skipping part %q with no usable filename", name)
			continue
		}

		destPath, err := resolveCollision(s.cfg.SaveDir, filename)
		if err != nil {
			part.Close()
			return received, written, err
		}

		n, err := s.copyPartToDisk(ctx, part, destPath, handle, &bytesDone, &lastTick)
		part.Close()
		if err != nil {
			// copyPartToDisk has already removed destPath itself; nothing
			// left for the caller's cleanup loop to do for this part.
			return received, written, err
		}
		if n == 0 {
			_ = os.Remove(destPath)
			log.Printf("airdropserver: skipping empty part %q", filename)
			continue
		}

		written = append(written, destPath)
		pathsByField[name] = destPath
		received++
	}

	if s.cfg.PreserveTimestamps {
		for field, ts := range timestamps {
			if path, ok := pathsByField[field]; ok {
				_ = os.Chtimes(path, ts, ts)
			}
		}
	}

	return received, written, nil
}

// copyPartToDisk streams one part to destPath. On any error — including one
// caused by a cancel closing the request body out from under a blocked
// Read — it removes the file it opened before returning, so no partial
// file is ever left for the caller's cleanup loop to miss (spec.md §4.8
// step 3's I/O-error cleanup, and §4.10/§8 boundary scenario 4's "save
// directory contains no trace of the transfer").
func (s *Server) copyPartToDisk(ctx context.Context, part *multipart.Part, destPath string, handle *transfer.Handle, bytesDone *int64, lastTick *time.Time) (int64, error) {
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, s.cfg.BufferSize)
	var total int64
	for {
		n, rerr := part.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				_ = os.Remove(destPath)
				return total, werr
			}
			total += int64(n)
			*bytesDone += int64(n)
			if time.Since(*lastTick) >= transfer.ProgressTickInterval {
				handle.UpdateProgress(*bytesDone)
				*lastTick = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			_ = os.Remove(destPath)
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			return total, rerr
		}
	}
	f.Close()
	handle.UpdateProgress(*bytesDone)
	return total, nil
}

func (s *Server) failUpload(w http.ResponseWriter, handle *transfer.Handle, cause error) {
	if errors.Is(cause, context.Canceled) || handle.Snapshot().State == model.StateCancelled {
		// handle.Cancel() (via Server.Cancel) already drove the record to
		// Cancelled and closed its done channel; nothing left to transition.
		// The state check covers a read error that surfaces before the
		// derived context has observed the cancel.
		log.Printf("airdropserver: /Upload cancelled mid-stream for %s", handle.Snapshot().TransferID)
		http.Error(w, "upload cancelled", http.StatusConflict)
		return
	}
	if err := handle.Fail(cause); err != nil {
		log.Printf("airdropserver: /Upload fail transition: %v", err)
	}
	http.Error(w, "upload failed: "+cause.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProtocolError(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusBadRequest)
}

func writeConflict(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusConflict)
}
