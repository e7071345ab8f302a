// Package transfer implements the Transfer State Machine: it owns one
// TransferRecord's lifecycle, consent gating, progress aggregation, and
// cancellation, one mutex per record as the rest of this codebase does for
// its own per-entity shared state (see registry.Registry, which uses a
// single critical section per map instead, and network.peerState in the
// teacher for the one-mutex-per-entity style this package follows).
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"goairdrop/model"
)

// Sentinel errors surfaced as a TransferRecord's terminal Err string.
var (
	ErrNoTransport       = errors.New("transfer: no transport available for peer")
	ErrApprovalTimeout   = errors.New("transfer: approval not received within timeout")
	ErrPeerRejected      = errors.New("transfer: peer rejected the request")
	ErrCancelled         = errors.New("transfer: cancelled")
	ErrAlreadyTerminal   = errors.New("transfer: record already in a terminal state")
	ErrInvalidTransition = errors.New("transfer: invalid state transition")
)

// Decision is the outcome of the approval callback for a receive-side
// transfer awaiting user consent.
type Decision struct {
	Approve  bool
	SavePath string // optional override of the configured save directory
	Reason   string // optional, populated on rejection
}

// ApprovalFunc is invoked once per receive-side transfer reaching
// AwaitingApproval. It must return within the configured approval timeout;
// the caller (airdropserver) races it against a timer.
type ApprovalFunc func(ctx context.Context, record model.TransferRecord) (Decision, error)

// Event reports one transfer's state change or progress tick to an
// external UI surface.
type Event struct {
	Type   EventType
	Record model.TransferRecord
}

// EventType identifies the kind of Event.
type EventType string

const (
	EventRequested       EventType = "requested"
	EventProgressUpdated EventType = "progress_updated"
	EventCompleted       EventType = "completed"
	EventFailed          EventType = "failed"
)

// Progress is one bytes-done snapshot, reported to callers at most every
// ProgressTickInterval.
type Progress struct {
	TransferID string
	BytesDone  int64
	TotalBytes int64
	BytesPerS  float64
	ETA        time.Duration
}

// ProgressTickInterval bounds how often the progress callback fires.
const ProgressTickInterval = 100 * time.Millisecond

// Handle owns one TransferRecord's mutable state and cancellation token.
// The registry pattern in spec.md §9 ("never hold a record reference
// across a suspension point") is honored by every accessor returning a
// value copy; only Handle itself, resolved by id through a Table, is held
// across suspension points.
type Handle struct {
	mu     sync.Mutex
	record model.TransferRecord

	done   chan struct{}
	events chan<- Event
}

// NewHandle creates a Handle wrapping the given initial record. events may
// be nil to discard all emissions. The cancellation token itself is the
// done channel: closing it (via Cancel, Complete, or Fail) is what every
// context.Context handed out by Context unwinds from.
func NewHandle(record model.TransferRecord, events chan<- Event) *Handle {
	return &Handle{
		record: record,
		done:   make(chan struct{}),
		events: events,
	}
}

// Context returns a context cancelled when this transfer is cancelled.
func (h *Handle) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Snapshot returns a copy of the current record.
func (h *Handle) Snapshot() model.TransferRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.record
}

// Cancel flips the cancellation token. A cancel on an already-terminal
// record is a no-op, matching spec.md §5.
func (h *Handle) Cancel() {
	h.mu.Lock()
	terminal := h.record.State.Terminal()
	h.mu.Unlock()
	if terminal {
		return
	}
	h.settle(model.StateCancelled, ErrCancelled)
}

// TransitionConnecting moves Pending -> Connecting on the send path.
func (h *Handle) TransitionConnecting() error {
	return h.transition(model.StatePending, model.StateConnecting)
}

// TransitionAwaitingApproval moves Pending -> AwaitingApproval on the
// receive path, once an /Ask request has arrived.
func (h *Handle) TransitionAwaitingApproval() error {
	return h.transition(model.StatePending, model.StateAwaitingApproval)
}

// Approve moves AwaitingApproval -> Approved.
func (h *Handle) Approve() error {
	return h.transition(model.StateAwaitingApproval, model.StateApproved)
}

// Reject moves AwaitingApproval -> Rejected (terminal).
func (h *Handle) Reject(reason string) error {
	if err := h.transition(model.StateAwaitingApproval, model.StateRejected); err != nil {
		return err
	}
	h.setErr(fmt.Sprintf("%v: %s", ErrPeerRejected, reason))
	h.emit(EventFailed)
	return nil
}

// TimeoutApproval moves AwaitingApproval -> Failed(ApprovalTimeout).
func (h *Handle) TimeoutApproval() error {
	return h.fail(model.StateAwaitingApproval, ErrApprovalTimeout)
}

// TransitionTransferring moves Approved or Connecting -> Transferring, on
// the first byte sent or received.
func (h *Handle) TransitionTransferring() error {
	h.mu.Lock()
	from := h.record.State
	h.mu.Unlock()
	if from != model.StateApproved && from != model.StateConnecting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, model.StateTransferring)
	}
	return h.transition(from, model.StateTransferring)
}

// UpdateProgress advances BytesDone and emits a progress event. Callers are
// expected to rate-limit calls to ProgressTickInterval themselves (the
// AirDrop Client and Server's chunked readers do).
func (h *Handle) UpdateProgress(bytesDone int64) {
	h.mu.Lock()
	h.record.BytesDone = bytesDone
	h.mu.Unlock()
	h.emit(EventProgressUpdated)
}

// Complete moves Transferring -> Completed (terminal).
func (h *Handle) Complete() error {
	if err := h.transition(model.StateTransferring, model.StateCompleted); err != nil {
		return err
	}
	h.emit(EventCompleted)
	close(h.done)
	return nil
}

// Fail moves the record to Failed (terminal) from any non-terminal state,
// recording err as the failure reason.
func (h *Handle) Fail(err error) error {
	h.mu.Lock()
	from := h.record.State
	h.mu.Unlock()
	if from.Terminal() {
		return fmt.Errorf("%w: already %s", ErrAlreadyTerminal, from)
	}
	return h.fail(from, err)
}

func (h *Handle) fail(from model.TransferState, err error) error {
	if terr := h.transition(from, model.StateFailed); terr != nil {
		return terr
	}
	h.setErr(err.Error())
	h.emit(EventFailed)
	close(h.done)
	return nil
}

func (h *Handle) settle(to model.TransferState, err error) {
	h.mu.Lock()
	from := h.record.State
	if from.Terminal() {
		h.mu.Unlock()
		return
	}
	h.record.State = to
	h.record.CompletedAt = time.Now()
	if err != nil {
		h.record.Err = err.Error()
	}
	h.mu.Unlock()
	h.emit(EventFailed)
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Handle) transition(from, to model.TransferState) error {
	h.mu.Lock()
	if h.record.State != from {
		cur := h.record.State
		h.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s (currently %s)", ErrInvalidTransition, from, to, cur)
	}
	h.record.State = to
	now := time.Now()
	switch to {
	case model.StateTransferring:
		if h.record.StartedAt.IsZero() {
			h.record.StartedAt = now
		}
	case model.StateCompleted, model.StateFailed, model.StateRejected, model.StateCancelled:
		h.record.CompletedAt = now
	}
	h.mu.Unlock()
	return nil
}

func (h *Handle) setErr(msg string) {
	h.mu.Lock()
	h.record.Err = msg
	h.mu.Unlock()
}

func (h *Handle) emit(t EventType) {
	if h.events == nil {
		return
	}
	select {
	case h.events <- Event{Type: t, Record: h.Snapshot()}:
	default:
	}
}

// AwaitApproval races approve against the approval timeout, transitioning
// the record accordingly. It is called by the AirDrop Server's /Ask
// handler.
func (h *Handle) AwaitApproval(ctx context.Context, approve ApprovalFunc, timeout time.Duration) (Decision, error) {
	if err := h.TransitionAwaitingApproval(); err != nil {
		return Decision{}, err
	}
	h.emit(EventRequested)

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		decision Decision
		err      error
	}
	resultCh := make(chan result, 1)
	go func() {
		decision, err := approve(timeoutCtx, h.Snapshot())
		resultCh <- result{decision, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			_ = h.TimeoutApproval()
			return Decision{}, r.err
		}
		if r.decision.Approve {
			if err := h.Approve(); err != nil {
				return Decision{}, err
			}
			return r.decision, nil
		}
		if err := h.Reject(r.decision.Reason); err != nil {
			return Decision{}, err
		}
		return r.decision, nil
	case <-timeoutCtx.Done():
		_ = h.TimeoutApproval()
		return Decision{}, ErrApprovalTimeout
	}
}

// Table is a concurrent map of transfer_id -> *Handle, the registry pattern
// the Transfer State Machine uses to avoid holding record references across
// suspension points (spec.md §9).
type Table struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{handles: make(map[string]*Handle)}
}

// Put registers a handle under its transfer id.
func (t *Table) Put(id string, h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handles[id] = h
}

// Get resolves a handle by transfer id.
func (t *Table) Get(id string) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[id]
	return h, ok
}

// Delete removes a handle, typically once its terminal state has been
// recorded to the history ledger.
func (t *Table) Delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, id)
}

// Snapshot returns every currently tracked record.
func (t *Table) Snapshot() []model.TransferRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.TransferRecord, 0, len(t.handles))
	for _, h := range t.handles {
		out = append(out, h.Snapshot())
	}
	return out
}
