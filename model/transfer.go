package model

import "time"

// TransferDirection is send or receive, from the local host's perspective.
type TransferDirection string

const (
	DirectionSend    TransferDirection = "send"
	DirectionReceive TransferDirection = "receive"
)

// TransferState is a node in the transfer state machine (see transfer
// package for the transition table).
type TransferState string

const (
	StatePending          TransferState = "pending"
	StateAwaitingApproval TransferState = "awaiting_approval"
	StateApproved         TransferState = "approved"
	StateRejected         TransferState = "rejected"
	StateConnecting       TransferState = "connecting"
	StateTransferring     TransferState = "transferring"
	StateCompleted        TransferState = "completed"
	StateFailed           TransferState = "failed"
	StateCancelled        TransferState = "cancelled"
)

// Terminal reports whether the state has no outgoing transitions.
func (s TransferState) Terminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// TransferRecord is one in-flight (or finished) exchange of files with a
// peer.
type TransferRecord struct {
	TransferID string
	Peer       PeerRecord
	Direction  TransferDirection
	Files      []FileDescriptor

	TotalBytes int64
	BytesDone  int64

	State TransferState
	Err   string

	InitiatedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}
