package transfer

import (
	"context"
	"testing"
	"time"

	"goairdrop/model"
)

func newRecord(direction model.TransferDirection) model.TransferRecord {
	return model.TransferRecord{
		TransferID:  "t1",
		Direction:   direction,
		State:       model.StatePending,
		InitiatedAt: time.Now(),
	}
}

func TestSendPathHappyPath(t *testing.T) {
	events := make(chan Event, 16)
	h := NewHandle(newRecord(model.DirectionSend), events)

	if err := h.TransitionConnecting(); err != nil {
		t.Fatalf("Connecting: %v", err)
	}
	if err := h.TransitionTransferring(); err != nil {
		t.Fatalf("Transferring: %v", err)
	}
	h.UpdateProgress(50)
	if err := h.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	snap := h.Snapshot()
	if snap.State != model.StateCompleted {
		t.Fatalf("expected Completed, got %s", snap.State)
	}
	if snap.BytesDone != 50 {
		t.Fatalf("expected BytesDone=50, got %d", snap.BytesDone)
	}
}

func TestApprovalTimeout(t *testing.T) {
	events := make(chan Event, 16)
	h := NewHandle(newRecord(model.DirectionReceive), events)

	blockForever := func(ctx context.Context, _ model.TransferRecord) (Decision, error) {
		<-ctx.Done()
		return Decision{}, ctx.Err()
	}

	_, err := h.AwaitApproval(context.Background(), blockForever, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected approval timeout error")
	}

	snap := h.Snapshot()
	if snap.State != model.StateFailed {
		t.Fatalf("expected Failed after timeout, got %s", snap.State)
	}
}

func TestRejectIsTerminalNotFailureSemantically(t *testing.T) {
	events := make(chan Event, 16)
	h := NewHandle(newRecord(model.DirectionReceive), events)

	reject := func(ctx context.Context, _ model.TransferRecord) (Decision, error) {
		return Decision{Approve: false, Reason: "no thanks"}, nil
	}

	_, err := h.AwaitApproval(context.Background(), reject, time.Second)
	if err != nil {
		t.Fatalf("AwaitApproval: %v", err)
	}

	snap := h.Snapshot()
	if snap.State != model.StateRejected {
		t.Fatalf("expected Rejected, got %s", snap.State)
	}
	if !snap.State.Terminal() {
		t.Fatal("Rejected must be terminal")
	}
}

func TestCancelOnTerminalIsNoOp(t *testing.T) {
	h := NewHandle(newRecord(model.DirectionSend), nil)
	if err := h.TransitionConnecting(); err != nil {
		t.Fatal(err)
	}
	if err := h.TransitionTransferring(); err != nil {
		t.Fatal(err)
	}
	if err := h.Complete(); err != nil {
		t.Fatal(err)
	}

	h.Cancel()

	if snap := h.Snapshot(); snap.State != model.StateCompleted {
		t.Fatalf("cancel on terminal state must be a no-op, got %s", snap.State)
	}
}

func TestCancelMidTransferSettlesOnce(t *testing.T) {
	h := NewHandle(newRecord(model.DirectionReceive), nil)
	if err := h.TransitionAwaitingApproval(); err != nil {
		t.Fatal(err)
	}
	if err := h.Approve(); err != nil {
		t.Fatal(err)
	}
	if err := h.TransitionTransferring(); err != nil {
		t.Fatal(err)
	}

	h.Cancel()
	h.Cancel() // idempotent

	snap := h.Snapshot()
	if snap.State != model.StateCancelled {
		t.Fatalf("expected Cancelled, got %s", snap.State)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	h := NewHandle(newRecord(model.DirectionSend), nil)
	if err := h.TransitionTransferring(); err == nil {
		t.Fatal("expected error transitioning Pending -> Transferring directly")
	}
}

func TestTableResolvesByID(t *testing.T) {
	table := NewTable()
	h := NewHandle(newRecord(model.DirectionSend), nil)
	table.Put("t1", h)

	got, ok := table.Get("t1")
	if !ok || got != h {
		t.Fatal("expected to resolve handle by id")
	}

	table.Delete("t1")
	if _, ok := table.Get("t1"); ok {
		t.Fatal("expected handle to be gone after Delete")
	}
}
