package airdropserver

import (
	"testing"
	"time"

	"goairdrop/model"
	"goairdrop/transfer"
)

func TestCorrelatorConsumeWithinWindow(t *testing.T) {
	c := newCorrelator(5 * time.Minute)
	h := transfer.NewHandle(model.TransferRecord{TransferID: "t1"}, nil)

	c.MarkApproved("thumb-1", h)

	got, ok := c.Consume("thumb-1")
	if !ok || got != h {
		t.Fatal("expected to consume approval within window")
	}

	if _, ok := c.Consume("thumb-1"); ok {
		t.Fatal("expected a second consume to fail: approval is single-use")
	}
}

func TestCorrelatorRejectsUnknownThumbprint(t *testing.T) {
	c := newCorrelator(5 * time.Minute)
	if _, ok := c.Consume("never-approved"); ok {
		t.Fatal("expected consume of unknown thumbprint to fail")
	}
}

func TestCorrelatorExpiresOutsideWindow(t *testing.T) {
	c := newCorrelator(time.Millisecond)
	h := transfer.NewHandle(model.TransferRecord{TransferID: "t1"}, nil)
	c.MarkApproved("thumb-1", h)

	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Consume("thumb-1"); ok {
		t.Fatal("expected approval to have expired")
	}
}
