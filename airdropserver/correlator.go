package airdropserver

import (
	"sync"
	"time"

	"goairdrop/transfer"
)

// approval is one pending approved-but-not-yet-uploaded /Ask.
type approval struct {
	at     time.Time
	handle *transfer.Handle
}

// correlator tracks which peer certificate thumbprints have a recently
// approved /Ask, so /Upload can be rejected with HTTP 409 when it arrives
// out of order (spec.md §4.8's "Upload without Ask" rule).
type correlator struct {
	window time.Duration

	mu       sync.Mutex
	approved map[string]approval
}

func newCorrelator(window time.Duration) *correlator {
	return &correlator{window: window, approved: make(map[string]approval)}
}

// MarkApproved records that thumbprint's /Ask was approved at now, for the
// given transfer handle.
func (c *correlator) MarkApproved(thumbprint string, handle *transfer.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approved[thumbprint] = approval{at: time.Now(), handle: handle}
}

// Consume reports the transfer handle for thumbprint's most recent approved
// /Ask, if any, still within window, and clears it so a second /Upload from
// the same /Ask is rejected too (each approved /Ask authorizes exactly one
// /Upload).
func (c *correlator) Consume(thumbprint string) (*transfer.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.approved[thumbprint]
	if !ok {
		return nil, false
	}
	delete(c.approved, thumbprint)
	if time.Since(a.at) > c.window {
		return nil, false
	}
	return a.handle, true
}
