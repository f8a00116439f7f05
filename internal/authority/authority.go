// Package authority provides the arbitration point that decides which peer
// currently owns the reserved hub identity.
package authority

import (
	"sync"

	"github.com/iggydv12/hubsim/internal/identity"
)

// HubSlot is a point-in-time copy of the reserved identity's ownership.
type HubSlot struct {
	Holder     identity.PeerID // identity.None when the slot is free
	Generation uint64          // incremented on every grant
}

// Authority is the single source of truth for the hub slot. All operations
// run under one mutex so two callers can never both observe a free slot.
type Authority struct {
	mu   sync.Mutex
	slot HubSlot
}

// New creates an Authority with an empty slot.
func New() *Authority {
	return &Authority{}
}

// Register grants the slot to id iff nobody holds it. The generation is
// bumped on success; on failure nothing changes.
func (a *Authority) Register(id identity.PeerID) bool {
	if id.IsNone() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.slot.Holder.IsNone() {
		return false
	}
	a.slot.Holder = id
	a.slot.Generation++
	return true
}

// Release clears the slot when id is the current holder. It does not check
// who is asking: any caller that names the holder releases it. Releasing an
// empty slot, or naming a non-holder, is a no-op.
func (a *Authority) Release(id identity.PeerID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.slot.Holder.IsNone() || a.slot.Holder != id {
		return false
	}
	a.slot.Holder = identity.None
	return true
}

// ForceRelease clears the slot regardless of the holder and returns the
// identity that was evicted, if any. Used by the crash detector.
func (a *Authority) ForceRelease() (identity.PeerID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.slot.Holder
	a.slot.Holder = identity.None
	return prev, !prev.IsNone()
}

// CurrentHolder returns the holder of the slot, if any.
func (a *Authority) CurrentHolder() (identity.PeerID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slot.Holder, !a.slot.Holder.IsNone()
}

// Generation returns the number of grants issued for the slot so far.
func (a *Authority) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slot.Generation
}

// Snapshot returns a copy of the slot.
func (a *Authority) Snapshot() HubSlot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slot
}
