package node

import (
	"errors"

	"github.com/iggydv12/hubsim/internal/identity"
)

// Outcomes of a tick or a send. None of them is fatal to the node; they are
// reported so the driver can count them.
var (
	// ErrRegistrationConflict means another peer won the race for the hub slot.
	ErrRegistrationConflict = errors.New("hub registration conflict")
	// ErrHandshakeFailed means the connect handshake to the current hub failed.
	ErrHandshakeFailed = errors.New("hub handshake failed")
	// ErrStaleHub means the node believed it was the hub but the authority disagrees.
	ErrStaleHub = errors.New("stale hub detected")
	// ErrConnectionLost means the connection record to the hub disappeared.
	ErrConnectionLost = errors.New("hub connection lost")
	// ErrMessageUndeliverable means there was no path and the message was queued.
	ErrMessageUndeliverable = errors.New("message undeliverable, queued")
)

// Stats are cumulative per-node counters.
type Stats struct {
	Originated            uint64
	Delivered             uint64
	Relayed               uint64
	PendingDropped        uint64
	Elections             uint64
	Demotions             uint64
	RegistrationConflicts uint64
	HandshakeFailures     uint64
	ConnectionsLost       uint64
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Originated:            s.Originated + o.Originated,
		Delivered:             s.Delivered + o.Delivered,
		Relayed:               s.Relayed + o.Relayed,
		PendingDropped:        s.PendingDropped + o.PendingDropped,
		Elections:             s.Elections + o.Elections,
		Demotions:             s.Demotions + o.Demotions,
		RegistrationConflicts: s.RegistrationConflicts + o.RegistrationConflicts,
		HandshakeFailures:     s.HandshakeFailures + o.HandshakeFailures,
		ConnectionsLost:       s.ConnectionsLost + o.ConnectionsLost,
	}
}

// Sub returns the field-wise difference s - o.
func (s Stats) Sub(o Stats) Stats {
	return Stats{
		Originated:            s.Originated - o.Originated,
		Delivered:             s.Delivered - o.Delivered,
		Relayed:               s.Relayed - o.Relayed,
		PendingDropped:        s.PendingDropped - o.PendingDropped,
		Elections:             s.Elections - o.Elections,
		Demotions:             s.Demotions - o.Demotions,
		RegistrationConflicts: s.RegistrationConflicts - o.RegistrationConflicts,
		HandshakeFailures:     s.HandshakeFailures - o.HandshakeFailures,
		ConnectionsLost:       s.ConnectionsLost - o.ConnectionsLost,
	}
}

// Snapshot is a read-only view of a node.
type Snapshot struct {
	ID            identity.PeerID
	Claimed       identity.PeerID
	Role          Role
	Connections   []identity.PeerID
	InboxLen      int
	PendingLen    int
	RetryDeadline int64
	Stats         Stats
}
