// Package identity defines the peer identities used across the overlay.
package identity

import "fmt"

// PeerID is the immutable token assigned to a node when it is created.
// It is never reused within a run.
type PeerID string

const (
	// None is the zero PeerID and stands for "no peer".
	None PeerID = ""
	// Broadcast addresses every peer in the overlay.
	Broadcast PeerID = "*"
	// DefaultHubName is the reserved rendezvous identity contended for by all peers.
	DefaultHubName PeerID = "p1-room"
)

// Sequential returns the identity of the i-th peer of a run (u_000, u_001, ...).
func Sequential(i int) PeerID {
	return PeerID(fmt.Sprintf("u_%03d", i))
}

// IsNone reports whether id is the empty identity.
func (id PeerID) IsNone() bool { return id == None }

func (id PeerID) String() string {
	if id == None {
		return "none"
	}
	return string(id)
}
