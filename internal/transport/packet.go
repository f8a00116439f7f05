package transport

import (
	"fmt"

	"github.com/iggydv12/hubsim/internal/identity"
)

// Kind distinguishes connection set-up traffic from application messages.
type Kind int

const (
	KindHandshake Kind = iota
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Message is an application payload originated by a peer.
type Message struct {
	ID     uint64
	Origin identity.PeerID
	Target identity.PeerID // identity.Broadcast reaches every peer
	Body   string
	SentAt int64
}

func (m Message) String() string {
	return fmt.Sprintf("#%d %s->%s %q", m.ID, m.Origin, m.Target, m.Body)
}

// Packet is one hop of traffic between two identities. Either end may be the
// reserved hub name.
type Packet struct {
	Source           identity.PeerID
	Destination      identity.PeerID
	Kind             Kind
	Payload          Message
	ScheduledArrival int64
}

func (p Packet) String() string {
	return fmt.Sprintf("%s %s->%s @%d", p.Kind, p.Source, p.Destination, p.ScheduledArrival)
}
