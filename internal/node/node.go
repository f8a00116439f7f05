// Package node implements the peer state machine: seeking the hub, electing
// itself into the hub slot, relaying as hub and demoting itself when stale.
package node

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/identity"
	"github.com/iggydv12/hubsim/internal/transport"
)

// Arbiter is the node's view of the arbitration authority.
type Arbiter interface {
	Register(id identity.PeerID) bool
	Release(id identity.PeerID) bool
	CurrentHolder() (identity.PeerID, bool)
	Generation() uint64
}

// Sender enqueues packets on the network.
type Sender interface {
	Send(now int64, pkt transport.Packet) bool
}

// Config holds the per-node protocol parameters.
type Config struct {
	HubName              identity.PeerID
	RetryInterval        int64   // base ticks between connect/register attempts
	RetryJitter          int64   // uniform perturbation in [-RetryJitter, +RetryJitter]
	PendingLimit         int     // capacity of the pending queue
	HandshakeFailureRate float64 // probability a connect handshake fails
}

const defaultPendingLimit = 32

func (c Config) withDefaults() Config {
	if c.HubName.IsNone() {
		c.HubName = identity.DefaultHubName
	}
	if c.RetryInterval < 1 {
		c.RetryInterval = 1
	}
	if c.RetryJitter < 0 {
		c.RetryJitter = 0
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = defaultPendingLimit
	}
	return c
}

// Node is one peer of the overlay. Its identity never changes; the name it
// is reachable under (claimed) equals the hub name only while it is hub.
type Node struct {
	mu sync.Mutex

	id            identity.PeerID
	claimed       identity.PeerID
	role          Role
	connections   map[identity.PeerID]struct{} // directed records owned by this node
	inbox         []transport.Message
	pending       []transport.Message // bounded FIFO, oldest dropped
	retryDeadline int64
	hubGen        uint64 // authority generation the hub connection was made under
	nextMsgID     uint64

	auth   Arbiter
	net    Sender
	rng    *rand.Rand
	cfg    Config
	stats  Stats
	logger *zap.Logger
}

// New creates an idle Node.
func New(id identity.PeerID, cfg Config, auth Arbiter, net Sender, rng *rand.Rand, logger *zap.Logger) *Node {
	return &Node{
		id:          id,
		claimed:     id,
		role:        RoleIdle,
		connections: make(map[identity.PeerID]struct{}),
		auth:        auth,
		net:         net,
		rng:         rng,
		cfg:         cfg.withDefaults(),
		logger:      logger.With(zap.String("node", string(id))),
	}
}

// Tick runs one step of the state machine at simulated time now. It never
// blocks. The returned error describes a non-fatal outcome (see the Err*
// values) and is nil when nothing noteworthy happened.
func (n *Node) Tick(now int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.role {
	case RoleIsHub:
		holder, ok := n.auth.CurrentHolder()
		if ok && holder == n.id {
			return nil
		}
		n.stepDown(now)
		n.logger.Warn("Stale hub detected, stepping down",
			zap.String("holder", holder.String()),
			zap.Int64("tick", now),
		)
		return fmt.Errorf("%w: holder is %s", ErrStaleHub, holder)

	case RoleConnectedToHub:
		if n.hubAlive() {
			return nil
		}
		delete(n.connections, n.cfg.HubName)
		n.role = RoleSeeking
		n.stats.ConnectionsLost++
		n.logger.Debug("Lost hub connection", zap.Int64("tick", now))
		if err := n.seek(now); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		return ErrConnectionLost
	}

	return n.seek(now)
}

// hubAlive reports whether the node still holds a hub connection record and
// the hub it joined still holds the slot. A new generation means the slot
// changed hands, so the old handshake is worthless. Must be called with lock
// held.
func (n *Node) hubAlive() bool {
	if _, ok := n.connections[n.cfg.HubName]; !ok {
		return false
	}
	if _, held := n.auth.CurrentHolder(); !held {
		return false
	}
	return n.auth.Generation() == n.hubGen
}

// seek attempts exactly one of connect or register once the retry deadline
// has passed. Must be called with lock held.
func (n *Node) seek(now int64) error {
	if now < n.retryDeadline {
		return nil
	}
	n.role = RoleSeeking
	n.retryDeadline = now + n.backoff()

	holder, ok := n.auth.CurrentHolder()
	if ok && holder == n.id {
		n.promote(now)
		return nil
	}

	if ok {
		if n.cfg.HandshakeFailureRate > 0 && n.rng.Float64() < n.cfg.HandshakeFailureRate {
			n.stats.HandshakeFailures++
			n.logger.Debug("Hub handshake failed",
				zap.String("hub", string(holder)),
				zap.Int64("retryAt", n.retryDeadline),
			)
			return fmt.Errorf("%w: hub %s", ErrHandshakeFailed, holder)
		}
		n.connections[n.cfg.HubName] = struct{}{}
		n.hubGen = n.auth.Generation()
		n.role = RoleConnectedToHub
		n.net.Send(now, transport.Packet{
			Source:      n.id,
			Destination: n.cfg.HubName,
			Kind:        transport.KindHandshake,
		})
		n.logger.Debug("Connected to hub",
			zap.String("hub", string(holder)),
			zap.Int64("tick", now),
		)
		n.drainPending(now)
		return nil
	}

	if !n.auth.Register(n.id) {
		n.stats.RegistrationConflicts++
		n.logger.Debug("Lost hub registration race", zap.Int64("tick", now))
		return ErrRegistrationConflict
	}
	n.promote(now)
	return nil
}

// backoff returns the jittered retry interval, never less than one tick.
func (n *Node) backoff() int64 {
	d := n.cfg.RetryInterval
	if j := n.cfg.RetryJitter; j > 0 {
		d += n.rng.Int63n(2*j+1) - j
	}
	if d < 1 {
		d = 1
	}
	return d
}

// Send originates a message. See dispatch for the routing rules. It returns
// ErrMessageUndeliverable when the message had to be queued.
func (n *Node) Send(now int64, target identity.PeerID, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextMsgID++
	n.stats.Originated++
	msg := transport.Message{
		ID:     n.nextMsgID,
		Origin: n.id,
		Target: target,
		Body:   body,
		SentAt: now,
	}
	return n.dispatch(now, msg)
}

// dispatch routes a locally originated message. Must be called with lock held.
func (n *Node) dispatch(now int64, msg transport.Message) error {
	if n.role == RoleIsHub {
		n.fanOut(now, msg.Origin, msg)
		if msg.Target == n.id {
			n.deliver(msg)
		}
		return nil
	}
	if _, ok := n.connections[n.cfg.HubName]; ok {
		n.net.Send(now, transport.Packet{
			Source:      n.id,
			Destination: n.cfg.HubName,
			Kind:        transport.KindMessage,
			Payload:     msg,
		})
		return nil
	}
	n.enqueuePending(msg)
	return ErrMessageUndeliverable
}

// Receive handles a packet handed over by the transport.
func (n *Node) Receive(now int64, pkt transport.Packet) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch pkt.Kind {
	case transport.KindHandshake:
		n.acceptHandshake(pkt)
	case transport.KindMessage:
		if pkt.Payload.Origin == n.id {
			return
		}
		if pkt.Payload.Target == n.id || pkt.Payload.Target == identity.Broadcast {
			n.deliver(pkt.Payload)
		}
		if n.role == RoleIsHub {
			n.fanOut(now, pkt.Source, pkt.Payload)
		}
	}
}

func (n *Node) deliver(msg transport.Message) {
	n.inbox = append(n.inbox, msg)
	n.stats.Delivered++
}

func (n *Node) enqueuePending(msg transport.Message) {
	if len(n.pending) >= n.cfg.PendingLimit {
		dropped := n.pending[0]
		n.pending = n.pending[1:]
		n.stats.PendingDropped++
		n.logger.Debug("Pending queue full, dropping oldest", zap.Uint64("msg", dropped.ID))
	}
	n.pending = append(n.pending, msg)
}

// drainPending re-dispatches queued messages oldest first. Called on every
// transition into a connected role. Must be called with lock held.
func (n *Node) drainPending(now int64) {
	if len(n.pending) == 0 {
		return
	}
	queued := n.pending
	n.pending = nil
	for _, msg := range queued {
		_ = n.dispatch(now, msg)
	}
	n.logger.Debug("Drained pending queue", zap.Int("count", len(queued)), zap.Int64("tick", now))
}

// Reset puts the node back to idle under its own identity with no
// connections. The driver uses it on the hub it kills during churn.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.role = RoleIdle
	n.claimed = n.id
	n.connections = make(map[identity.PeerID]struct{})
}

// ClearConnections drops every connection record without touching the role;
// a connected node notices on its next tick.
func (n *Node) ClearConnections() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connections = make(map[identity.PeerID]struct{})
}

// ID returns the immutable identity.
func (n *Node) ID() identity.PeerID { return n.id }

// Claimed returns the name the node is currently reachable under.
func (n *Node) Claimed() identity.PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.claimed
}

// Role returns the current role.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// HasConnection reports whether the node holds a connection record to peer.
func (n *Node) HasConnection(peer identity.PeerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.connections[peer]
	return ok
}

// Connections returns the connection records, sorted.
func (n *Node) Connections() []identity.PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sortedConnections()
}

func (n *Node) sortedConnections() []identity.PeerID {
	list := make([]identity.PeerID, 0, len(n.connections))
	for p := range n.connections {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// Inbox returns a copy of the delivered messages in delivery order.
func (n *Node) Inbox() []transport.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]transport.Message, len(n.inbox))
	copy(out, n.inbox)
	return out
}

// Pending returns a copy of the queued, not yet sent messages.
func (n *Node) Pending() []transport.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]transport.Message, len(n.pending))
	copy(out, n.pending)
	return out
}

// Stats returns a copy of the node counters.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Snapshot returns a read-only view of the node.
func (n *Node) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Snapshot{
		ID:            n.id,
		Claimed:       n.claimed,
		Role:          n.role,
		Connections:   n.sortedConnections(),
		InboxLen:      len(n.inbox),
		PendingLen:    len(n.pending),
		RetryDeadline: n.retryDeadline,
		Stats:         n.stats,
	}
}
