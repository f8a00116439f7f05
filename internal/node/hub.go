package node

import (
	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/identity"
	"github.com/iggydv12/hubsim/internal/transport"
)

// promote takes the hub role after a successful registration. Must be called
// with lock held.
func (n *Node) promote(now int64) {
	n.role = RoleIsHub
	n.claimed = n.cfg.HubName
	n.stats.Elections++
	n.logger.Info("Took hub role",
		zap.String("hub", string(n.cfg.HubName)),
		zap.Int64("tick", now),
	)
	n.drainPending(now)
}

// stepDown leaves the hub role and waits a full retry interval before
// seeking again. Must be called with lock held.
func (n *Node) stepDown(now int64) {
	n.role = RoleSeeking
	n.claimed = n.id
	n.connections = make(map[identity.PeerID]struct{})
	n.retryDeadline = now + n.backoff()
	n.stats.Demotions++
}

// Resign gives up the hub role voluntarily, releasing the slot. It returns
// false when the node was not the hub.
func (n *Node) Resign(now int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleIsHub {
		return false
	}
	released := n.auth.Release(n.id)
	n.stepDown(now)
	n.logger.Info("Resigned hub role",
		zap.Bool("released", released),
		zap.Int64("tick", now),
	)
	return true
}

// acceptHandshake records the connecting peer. Only the hub accepts
// handshakes; anybody else drops them. Must be called with lock held.
func (n *Node) acceptHandshake(pkt transport.Packet) {
	if n.role != RoleIsHub {
		n.logger.Debug("Dropping handshake, not hub", zap.String("from", string(pkt.Source)))
		return
	}
	if _, ok := n.connections[pkt.Source]; ok {
		return
	}
	n.connections[pkt.Source] = struct{}{}
	n.logger.Debug("Peer joined hub",
		zap.String("peer", string(pkt.Source)),
		zap.Int("totalPeers", len(n.connections)),
	)
}

// fanOut floods msg to every connection except the immediate sender and the
// origin. Connections are walked in sorted order so runs stay reproducible.
// Must be called with lock held.
func (n *Node) fanOut(now int64, sender identity.PeerID, msg transport.Message) {
	for _, peer := range n.sortedConnections() {
		if peer == sender || peer == msg.Origin {
			continue
		}
		n.net.Send(now, transport.Packet{
			Source:      n.claimed,
			Destination: peer,
			Kind:        transport.KindMessage,
			Payload:     msg,
		})
		n.stats.Relayed++
	}
}
