package sim

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/identity"
	"github.com/iggydv12/hubsim/internal/node"
	"github.com/iggydv12/hubsim/internal/timeline"
)

// Crash removes the given nodes from the run. When the hub is among them its
// slot is force-released and every connection collapses, as on churn.
func (d *Driver) Crash(ids ...identity.PeerID) error {
	for _, id := range ids {
		if _, ok := d.nodes[id]; !ok {
			return fmt.Errorf("crash %s: unknown node", id)
		}
	}
	holder, held := d.auth.CurrentHolder()
	hubCrashed := false
	for _, id := range ids {
		if held && id == holder {
			d.auth.ForceRelease()
			held = false
			hubCrashed = true
		}
		d.remove(id)
	}
	if hubCrashed {
		d.collapse()
		d.logger.Info("Hub crashed", zap.Int64("tick", d.now), zap.String("hub", string(holder)))
	}
	return nil
}

// ResetTo keeps only the given survivors, returns them to Idle under their
// own identity with no connections and empties the hub slot.
func (d *Driver) ResetTo(survivors ...identity.PeerID) error {
	keep := make(map[identity.PeerID]bool, len(survivors))
	for _, id := range survivors {
		if _, ok := d.nodes[id]; !ok {
			return fmt.Errorf("reset: unknown survivor %s", id)
		}
		keep[id] = true
	}

	d.auth.ForceRelease()
	for _, id := range append([]identity.PeerID(nil), d.order...) {
		if !keep[id] {
			d.remove(id)
		}
	}
	for _, id := range d.order {
		d.nodes[id].Reset()
	}
	d.logger.Info("World reset", zap.Int64("tick", d.now), zap.Int("survivors", len(d.order)))
	return nil
}

// SendFrom originates a message at node id as of the next tick.
func (d *Driver) SendFrom(id, target identity.PeerID, body string) error {
	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("send: unknown node %s", id)
	}
	return n.Send(d.now, target, body)
}

// Node returns the live node with the given identity, or nil.
func (d *Driver) Node(id identity.PeerID) *node.Node {
	return d.nodes[id]
}

// Nodes returns a snapshot of every live node in creation order.
func (d *Driver) Nodes() []node.Snapshot {
	out := make([]node.Snapshot, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id].Snapshot())
	}
	return out
}

// Hubs lists the live nodes currently acting as hub.
func (d *Driver) Hubs() []identity.PeerID {
	var hubs []identity.PeerID
	for _, id := range d.order {
		if d.nodes[id].Role() == node.RoleIsHub {
			hubs = append(hubs, id)
		}
	}
	return hubs
}

// Authority returns the hub slot arbiter of this run.
func (d *Driver) Authority() Arbiter { return d.auth }

// Now is the tick the next Step will run.
func (d *Driver) Now() int64 { return d.now }

// RunID identifies the run; it is derived from the seed.
func (d *Driver) RunID() string { return d.runID }

// Records returns the per-tick records collected so far.
func (d *Driver) Records() []timeline.Record {
	return append([]timeline.Record(nil), d.records...)
}
