package sim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/config"
	"github.com/iggydv12/hubsim/internal/identity"
	"github.com/iggydv12/hubsim/internal/node"
)

const (
	survivorWarmup   = 10
	survivorDeadline = 20
	survivorSettle   = 5
)

// ErrNoRecovery means the survivors did not settle into hub and connected
// peer before the deadline.
var ErrNoRecovery = errors.New("survivors did not recover")

// SurvivorsResult describes the two-survivor recovery experiment.
type SurvivorsResult struct {
	Survivors   []identity.PeerID `json:"survivors"`
	Hub         identity.PeerID   `json:"hub"`
	RecoveredIn int64             `json:"recoveredIn"`
	Delivered   bool              `json:"delivered"`
	Run         *Result           `json:"run"`
}

// RunSurvivors warms the world up, resets it down to u_000 and u_001, waits
// for them to re-elect and connect, then checks that a message from u_000
// reaches u_001.
func RunSurvivors(ctx context.Context, cfg config.ScenarioConfig, logger *zap.Logger, opts ...Option) (*SurvivorsResult, error) {
	if cfg.NodeCount < 2 {
		return nil, fmt.Errorf("survivors: need at least 2 nodes, got %d", cfg.NodeCount)
	}
	d, err := New(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	for i := 0; i < survivorWarmup; i++ {
		if err := d.Step(); err != nil {
			return nil, err
		}
	}

	from, to := identity.Sequential(0), identity.Sequential(1)
	if err := d.ResetTo(from, to); err != nil {
		return nil, err
	}
	res := &SurvivorsResult{Survivors: []identity.PeerID{from, to}}

	start := d.Now()
	for d.Now()-start < survivorDeadline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.Step(); err != nil {
			return nil, err
		}
		if hub, ok := settled(d, from, to); ok {
			res.Hub = hub
			res.RecoveredIn = d.Now() - start
			break
		}
	}
	if res.Hub.IsNone() {
		res.Run = d.Result()
		return res, fmt.Errorf("%w within %d ticks", ErrNoRecovery, survivorDeadline)
	}

	body := fmt.Sprintf("%s-survived", from)
	if err := d.SendFrom(from, to, body); err != nil && !errors.Is(err, node.ErrMessageUndeliverable) {
		return nil, err
	}
	for i := 0; i < survivorSettle && !res.Delivered; i++ {
		if err := d.Step(); err != nil {
			return nil, err
		}
		for _, msg := range d.Node(to).Inbox() {
			if msg.Origin == from && msg.Body == body {
				res.Delivered = true
			}
		}
	}

	res.Run = d.Result()
	logger.Info("Survivors settled",
		zap.String("hub", string(res.Hub)),
		zap.Int64("recoveredIn", res.RecoveredIn),
		zap.Bool("delivered", res.Delivered),
	)
	return res, nil
}

// settled reports the hub once one survivor is the hub and the other is
// connected to it with its handshake accepted.
func settled(d *Driver, a, b identity.PeerID) (identity.PeerID, bool) {
	na, nb := d.Node(a), d.Node(b)
	hub, peer := na, nb
	if nb.Role() == node.RoleIsHub {
		hub, peer = nb, na
	}
	if hub.Role() != node.RoleIsHub || peer.Role() != node.RoleConnectedToHub {
		return identity.None, false
	}
	if !hub.HasConnection(peer.ID()) {
		return identity.None, false
	}
	return hub.ID(), true
}
