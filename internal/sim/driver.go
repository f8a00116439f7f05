// Package sim drives the overlay in discrete ticks and checks the single-hub
// invariant after each one.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iggydv12/hubsim/internal/authority"
	"github.com/iggydv12/hubsim/internal/config"
	"github.com/iggydv12/hubsim/internal/identity"
	"github.com/iggydv12/hubsim/internal/metrics"
	"github.com/iggydv12/hubsim/internal/node"
	"github.com/iggydv12/hubsim/internal/timeline"
	"github.com/iggydv12/hubsim/internal/transport"
)

// ErrInvariantViolation means more than one node acts as hub, or a node acts
// as hub without holding the slot. It is a protocol bug and ends the run.
var ErrInvariantViolation = errors.New("single-hub invariant violated")

// Arbiter is the authority as seen by the driver, which additionally acts as
// the crash detector.
type Arbiter interface {
	node.Arbiter
	ForceRelease() (identity.PeerID, bool)
}

// Option customises a Driver.
type Option func(*Driver)

// WithArbiter replaces the default authority.
func WithArbiter(a Arbiter) Option {
	return func(d *Driver) { d.auth = a }
}

// WithMetrics publishes run metrics to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithArchive appends every tick record to store.
func WithArchive(store *timeline.Store) Option {
	return func(d *Driver) { d.archive = store }
}

// Driver owns the simulated world of one run.
type Driver struct {
	cfg     config.ScenarioConfig
	hubName identity.PeerID
	runID   string

	auth    Arbiter
	net     *transport.Transport
	nodes   map[identity.PeerID]*node.Node
	order   []identity.PeerID // live nodes in creation order
	rng     *rand.Rand
	metrics *metrics.Metrics
	archive *timeline.Store
	logger  *zap.Logger

	now        int64
	records    []timeline.Record
	removed    node.Stats // counters of nodes no longer in the run
	prev       node.Stats // totals at the end of the previous tick
	churns     uint64
	unroutable uint64
	splitBrain bool
	violation  error
}

// New builds the world for cfg: an empty hub slot, the transport and
// cfg.NodeCount idle nodes named u_000, u_001, ...
func New(cfg config.ScenarioConfig, logger *zap.Logger, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	runID, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}

	d := &Driver{
		cfg:     cfg,
		hubName: identity.PeerID(cfg.HubName),
		runID:   runID.String(),
		nodes:   make(map[identity.PeerID]*node.Node, cfg.NodeCount),
		rng:     rng,
		logger:  logger.With(zap.String("run", runID.String())),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.auth == nil {
		d.auth = authority.New()
	}
	if d.metrics == nil {
		d.metrics = metrics.New(nil)
	}

	d.net = transport.New(
		transport.Uniform{Max: cfg.MaxDelay},
		cfg.LossRate,
		rand.New(rand.NewSource(rng.Int63())),
		logger,
	)

	nodeCfg := node.Config{
		HubName:              d.hubName,
		RetryInterval:        cfg.RetryInterval,
		RetryJitter:          cfg.RetryJitter,
		PendingLimit:         cfg.PendingLimit,
		HandshakeFailureRate: cfg.HandshakeFailureRate,
	}
	for i := 0; i < cfg.NodeCount; i++ {
		id := identity.Sequential(i)
		d.nodes[id] = node.New(id, nodeCfg, d.auth, d.net, rand.New(rand.NewSource(rng.Int63())), logger)
		d.order = append(d.order, id)
	}

	d.logger.Info("Simulation ready",
		zap.Int("nodes", cfg.NodeCount),
		zap.Int("ticks", cfg.TickCount),
		zap.Int64("seed", cfg.Seed),
		zap.String("hubName", cfg.HubName),
	)
	return d, nil
}

// Run advances cfg.TickCount ticks, or until the invariant breaks or ctx is
// cancelled. The result is returned in every case; err is non-nil when the
// run was aborted.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	for d.now < int64(d.cfg.TickCount) {
		if err := ctx.Err(); err != nil {
			return d.Result(), err
		}
		if err := d.Step(); err != nil {
			return d.Result(), err
		}
	}
	return d.Result(), nil
}

// Step runs a single tick.
func (d *Driver) Step() error {
	if d.violation != nil {
		return d.violation
	}
	now := d.now

	churn := false
	if d.cfg.ChurnProbability > 0 && d.rng.Float64() < d.cfg.ChurnProbability {
		d.churn(now)
		churn = true
	}

	netBefore := d.net.Stats()
	unroutableBefore := d.unroutable
	if err := d.tickNodes(now); err != nil {
		return err
	}
	d.originate(now)
	d.deliver(now)
	cur := d.totals()
	delta := cur.Sub(d.prev)
	d.prev = cur
	d.metrics.TransportDropped.Add(float64(d.net.Stats().Dropped - netBefore.Dropped))
	d.metrics.Unroutable.Add(float64(d.unroutable - unroutableBefore))

	rec, hubs := d.observe(now, churn, delta)
	d.records = append(d.records, rec)
	if d.archive != nil {
		if err := d.archive.Append(rec); err != nil {
			d.logger.Warn("Timeline append failed", zap.Int64("tick", now), zap.Error(err))
		}
	}
	d.publish(rec, delta)

	d.now++
	if err := d.checkInvariants(now, hubs); err != nil {
		d.violation = err
		d.logger.Error("Invariant violation, aborting run", zap.Int64("tick", now), zap.Error(err))
		return err
	}
	return nil
}

// churn simulates a hub crash: the slot is force-released, the holder (if
// any) is reset to idle under its own identity and every connection
// collapses.
func (d *Driver) churn(now int64) {
	crashed, had := d.auth.ForceRelease()
	if had {
		if n, ok := d.nodes[crashed]; ok {
			n.Reset()
		}
	}
	d.collapse()
	flushed := 0
	if d.cfg.DropInFlightOnChurn {
		flushed = d.net.Reset()
	}
	if had && d.cfg.RemoveCrashedHub {
		d.remove(crashed)
	}
	d.churns++
	d.logger.Info("Churn injected",
		zap.Int64("tick", now),
		zap.String("hub", crashed.String()),
		zap.Int("flushed", flushed),
	)
}

// collapse drops every connection record. All peers were one hop from the
// hub, so losing it takes the whole topology down.
func (d *Driver) collapse() {
	for _, id := range d.order {
		d.nodes[id].ClearConnections()
	}
}

// tickNodes steps every live node in a freshly shuffled order. In parallel
// mode the nodes are stepped concurrently; the authority and transport
// serialise their own state.
func (d *Driver) tickNodes(now int64) error {
	ids := slices.Clone(d.order)
	d.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	if !d.cfg.Parallel {
		for _, id := range ids {
			d.logOutcome(now, id, d.nodes[id].Tick(now))
		}
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, id := range ids {
		n := d.nodes[id]
		eg.Go(func() error {
			d.logOutcome(now, n.ID(), n.Tick(now))
			return nil
		})
	}
	return eg.Wait()
}

func (d *Driver) logOutcome(now int64, id identity.PeerID, err error) {
	if err == nil {
		return
	}
	d.logger.Debug("Node outcome",
		zap.Int64("tick", now),
		zap.String("node", string(id)),
		zap.Error(err),
	)
}

// originate lets every live node broadcast a message with the configured
// probability.
func (d *Driver) originate(now int64) {
	if d.cfg.SendProbability <= 0 {
		return
	}
	for _, id := range d.order {
		if d.rng.Float64() >= d.cfg.SendProbability {
			continue
		}
		body := fmt.Sprintf("%s-%d", id, now)
		if err := d.nodes[id].Send(now, identity.Broadcast, body); err != nil {
			d.logOutcome(now, id, err)
		}
	}
}

// deliver hands every due packet to its destination. The hub name is
// resolved through the authority at delivery time.
func (d *Driver) deliver(now int64) {
	for _, pkt := range d.net.DeliverDue(now) {
		dst := d.resolve(pkt.Destination)
		if dst == nil {
			d.unroutable++
			d.logger.Debug("Unroutable packet", zap.Stringer("packet", pkt))
			continue
		}
		dst.Receive(now, pkt)
	}
}

func (d *Driver) resolve(id identity.PeerID) *node.Node {
	if id == d.hubName {
		holder, ok := d.auth.CurrentHolder()
		if !ok {
			return nil
		}
		id = holder
	}
	return d.nodes[id]
}

// totals sums the counters of every node that ever took part in the run.
func (d *Driver) totals() node.Stats {
	s := d.removed
	for _, id := range d.order {
		s = s.Add(d.nodes[id].Stats())
	}
	return s
}

// observe builds the tick record and returns the nodes acting as hub.
func (d *Driver) observe(now int64, churn bool, delta node.Stats) (timeline.Record, []identity.PeerID) {
	var hubs []identity.PeerID
	orphans := 0
	for _, id := range d.order {
		role := d.nodes[id].Role()
		if role == node.RoleIsHub {
			hubs = append(hubs, id)
		}
		if role.IsOrphan() {
			orphans++
		}
	}
	holder, _ := d.auth.CurrentHolder()
	return timeline.Record{
		Tick:       now,
		Hub:        string(holder),
		Generation: d.auth.Generation(),
		Orphans:    int32(orphans),
		Live:       int32(len(d.order)),
		Hubs:       int32(len(hubs)),
		Sent:       int32(delta.Originated),
		Delivered:  int32(delta.Delivered),
		InFlight:   int32(d.net.Len()),
		Churn:      churn,
	}, hubs
}

func (d *Driver) publish(rec timeline.Record, delta node.Stats) {
	m := d.metrics
	m.Sent.Add(float64(delta.Originated))
	m.Delivered.Add(float64(delta.Delivered))
	m.PendingDropped.Add(float64(delta.PendingDropped))
	m.Elections.Add(float64(delta.Elections))
	m.Demotions.Add(float64(delta.Demotions))
	m.Conflicts.Add(float64(delta.RegistrationConflicts))
	m.HandshakeFailures.Add(float64(delta.HandshakeFailures))
	m.ConnectionsLost.Add(float64(delta.ConnectionsLost))
	if rec.Churn {
		m.ChurnEvents.Inc()
	}
	m.Orphans.Set(float64(rec.Orphans))
	m.Live.Set(float64(rec.Live))
	m.InFlight.Set(float64(rec.InFlight))
	m.Tick.Set(float64(rec.Tick))
	if rec.Hub != "" {
		m.HubPresent.Set(1)
	} else {
		m.HubPresent.Set(0)
	}
}

// checkInvariants fails when more than one node acts as hub, or when the
// only hub is not the slot holder.
func (d *Driver) checkInvariants(now int64, hubs []identity.PeerID) error {
	holder, _ := d.auth.CurrentHolder()
	switch {
	case len(hubs) > 1:
		d.splitBrain = true
		return fmt.Errorf("%w: tick %d: %d nodes act as hub %v, authority holder is %s",
			ErrInvariantViolation, now, len(hubs), hubs, holder)
	case len(hubs) == 1 && hubs[0] != holder:
		return fmt.Errorf("%w: tick %d: %s acts as hub, authority holder is %s",
			ErrInvariantViolation, now, hubs[0], holder)
	}
	return nil
}

// remove takes a node out of the run. Its identity is never reused.
func (d *Driver) remove(id identity.PeerID) {
	n, ok := d.nodes[id]
	if !ok {
		return
	}
	d.removed = d.removed.Add(n.Stats())
	d.removed.PendingDropped += uint64(len(n.Pending()))
	delete(d.nodes, id)
	d.order = slices.DeleteFunc(d.order, func(x identity.PeerID) bool { return x == id })
	d.logger.Info("Node removed", zap.String("node", string(id)), zap.Int("live", len(d.order)))
}
