// Package transport models the network between peers as an abstract channel
// with a delay distribution and a loss probability. It offers no retry,
// acknowledgement or ordering guarantees; reliability is the job of the node
// state machine above it.
package transport

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"
)

// DelayDistribution draws the number of ticks a packet spends in flight.
type DelayDistribution interface {
	Draw(r *rand.Rand) int64
}

// Uniform draws delays uniformly from [0, Max].
type Uniform struct {
	Max int64
}

func (u Uniform) Draw(r *rand.Rand) int64 {
	if u.Max <= 0 {
		return 0
	}
	return r.Int63n(u.Max + 1)
}

// Fixed always returns the same delay.
type Fixed struct {
	Ticks int64
}

func (f Fixed) Draw(*rand.Rand) int64 {
	if f.Ticks < 0 {
		return 0
	}
	return f.Ticks
}

// Stats are cumulative counters for a Transport.
type Stats struct {
	Sent      uint64 // accepted into the channel
	Dropped   uint64 // discarded by the loss model
	Delivered uint64 // handed out by DeliverDue
	Flushed   uint64 // discarded by Reset
}

// Transport is the in-flight packet queue. Send and DeliverDue are
// serialised so several nodes may enqueue during the same tick.
type Transport struct {
	mu       sync.Mutex
	queue    []Packet
	delay    DelayDistribution
	lossRate float64
	rng      *rand.Rand
	stats    Stats
	logger   *zap.Logger
}

// New creates a Transport. A nil delay distribution means zero delay.
func New(delay DelayDistribution, lossRate float64, rng *rand.Rand, logger *zap.Logger) *Transport {
	if delay == nil {
		delay = Fixed{}
	}
	return &Transport{
		delay:    delay,
		lossRate: lossRate,
		rng:      rng,
		logger:   logger,
	}
}

// Send schedules pkt for arrival at now plus a drawn delay. With probability
// lossRate the packet is silently discarded and false is returned.
func (t *Transport) Send(now int64, pkt Packet) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lossRate > 0 && t.rng.Float64() < t.lossRate {
		t.stats.Dropped++
		t.logger.Debug("Packet lost",
			zap.Stringer("kind", pkt.Kind),
			zap.String("src", string(pkt.Source)),
			zap.String("dst", string(pkt.Destination)),
			zap.Int64("tick", now),
		)
		return false
	}

	pkt.ScheduledArrival = now + t.delay.Draw(t.rng)
	t.queue = append(t.queue, pkt)
	t.stats.Sent++
	return true
}

// DeliverDue removes and returns every packet whose scheduled arrival is at
// or before now, in insertion order. Packets sent while the caller handles
// the result are not part of this pass.
func (t *Transport) DeliverDue(now int64) []Packet {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []Packet
	remaining := t.queue[:0]
	for _, pkt := range t.queue {
		if pkt.ScheduledArrival <= now {
			due = append(due, pkt)
		} else {
			remaining = append(remaining, pkt)
		}
	}
	// clear the tail so dropped packets can be collected
	for i := len(remaining); i < len(t.queue); i++ {
		t.queue[i] = Packet{}
	}
	t.queue = remaining
	t.stats.Delivered += uint64(len(due))
	return due
}

// Len returns the number of packets in flight.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Reset discards every packet in flight and returns how many were dropped.
func (t *Transport) Reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.queue)
	t.queue = nil
	t.stats.Flushed += uint64(n)
	return n
}

// Stats returns a copy of the cumulative counters.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
