package transport_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/identity"
	"github.com/iggydv12/hubsim/internal/transport"
)

func newTransport(delay transport.DelayDistribution, loss float64) *transport.Transport {
	return transport.New(delay, loss, rand.New(rand.NewSource(7)), zap.NewNop())
}

func msg(id uint64) transport.Packet {
	return transport.Packet{
		Source:      "u_000",
		Destination: "u_001",
		Kind:        transport.KindMessage,
		Payload:     transport.Message{ID: id, Origin: "u_000", Target: identity.Broadcast},
	}
}

func TestZeroDelayDeliversSameTick(t *testing.T) {
	tr := newTransport(transport.Fixed{}, 0)
	require.True(t, tr.Send(5, msg(1)))

	due := tr.DeliverDue(5)
	require.Len(t, due, 1)
	assert.Equal(t, int64(5), due[0].ScheduledArrival)
	assert.Equal(t, 0, tr.Len())
}

func TestDeliverDueKeepsFuturePackets(t *testing.T) {
	tr := newTransport(transport.Fixed{Ticks: 2}, 0)
	tr.Send(0, msg(1))
	tr.Send(1, msg(2))

	assert.Empty(t, tr.DeliverDue(1))
	due := tr.DeliverDue(2)
	require.Len(t, due, 1)
	assert.Equal(t, uint64(1), due[0].Payload.ID)
	assert.Equal(t, 1, tr.Len())

	due = tr.DeliverDue(3)
	require.Len(t, due, 1)
	assert.Equal(t, uint64(2), due[0].Payload.ID)
}

func TestDeliveryIsInsertionOrder(t *testing.T) {
	tr := newTransport(transport.Uniform{Max: 3}, 0)
	for i := uint64(1); i <= 50; i++ {
		tr.Send(0, msg(i))
	}
	due := tr.DeliverDue(10)
	require.Len(t, due, 50)
	for i, pkt := range due {
		assert.Equal(t, uint64(i+1), pkt.Payload.ID)
	}
}

func TestUniformDelayBounds(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	u := transport.Uniform{Max: 3}
	seen := map[int64]bool{}
	for i := 0; i < 1000; i++ {
		d := u.Draw(r)
		assert.GreaterOrEqual(t, d, int64(0))
		assert.LessOrEqual(t, d, int64(3))
		seen[d] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, int64(0), transport.Uniform{}.Draw(r))
}

func TestLossRate(t *testing.T) {
	tr := newTransport(nil, 1)
	for i := uint64(0); i < 10; i++ {
		assert.False(t, tr.Send(0, msg(i)))
	}
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, uint64(10), tr.Stats().Dropped)

	partial := newTransport(nil, 0.5)
	accepted := 0
	for i := uint64(0); i < 2000; i++ {
		if partial.Send(0, msg(i)) {
			accepted++
		}
	}
	assert.InDelta(t, 1000, accepted, 150)
}

func TestNoDuplicates(t *testing.T) {
	tr := newTransport(transport.Uniform{Max: 2}, 0)
	for i := uint64(0); i < 100; i++ {
		tr.Send(0, msg(i))
	}
	seen := map[uint64]bool{}
	for now := int64(0); now < 5; now++ {
		for _, pkt := range tr.DeliverDue(now) {
			assert.False(t, seen[pkt.Payload.ID], "packet %d delivered twice", pkt.Payload.ID)
			seen[pkt.Payload.ID] = true
		}
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, uint64(100), tr.Stats().Delivered)
}

func TestReset(t *testing.T) {
	tr := newTransport(transport.Fixed{Ticks: 5}, 0)
	tr.Send(0, msg(1))
	tr.Send(0, msg(2))
	assert.Equal(t, 2, tr.Reset())
	assert.Empty(t, tr.DeliverDue(100))
	assert.Equal(t, uint64(2), tr.Stats().Flushed)
}

func TestConcurrentSend(t *testing.T) {
	tr := newTransport(nil, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				tr.Send(0, msg(base+i))
			}
		}(uint64(g) * 1000)
	}
	wg.Wait()
	assert.Len(t, tr.DeliverDue(0), 800)
}
