package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iggydv12/hubsim/internal/metrics"
)

func TestRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Sent.Add(3)
	m.Orphans.Set(7)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Sent))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Orphans))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hubsim_messages_sent_total"])
	assert.True(t, names["hubsim_orphans"])
}

func TestUnregistered(t *testing.T) {
	a := metrics.New(nil)
	b := metrics.New(nil)
	a.Delivered.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Delivered))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Delivered))
}
