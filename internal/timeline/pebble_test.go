package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/timeline"
)

func setupStore(t *testing.T, path string) *timeline.Store {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	s, err := timeline.Open(path, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInMemoryAppendGet(t *testing.T) {
	s := setupStore(t, "")
	assert.True(t, s.InMemory())

	rec := timeline.Record{Tick: 3, Hub: "u_007", Generation: 2, Orphans: 4, Live: 50, Hubs: 1, Sent: 5, Delivered: 40, InFlight: 2, Churn: true}
	require.NoError(t, s.Append(rec))

	got, err := s.Get(3)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestGetMissing(t *testing.T) {
	s := setupStore(t, "")
	_, err := s.Get(99)
	assert.ErrorIs(t, err, timeline.ErrNotFound)
}

func TestRecordsInTickOrder(t *testing.T) {
	s := setupStore(t, "")
	for _, tick := range []int64{300, 2, 17, 0, 256} {
		require.NoError(t, s.Append(timeline.Record{Tick: tick}))
	}
	recs, err := s.Records()
	require.NoError(t, err)
	require.Len(t, recs, 5)
	want := []int64{0, 2, 17, 256, 300}
	for i, r := range recs {
		assert.Equal(t, want[i], r.Tick)
	}
}

func TestAppendReplacesTick(t *testing.T) {
	s := setupStore(t, "")
	require.NoError(t, s.Append(timeline.Record{Tick: 1, Sent: 1}))
	require.NoError(t, s.Append(timeline.Record{Tick: 1, Sent: 9}))
	got, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, int32(9), got.Sent)
}

func TestTruncate(t *testing.T) {
	s := setupStore(t, "")
	for i := int64(0); i < 10; i++ {
		require.NoError(t, s.Append(timeline.Record{Tick: i}))
	}
	require.NoError(t, s.Truncate())
	recs, err := s.Records()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOnDiskSurvivesReopen(t *testing.T) {
	dir := t.TempDir() + "/archive"
	logger := zap.NewNop()

	s, err := timeline.Open(dir, logger)
	require.NoError(t, err)
	assert.False(t, s.InMemory())
	require.NoError(t, s.Append(timeline.Record{Tick: 4, Hub: "u_001", Live: 2}))
	require.NoError(t, s.Close())

	reopened, err := timeline.Open(dir, logger)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(4)
	require.NoError(t, err)
	assert.Equal(t, "u_001", got.Hub)
	assert.Equal(t, int32(2), got.Live)
}

func TestRecordString(t *testing.T) {
	r := timeline.Record{Tick: 10, Orphans: 3, Live: 5}
	assert.Equal(t, "T=10 hub=none orphans=3 live=5 sent=0 delivered=0", r.String())
}
