package kvstore

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := &Store{Dir: t.TempDir(), Registerer: reg}
	require.NoError(t, OpenStore(s))
	defer s.Close()

	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	_, err := s.Remove("a")
	require.NoError(t, err)

	m := s.metrics
	assert.Equal(t, 3.0, testutil.ToFloat64(m.appends))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.appendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveKeys))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logRecords))
	assert.Equal(t, float64(s.Stats().FileSize), testutil.ToFloat64(m.logSize))

	n, err := testutil.GatherAndCount(reg,
		"kvstore_appends_total",
		"kvstore_compactions_total",
		"kvstore_compaction_duration_seconds",
		"kvstore_live_keys",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestMetricsUnregisterOnClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	dir := t.TempDir()
	s := &Store{Dir: dir, Registerer: reg}
	require.NoError(t, OpenStore(s))

	// the same registry can't hold two stores
	s2 := &Store{Dir: t.TempDir(), Registerer: reg}
	require.Error(t, OpenStore(s2))

	require.NoError(t, s.Close())
	s = &Store{Dir: dir, Registerer: reg}
	require.NoError(t, OpenStore(s))
	require.NoError(t, s.Close())
}

func TestMetricsWithoutRegisterer(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	require.NoError(t, s.Set("a", "1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.appends))
}
