package stats_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/p2p-escrow/trade-daemon/pkg/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/require"
)

func TestDumpPrometheusDefaults(t *testing.T) {
	counter := promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stats_test",
		Name:      "dumped_total",
	})
	counter.Inc()

	dir := t.TempDir()
	require.NoError(t, stats.DumpPrometheusDefaults(dir))
	require.NoError(t, stats.DumpPrometheusDefaults(dir))

	buf, err := os.ReadFile(filepath.Join(dir, stats.DumpFile))
	require.NoError(t, err)
	require.Contains(t, string(buf), "stats_test_dumped_total")
}

func TestReadRuntimeStats(t *testing.T) {
	s := stats.ReadRuntimeStats()
	require.Positive(t, s.Goroutines)
	require.Positive(t, s.HeapAllocMB)
	require.GreaterOrEqual(t, s.Mallocs, s.Frees)
}
