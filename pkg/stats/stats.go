package stats

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	megabyte = 1 << 20
	// DumpFile is the name of the file metrics are appended to.
	DumpFile = "stats"
)

// RuntimeStats is a snapshot of the memory and goroutines of the process.
type RuntimeStats struct {
	TotalAllocMB float64
	HeapAllocMB  float64
	Mallocs      uint64
	Frees        uint64
	Goroutines   int
}

// ReadRuntimeStats ...
func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return RuntimeStats{
		TotalAllocMB: float64(m.TotalAlloc) / megabyte,
		HeapAllocMB:  float64(m.HeapAlloc) / megabyte,
		Mallocs:      m.Mallocs,
		Frees:        m.Frees,
		Goroutines:   runtime.NumGoroutine(),
	}
}

func (s RuntimeStats) fields() log.Fields {
	return log.Fields{
		"total_alloc_mb": fmt.Sprintf("%.2f", s.TotalAllocMB),
		"heap_alloc_mb":  fmt.Sprintf("%.2f", s.HeapAllocMB),
		"mallocs":        s.Mallocs,
		"frees":          s.Frees,
		"goroutines":     s.Goroutines,
	}
}

// EnableMemoryStatistics logs the runtime stats every interval until ctx is
// done, then dumps the prometheus metrics, protocol counters included, to
// dumpDir.
func EnableMemoryStatistics(
	ctx context.Context, interval time.Duration, dumpDir string,
) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.WithFields(ReadRuntimeStats().fields()).Info("runtime stats")
			case <-ctx.Done():
				if err := DumpPrometheusDefaults(dumpDir); err != nil {
					log.WithError(err).Warn("failed to dump prometheus metrics")
				}
				return
			}
		}
	}()
}

// DumpPrometheusDefaults appends the metrics of the default registry to the
// dump file in dir, preceded by a timestamp line.
func DumpPrometheusDefaults(dir string) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(
		filepath.Join(dir, DumpFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644,
	)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := fmt.Fprintf(w, "# dump %s\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	for _, f := range families {
		if _, err := fmt.Fprintln(w, f.String()); err != nil {
			return err
		}
	}
	return w.Flush()
}
