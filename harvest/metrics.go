package harvest

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what happened during a run. The prometheus collectors feed
// the optional scrape endpoint; the atomics back the end-of-run summary.
type Metrics struct {
	downloadsSuccessful   atomic.Uint64
	downloadsUnsuccessful atomic.Uint64
	downloadsCached       atomic.Uint64
	recordsEmitted        atomic.Uint64
	conversionErrors      atomic.Uint64

	mu             sync.Mutex
	skipped        map[string]uint64
	recordsByGroup map[string]uint64

	promDownloads  *prometheus.CounterVec
	promSkipped    *prometheus.CounterVec
	promEmitted    *prometheus.CounterVec
	promConvErrors prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		skipped:        make(map[string]uint64),
		recordsByGroup: make(map[string]uint64),
		promDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_downloads_total",
			Help: "Download attempts by outcome.",
		}, []string{"outcome"}),
		promSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_conversions_skipped_total",
			Help: "Conversion items skipped by reason.",
		}, []string{"reason"}),
		promEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_records_emitted_total",
			Help: "Catalog records written per group.",
		}, []string{"group"}),
		promConvErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_conversion_errors_total",
			Help: "Items whose conversion failed outright.",
		}),
	}
	if registry != nil {
		registry.MustRegister(m.promDownloads, m.promSkipped, m.promEmitted, m.promConvErrors)
	}
	return m
}

func (m *Metrics) DownloadSucceeded(fromCache bool) {
	m.downloadsSuccessful.Add(1)
	m.promDownloads.WithLabelValues("successful").Inc()
	if fromCache {
		m.downloadsCached.Add(1)
	}
}

func (m *Metrics) DownloadFailed() {
	m.downloadsUnsuccessful.Add(1)
	m.promDownloads.WithLabelValues("unsuccessful").Inc()
}

func (m *Metrics) ConversionSkipped(reason string) {
	m.mu.Lock()
	m.skipped[reason]++
	m.mu.Unlock()
	m.promSkipped.WithLabelValues(reason).Inc()
}

// SourceSkipped counts entries a source operation filtered out before they
// ever became downloads.
func (m *Metrics) SourceSkipped(reason string, n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.skipped[reason] += uint64(n)
	m.mu.Unlock()
	m.promSkipped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ConversionFailed() {
	m.conversionErrors.Add(1)
	m.promConvErrors.Inc()
}

func (m *Metrics) RecordEmitted(group string) {
	m.recordsEmitted.Add(1)
	m.mu.Lock()
	m.recordsByGroup[group]++
	m.mu.Unlock()
	m.promEmitted.WithLabelValues(group).Inc()
}

// Summary writes the end-of-run counters in a stable order.
func (m *Metrics) Summary(w io.Writer) {
	fmt.Fprintf(w, "downloads successful:   %d\n", m.downloadsSuccessful.Load())
	fmt.Fprintf(w, "downloads unsuccessful: %d\n", m.downloadsUnsuccessful.Load())
	fmt.Fprintf(w, "downloads from cache:   %d\n", m.downloadsCached.Load())
	fmt.Fprintf(w, "conversion errors:      %d\n", m.conversionErrors.Load())

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reason := range sortedKeys(m.skipped) {
		fmt.Fprintf(w, "skipped (%s): %d\n", reason, m.skipped[reason])
	}
	fmt.Fprintf(w, "records emitted:        %d\n", m.recordsEmitted.Load())
	for _, group := range sortedKeys(m.recordsByGroup) {
		fmt.Fprintf(w, "  %s: %d\n", group, m.recordsByGroup[group])
	}
}

func sortedKeys(counts map[string]uint64) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
