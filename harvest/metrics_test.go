package harvest

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsSummary(t *testing.T) {
	m := NewMetrics(nil)
	m.DownloadSucceeded(false)
	m.DownloadSucceeded(true)
	m.DownloadFailed()
	m.ConversionSkipped("already delivered")
	m.SourceSkipped("outside update window", 3)
	m.SourceSkipped("ignored", 0)
	m.ConversionFailed()
	m.RecordEmitted("IxTheo")

	var out strings.Builder
	m.Summary(&out)
	summary := out.String()

	assert.Contains(t, summary, "downloads successful:   2")
	assert.Contains(t, summary, "downloads unsuccessful: 1")
	assert.Contains(t, summary, "downloads from cache:   1")
	assert.Contains(t, summary, "conversion errors:      1")
	assert.Contains(t, summary, "skipped (already delivered): 1")
	assert.Contains(t, summary, "skipped (outside update window): 3")
	assert.NotContains(t, summary, "ignored")
	assert.Contains(t, summary, "records emitted:        1")
	assert.Contains(t, summary, "IxTheo: 1")
}

func TestMetricsFeedPrometheusCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.DownloadSucceeded(false)
	m.DownloadFailed()
	m.RecordEmitted("IxTheo")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.promDownloads.WithLabelValues("successful")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.promDownloads.WithLabelValues("unsuccessful")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.promEmitted.WithLabelValues("IxTheo")))
}
