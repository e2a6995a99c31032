package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.PassageAdded(PathCreated)
	c.PassageAdded(PathAttached)
	c.PassageAdded(PathAttached)
	c.MergeFinished(ResultPartial, 1)
	c.MergeFinished(ResultOK, 2)
	c.Enrichment(ResultFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PassagesAdded.WithLabelValues(PathAttached)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PassagesAdded.WithLabelValues(PathCreated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Merges.WithLabelValues(ResultPartial)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SourcesMerged))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EnrichmentRequests.WithLabelValues(ResultFailed)))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.PassageAdded(PathCreated)
		c.MergeFinished(ResultOK, 1)
		c.Enrichment(ResultOK)
	})
}

func TestCollector_Independent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.PassageAdded(PathCreated)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.PassagesAdded.WithLabelValues(PathCreated)))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.MergeFinished(ResultOK, 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `sugya_merges_total{result="ok"} 1`)
}
