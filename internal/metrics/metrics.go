// Package metrics exposes Prometheus counters for the passage workflows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sugya"

// Label values for PassagesAdded.
const (
	PathAttached = "attached"
	PathCreated  = "created"
)

// Label values for Merges and EnrichmentRequests.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Collector holds the application counters on a private registry so tests can
// build as many as they like.
type Collector struct {
	registry *prometheus.Registry

	PassagesAdded      *prometheus.CounterVec
	Merges             *prometheus.CounterVec
	SourcesMerged      prometheus.Counter
	EnrichmentRequests *prometheus.CounterVec
}

// NewCollector creates and registers the counters.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		PassagesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passages_added_total",
				Help:      "Passages added, by whether they attached to an existing tree or created one",
			},
			[]string{"path"},
		),
		Merges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_total",
				Help:      "Merge requests by outcome",
			},
			[]string{"result"},
		),
		SourcesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merge_sources_folded_total",
				Help:      "Source trees folded into a target and deleted",
			},
		),
		EnrichmentRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_requests_total",
				Help:      "Content enrichment calls by outcome",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(c.PassagesAdded, c.Merges, c.SourcesMerged, c.EnrichmentRequests)
	return c
}

// Registry returns the registry the counters live on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so callers without metrics can pass nil.

// PassageAdded records one add-passage outcome.
func (c *Collector) PassageAdded(path string) {
	if c == nil {
		return
	}
	c.PassagesAdded.WithLabelValues(path).Inc()
}

// MergeFinished records one merge outcome and how many sources it folded.
func (c *Collector) MergeFinished(result string, folded int) {
	if c == nil {
		return
	}
	c.Merges.WithLabelValues(result).Inc()
	c.SourcesMerged.Add(float64(folded))
}

// Enrichment records one enrichment call outcome.
func (c *Collector) Enrichment(result string) {
	if c == nil {
		return
	}
	c.EnrichmentRequests.WithLabelValues(result).Inc()
}
