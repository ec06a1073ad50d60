// Package metrics exposes registry activity as Prometheus collectors. A nil
// *Collectors is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "registry"

// Collectors groups the registry's metrics.
type Collectors struct {
	buckets        *prometheus.CounterVec
	batches        *prometheus.CounterVec
	entries        prometheus.Counter
	committedBytes prometheus.Counter
	finalizations  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		buckets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bucket_operations_total",
			Help:      "Buckets created or removed by the registry.",
		}, []string{"operation"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batch_transitions_total",
			Help:      "Batch lifecycle transitions by resulting status.",
		}, []string{"status"}),
		entries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batch_entries_total",
			Help:      "Entries recorded in batches.",
		}),
		committedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "committed_bytes_total",
			Help:      "Bytes folded into dataset aggregates by batch commits.",
		}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batch_finalizations_total",
			Help:      "Staged-object finalization jobs by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(c.buckets, c.batches, c.entries, c.committedBytes, c.finalizations)
	}
	return c
}

func (c *Collectors) BucketCreated() {
	if c != nil {
		c.buckets.WithLabelValues("create").Inc()
	}
}

func (c *Collectors) BucketRemoved() {
	if c != nil {
		c.buckets.WithLabelValues("remove").Inc()
	}
}

// BatchTransition counts a batch reaching status.
func (c *Collectors) BatchTransition(status string) {
	if c != nil {
		c.batches.WithLabelValues(status).Inc()
	}
}

func (c *Collectors) EntryAdded() {
	if c != nil {
		c.entries.Inc()
	}
}

func (c *Collectors) BytesCommitted(n int64) {
	if c != nil && n > 0 {
		c.committedBytes.Add(float64(n))
	}
}

// Finalization counts a promote or purge job.
func (c *Collectors) Finalization(kind string, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.finalizations.WithLabelValues(kind, outcome).Inc()
}
