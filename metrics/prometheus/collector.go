// Package prometheus exports index metrics to a Prometheus registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/jsonindex/metrics"
)

const namespace = "jsonindex"

var _ metrics.Collector = (*Collector)(nil)

// Collector implements metrics.Collector with Prometheus instruments.
type Collector struct {
	opLatency      *prometheus.HistogramVec
	documents      *prometheus.CounterVec
	searchHits     prometheus.Histogram
	commits        *prometheus.CounterVec
	committed      prometheus.Counter
	snapshots      *prometheus.CounterVec
	snapshotBytes  prometheus.Counter
	restores       *prometheus.CounterVec
	leasesRecalled prometheus.Counter
}

// New registers the index instruments with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		opLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of index operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_total",
			Help:      "Document writes by operation and status.",
		}, []string{"op", "status"}),
		searchHits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_hits",
			Help:      "Number of hits returned per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commit attempts by status.",
		}, []string{"status"}),
		committed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_writes_total",
			Help:      "Writes made durable by successful commits.",
		}),
		snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Snapshot attempts by status.",
		}, []string{"status"}),
		snapshotBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_bytes_total",
			Help:      "Index bytes archived by successful snapshots.",
		}),
		restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restore runs by outcome.",
		}, []string{"outcome"}),
		leasesRecalled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_recalled_total",
			Help:      "Writer leases recalled before a destructive operation.",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordDocument implements metrics.Collector.
func (c *Collector) RecordDocument(op string, d time.Duration, err error) {
	c.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
	c.documents.WithLabelValues(op, status(err)).Inc()
}

// RecordSearch implements metrics.Collector.
func (c *Collector) RecordSearch(hits int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
	if err == nil {
		c.searchHits.Observe(float64(hits))
	}
}

// RecordCommit implements metrics.Collector.
func (c *Collector) RecordCommit(writes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
	c.commits.WithLabelValues(status(err)).Inc()
	if err == nil {
		c.committed.Add(float64(writes))
	}
}

// RecordSnapshot implements metrics.Collector.
func (c *Collector) RecordSnapshot(bytes int64, d time.Duration, err error) {
	c.opLatency.WithLabelValues("snapshot", status(err)).Observe(d.Seconds())
	c.snapshots.WithLabelValues(status(err)).Inc()
	if err == nil {
		c.snapshotBytes.Add(float64(bytes))
	}
}

// RecordRestore implements metrics.Collector.
func (c *Collector) RecordRestore(restored bool, d time.Duration) {
	outcome := "restored"
	if !restored {
		outcome = "none"
	}
	c.opLatency.WithLabelValues("restore", "success").Observe(d.Seconds())
	c.restores.WithLabelValues(outcome).Inc()
}

// RecordLeaseRecall implements metrics.Collector.
func (c *Collector) RecordLeaseRecall(n int) {
	c.leasesRecalled.Add(float64(n))
}
