// Package artprom exports olcart metrics to Prometheus.
package artprom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ezreal1997/olcart"
)

const namespace = "olcart"

// Collector implements olcart.MetricsCollector on Prometheus metrics.
type Collector struct {
	opLatency *prometheus.HistogramVec
	results   prometheus.Histogram
	restarts  prometheus.Counter
	reclaimed prometheus.Counter
}

var _ olcart.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of tree operations",
			Buckets:   prometheus.ExponentialBuckets(50e-9, 4, 12),
		}, []string{"op", "status"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "range_results",
			Help:      "Number of TIDs returned by range lookups",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Traversals restarted after a concurrent change",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_nodes_total",
			Help:      "Inner nodes freed by epoch reclamation",
		}),
	}

	for _, m := range []prometheus.Collector{c.opLatency, c.results, c.restarts, c.reclaimed} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is New that panics on registration errors.
func MustNew(reg prometheus.Registerer) *Collector {
	c, err := New(reg)
	if err != nil {
		panic(err)
	}
	return c
}

// RecordLookup implements olcart.MetricsCollector.
func (c *Collector) RecordLookup(d time.Duration, found bool) {
	status := "hit"
	if !found {
		status = "miss"
	}
	c.opLatency.WithLabelValues("lookup", status).Observe(d.Seconds())
}

// RecordRangeLookup implements olcart.MetricsCollector.
func (c *Collector) RecordRangeLookup(d time.Duration, results int) {
	c.opLatency.WithLabelValues("range", "success").Observe(d.Seconds())
	c.results.Observe(float64(results))
}

// RecordInsert implements olcart.MetricsCollector.
func (c *Collector) RecordInsert(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.opLatency.WithLabelValues("insert", status).Observe(d.Seconds())
}

// RecordRemove implements olcart.MetricsCollector.
func (c *Collector) RecordRemove(d time.Duration, removed bool) {
	status := "hit"
	if !removed {
		status = "miss"
	}
	c.opLatency.WithLabelValues("remove", status).Observe(d.Seconds())
}

// RecordRestart implements olcart.MetricsCollector.
func (c *Collector) RecordRestart() {
	c.restarts.Inc()
}

// RecordReclaim implements olcart.MetricsCollector.
func (c *Collector) RecordReclaim(nodes int) {
	c.reclaimed.Add(float64(nodes))
}

// RegisterTree exports the number of keys in tree as a gauge.
func RegisterTree(reg prometheus.Registerer, name string, tree *olcart.Tree) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "keys",
		Help:        "Number of keys stored in the tree",
		ConstLabels: prometheus.Labels{"tree": name},
	}, func() float64 {
		return float64(tree.Len())
	}))
}
