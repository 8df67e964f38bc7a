// Package metrics exposes Prometheus counters for the subscription lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the lifecycle, caches and dispatcher.
type Recorder interface {
	RecordOutcome(op, target string)
	RecordCacheLookup(cache string, hit bool)
	RecordCacheEviction(cache string, n int)
	RecordDispatch(result string)
	RecordAuditDrop(kind string)
}

// Collector records metrics into a Prometheus registry.
type Collector struct {
	outcomes  *prometheus.CounterVec
	lookups   *prometheus.CounterVec
	evictions *prometheus.CounterVec
	dispatch  *prometheus.CounterVec
	drops     *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnotify_lifecycle_outcomes_total",
			Help: "Lifecycle operations by operation and redirect target.",
		}, []string{"op", "target"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnotify_cache_lookups_total",
			Help: "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnotify_cache_evictions_total",
			Help: "Entries evicted to keep caches within capacity.",
		}, []string{"cache"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnotify_dispatch_total",
			Help: "Confirmation dispatches by result.",
		}, []string{"result"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xnotify_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full.",
		}, []string{"kind"}),
	}

	reg.MustRegister(c.outcomes, c.lookups, c.evictions, c.dispatch, c.drops)
	return c
}

// RecordOutcome counts a lifecycle operation result.
func (c *Collector) RecordOutcome(op, target string) {
	c.outcomes.WithLabelValues(op, target).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func (c *Collector) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.lookups.WithLabelValues(cache, result).Inc()
}

// RecordCacheEviction counts evicted entries.
func (c *Collector) RecordCacheEviction(cache string, n int) {
	if n > 0 {
		c.evictions.WithLabelValues(cache).Add(float64(n))
	}
}

// RecordDispatch counts a dispatch result (sent, bypassed, failed, skipped).
func (c *Collector) RecordDispatch(result string) {
	c.dispatch.WithLabelValues(result).Inc()
}

// RecordAuditDrop counts an audit entry dropped under back-pressure.
func (c *Collector) RecordAuditDrop(kind string) {
	c.drops.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards all metrics.
type Nop struct{}

func (Nop) RecordOutcome(string, string) {}
func (Nop) RecordCacheLookup(string, bool) {}
func (Nop) RecordCacheEviction(string, int) {}
func (Nop) RecordDispatch(string) {}
func (Nop) RecordAuditDrop(string) {}
