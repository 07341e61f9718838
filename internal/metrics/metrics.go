// Package metrics exposes Prometheus collectors for the cache and sync layers.
//
// Metrics:
//   - ventchat_reconciled_documents_total{kind,result}: snapshot documents applied or skipped
//   - ventchat_sends_total{result}: optimistic sends confirmed or failed
//   - ventchat_send_duration_seconds: remote write latency of a send
//   - ventchat_checkpoints_total{result}: cache flushes to the persisted store
//   - ventchat_cache_entries{cache}: entries per cache at the last checkpoint
//   - ventchat_active_watches{kind}: live realtime subscriptions
//
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry     *prometheus.Registry
	reconciled   *prometheus.CounterVec
	sends        *prometheus.CounterVec
	sendDuration prometheus.Histogram
	checkpoints  *prometheus.CounterVec
	entries      *prometheus.GaugeVec
	watches      *prometheus.GaugeVec
}

// New registers the collectors, plus Go runtime and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		reconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ventchat_reconciled_documents_total",
			Help: "Snapshot documents reconciled into the caches.",
		}, []string{"kind", "result"}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ventchat_sends_total",
			Help: "Optimistic message sends by outcome.",
		}, []string{"result"}),
		sendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ventchat_send_duration_seconds",
			Help:    "Remote write latency of a message send.",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
		}),
		checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ventchat_checkpoints_total",
			Help: "Cache checkpoints to the persisted store by outcome.",
		}, []string{"result"}),
		entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ventchat_cache_entries",
			Help: "Entries per cache at the last checkpoint.",
		}, []string{"cache"}),
		watches: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ventchat_active_watches",
			Help: "Live realtime subscriptions.",
		}, []string{"kind"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Reconciled counts one document; skipped documents were dropped as invalid.
func (m *Metrics) Reconciled(kind string, skipped bool) {
	if m == nil {
		return
	}
	result := "applied"
	if skipped {
		result = "skipped"
	}
	m.reconciled.WithLabelValues(kind, result).Inc()
}

// Send records the outcome of one send and how long the remote write took.
func (m *Metrics) Send(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "confirmed"
	if !ok {
		result = "failed"
	}
	m.sends.WithLabelValues(result).Inc()
	m.sendDuration.Observe(d.Seconds())
}

// Checkpoint records a flush outcome.
func (m *Metrics) Checkpoint(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.checkpoints.WithLabelValues(result).Inc()
}

// CacheEntries sets the size of one cache.
func (m *Metrics) CacheEntries(cache string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(cache).Set(float64(n))
}

// WatchStarted and WatchStopped track live subscriptions.
func (m *Metrics) WatchStarted(kind string) {
	if m == nil {
		return
	}
	m.watches.WithLabelValues(kind).Inc()
}

func (m *Metrics) WatchStopped(kind string) {
	if m == nil {
		return
	}
	m.watches.WithLabelValues(kind).Dec()
}
