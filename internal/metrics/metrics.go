// Package metrics holds the prometheus collectors of the collection cache.
//
// Collectors are registered on an injected Registerer so several caches (and
// tests) can coexist; a nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors shared by every collection of a process.
type Metrics struct {
	Hits          *prometheus.CounterVec
	StaleHits     *prometheus.CounterVec
	Misses        *prometheus.CounterVec
	Coalesced     *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec
	Rollbacks     *prometheus.CounterVec
	Buffers       *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectioncache_hits_total",
				Help: "Pages served from a fresh canonical buffer without network calls",
			},
			[]string{"collection"},
		),
		StaleHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectioncache_stale_hits_total",
				Help: "Pages served stale while a background revalidation runs",
			},
			[]string{"collection"},
		),
		Misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectioncache_misses_total",
				Help: "Pages that needed at least one network call",
			},
			[]string{"collection"},
		),
		Coalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectioncache_coalesced_total",
				Help: "Sub range fetches that joined an in-flight request",
			},
			[]string{"collection"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collectioncache_fetch_duration_seconds",
				Help:    "Duration of upstream page fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection"},
		),
		FetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectioncache_fetch_errors_total",
				Help: "Upstream page fetches that failed",
			},
			[]string{"collection"},
		),
		Rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collectioncache_rollbacks_total",
				Help: "Optimistic mutations rolled back after a failed call",
			},
			[]string{"collection", "action"},
		),
		Buffers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "collectioncache_buffers",
				Help: "Canonical buffers currently held",
			},
			[]string{"collection"},
		),
	}
}

// RecordHit counts a page served from a fresh buffer.
func (m *Metrics) RecordHit(collection string) {
	if m == nil {
		return
	}
	m.Hits.WithLabelValues(collection).Inc()
}

// RecordStaleHit counts a page served stale.
func (m *Metrics) RecordStaleHit(collection string) {
	if m == nil {
		return
	}
	m.StaleHits.WithLabelValues(collection).Inc()
}

// RecordMiss counts a page that went to the network.
func (m *Metrics) RecordMiss(collection string) {
	if m == nil {
		return
	}
	m.Misses.WithLabelValues(collection).Inc()
}

// RecordCoalesced counts a sub range that joined an in-flight call.
func (m *Metrics) RecordCoalesced(collection string) {
	if m == nil {
		return
	}
	m.Coalesced.WithLabelValues(collection).Inc()
}

// RecordFetch observes one upstream call.
func (m *Metrics) RecordFetch(collection string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(collection).Observe(time.Since(started).Seconds())
	if err != nil {
		m.FetchErrors.WithLabelValues(collection).Inc()
	}
}

// RecordRollback counts a rolled back mutation.
func (m *Metrics) RecordRollback(collection, action string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(collection, action).Inc()
}

// SetBuffers reports the number of buffers of a collection.
func (m *Metrics) SetBuffers(collection string, n int) {
	if m == nil {
		return
	}
	m.Buffers.WithLabelValues(collection).Set(float64(n))
}
