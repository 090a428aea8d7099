// Package metrics exposes Prometheus instruments for the trace engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts snapshot requests by mode and outcome.
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelens_fetch_attempts_total",
		Help: "Snapshot requests sent to the trace API.",
	}, []string{"mode", "outcome"})

	// FetchSkipped counts fetch requests dropped by single-flight or an
	// exhausted page cursor.
	FetchSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelens_fetch_skipped_total",
		Help: "Fetch requests that did not reach the network.",
	}, []string{"mode", "reason"})

	LiveUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracelens_live_updates_total",
		Help: "Push channel updates applied to the store.",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracelens_cache_evictions_total",
		Help: "Trace entries evicted from the bounded cache.",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracelens_cache_entries",
		Help: "Trace entries currently cached.",
	})
)
