// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriassist_requests_total",
		Help: "Total HTTP requests.",
	}, []string{"method", "endpoint", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agriassist_request_duration_seconds",
		Help:    "HTTP request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriassist_cache_hits_total",
		Help: "Cache lookups that returned a live entry.",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriassist_cache_misses_total",
		Help: "Cache lookups that found nothing or an expired entry.",
	}, []string{"cache"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriassist_cache_evictions_total",
		Help: "Entries removed by expiry sweeps or LRU eviction.",
	}, []string{"cache", "reason"})

	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriassist_refresh_runs_total",
		Help: "Reconciliation runs by outcome.",
	}, []string{"outcome"})

	PartitionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agriassist_partition_writes_total",
		Help: "Partition writes by result.",
	}, []string{"result"})

	StoredRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agriassist_stored_records",
		Help: "Price records across all partitions on disk.",
	})

	PartitionsRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agriassist_partitions_removed_total",
		Help: "Date directories deleted by retention cleanup.",
	})
)
