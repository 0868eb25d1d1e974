// Package metrics holds the prometheus collectors shared by markxiv components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tiers
const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

var (
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markxiv_cache_lookups_total",
		Help: "Cache lookups by tier and result (hit, miss, error).",
	}, []string{"tier", "result"})

	DiskCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "markxiv_disk_cache_bytes",
		Help: "Approximate number of compressed bytes held by the disk cache.",
	})

	DiskCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markxiv_disk_cache_evictions_total",
		Help: "Files removed by disk cache sweeps.",
	})

	ConversionSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markxiv_conversion_steps_total",
		Help: "Conversion pipeline step outcomes.",
	}, []string{"step", "result"})

	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "markxiv_conversion_step_seconds",
		Help:    "Wall-clock duration of external conversion steps.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120, 240},
	}, []string{"step"})

	PermitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "markxiv_conversion_permits_in_use",
		Help: "External conversion permits currently checked out.",
	})

	SourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markxiv_source_requests_total",
		Help: "Upstream arXiv requests by operation and result.",
	}, []string{"op", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markxiv_http_requests_total",
		Help: "HTTP requests served by route pattern and status code.",
	}, []string{"route", "status"})
)
