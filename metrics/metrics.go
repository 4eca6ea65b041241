// Package metrics exposes the small set of Prometheus gauges and counters
// the outbound pipeline maintains, the ambient observability analog of the
// teacher's StatsD-oriented "stats" package.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "citransfer"

var (
	// HTTPQueueDepth is the number of requests enqueued but not yet
	// completed on the HttpQueue (the in-flight request included), sampled
	// on every Put/Done.
	HTTPQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "httpqueue",
		Name:      "depth",
		Help:      "Number of requests enqueued but not yet completed.",
	})

	// RequestsIssuedTotal counts outbound requests the HttpQueue consumer
	// has issued, labeled by method.
	RequestsIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "httpqueue",
		Name:      "requests_issued_total",
		Help:      "Outbound requests issued by the HttpQueue consumer.",
	}, []string{"method"})

	// CacheHits counts ApiClient conditional-GET cache hits (304s).
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apiclient",
		Name:      "cache_hits_total",
		Help:      "Conditional GETs answered 304 and served from cache.",
	})

	// CacheMisses counts ApiClient conditional-GET cache misses (2xx).
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "apiclient",
		Name:      "cache_misses_total",
		Help:      "GETs answered with a fresh 2xx body.",
	})

	// BytesUploaded counts bytes the ChunkedUploader writes as range
	// artifacts on each flush. A merged chunk is rewritten whole, so its
	// bytes are counted again; the finalized log is not counted.
	BytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploader",
		Name:      "bytes_uploaded_total",
		Help:      "Bytes written as range artifacts by ChunkedUploader flushes.",
	})

	// ChunkMergesTotal counts 2048-rule merges performed on flush.
	ChunkMergesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "uploader",
		Name:      "chunk_merges_total",
		Help:      "Number of adjacent-chunk merges performed by the 2048 rule.",
	})
)

// Registry returns a fresh prometheus.Registry with all citransfer metrics
// registered, for callers (cmd/citransfer) that want to serve /metrics.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		HTTPQueueDepth,
		RequestsIssuedTotal,
		CacheHits,
		CacheMisses,
		BytesUploaded,
		ChunkMergesTotal,
	)
	return r
}
