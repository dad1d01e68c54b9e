package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tealflight",
		Name:      "auth_failures_total",
		Help:      "Failed authentication attempts.",
	})

	rateLimitRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tealflight",
		Name:      "ratelimit_rejects_total",
		Help:      "Authentication attempts rejected by rate limiting.",
	})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tealflight",
		Name:      "queries_total",
		Help:      "Queries dispatched, by request kind.",
	}, []string{"kind"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tealflight",
		Name:      "active_streams",
		Help:      "Record-batch streams currently producing.",
	})

	splitEndpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tealflight",
		Name:      "split_endpoints_total",
		Help:      "Endpoints emitted by split planning.",
	})

	ingestFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tealflight",
		Name:      "ingest_files_total",
		Help:      "Parquet files written by ingest.",
	})
)
