package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamsConnected = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_feed", Name: "streams_connected", Help: "Open feed stream connections"})

	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_feed", Name: "stream_events_total", Help: "Events pushed to stream clients"},
		[]string{"operation"},
	)
	StreamEventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_feed", Name: "stream_events_dropped_total", Help: "Change notifications dropped after resolution failure"})

	SweepExpiredFound = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_feed", Name: "sweep_expired_found_total", Help: "Expired rides observed by sweeps"})

	KafkaPublishErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_feed", Name: "kafka_publish_errors_total", Help: "Failed ride event publishes"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_feed", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_feed",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
