package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	configSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zigdoc_config_last_reload_successful",
		Help: "Whether the last configuration load succeeded.",
	})

	configSuccessTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zigdoc_config_last_reload_success_timestamp_seconds",
		Help: "Timestamp of the last successful configuration load.",
	})

	httpRequestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zigdoc_http_requests_total",
		Help: "Count of HTTP requests served, tagged by route and status class.",
	},
		[]string{"route", "status"},
	)

	httpRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zigdoc_http_request_latency_seconds",
		Help:    "Latency of HTTP requests, tagged by route.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 20},
	},
		[]string{"route"},
	)
)

// recordHTTPRequest is passed down to httpapi so the HTTP layer does not
// need its own prometheus dependency.
func recordHTTPRequest(route string, status int, start time.Time) {
	httpRequestCount.WithLabelValues(route, strconv.Itoa(status/100*100)).Inc()
	httpRequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
