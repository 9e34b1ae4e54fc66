package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stories_api_requests_total",
		Help: "Requests made against the stories API, by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	apiRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stories_api_retries_total",
		Help: "Requests retried after a temporary failure",
	}, []string{"endpoint"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stories_api_request_duration_seconds",
		Help:    "Duration of stories API requests including retries",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms up to ~10s
	}, []string{"endpoint"})
)
