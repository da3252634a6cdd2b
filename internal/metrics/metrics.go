package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Asset platform requests by endpoint kind and outcome
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expirymon_api_requests_total",
			Help: "Total number of requests issued to the asset platform API",
		},
		[]string{"endpoint", "status"},
	)

	RateLimitWaitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expirymon_rate_limit_waits_total",
			Help: "Number of times a 429 response forced a backoff sleep",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expirymon_alerts_total",
			Help: "Alerts emitted by kind (asset/contract) and level",
		},
		[]string{"kind", "level"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expirymon_webhook_deliveries_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"result"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expirymon_run_duration_seconds",
			Help:    "Duration of a full expiration sweep",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "expirymon_last_run_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		},
	)
)
