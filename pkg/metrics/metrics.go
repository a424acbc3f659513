package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_refresh_runs_total",
		Help: "Price refresh invocations by mode",
	}, []string{"mode"})

	BookingsRefreshed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_refresh_bookings_total",
		Help: "Bookings processed by the price refresh, by result",
	}, []string{"result"})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "price_refresh_duration_seconds",
		Help:    "Wall time of a full price refresh run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	PriceStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_extraction_strategy_total",
		Help: "Successful extractions by the strategy that produced the price",
	}, []string{"strategy"})

	PriceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_cache_hits_total",
		Help: "Refreshes served from the observation cache",
	})

	MailMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_sync_messages_total",
		Help: "Confirmation emails seen by the sync, by result",
	}, []string{"result"})

	MailAuthRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_sync_auth_retries_total",
		Help: "Token refreshes triggered by a rejected mail API call",
	})
)
