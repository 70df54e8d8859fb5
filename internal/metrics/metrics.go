// Package metrics holds the Prometheus collectors for campaign delivery.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SendsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_sends_enqueued_total",
		Help: "Campaign sends created and handed to the delivery queue",
	})
	SendsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_sends_delivered_total",
		Help: "Campaign sends accepted by the mail transport",
	})
	SendsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_sends_failed_total",
			Help: "Campaign sends marked failed, by kind (exhausted, permanent)",
		},
		[]string{"kind"},
	)
	SendAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "campaign_send_attempts_total",
		Help: "Delivery attempts including retries",
	})
	SendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_send_duration_seconds",
		Help:    "Time spent processing one delivery job",
		Buckets: prometheus.DefBuckets,
	})
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delivery_queue_depth",
		Help: "Jobs waiting in the delivery queue, ready plus delayed",
	})
	TrackingOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_opens_total",
			Help: "Open pixel hits by outcome",
		},
		[]string{"outcome"},
	)
	TrackingClicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_clicks_total",
			Help: "Click redirects by outcome",
		},
		[]string{"outcome"},
	)
	SchedulerPromotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_promotions_total",
		Help: "Scheduled campaigns moved to sending",
	})
	SchedulerFinalizations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_finalizations_total",
		Help: "Sending campaigns moved to sent",
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SendsEnqueued,
			SendsDelivered,
			SendsFailed,
			SendAttempts,
			SendDuration,
			QueueDepth,
			TrackingOpens,
			TrackingClicks,
			SchedulerPromotions,
			SchedulerFinalizations,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
