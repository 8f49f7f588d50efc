package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the subscription pipeline.
// Everything is registered on a private registry so tests can build as
// many instances as they want.
type Metrics struct {
	registry *prometheus.Registry

	CheckoutsCreated  *prometheus.CounterVec
	PaymentsCompleted *prometheus.CounterVec
	PaymentsFailed    *prometheus.CounterVec
	Activations       *prometheus.CounterVec
	Expiries          prometheus.Counter
	Reminders         prometheus.Counter
	SweepDuration     prometheus.Histogram
	SweepErrors       prometheus.Counter
	PremiumUsers      prometheus.Gauge
}

// New creates and registers all instruments
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		CheckoutsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkouts_created_total",
				Help: "Checkout links handed out, by plan and provider",
			},
			[]string{"plan", "provider"},
		),
		PaymentsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_completed_total",
				Help: "Payments that reached the completed state",
			},
			[]string{"provider"},
		),
		PaymentsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_failed_total",
				Help: "Payments that settled as failed",
			},
			[]string{"provider"},
		),
		Activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_activations_total",
				Help: "Subscription windows opened, by plan; kind is new or renewal",
			},
			[]string{"plan", "kind"},
		),
		Expiries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_expiries_total",
				Help: "Subscriptions revoked by the expiry sweep",
			},
		),
		Reminders: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "subscription_reminders_total",
				Help: "Expiry reminders sent",
			},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sweep_duration_seconds",
				Help:    "Wall time of one expiry sweep pass",
				Buckets: prometheus.DefBuckets,
			},
		),
		SweepErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sweep_errors_total",
				Help: "Sweep passes that failed and were retried",
			},
		),
		PremiumUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "premium_users",
				Help: "Users currently holding an active subscription",
			},
		),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
