package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveJourneys prometheus.Gauge

	JourneysStarted *prometheus.CounterVec // destination label
	JourneyFinishes *prometheus.CounterVec // status label: stopped|ended|completed
	Ticks           prometheus.Counter

	NotificationsSent *prometheus.CounterVec // topic, result: ok|error

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	WeatherChecks *prometheus.CounterVec // result: ok|error|cached
	WeatherAlerts *prometheus.CounterVec // rule label

	PathLookupDuration prometheus.Histogram
	PublishDuration    prometheus.Histogram

	TickInterval prometheus.Gauge // seconds
}

func NewCollector(tickInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveJourneys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notiapp_active_journeys",
			Help: "Number of journeys currently running.",
		}),
		JourneysStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notiapp_journeys_started_total",
			Help: "Total journeys started.",
		}, []string{"destination"}),
		JourneyFinishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notiapp_journeys_finished_total",
			Help: "Total journeys that left the running state, by final status.",
		}, []string{"status"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notiapp_journey_ticks_total",
			Help: "Total position updates emitted.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notiapp_notifications_total",
			Help: "Notifications dispatched, by topic and result.",
		}, []string{"topic", "result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notiapp_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notiapp_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notiapp_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		WeatherChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notiapp_weather_checks_total",
			Help: "Weather lookups, by result.",
		}, []string{"result"}),
		WeatherAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notiapp_weather_alerts_total",
			Help: "Weather alert rules that fired.",
		}, []string{"rule"}),
		PathLookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notiapp_path_lookup_duration_seconds",
			Help:    "Duration of route path lookups.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notiapp_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notiapp_tick_interval_seconds",
			Help: "Journey tick interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveJourneys, c.JourneysStarted, c.JourneyFinishes, c.Ticks,
		c.NotificationsSent,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.WeatherChecks, c.WeatherAlerts,
		c.PathLookupDuration, c.PublishDuration,
		c.TickInterval,
	)

	c.TickInterval.Set(tickInterval.Seconds())

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
