package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"notiapp/internal/config"
	"notiapp/internal/db"
	"notiapp/internal/history"
	"notiapp/internal/metrics"
	"notiapp/internal/notify"
	"notiapp/internal/publisher"
	"notiapp/internal/routing"
	"notiapp/internal/sim"
	"notiapp/internal/weather"
)

// services holds everything built from the configuration. Optional parts are nil.
type services struct {
	cfg     *config.Config
	sqlDB   *sql.DB
	pub     *publisher.NATSPublisher
	redis   *redis.Client
	mcol    *metrics.Collector
	catalog *routing.Catalog
	sink    notify.Sink
	alerter *weather.Alerter
	history *history.SQLStore

	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildServices(ctx context.Context, cfg *config.Config, withMetrics bool) (*services, error) {
	s := &services{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	if withMetrics && cfg.MetricsAddr != "" {
		s.mcol = metrics.NewCollector(cfg.TickInterval)
	}

	if cfg.DatabaseURL != "" {
		sqlDB, err := db.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		s.closers = append(s.closers, func() { sqlDB.Close() })
		if err := db.Ping(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := db.EnsureJourneySchema(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("journey schema: %w", err)
		}
		s.sqlDB = sqlDB
		s.history = &history.SQLStore{DB: sqlDB}
	}

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(s.mcol), cfg.NATSStreamName)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		s.closers = append(s.closers, pub.Close)
		s.pub = pub
	}

	sink, err := buildSink(ctx, cfg, s.pub)
	if err != nil {
		return nil, err
	}
	s.sink = sink

	catalog, err := routing.LoadCatalog(cfg.DestinationsFile)
	if err != nil {
		return nil, fmt.Errorf("destinations: %w", err)
	}
	s.catalog = catalog

	var provider weather.Provider = weather.NewClient(cfg.OpenWeatherAPIKey, cfg.OpenWeatherURL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		s.closers = append(s.closers, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, weather cache will miss until it recovers")
		}
		s.redis = rdb
		provider = weather.NewCachedProvider(provider, rdb, cfg.WeatherCacheTTL)
	}
	if cfg.OpenWeatherAPIKey == "" {
		log.Warn().Msg("OPENWEATHER_API_KEY not set, serving mock weather")
	}

	var exprRules []weather.ExprRule
	if cfg.WeatherRulesFile != "" {
		if exprRules, err = weather.LoadExprRules(cfg.WeatherRulesFile); err != nil {
			return nil, fmt.Errorf("weather rules: %w", err)
		}
	}
	rules, err := weather.NewRules(cfg.WeatherThresholds, exprRules...)
	if err != nil {
		return nil, fmt.Errorf("weather rules: %w", err)
	}
	var observer weather.Observer
	if s.mcol != nil {
		observer = &appMetrics{c: s.mcol}
	}
	s.alerter = weather.NewAlerter(provider, rules, s.sink, cfg.WeatherNotifyDelay, observer)

	ok = true
	return s, nil
}

func buildSink(ctx context.Context, cfg *config.Config, pub *publisher.NATSPublisher) (notify.Sink, error) {
	switch cfg.NotifyBackend {
	case "nats":
		return notify.NewNATSSink(pub.Conn()), nil
	case "fcm":
		sink, err := notify.NewFCMSink(ctx, cfg.FCMCredentialsB64, cfg.FCMToken)
		if err != nil {
			return nil, fmt.Errorf("fcm: %w", err)
		}
		return sink, nil
	default:
		return notify.LogSink{}, nil
	}
}

// pathProvider picks the routing backend. auto prefers database shapes and
// falls back to OSRM.
func (s *services) pathProvider() sim.PathProvider {
	osrm := routing.NewOSRMProvider(s.cfg.OSRMURL, s.catalog)
	switch s.cfg.RoutingBackend {
	case "db":
		return routing.NewDBProvider(s.sqlDB, s.catalog)
	case "osrm":
		return osrm
	}
	if s.sqlDB == nil {
		return osrm
	}
	return routing.FallbackProvider{routing.NewDBProvider(s.sqlDB, s.catalog), osrm}
}

// listeners fans simulator events out to the publisher, history and metrics.
func (s *services) listeners() sim.Listeners {
	var ls sim.Listeners
	if s.pub != nil {
		ls = append(ls, s.pub)
	}
	if s.history != nil {
		ls = append(ls, history.NewRecorder(s.history))
	}
	if s.mcol != nil {
		ls = append(ls, &appMetrics{c: s.mcol})
	}
	return ls
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

// appMetrics records simulator and weather activity on the collector.
type appMetrics struct{ c *metrics.Collector }

func (m *appMetrics) PositionChanged(sim.PositionUpdate) { m.c.Ticks.Inc() }

func (m *appMetrics) StatusChanged(e sim.StatusEvent) {
	if e.To == sim.Running {
		m.c.JourneysStarted.WithLabelValues(e.Destination).Inc()
	}
	if e.From == sim.Running && e.To != sim.Running {
		m.c.ActiveJourneys.Dec()
	}
	if e.To == sim.Running && e.From != sim.Running {
		m.c.ActiveJourneys.Inc()
	}
	// A journey finishes once: Completed followed by End or Stop counts as completed.
	if e.From == sim.Running {
		switch e.To {
		case sim.Stopped, sim.Ended, sim.Completed:
			m.c.JourneyFinishes.WithLabelValues(e.To.String()).Inc()
		}
	}
}

func (m *appMetrics) NotificationSent(n notify.Notification, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.c.NotificationsSent.WithLabelValues(n.Topic, result).Inc()
}

func (m *appMetrics) CheckDone(result string) { m.c.WeatherChecks.WithLabelValues(result).Inc() }
func (m *appMetrics) AlertFired(rule string)  { m.c.WeatherAlerts.WithLabelValues(rule).Inc() }
