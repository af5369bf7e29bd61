package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"notiapp/internal/api"
	"notiapp/internal/sim"
	"notiapp/internal/weather"
)

func serveAction(c *cli.Context) error {
	cfg := configFrom(c)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := buildServices(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	if svc.mcol != nil {
		srv := svc.mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	scheduler := sim.NewTickerScheduler()
	defer scheduler.Close()
	mgr := sim.NewManager(svc.pathProvider(), scheduler, svc.sink, svc.listeners(), cfg.SimConfig())

	if cfg.WeatherWatchInterval > 0 {
		if cfg.Home.IsZero() {
			log.Warn().Msg("WEATHER_WATCH_INTERVAL_SEC set without HOME_LAT/HOME_LON, watcher disabled")
		} else {
			w := weather.NewWatcher(svc.alerter, cfg.Home, cfg.WeatherWatchInterval)
			w.Start(ctx)
			defer w.Stop()
		}
	}

	deps := api.Deps{
		Journeys: mgr,
		Catalog:  svc.catalog,
		Weather:  svc.alerter,
		Metrics:  svc.mcol,
		Home:     cfg.Home,
	}
	if svc.history != nil {
		deps.History = svc.history
	}
	app := api.NewApp(deps)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Int("destinations", len(svc.catalog.All())).Msg("http listening")
		errCh <- app.Listen(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	log.Info().Msg("shutting down")
	if serr := app.ShutdownWithTimeout(5 * time.Second); serr != nil {
		log.Error().Err(serr).Msg("http shutdown")
	}
	// Allow graceful shutdown
	mgr.Shutdown()
	log.Info().Msg("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
