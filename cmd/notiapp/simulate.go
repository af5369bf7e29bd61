package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"notiapp/internal/geo"
	"notiapp/internal/sim"
)

// progressLog prints each tick and reports when the journey leaves Running.
type progressLog struct {
	limit   int
	reached chan struct{}
	done    chan sim.Status
}

func (p *progressLog) PositionChanged(u sim.PositionUpdate) {
	log.Info().
		Int("cursor", u.Cursor).
		Int("of", u.PathLen-1).
		Float64("lat", u.Position.Lat).
		Float64("lon", u.Position.Lon).
		Float64("bearing", u.Bearing).
		Float64("progress", u.Progress).
		Msg("tick")
	if p.limit > 0 && u.Cursor >= p.limit {
		select {
		case p.reached <- struct{}{}:
		default:
		}
	}
}

func (p *progressLog) StatusChanged(e sim.StatusEvent) {
	log.Info().Stringer("from", e.From).Stringer("to", e.To).Int("ticks", e.Ticks).Msg("status")
	if e.From == sim.Running && e.To != sim.Running {
		select {
		case p.done <- e.To:
		default:
		}
	}
}

func simulateAction(c *cli.Context) error {
	cfg := configFrom(c)
	if c.NArg() != 1 {
		return cli.Exit("usage: notiapp simulate <destination>", 2)
	}
	destID := c.Args().First()

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := buildServices(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	dest, err := svc.catalog.Get(destID)
	if err != nil {
		return err
	}
	origin := pointFlags(c, cfg.Home)

	progress := &progressLog{
		limit:   c.Int("ticks"),
		reached: make(chan struct{}, 1),
		done:    make(chan sim.Status, 1),
	}
	scheduler := sim.NewTickerScheduler()
	defer scheduler.Close()
	mgr := sim.NewManager(svc.pathProvider(), scheduler, svc.sink, append(svc.listeners(), progress), cfg.SimConfig())

	session := "cli-" + uuid.NewString()[:8]
	if err := mgr.StartJourney(ctx, session, origin, sim.StartOptions{DestinationID: dest.ID, DestinationName: dest.Name}); err != nil {
		return fmt.Errorf("start journey: %w", err)
	}

	select {
	case <-ctx.Done():
		_ = mgr.Stop(session)
	case <-progress.reached:
		_ = mgr.End(session)
	case st := <-progress.done:
		if st == sim.Completed {
			_ = mgr.End(session)
		}
	}
	mgr.Shutdown()
	return nil
}

func pointFlags(c *cli.Context, def geo.Point) geo.Point {
	p := def
	if c.IsSet("lat") {
		p.Lat = c.Float64("lat")
	}
	if c.IsSet("lon") {
		p.Lon = c.Float64("lon")
	}
	return p
}
