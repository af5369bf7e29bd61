package main

import (
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func weatherAction(c *cli.Context) error {
	cfg := configFrom(c)
	ctx := c.Context

	svc, err := buildServices(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	p := pointFlags(c, cfg.Home)
	rep, err := svc.alerter.Check(ctx, p)
	if err != nil {
		return err
	}
	r := rep.Reading
	log.Info().
		Str("city", r.City).
		Float64("temp_c", r.TemperatureC).
		Int("humidity", r.Humidity).
		Float64("wind_mps", r.WindSpeedMps).
		Str("description", r.Description).
		Bool("mock", r.IsMock).
		Msg("current weather")
	for _, a := range rep.Alerts {
		log.Warn().Str("rule", a.Rule).Msg(a.Message)
	}

	if !c.Bool("notify") {
		return nil
	}
	return svc.alerter.Send(ctx, rep)
}
