package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"notiapp/internal/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.App{
		Name:  "notiapp",
		Usage: "BusBuddy journeys, WeatherWizard alerts and the TrendTracker screen",
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg)
			c.App.Metadata["config"] = cfg
			return nil
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, metrics server and weather watcher",
				Action: serveAction,
			},
			{
				Name:      "simulate",
				Usage:     "Run a single journey in the terminal",
				ArgsUsage: "<destination>",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "lat", Usage: "origin latitude (defaults to HOME_LAT)"},
					&cli.Float64Flag{Name: "lon", Usage: "origin longitude (defaults to HOME_LON)"},
					&cli.IntFlag{Name: "ticks", Usage: "end the journey after this many ticks (0 runs until the path is exhausted)"},
				},
				Action: simulateAction,
			},
			{
				Name:  "weather",
				Usage: "Fetch the weather once and optionally send a notification",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "lat", Usage: "latitude (defaults to HOME_LAT)"},
					&cli.Float64Flag{Name: "lon", Usage: "longitude (defaults to HOME_LON)"},
					&cli.BoolFlag{Name: "notify", Usage: "send the weather notification"},
				},
				Action: weatherAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("notiapp failed")
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	if cfg.LogJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}
