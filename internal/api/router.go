package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"notiapp/internal/db"
	"notiapp/internal/geo"
	"notiapp/internal/metrics"
	"notiapp/internal/routing"
	"notiapp/internal/sim"
	"notiapp/internal/weather"
)

// HistoryReader lists past journeys for a session.
type HistoryReader interface {
	Recent(ctx context.Context, session string, limit int) ([]db.JourneyRun, error)
}

// Deps wires the screens to their services. History and Metrics are optional.
type Deps struct {
	Journeys *sim.Manager
	Catalog  *routing.Catalog
	Weather  *weather.Alerter
	History  HistoryReader
	Metrics  *metrics.Collector
	// Home is used when a request carries no position.
	Home geo.Point
	Now  func() time.Time
}

// NewApp builds the fiber app with every screen mounted.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "notiapp",
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestLogger)
	SetupRoutes(app, NewHandler(d))
	return app
}

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, h *Handler) {
	app.Get("/health", h.HealthCheck)
	app.Get("/", h.Home)

	bus := app.Group("/busbuddy")
	{
		bus.Get("/destinations", h.ListDestinations)
		bus.Get("/journeys", h.ListJourneys)
		bus.Post("/journeys", h.StartJourney)
		bus.Get("/journeys/:session", h.GetJourney)
		bus.Post("/journeys/:session/stop", h.StopJourney)
		bus.Post("/journeys/:session/end", h.EndJourney)
		bus.Put("/journeys/:session/home", h.SetHome)
		bus.Get("/journeys/:session/history", h.JourneyHistory)
	}

	wx := app.Group("/weatherwizard")
	{
		wx.Get("/", h.GetWeather)
		wx.Post("/notify", h.SendWeatherNotification)
	}

	app.Get("/trendtracker", h.TrendTracker)
	app.Get("/gtfs-rt/vehicle-positions", h.VehiclePositions)
}
