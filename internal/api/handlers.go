package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog/log"

	"notiapp/internal/feed"
	"notiapp/internal/geo"
	"notiapp/internal/routing"
	"notiapp/internal/sim"
)

var validate = validator.New()

// Handler contains all HTTP handlers
type Handler struct {
	d Deps
}

func NewHandler(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{d: d}
}

type screen struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

var screens = []screen{
	{Name: "BusBuddy", Path: "/busbuddy/journeys"},
	{Name: "WeatherWizard", Path: "/weatherwizard"},
	{Name: "TrendTracker", Path: "/trendtracker"},
}

func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "notiapp",
	})
}

// Home is the navigation shell: it lists the screens.
func (h *Handler) Home(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"title": "NotiApp", "screens": screens},
	})
}

func (h *Handler) ListDestinations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.d.Catalog.All()})
}

type startJourneyRequest struct {
	Session     string     `json:"session" validate:"required,max=64"`
	Origin      *geo.Point `json:"origin"`
	Destination string     `json:"destination" validate:"required"`
}

func (h *Handler) StartJourney(c *fiber.Ctx) error {
	var req startJourneyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	dest, err := h.d.Catalog.Get(req.Destination)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	origin := h.d.Home
	if req.Origin != nil {
		origin = *req.Origin
	} else if s, ok := h.d.Journeys.Lookup(req.Session); ok {
		if home := s.Snapshot().HomePosition; !home.IsZero() {
			origin = home
		}
	}
	if origin.IsZero() {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Location is required to plan a journey")
	}

	start := time.Now()
	err = h.d.Journeys.StartJourney(c.UserContext(), req.Session, origin, sim.StartOptions{
		DestinationID:   dest.ID,
		DestinationName: dest.Name,
	})
	if h.d.Metrics != nil {
		h.d.Metrics.PathLookupDuration.Observe(time.Since(start).Seconds())
	}
	switch {
	case err == nil:
	case errors.Is(err, sim.ErrInvalidStartConditions), errors.Is(err, sim.ErrNoPath):
		return fiber.NewError(fiber.StatusUnprocessableEntity, "No route found to "+dest.Name)
	case errors.Is(err, sim.ErrTooManySessions):
		return fiber.NewError(fiber.StatusTooManyRequests, "Too many active sessions")
	case errors.Is(err, routing.ErrUnknownDestination):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		log.Error().Err(err).Str("session", req.Session).Str("destination", dest.ID).Msg("start journey")
		return fiber.NewError(fiber.StatusBadGateway, "Could not fetch route")
	}

	s, _ := h.d.Journeys.Lookup(req.Session)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": s.Snapshot()})
}

func (h *Handler) ListJourneys(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.d.Journeys.Snapshots()})
}

func (h *Handler) GetJourney(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": s.Snapshot()})
}

func (h *Handler) StopJourney(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	s.Stop()
	return c.JSON(fiber.Map{"success": true, "data": s.Snapshot()})
}

func (h *Handler) EndJourney(c *fiber.Ctx) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	s.End()
	return c.JSON(fiber.Map{"success": true, "data": s.Snapshot()})
}

// SetHome records the rider's current location. It creates the session if needed,
// mirroring the map screen capturing a position when it mounts.
func (h *Handler) SetHome(c *fiber.Ctx) error {
	var p geo.Point
	if err := c.BodyParser(&p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(p); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	id := sessionParam(c)
	if len(id) > 64 {
		return fiber.NewError(fiber.StatusBadRequest, "Session id is too long")
	}
	s, err := h.d.Journeys.Session(id)
	if err != nil {
		return fiber.NewError(fiber.StatusTooManyRequests, "Too many active sessions")
	}
	s.SetHomePosition(p)
	return c.JSON(fiber.Map{"success": true, "data": s.Snapshot()})
}

func (h *Handler) JourneyHistory(c *fiber.Ctx) error {
	if h.d.History == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "Journey history is not enabled")
	}
	limit := c.QueryInt("limit", 20)
	runs, err := h.d.History.Recent(c.UserContext(), sessionParam(c), limit)
	if err != nil {
		log.Error().Err(err).Msg("journey history")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch journey history")
	}
	out := make([]fiber.Map, 0, len(runs))
	for _, r := range runs {
		m := fiber.Map{
			"journeyId":   r.JourneyID,
			"destination": r.Destination,
			"status":      r.Status,
			"ticks":       r.Ticks,
			"startedAt":   r.StartedAt,
		}
		if r.FinishedAt.Valid {
			m["finishedAt"] = r.FinishedAt.Time
		}
		out = append(out, m)
	}
	return c.JSON(fiber.Map{"success": true, "data": out})
}

func (h *Handler) GetWeather(c *fiber.Ctx) error {
	p, err := h.queryPoint(c)
	if err != nil {
		return err
	}
	rep, err := h.d.Weather.Check(c.UserContext(), p)
	if err != nil {
		log.Error().Err(err).Msg("weather check")
		return fiber.NewError(fiber.StatusBadGateway, "Could not get weather data.")
	}
	return c.JSON(fiber.Map{"success": true, "data": rep})
}

func (h *Handler) SendWeatherNotification(c *fiber.Ctx) error {
	p := h.d.Home
	if len(c.Body()) > 0 {
		var req geo.Point
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		p = req
	}
	if p.IsZero() {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Location is required to get weather.")
	}
	rep, err := h.d.Weather.Check(c.UserContext(), p)
	if err != nil {
		log.Error().Err(err).Msg("weather check")
		return fiber.NewError(fiber.StatusBadGateway, "No weather data to send in the notification.")
	}
	if err := h.d.Weather.Send(c.UserContext(), rep); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "Notification scheduling failed.")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "data": rep})
}

// TrendTracker has no content yet.
func (h *Handler) TrendTracker(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": fiber.Map{"trends": []string{}}})
}

func (h *Handler) VehiclePositions(c *fiber.Ctx) error {
	b, err := feed.Marshal(h.d.Journeys.Snapshots(), h.d.Now())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to encode feed")
	}
	c.Set(fiber.HeaderContentType, "application/x-protobuf")
	return c.Send(b)
}

func (h *Handler) session(c *fiber.Ctx) (*sim.Simulator, error) {
	s, ok := h.d.Journeys.Lookup(sessionParam(c))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "Unknown session")
	}
	return s, nil
}

// sessionParam copies the route param out of fiber's reused request buffer,
// since the id outlives the request as a session key.
func sessionParam(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("session"))
}

func (h *Handler) queryPoint(c *fiber.Ctx) (geo.Point, error) {
	latS, lonS := c.Query("lat"), c.Query("lon")
	if latS == "" && lonS == "" {
		if h.d.Home.IsZero() {
			return geo.Point{}, fiber.NewError(fiber.StatusUnprocessableEntity, "Location is required to get weather.")
		}
		return h.d.Home, nil
	}
	lat, err1 := strconv.ParseFloat(latS, 64)
	lon, err2 := strconv.ParseFloat(lonS, 64)
	p := geo.Point{Lat: lat, Lon: lon}
	if err1 != nil || err2 != nil || validate.Struct(p) != nil {
		return geo.Point{}, fiber.NewError(fiber.StatusBadRequest, "Invalid lat/lon")
	}
	return p, nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   err.Error(),
	})
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			return herr
		}
	}
	log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("http request")
	return nil
}
