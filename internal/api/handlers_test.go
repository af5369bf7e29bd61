package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"notiapp/internal/db"
	"notiapp/internal/geo"
	"notiapp/internal/notify"
	"notiapp/internal/routing"
	"notiapp/internal/sim"
	"notiapp/internal/weather"
)

var (
	home    = geo.Point{Lat: 43.2380, Lon: 76.8829}
	airport = geo.Point{Lat: 43.3521, Lon: 77.0405}
)

type stubProvider struct {
	path geo.Path
	err  error
}

func (p *stubProvider) Path(context.Context, geo.Point, string) (geo.Path, error) {
	return p.path, p.err
}

type stubWeather struct {
	reading weather.Reading
	err     error
}

func (w *stubWeather) Current(context.Context, geo.Point) (weather.Reading, error) {
	return w.reading, w.err
}

type sinkRecorder struct {
	got []notify.Notification
}

func (s *sinkRecorder) Notify(_ context.Context, n notify.Notification) error {
	s.got = append(s.got, n)
	return nil
}

type stubHistory struct{}

func (stubHistory) Recent(context.Context, string, int) ([]db.JourneyRun, error) {
	return []db.JourneyRun{{JourneyID: "j1", Destination: "airport", Status: "ended", Ticks: 4}}, nil
}

type fixture struct {
	app      *fiber.App
	sched    *sim.ManualScheduler
	provider *stubProvider
	weather  *stubWeather
	sink     *sinkRecorder
	manager  *sim.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, sim.Config{})
}

func newFixtureWith(t *testing.T, cfg sim.Config) *fixture {
	t.Helper()
	catalog, err := routing.NewCatalog(routing.Destination{ID: "airport", Name: "Airport", Location: airport})
	require.NoError(t, err)

	f := &fixture{
		sched:    sim.NewManualScheduler(),
		provider: &stubProvider{path: geo.Path{home, {Lat: 43.30, Lon: 76.95}, airport}},
		weather:  &stubWeather{reading: weather.Reading{City: "Almaty", TemperatureC: 21.4}},
		sink:     &sinkRecorder{},
	}
	f.manager = sim.NewManager(f.provider, f.sched, f.sink, nil, cfg)
	f.app = NewApp(Deps{
		Journeys: f.manager,
		Catalog:  catalog,
		Weather:  weather.NewAlerter(f.weather, nil, f.sink, weather.DefaultNotifyDelay, nil),
		History:  stubHistory{},
		Home:     home,
		Now:      func() time.Time { return time.Unix(1760774400, 0) },
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func data(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	d, ok := out["data"].(map[string]any)
	require.True(t, ok, "data: %v", out)
	return d
}

func TestHomeAndTrendTracker(t *testing.T) {
	f := newFixture(t)

	code, out := f.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, data(t, out)["screens"], 3)

	code, out = f.do(t, http.MethodGet, "/trendtracker", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, data(t, out)["trends"])
}

func TestJourneyLifecycle(t *testing.T) {
	f := newFixture(t)

	code, out := f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "rider-1", "destination": "airport"})
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, "running", data(t, out)["status"])

	f.sched.Advance(time.Second)
	code, out = f.do(t, http.MethodGet, "/busbuddy/journeys/rider-1", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, out)
	assert.EqualValues(t, 1, d["cursor"])
	assert.Len(t, d["traveledPath"], 2)

	code, out = f.do(t, http.MethodPost, "/busbuddy/journeys/rider-1/end", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ended", data(t, out)["status"])

	f.manager.Shutdown()
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, "You have arrived at Airport.", f.sink.got[0].Body)
}

func TestStopJourney(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r", "destination": "airport", "origin": home})
	require.Equal(t, http.StatusCreated, code)

	code, out := f.do(t, http.MethodPost, "/busbuddy/journeys/r/stop", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, out)
	assert.Equal(t, "stopped", d["status"])
	assert.Empty(t, d["traveledPath"])
}

func TestStartJourneyErrors(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"destination": "airport"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r", "destination": "moon"})
	assert.Equal(t, http.StatusNotFound, code)

	f.provider.path = nil
	code, out := f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r", "destination": "airport"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, false, out["success"])

	f.provider.err = errors.New("osrm down")
	code, _ = f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r", "destination": "airport"})
	assert.Equal(t, http.StatusBadGateway, code)

	code, _ = f.do(t, http.MethodPost, "/busbuddy/journeys/ghost/stop", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSetHome(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodPut, "/busbuddy/journeys/r/home", geo.Point{Lat: 1, Lon: 2})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", data(t, out)["status"])

	code, _ = f.do(t, http.MethodPut, "/busbuddy/journeys/r/home", geo.Point{Lat: 100, Lon: 2})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSessionIDsSurviveLaterRequests(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPut, "/busbuddy/journeys/aaaaaaaa/home", geo.Point{Lat: 1, Lon: 2})
	require.Equal(t, http.StatusOK, code)
	for i := 0; i < 5; i++ {
		code, _ = f.do(t, http.MethodGet, "/busbuddy/journeys/zzzzzzzz", nil)
		require.Equal(t, http.StatusNotFound, code)
		code, _ = f.do(t, http.MethodPut, "/busbuddy/journeys/bbbbbbbb/home", geo.Point{Lat: 3, Lon: 4})
		require.Equal(t, http.StatusOK, code)
	}

	a, ok := f.manager.Lookup("aaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, "aaaaaaaa", a.Session())
	b, ok := f.manager.Lookup("bbbbbbbb")
	require.True(t, ok)
	assert.Equal(t, "bbbbbbbb", b.Session())

	code, out := f.do(t, http.MethodGet, "/busbuddy/journeys", nil)
	require.Equal(t, http.StatusOK, code)
	list, ok := out["data"].([]any)
	require.True(t, ok)
	var ids []string
	for _, item := range list {
		ids = append(ids, item.(map[string]any)["session"].(string))
	}
	assert.Equal(t, []string{"aaaaaaaa", "bbbbbbbb"}, ids)
}

func TestSessionLimit(t *testing.T) {
	f := newFixtureWith(t, sim.Config{MaxSessions: 1})
	code, _ := f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r1", "destination": "airport"})
	require.Equal(t, http.StatusCreated, code)

	code, _ = f.do(t, http.MethodPut, "/busbuddy/journeys/r2/home", geo.Point{Lat: 1, Lon: 2})
	assert.Equal(t, http.StatusTooManyRequests, code)
	code, _ = f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r3", "destination": "airport"})
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = f.do(t, http.MethodPut, "/busbuddy/journeys/r1/home", geo.Point{Lat: 1, Lon: 2})
	assert.Equal(t, http.StatusOK, code)
}

func TestJourneyHistory(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodGet, "/busbuddy/journeys/r/history", nil)
	require.Equal(t, http.StatusOK, code)
	runs, ok := out["data"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
	assert.Equal(t, "ended", runs[0].(map[string]any)["status"])
}

func TestWeatherWizard(t *testing.T) {
	f := newFixture(t)

	code, out := f.do(t, http.MethodGet, "/weatherwizard?lat=43.25&lon=76.95", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Almaty", data(t, out)["weather"].(map[string]any)["city"])

	code, _ = f.do(t, http.MethodGet, "/weatherwizard?lat=abc&lon=1", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/weatherwizard/notify", nil)
	require.Equal(t, http.StatusAccepted, code)
	require.Len(t, f.sink.got, 1)
	assert.Equal(t, "Weather Update for Almaty", f.sink.got[0].Title)
	assert.Equal(t, "Current temperature: 21.4°C", f.sink.got[0].Body)

	f.weather.err = errors.New("owm down")
	code, out = f.do(t, http.MethodGet, "/weatherwizard", nil)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "Could not get weather data.", out["error"])
}

func TestVehiclePositionsFeed(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/busbuddy/journeys", fiber.Map{"session": "r", "destination": "airport"})
	require.Equal(t, http.StatusCreated, code)
	f.sched.Advance(time.Second)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/gtfs-rt/vehicle-positions", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var msg gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(b, &msg))
	require.Len(t, msg.Entity, 1)
	assert.Equal(t, "r", msg.Entity[0].GetVehicle().GetVehicle().GetId())
}
