package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"notiapp/internal/db"
	"notiapp/internal/geo"
	"notiapp/internal/sim"
)

// ErrNoShape is returned by DBProvider for destinations without a stored shape.
var ErrNoShape = errors.New("destination has no shape")

// DBProvider serves paths from GTFS shapes stored in PostgreSQL.
type DBProvider struct {
	db      *sql.DB
	catalog *Catalog
}

func NewDBProvider(conn *sql.DB, catalog *Catalog) *DBProvider {
	return &DBProvider{db: conn, catalog: catalog}
}

// Path returns the destination's shape starting at the vertex nearest to origin.
func (p *DBProvider) Path(ctx context.Context, origin geo.Point, destinationID string) (geo.Path, error) {
	d, err := p.catalog.Get(destinationID)
	if err != nil {
		return nil, err
	}
	if d.ShapeID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoShape, d.ID)
	}
	shape, err := db.FetchShapePath(ctx, p.db, d.ShapeID)
	if err != nil {
		return nil, err
	}
	return geo.TrimFrom(shape, origin), nil
}

// OSRMProvider asks an OSRM-compatible routing service for a driving route.
type OSRMProvider struct {
	baseURL    string
	profile    string
	catalog    *Catalog
	httpClient *http.Client
}

func NewOSRMProvider(baseURL string, catalog *Catalog) *OSRMProvider {
	return &OSRMProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving",
		catalog: catalog,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Geometry struct {
			Type        string       `json:"type"`
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func (p *OSRMProvider) Path(ctx context.Context, origin geo.Point, destinationID string) (geo.Path, error) {
	d, err := p.catalog.Get(destinationID)
	if err != nil {
		return nil, err
	}
	coords := fmt.Sprintf("%f,%f;%f,%f", origin.Lon, origin.Lat, d.Location.Lon, d.Location.Lat)
	u := fmt.Sprintf("%s/route/v1/%s/%s?%s", p.baseURL, p.profile, coords, url.Values{
		"overview":   {"full"},
		"geometries": {"geojson"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("osrm: failed to create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("osrm: request failed: %w", err)
	}
	defer resp.Body.Close()

	var r osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("osrm: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || r.Code != "Ok" {
		return nil, fmt.Errorf("osrm: %s %s (status %d)", r.Code, r.Message, resp.StatusCode)
	}
	if len(r.Routes) == 0 {
		return nil, nil
	}
	line := r.Routes[0].Geometry.Coordinates
	path := make(geo.Path, 0, len(line))
	for _, c := range line {
		path = append(path, geo.Point{Lat: c[1], Lon: c[0]})
	}
	log.Debug().
		Str("destination", d.ID).
		Int("points", len(path)).
		Float64("distance_m", r.Routes[0].Distance).
		Msg("osrm route")
	return path, nil
}

// FallbackProvider tries each provider in order and returns the first non-empty path.
type FallbackProvider []sim.PathProvider

func (f FallbackProvider) Path(ctx context.Context, origin geo.Point, destinationID string) (geo.Path, error) {
	var errs []error
	for _, p := range f {
		path, err := p.Path(ctx, origin, destinationID)
		if err != nil {
			if errors.Is(err, ErrUnknownDestination) {
				return nil, err
			}
			errs = append(errs, err)
			continue
		}
		if len(path) > 0 {
			return path, nil
		}
	}
	return nil, errors.Join(errs...)
}
