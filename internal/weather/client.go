package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notiapp/internal/geo"
)

const defaultBaseURL = "https://api.openweathermap.org/data/2.5"

// Reading is the current weather at a point.
type Reading struct {
	City         string    `json:"city"`
	Country      string    `json:"country"`
	Location     geo.Point `json:"location"`
	TemperatureC float64   `json:"temperature"`
	FeelsLikeC   float64   `json:"feelsLike"`
	Humidity     int       `json:"humidity"`
	Pressure     int       `json:"pressure"`
	WindSpeedMps float64   `json:"windSpeed"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon"`
	Visibility   int       `json:"visibility"`
	Timestamp    time.Time `json:"timestamp"`
	IsMock       bool      `json:"isMock"`
}

// Provider returns current conditions for a point.
type Provider interface {
	Current(ctx context.Context, p geo.Point) (Reading, error)
}

// Client talks to the OpenWeatherMap current weather endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// OpenWeatherResponse represents the OpenWeatherMap API response
type OpenWeatherResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility int    `json:"visibility"`
	Name       string `json:"name"`
	Sys        struct {
		Country string `json:"country"`
	} `json:"sys"`
	Dt int64 `json:"dt"`
}

// Current fetches metric-unit conditions. Without an API key it returns mock data.
func (c *Client) Current(ctx context.Context, p geo.Point) (Reading, error) {
	if c.apiKey == "" {
		return mockReading(p), nil
	}

	q := url.Values{
		"lat":   {fmt.Sprintf("%f", p.Lat)},
		"lon":   {fmt.Sprintf("%f", p.Lon)},
		"appid": {c.apiKey},
		"units": {"metric"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return Reading{}, fmt.Errorf("weather: failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("weather: unexpected status %d", resp.StatusCode)
	}

	var owResp OpenWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&owResp); err != nil {
		return Reading{}, fmt.Errorf("weather: failed to decode response: %w", err)
	}

	r := Reading{
		City:         owResp.Name,
		Country:      owResp.Sys.Country,
		Location:     p,
		TemperatureC: owResp.Main.Temp,
		FeelsLikeC:   owResp.Main.FeelsLike,
		Humidity:     owResp.Main.Humidity,
		Pressure:     owResp.Main.Pressure,
		WindSpeedMps: owResp.Wind.Speed,
		Visibility:   owResp.Visibility,
		Timestamp:    time.Now(),
	}
	if owResp.Dt > 0 {
		r.Timestamp = time.Unix(owResp.Dt, 0)
	}
	if len(owResp.Weather) > 0 {
		r.Description = owResp.Weather[0].Description
		r.Icon = owResp.Weather[0].Icon
	}
	return r, nil
}

func mockReading(p geo.Point) Reading {
	return Reading{
		City:         "Mock City",
		Country:      "XX",
		Location:     p,
		TemperatureC: 18.5,
		FeelsLikeC:   17.9,
		Humidity:     55,
		Pressure:     1015,
		WindSpeedMps: 3.2,
		Description:  "scattered clouds",
		Icon:         "03d",
		Visibility:   10000,
		Timestamp:    time.Now(),
		IsMock:       true,
	}
}
