package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"notiapp/internal/geo"
	"notiapp/internal/sim"
	"notiapp/internal/weather"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    zerolog.Level
	LogJSON     bool

	// Empty disables journey history and the db routing backend.
	DatabaseURL string

	// Empty disables position publishing and the nats notification backend.
	NATSURL         string
	NATSStreamName  string
	LogNATSSubjects bool

	TickInterval    time.Duration
	ResetPolicy     sim.ResetPolicy
	Home            geo.Point
	CompletionDelay time.Duration
	MaxSessions     int

	DestinationsFile string
	RoutingBackend   string // auto|db|osrm
	OSRMURL          string

	OpenWeatherAPIKey    string
	OpenWeatherURL       string
	WeatherThresholds    weather.Thresholds
	WeatherRulesFile     string
	WeatherWatchInterval time.Duration
	WeatherNotifyDelay   time.Duration

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	WeatherCacheTTL time.Duration

	NotifyBackend     string // log|nats|fcm
	FCMCredentialsB64 string
	FCMToken          string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(getenvDefault("LOG_LEVEL", "info")))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %v", err)
	}
	cfg.LogJSON = parseBool(os.Getenv("LOG_JSON"))

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSStreamName = os.Getenv("NATS_STREAM_NAME")
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"))

	if cfg.TickInterval, err = durationMS("TICK_INTERVAL_MS", sim.DefaultTickInterval); err != nil {
		return nil, err
	}
	if cfg.ResetPolicy, err = sim.ParseResetPolicy(os.Getenv("RESET_POSITION")); err != nil {
		return nil, fmt.Errorf("invalid RESET_POSITION: %v", err)
	}
	if cfg.Home, err = point("HOME_LAT", "HOME_LON"); err != nil {
		return nil, err
	}
	if cfg.CompletionDelay, err = durationSec("COMPLETION_NOTIFY_DELAY_SEC", sim.DefaultCompletionDelay, true); err != nil {
		return nil, err
	}

	cfg.MaxSessions = sim.DefaultMaxSessions
	if v := os.Getenv("MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %q", v)
		}
		cfg.MaxSessions = n
	}

	cfg.DestinationsFile = getenvDefault("DESTINATIONS_FILE", "destinations.yml")
	cfg.RoutingBackend = strings.ToLower(getenvDefault("ROUTING_BACKEND", "auto"))
	switch cfg.RoutingBackend {
	case "auto", "db", "osrm":
	default:
		return nil, fmt.Errorf("invalid ROUTING_BACKEND: %q", cfg.RoutingBackend)
	}
	if cfg.RoutingBackend == "db" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("ROUTING_BACKEND=db requires DATABASE_URL or PGDATABASE")
	}
	cfg.OSRMURL = getenvDefault("OSRM_URL", "https://router.project-osrm.org")

	cfg.OpenWeatherAPIKey = firstNonEmpty(os.Getenv("OPENWEATHER_API_KEY"), os.Getenv("OWM_API_KEY"))
	cfg.OpenWeatherURL = os.Getenv("OPENWEATHER_URL")
	if cfg.WeatherThresholds.MaxTempC, err = optFloat("WEATHER_MAX_TEMP_C"); err != nil {
		return nil, err
	}
	if cfg.WeatherThresholds.MinTempC, err = optFloat("WEATHER_MIN_TEMP_C"); err != nil {
		return nil, err
	}
	if cfg.WeatherThresholds.MaxWindMps, err = optFloat("WEATHER_MAX_WIND_MPS"); err != nil {
		return nil, err
	}
	if v := os.Getenv("WEATHER_MAX_HUMIDITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("invalid WEATHER_MAX_HUMIDITY: %q", v)
		}
		cfg.WeatherThresholds.MaxHumidityPct = &n
	}
	cfg.WeatherRulesFile = os.Getenv("WEATHER_RULES_FILE")
	if cfg.WeatherWatchInterval, err = durationSec("WEATHER_WATCH_INTERVAL_SEC", 0, true); err != nil {
		return nil, err
	}
	if cfg.WeatherNotifyDelay, err = durationSec("WEATHER_NOTIFY_DELAY_SEC", weather.DefaultNotifyDelay, true); err != nil {
		return nil, err
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", v)
		}
		cfg.RedisDB = n
	}
	if cfg.WeatherCacheTTL, err = durationSec("WEATHER_CACHE_TTL_SEC", 10*time.Minute, false); err != nil {
		return nil, err
	}

	cfg.NotifyBackend = strings.ToLower(getenvDefault("NOTIFY_BACKEND", "log"))
	cfg.FCMCredentialsB64 = os.Getenv("FCM_CREDENTIALS_B64")
	cfg.FCMToken = os.Getenv("FCM_TOKEN")
	switch cfg.NotifyBackend {
	case "log":
	case "nats":
		if cfg.NATSURL == "" {
			return nil, fmt.Errorf("NOTIFY_BACKEND=nats requires NATS_URL")
		}
	case "fcm":
		if cfg.FCMCredentialsB64 == "" || cfg.FCMToken == "" {
			return nil, fmt.Errorf("NOTIFY_BACKEND=fcm requires FCM_CREDENTIALS_B64 and FCM_TOKEN")
		}
	default:
		return nil, fmt.Errorf("invalid NOTIFY_BACKEND: %q", cfg.NotifyBackend)
	}

	return cfg, nil
}

// SimConfig returns the per-session simulator settings.
func (c *Config) SimConfig() sim.Config {
	return sim.Config{
		TickInterval:    c.TickInterval,
		ResetPolicy:     c.ResetPolicy,
		Home:            c.Home,
		CompletionDelay: c.CompletionDelay,
		MaxSessions:     c.MaxSessions,
	}
}

func durationMS(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func durationSec(key string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || (f == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func optFloat(key string) (*float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", key, v)
	}
	return &f, nil
}

func point(latKey, lonKey string) (geo.Point, error) {
	latS, lonS := os.Getenv(latKey), os.Getenv(lonKey)
	if latS == "" && lonS == "" {
		return geo.Point{}, nil
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil || lat < -90 || lat > 90 {
		return geo.Point{}, fmt.Errorf("invalid %s: %q", latKey, latS)
	}
	lon, err := strconv.ParseFloat(lonS, 64)
	if err != nil || lon < -180 || lon > 180 {
		return geo.Point{}, fmt.Errorf("invalid %s: %q", lonKey, lonS)
	}
	return geo.Point{Lat: lat, Lon: lon}, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
