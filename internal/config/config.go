// Package config loads application configuration from CLI flags and
// environment variables, validates required fields, and provides sensible
// defaults. CLI flags control which external services are mocked
// (--no-geo, --no-weather, --test); environment variables provide secrets
// and service endpoints.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string

	// Storage and encryption
	MasterKey    string // 64 hex characters (32 bytes)
	DatabasePath string

	// House location, used for weather and as the geocoder fallback
	HouseLatitude  float64
	HouseLongitude float64
	HasHouseCoords bool

	// Mock service flags (controlled by CLI flags, not env vars)
	NoGeo     bool // If true, use the fixture address provider (--no-geo)
	NoWeather bool // If true, skip the weather refresher (--no-weather)

	// Reverse geocoding (Nominatim requires an identifying User-Agent)
	GeocoderBaseURL   string
	GeocoderUserAgent string
	GeocoderTimeout   time.Duration

	// Weather (Open-Meteo)
	WeatherBaseURL  string
	WeatherRPS      float64
	WeatherTimeout  time.Duration
	WeatherInterval time.Duration

	// Optional smart-home snapshot imported at startup
	HomeKitImportPath string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Flags are the CLI-controlled settings. Parse before LoadConfig.
type Flags struct {
	NoGeo         bool
	NoWeather     bool
	Addr          string
	EnvFile       string
	HomeKitImport string
}

// ParseFlags registers and parses the CLI flags.
func ParseFlags() Flags {
	var f Flags
	var testMode bool
	pflag.BoolVar(&f.NoGeo, "no-geo", false, "Use a fixture address provider instead of the geocoder")
	pflag.BoolVar(&f.NoWeather, "no-weather", false, "Skip the periodic weather refresh")
	pflag.BoolVar(&testMode, "test", false, "Shorthand for --no-geo --no-weather")
	pflag.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	pflag.StringVar(&f.EnvFile, "env-file", "", "Load environment variables from this file before reading them")
	pflag.StringVar(&f.HomeKitImport, "homekit-import", "", "Import a smart-home configuration JSON file at startup")
	pflag.Parse()

	if testMode {
		f.NoGeo = true
		f.NoWeather = true
	}
	return f
}

// LoadConfig loads configuration from environment variables and CLI flag
// values, then validates it.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{}

	cfg.NoGeo = f.NoGeo
	cfg.NoWeather = f.NoWeather
	cfg.HomeKitImportPath = f.HomeKitImport

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}

	cfg.MasterKey = os.Getenv("MASTER_KEY")
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "house.db")

	if lat, ok := lookupFloat("HOUSE_LAT"); ok {
		if lon, ok := lookupFloat("HOUSE_LON"); ok {
			cfg.HouseLatitude = lat
			cfg.HouseLongitude = lon
			cfg.HasHouseCoords = true
		}
	}

	cfg.GeocoderBaseURL = getEnvOrDefault("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org")
	cfg.GeocoderUserAgent = os.Getenv("GEOCODER_USER_AGENT")
	cfg.GeocoderTimeout = parseDurationOrDefault("GEOCODER_TIMEOUT", 10*time.Second)

	cfg.WeatherBaseURL = getEnvOrDefault("WEATHER_BASE_URL", "https://api.open-meteo.com")
	cfg.WeatherRPS = parseFloat64OrDefault("WEATHER_RPS", 0.5)
	cfg.WeatherTimeout = parseDurationOrDefault("WEATHER_TIMEOUT", 10*time.Second)
	cfg.WeatherInterval = parseDurationOrDefault("WEATHER_INTERVAL", 30*time.Minute)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// When mocks are NOT active for a service, its settings are required.
func (c *Config) Validate() error {
	var issues []string

	// MasterKey: always required (losing it = the notes database is unreadable)
	if c.MasterKey == "" {
		issues = append(issues, "MASTER_KEY is required (generate with: openssl rand -hex 32)")
	} else if len(c.MasterKey) != 64 {
		issues = append(issues, "MASTER_KEY must be 64 hex characters (32 bytes)")
	} else if _, err := hex.DecodeString(c.MasterKey); err != nil {
		issues = append(issues, "MASTER_KEY must be valid hex")
	}

	if c.DatabasePath == "" {
		issues = append(issues, "DATABASE_PATH must not be empty")
	}

	if !c.NoWeather {
		if !c.HasHouseCoords {
			issues = append(issues, "HOUSE_LAT and HOUSE_LON are required (set env vars or use --no-weather)")
		}
		if c.WeatherRPS <= 0 {
			issues = append(issues, "WEATHER_RPS must be positive")
		}
		if c.WeatherInterval <= 0 {
			issues = append(issues, "WEATHER_INTERVAL must be positive")
		}
	}

	if !c.NoGeo && c.GeocoderUserAgent == "" {
		issues = append(issues, "GEOCODER_USER_AGENT is required (Nominatim rejects anonymous clients; or use --no-geo)")
	}

	if c.HasHouseCoords {
		if c.HouseLatitude < -90 || c.HouseLatitude > 90 {
			issues = append(issues, "HOUSE_LAT must be between -90 and 90")
		}
		if c.HouseLongitude < -180 || c.HouseLongitude > 180 {
			issues = append(issues, "HOUSE_LON must be between -180 and 180")
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Errors: issues}
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func lookupFloat(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat64OrDefault(key string, def float64) float64 {
	if v, ok := lookupFloat(key); ok {
		return v
	}
	return def
}

func parseDurationOrDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
