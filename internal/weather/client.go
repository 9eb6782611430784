// Package weather fetches current conditions for the house coordinate and
// funnels them into the note store. The fetched value is never cached as a
// second source of truth; the note is the only record.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/c11s/house-core/internal/address"
)

// DefaultBaseURL is the Open-Meteo forecast API, which needs no API key.
const DefaultBaseURL = "https://api.open-meteo.com"

// Summary is the current-conditions snapshot the house cares about.
type Summary struct {
	TemperatureC float64   `json:"temperatureC"`
	WindSpeedKmh float64   `json:"windSpeedKmh"`
	Code         int       `json:"code"`
	Condition    string    `json:"condition"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

// Client is a rate-limited Open-Meteo client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a weather client. rps bounds outbound requests per
// second; the weather provider is a shared free service.
func NewClient(baseURL string, rps float64, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if rps <= 0 {
		rps = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Fetch returns current conditions at the coordinate.
func (c *Client) Fetch(ctx context.Context, coord address.Coordinate) (Summary, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Summary{}, fmt.Errorf("weather rate limit wait: %w", err)
	}

	query := url.Values{}
	query.Set("latitude", fmt.Sprintf("%.6f", coord.Latitude))
	query.Set("longitude", fmt.Sprintf("%.6f", coord.Longitude))
	query.Set("current", "temperature_2m,wind_speed_10m,weather_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forecast?"+query.Encode(), nil)
	if err != nil {
		return Summary{}, fmt.Errorf("build weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Summary{}, fmt.Errorf("weather provider returned %d: %s", resp.StatusCode, body)
	}

	var parsed forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Summary{}, fmt.Errorf("decode weather response: %w", err)
	}

	return Summary{
		TemperatureC: parsed.Current.Temperature,
		WindSpeedKmh: parsed.Current.WindSpeed,
		Code:         parsed.Current.WeatherCode,
		Condition:    conditionForCode(parsed.Current.WeatherCode),
		FetchedAt:    time.Now().UTC(),
	}, nil
}

// conditionForCode maps WMO weather interpretation codes to short phrases.
func conditionForCode(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "foggy"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 85 && code <= 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unsettled"
	}
}
