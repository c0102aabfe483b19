package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/logger"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

// OpenWeatherMap endpoints.
const (
	DefaultGeocodingURL = "https://api.openweathermap.org/geo/1.0/direct"
	DefaultOneCallURL   = "https://api.openweathermap.org/data/3.0/onecall"

	defaultWeatherTimeout = 10 * time.Second
	maxWeatherBody        = 1 << 20
	maxLocationLen        = 200
)

// WeatherConfig configures the weather tool.
type WeatherConfig struct {
	APIKey       string
	GeocodingURL string
	OneCallURL   string
	Timeout      time.Duration // per upstream request
}

// WeatherTool reports current conditions for a place name via the
// OpenWeatherMap geocoding and One Call 3.0 APIs.
type WeatherTool struct {
	cfg    WeatherConfig
	client *http.Client
	logger *slog.Logger
}

// NewWeatherTool creates the weather tool. A nil client uses
// http.DefaultClient. Without an API key every call reports that the tool
// is not configured.
func NewWeatherTool(cfg WeatherConfig, client *http.Client, logger *slog.Logger) *WeatherTool {
	if cfg.GeocodingURL == "" {
		cfg.GeocodingURL = DefaultGeocodingURL
	}
	if cfg.OneCallURL == "" {
		cfg.OneCallURL = DefaultOneCallURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWeatherTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WeatherTool{cfg: cfg, client: client, logger: logger}
}

func (t *WeatherTool) Name() string { return "weather" }
func (t *WeatherTool) Description() string {
	return `Get current weather for a location: temperature (Fahrenheit), conditions, humidity and wind speed (mph). Locations like "Denver, Colorado" or "London, UK" work best.`
}

func (t *WeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "description": "City name, optionally with state or country"}
			},
			"required": ["location"],
			"additionalProperties": false
		}`),
	}
}

type weatherParams struct {
	Location string `json:"location"`
}

// Weather is the tool's answer.
type Weather struct {
	Location        string  `json:"location"`
	Temperature     float64 `json:"temperature"`
	TemperatureUnit string  `json:"temperature_unit"`
	Description     string  `json:"description"`
	Humidity        int     `json:"humidity"`
	HumidityUnit    string  `json:"humidity_unit"`
	WindSpeed       float64 `json:"wind_speed"`
	WindSpeedUnit   string  `json:"wind_speed_unit"`
}

func (t *WeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.weather", t.logger, params,
		func(ctx context.Context, span trace.Span, p weatherParams) (any, error) {
			p.Location = strings.TrimSpace(p.Location)
			if err := ValidateAll(
				RequireField("location", p.Location),
				ValidateMaxLen("location", p.Location, maxLocationLen),
			); err != nil {
				return ErrResult("%v", err)
			}
			if t.cfg.APIKey == "" {
				return ErrResult("Weather API key not configured")
			}
			span.SetAttributes(tracer.StringAttr("weather.location", p.Location))

			lat, lon, found, err := t.geocode(ctx, p.Location)
			if err != nil {
				return nil, err
			}
			if !found {
				return ErrResult("Location '%s' not found.%s Please try a different location name or format (e.g., 'City, State' or 'City, Country').",
					p.Location, locationSuggestion(p.Location))
			}
			return t.current(ctx, p.Location, lat, lon)
		})
}

// locationVariants returns the place name as given and, for "City State"
// input without a comma, "City, State".
func locationVariants(location string) []string {
	variants := []string{location}
	if strings.Contains(location, ",") {
		return variants
	}
	if parts := strings.Fields(location); len(parts) >= 2 {
		variants = append(variants, parts[0]+", "+strings.Join(parts[1:], " "))
	}
	return variants
}

func locationSuggestion(location string) string {
	if strings.Contains(location, ",") {
		return ""
	}
	parts := strings.Fields(location)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf(" Try '%s, %s' or just '%s'.", parts[0], strings.Join(parts[1:], " "), parts[0])
}

// geocode resolves location to coordinates, trying each variant in turn.
// An unauthorized reply ends the search since no variant can succeed. When
// no variant matched and a request failed outright, that failure is returned.
func (t *WeatherTool) geocode(ctx context.Context, location string) (lat, lon float64, found bool, err error) {
	var lastErr error
	for _, variant := range locationVariants(location) {
		q := url.Values{"q": {variant}, "limit": {"1"}, "appid": {t.cfg.APIKey}}
		status, body, err := t.get(ctx, t.cfg.GeocodingURL, q)
		if err != nil {
			t.logger.Debug("geocoding request failed", "location", variant, "error", err)
			lastErr = err
			continue
		}
		if status == http.StatusUnauthorized {
			return 0, 0, false, fmt.Errorf("weather API rejected the API key")
		}
		if status != http.StatusOK {
			continue
		}
		var places []struct {
			Lat *float64 `json:"lat"`
			Lon *float64 `json:"lon"`
		}
		if err := json.Unmarshal(body, &places); err != nil || len(places) == 0 ||
			places[0].Lat == nil || places[0].Lon == nil {
			continue
		}
		return *places[0].Lat, *places[0].Lon, true, nil
	}
	return 0, 0, false, lastErr
}

type oneCallResponse struct {
	Current *struct {
		Temp      float64 `json:"temp"`
		Humidity  int     `json:"humidity"`
		WindSpeed float64 `json:"wind_speed"`
		Weather   []struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"current"`
}

func (t *WeatherTool) current(ctx context.Context, location string, lat, lon float64) (any, error) {
	q := url.Values{
		"lat":     {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":     {strconv.FormatFloat(lon, 'f', -1, 64)},
		"appid":   {t.cfg.APIKey},
		"units":   {"imperial"},
		"exclude": {"minutely,hourly,daily,alerts"},
	}
	status, body, err := t.get(ctx, t.cfg.OneCallURL, q)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return ErrResult("Invalid API key or subscription issue. Check the weather API key and that the One Call API 3.0 subscription is active.")
	case status == http.StatusNotFound:
		return ErrResult("Weather data not found for location '%s'.", location)
	case status == http.StatusTooManyRequests:
		return nil, domain.NewDomainError("WeatherTool.current", domain.ErrRateLimit, "weather API rate limit exceeded")
	case status >= 500:
		return nil, domain.NewDomainError("WeatherTool.current", domain.ErrDestinationUnavailable,
			fmt.Sprintf("weather API returned %d", status))
	case status != http.StatusOK:
		return ErrResult("Weather API returned error %d: %s", status, truncateBody(body, 200))
	}

	var resp oneCallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ErrResult("Unexpected weather API response: %v", err)
	}
	if resp.Current == nil {
		return ErrResult("Unexpected weather API response: missing current weather data")
	}
	if len(resp.Current.Weather) == 0 {
		return ErrResult("Unexpected weather API response: missing weather description")
	}
	return Weather{
		Location:        location,
		Temperature:     resp.Current.Temp,
		TemperatureUnit: "Fahrenheit",
		Description:     resp.Current.Weather[0].Description,
		Humidity:        resp.Current.Humidity,
		HumidityUnit:    "percent",
		WindSpeed:       resp.Current.WindSpeed,
		WindSpeedUnit:   "miles per hour",
	}, nil
}

// get issues a GET bounded by the tool timeout and returns the status and
// at most maxWeatherBody bytes of body.
func (t *WeatherTool) get(ctx context.Context, endpoint string, q url.Values) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the API key.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return 0, nil, fmt.Errorf("%w: weather request: %v", domain.ErrDestinationUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWeatherBody))
	if err != nil {
		return 0, nil, fmt.Errorf("read weather response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func truncateBody(body []byte, n int) string {
	s := logger.RedactString(strings.TrimSpace(string(body)))
	if s == "" {
		return "Unknown error"
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}
