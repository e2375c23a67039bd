// Package owm is the OpenWeatherMap client used to fetch the current
// temperature for a coordinate pair. Outbound calls go through retries
// with exponential backoff and a circuit breaker; failures come back as
// typed *weather.FetchError values so the updater can map them onto
// stored cache statuses.
package owm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ostap7k/city-weather/internal/weather"
)

const defaultBaseURL = "https://api.openweathermap.org"

// BackoffConfig controls retry behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config bundles client settings. Zero values get sensible defaults.
type Config struct {
	APIKey  string
	BaseURL string
	Backoff BackoffConfig
}

// Client fetches weather data from OpenWeatherMap.
type Client struct {
	httpClient *http.Client
	cfg        Config
	circuit    *gobreaker.CircuitBreaker
}

// New creates a Client using the given HTTP client for outbound calls.
func New(httpClient *http.Client, cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = BackoffConfig{
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweathermap",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		circuit:    cb,
	}
}

// Fetch returns the current temperature in Celsius at lat/lon.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (float64, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, &weather.FetchError{Kind: weather.FetchTransport, Err: fmt.Errorf("coordinates out of range: %f,%f", lat, lon)}
	}
	if c.cfg.APIKey == "" {
		return 0, &weather.FetchError{Kind: weather.FetchUnauthorized, Err: errors.New("api key not configured")}
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", lat))
		values.Set("lon", fmt.Sprintf("%f", lon))
		values.Set("appid", c.cfg.APIKey)
		values.Set("units", "metric")
		u := fmt.Sprintf("%s/data/2.5/weather?%s", c.cfg.BaseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := c.doWithResilience(ctx, buildRequest)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload struct {
		Main struct {
			Temp *float64 `json:"temp"`
		} `json:"main"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, &weather.FetchError{Kind: weather.FetchParse, Err: err}
	}
	if payload.Main.Temp == nil {
		return 0, &weather.FetchError{Kind: weather.FetchParse, Err: errors.New("temperature missing from response")}
	}
	return *payload.Main.Temp, nil
}

// doWithResilience executes the request with retries, exponential backoff
// and the circuit breaker. Unauthorized responses are not retried.
func (c *Client) doWithResilience(ctx context.Context, buildRequest func() (*http.Request, error)) (*http.Response, error) {
	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, &weather.FetchError{Kind: weather.FetchTransport, Err: ctx.Err()}
		}

		req, err := buildRequest()
		if err != nil {
			return nil, &weather.FetchError{Kind: weather.FetchTransport, Err: err}
		}
		req = req.WithContext(ctx)

		result, err := c.circuit.Execute(func() (interface{}, error) {
			resp, execErr := c.httpClient.Do(req)
			if execErr != nil {
				return nil, &weather.FetchError{Kind: weather.FetchTransport, Err: execErr}
			}
			if fe := classifyStatus(resp.StatusCode); fe != nil {
				resp.Body.Close()
				return nil, fe
			}
			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, &weather.FetchError{Kind: weather.FetchTransport, Err: errors.New("unexpected result type from circuit breaker")}
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &weather.FetchError{Kind: weather.FetchServerError, Err: err}
		}

		var fe *weather.FetchError
		if errors.As(err, &fe) && fe.Kind == weather.FetchUnauthorized {
			return nil, fe
		}

		lastErr = err
		if attempt >= c.cfg.Backoff.MaxRetries {
			if errors.As(lastErr, &fe) {
				return nil, fe
			}
			return nil, &weather.FetchError{Kind: weather.FetchTransport, Err: lastErr}
		}

		delay := c.cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if c.cfg.Backoff.MaxInterval > 0 && delay > c.cfg.Backoff.MaxInterval {
			delay = c.cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &weather.FetchError{Kind: weather.FetchTransport, Err: ctx.Err()}
		case <-timer.C:
		}

		attempt++
	}
}

func classifyStatus(code int) *weather.FetchError {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &weather.FetchError{Kind: weather.FetchUnauthorized, Err: fmt.Errorf("status %d", code)}
	case code == http.StatusTooManyRequests:
		return &weather.FetchError{Kind: weather.FetchRateLimited, Err: fmt.Errorf("status %d", code)}
	case code >= 500:
		return &weather.FetchError{Kind: weather.FetchServerError, Err: fmt.Errorf("status %d", code)}
	default:
		return &weather.FetchError{Kind: weather.FetchServerError, Err: fmt.Errorf("unexpected status %d", code)}
	}
}
