package owm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ostap7k/city-weather/internal/weather"
)

func testClient(serverURL string) *Client {
	return New(&http.Client{Timeout: time.Second}, Config{
		APIKey:  "testkey",
		BaseURL: serverURL,
		Backoff: BackoffConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
	})
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "testkey" {
			t.Errorf("missing api key in request")
		}
		if r.URL.Query().Get("units") != "metric" {
			t.Errorf("expected metric units")
		}
		w.Write([]byte(`{"main":{"temp":21.5}}`))
	}))
	defer srv.Close()

	temp, err := testClient(srv.URL).Fetch(context.Background(), 50.45, 30.52)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if temp != 21.5 {
		t.Fatalf("expected 21.5, got %f", temp)
	}
}

func TestFetchMissingTemperatureIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"main":{}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), 50.45, 30.52)

	var fe *weather.FetchError
	if !errors.As(err, &fe) || fe.Kind != weather.FetchParse {
		t.Fatalf("expected parse fetch error, got %v", err)
	}
}

func TestFetchUnauthorizedNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), 50.45, 30.52)

	var fe *weather.FetchError
	if !errors.As(err, &fe) || fe.Kind != weather.FetchUnauthorized {
		t.Fatalf("expected unauthorized fetch error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("unauthorized must not be retried, got %d calls", calls)
	}
}

func TestFetchServerErrorRetriedThenClassified(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), 50.45, 30.52)

	var fe *weather.FetchError
	if !errors.As(err, &fe) || fe.Kind != weather.FetchServerError {
		t.Fatalf("expected server error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 1 retry (2 calls), got %d", calls)
	}
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Fetch(context.Background(), 50.45, 30.52)

	var fe *weather.FetchError
	if !errors.As(err, &fe) || fe.Kind != weather.FetchRateLimited {
		t.Fatalf("expected rate limited error, got %v", err)
	}
}

func TestFetchRejectsBadInput(t *testing.T) {
	c := testClient("http://unused.invalid")

	if _, err := c.Fetch(context.Background(), 91, 0); err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}

	noKey := New(&http.Client{Timeout: time.Second}, Config{BaseURL: "http://unused.invalid"})
	_, err := noKey.Fetch(context.Background(), 1, 2)
	var fe *weather.FetchError
	if !errors.As(err, &fe) || fe.Kind != weather.FetchUnauthorized {
		t.Fatalf("expected unauthorized for missing key, got %v", err)
	}
}
