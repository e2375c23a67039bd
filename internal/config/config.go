package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	WeatherAPIKey  string
	WeatherAPIBase string
	GeocoderAPIKey string

	// HTTPTimeout bounds a single upstream weather call.
	HTTPTimeout time.Duration

	// CacheTTL is the validity duration of a successful weather record.
	CacheTTL time.Duration

	// Global upstream-call budget: BudgetLimit calls per BudgetWindow.
	BudgetWindow time.Duration
	BudgetLimit  int

	// SweepInterval is the recurring refresh period for all cities.
	SweepInterval time.Duration
	// StaggerStep is the delay added per city when flushing a batch.
	StaggerStep time.Duration

	// Circuit breaker: after AbortThreshold consecutive failed updates a
	// city is left alone until the tally expires after AbortTTL.
	AbortThreshold int
	AbortTTL       time.Duration

	// Rate limit for the client-side status polling endpoint.
	StatusRateMax    int
	StatusRateWindow time.Duration

	DBPath string
	Port   string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		WeatherAPIKey:  os.Getenv("WEATHER_API_KEY"),
		WeatherAPIBase: getenvDefault("WEATHER_API_BASE", "https://api.openweathermap.org"),
		GeocoderAPIKey: os.Getenv("GEOCODER_API_KEY"),
		BudgetLimit:    getenvInt("BUDGET_LIMIT", 45),
		AbortThreshold: getenvInt("ABORT_THRESHOLD", 3),
		StatusRateMax:  getenvInt("STATUS_RATE_MAX", 50),
		DBPath:         getenvDefault("DB_PATH", "./data/leveldb"),
		Port:           getenvDefault("PORT", "8080"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getenvDuration("CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.BudgetWindow, err = getenvDuration("BUDGET_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getenvDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaggerStep, err = getenvDuration("STAGGER_STEP", time.Second); err != nil {
		return nil, err
	}
	if cfg.AbortTTL, err = getenvDuration("ABORT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StatusRateWindow, err = getenvDuration("STATUS_RATE_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.BudgetLimit <= 0 {
		return nil, fmt.Errorf("BUDGET_LIMIT must be positive")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
