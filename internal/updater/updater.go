// Package updater runs the background refresh job for a single city:
// re-check freshness, consult the abort circuit breaker and the global
// budget, fetch from the upstream provider and write the result back as
// the city's new cache record.
package updater

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ostap7k/city-weather/internal/weather"
)

// BudgetLimiter claims one slot of the shared upstream-call budget.
type BudgetLimiter interface {
	TryConsume() (bool, error)
}

// Config collects the updater's collaborators and policy knobs.
type Config struct {
	Records     weather.RecordStore
	Coordinates weather.CoordinateStore
	Aborts      weather.AbortStore
	Fetcher     weather.FetchClient
	Budget      BudgetLimiter

	// CacheTTL is the validity duration written into every record.
	CacheTTL time.Duration
	// AbortThreshold is the failure count at which a city is circuit-broken.
	AbortThreshold int
	// AbortTTL is the lifetime of the failure tally.
	AbortTTL time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Updater is the job executor.
type Updater struct {
	cfg Config
}

// New creates an Updater. Zero policy values fall back to the reference
// defaults (1h TTL, threshold 3, 24h tally lifetime).
func New(cfg Config) *Updater {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.AbortThreshold <= 0 {
		cfg.AbortThreshold = 3
	}
	if cfg.AbortTTL <= 0 {
		cfg.AbortTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Updater{cfg: cfg}
}

// Run refreshes the weather for one city. It is safe to run multiple
// times for the same id: the freshness re-check turns duplicate runs into
// no-ops once one of them has succeeded. All failures are converted into
// a stored status; nothing propagates to the scheduler.
func (u *Updater) Run(ctx context.Context, id int64) {
	if id <= 0 {
		return
	}
	now := u.cfg.Now()

	// Circuit breaker: once a city has failed too often, stop touching it
	// until the tally expires or an operator resets it.
	count, err := u.cfg.Aborts.FailureCount(id, now)
	if err != nil {
		log.Printf("updater: abort lookup failed for city %d: %v", id, err)
		return
	}
	if count >= u.cfg.AbortThreshold {
		log.Printf("updater: city %d circuit-broken after %d failures, skipping", id, count)
		return
	}

	// Re-evaluate against the current record; another trigger may have
	// refreshed this city between enqueue and execution.
	rec, err := u.cfg.Records.Record(id)
	if err != nil {
		log.Printf("updater: record lookup failed for city %d: %v", id, err)
		return
	}
	if ev := weather.Evaluate(rec, now); !ev.NeedsRefresh {
		return
	}

	// Coordinates are checked before the budget so a city that can never
	// succeed does not burn a slot.
	coords, err := u.cfg.Coordinates.Coordinates(id)
	if err != nil {
		log.Printf("updater: coordinates lookup failed for city %d: %v", id, err)
		return
	}
	if coords == nil {
		u.finish(id, nil, weather.StatusNoCoordinates)
		return
	}

	ok, err := u.cfg.Budget.TryConsume()
	if err != nil {
		log.Printf("updater: budget check failed for city %d: %v", id, err)
		return
	}
	if !ok {
		// Budget exhausted is not an error; the city stays stale and the
		// next sweep or page read re-enqueues it.
		return
	}

	temp, err := u.cfg.Fetcher.Fetch(ctx, coords.Lat, coords.Lon)
	if err != nil {
		status := weather.StatusAPIError
		var fe *weather.FetchError
		if errors.As(err, &fe) && fe.Kind == weather.FetchParse {
			status = weather.StatusNoTemperature
		}
		log.Printf("updater: fetch failed for city %d: %v", id, err)
		u.finish(id, nil, status)
		return
	}

	u.finish(id, &temp, weather.StatusValid)
}

// finish replaces the city's cache record and maintains the abort tally:
// cleared on success, bumped on any non-valid outcome.
func (u *Updater) finish(id int64, temp *float64, status weather.Status) {
	now := u.cfg.Now()
	rec := weather.CacheRecord{
		Temperature: temp,
		Timestamp:   now.Unix(),
		TTL:         int64(u.cfg.CacheTTL.Seconds()),
		Status:      status,
	}
	if err := u.cfg.Records.PutRecord(id, rec); err != nil {
		log.Printf("updater: failed to store record for city %d: %v", id, err)
		return
	}

	if status == weather.StatusValid {
		if err := u.cfg.Aborts.ResetFailures(id); err != nil {
			log.Printf("updater: failed to reset failures for city %d: %v", id, err)
		}
		return
	}
	if _, err := u.cfg.Aborts.IncrementFailure(id, now, u.cfg.AbortTTL); err != nil {
		log.Printf("updater: failed to record failure for city %d: %v", id, err)
	}
}
