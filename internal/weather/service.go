package weather

import (
	"log"
	"time"

	"github.com/ostap7k/city-weather/internal/queue"
)

// ServiceConfig collects the read path's collaborators.
type ServiceConfig struct {
	Records     RecordStore
	Coordinates CoordinateStore
	Directory   CityDirectory
	Aborts      AbortStore
	Flusher     CacheFlusher
	Jobs        queue.JobScheduler

	// AbortThreshold mirrors the updater's circuit breaker threshold so
	// the view can report abort instead of endlessly showing expected.
	AbortThreshold int
	// Stagger is the per-city delay step used when flushing a batch.
	Stagger time.Duration

	Now func() time.Time
}

// Service is the read path facade: it enriches city batches with cached
// temperatures, enqueues background refreshes for stale entries and
// exposes the read-only status poll.
type Service struct {
	cfg ServiceConfig
}

// NewService creates a Service with reference defaults for zero knobs
// (threshold 3, 1s stagger).
func NewService(cfg ServiceConfig) *Service {
	if cfg.AbortThreshold <= 0 {
		cfg.AbortThreshold = 3
	}
	if cfg.Stagger <= 0 {
		cfg.Stagger = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}
}

// ListWithTemperature returns every city in the directory enriched with
// temperature and cache status, scheduling refreshes for stale ones.
func (s *Service) ListWithTemperature() ([]EnrichedCity, error) {
	cities, err := s.cfg.Directory.Cities()
	if err != nil {
		return nil, err
	}
	return s.WithTemperature(cities), nil
}

// SearchWithTemperature is ListWithTemperature over a search result.
func (s *Service) SearchWithTemperature(term string) ([]EnrichedCity, error) {
	cities, err := s.cfg.Directory.SearchCities(term)
	if err != nil {
		return nil, err
	}
	return s.WithTemperature(cities), nil
}

// WithTemperature enriches a batch of cities. Cities needing a refresh are
// collected into one batch and flushed once at the end, so deduplication
// and stagger offsets work across the whole page. A city that is stale but
// now queued is reported as expected rather than exposing the raw internal
// status; a circuit-broken city is reported as abort and not enqueued.
func (s *Service) WithTemperature(cities []City) []EnrichedCity {
	now := s.cfg.Now()
	batch := queue.NewBatch(s.cfg.Stagger)
	out := make([]EnrichedCity, 0, len(cities))

	for _, c := range cities {
		ec := EnrichedCity{City: c, CacheStatus: StatusUnavailable}
		if c.ID <= 0 {
			out = append(out, ec)
			continue
		}

		rec, err := s.cfg.Records.Record(c.ID)
		if err != nil {
			log.Printf("weather: record lookup failed for city %d: %v", c.ID, err)
		}
		ev := Evaluate(rec, now)
		ec.Temperature = ev.Temperature
		ec.CacheStatus = ev.Status

		// A record that claims valid but carries no temperature is a data
		// anomaly; treat it as refreshable rather than serving a blank.
		needsRefresh := ev.NeedsRefresh
		if ev.Status == StatusValid && ev.Temperature == nil {
			needsRefresh = true
		}

		if s.aborted(c.ID, now) {
			ec.CacheStatus = StatusAbort
		} else if needsRefresh {
			batch.Enqueue(c.ID)
			ec.CacheStatus = StatusExpected
		}
		out = append(out, ec)
	}

	batch.Flush(s.cfg.Jobs)
	return out
}

// ByID is the single-city variant of WithTemperature.
func (s *Service) ByID(id int64) (*EnrichedCity, error) {
	c, err := s.cfg.Directory.City(id)
	if err != nil {
		return nil, err
	}
	enriched := s.WithTemperature([]City{*c})
	return &enriched[0], nil
}

// CheckStatus returns the raw stored status and temperature for each id
// that has a cache record. It is read-only and never schedules work;
// client-side polling loops call it repeatedly.
func (s *Service) CheckStatus(ids []int64) (map[int64]StatusInfo, error) {
	out := make(map[int64]StatusInfo, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		rec, err := s.cfg.Records.Record(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out[id] = StatusInfo{Status: rec.Status, Temperature: rec.Temperature}
	}
	return out, nil
}

// CreateCity stores a city and, when given, its coordinates. Returns the
// stored city with its assigned id.
func (s *Service) CreateCity(c City, coords *Coordinates) (City, error) {
	id, err := s.cfg.Directory.SaveCity(c)
	if err != nil {
		return City{}, err
	}
	c.ID = id
	if coords != nil {
		if err := s.cfg.Coordinates.PutCoordinates(id, *coords); err != nil {
			return City{}, err
		}
	}
	return c, nil
}

// DeleteCity removes a city and all of its cached state.
func (s *Service) DeleteCity(id int64) error {
	return s.cfg.Directory.DeleteCity(id)
}

// FlushCache drops all stored weather records.
func (s *Service) FlushCache() (int, error) {
	return s.cfg.Flusher.FlushRecords()
}

// ResetAbort clears the circuit breaker for a city so automatic updates
// resume on the next cycle.
func (s *Service) ResetAbort(id int64) error {
	return s.cfg.Aborts.ResetFailures(id)
}

func (s *Service) aborted(id int64, now time.Time) bool {
	count, err := s.cfg.Aborts.FailureCount(id, now)
	if err != nil {
		log.Printf("weather: abort lookup failed for city %d: %v", id, err)
		return false
	}
	return count >= s.cfg.AbortThreshold
}
