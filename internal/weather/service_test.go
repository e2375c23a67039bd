package weather

import (
	"testing"
	"time"
)

// fakeStores implements the store interfaces against plain maps.
type fakeStores struct {
	records map[int64]CacheRecord
	coords  map[int64]Coordinates
	cities  map[int64]City
	aborts  map[int64]int
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		records: make(map[int64]CacheRecord),
		coords:  make(map[int64]Coordinates),
		cities:  make(map[int64]City),
		aborts:  make(map[int64]int),
	}
}

func (f *fakeStores) Record(id int64) (*CacheRecord, error) {
	if rec, ok := f.records[id]; ok {
		return &rec, nil
	}
	return nil, nil
}

func (f *fakeStores) PutRecord(id int64, rec CacheRecord) error {
	f.records[id] = rec
	return nil
}

func (f *fakeStores) Coordinates(id int64) (*Coordinates, error) {
	if c, ok := f.coords[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStores) PutCoordinates(id int64, c Coordinates) error {
	f.coords[id] = c
	return nil
}

func (f *fakeStores) CityIDs() ([]int64, error) {
	var out []int64
	for id := range f.cities {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeStores) City(id int64) (*City, error) {
	if c, ok := f.cities[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (f *fakeStores) Cities() ([]City, error) {
	var out []City
	for _, c := range f.cities {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStores) SearchCities(term string) ([]City, error) { return nil, nil }

func (f *fakeStores) SaveCity(c City) (int64, error) {
	if c.ID == 0 {
		c.ID = int64(len(f.cities) + 1)
	}
	f.cities[c.ID] = c
	return c.ID, nil
}

func (f *fakeStores) DeleteCity(id int64) error {
	delete(f.cities, id)
	return nil
}

func (f *fakeStores) FailureCount(id int64, now time.Time) (int, error) {
	return f.aborts[id], nil
}

func (f *fakeStores) IncrementFailure(id int64, now time.Time, ttl time.Duration) (int, error) {
	f.aborts[id]++
	return f.aborts[id], nil
}

func (f *fakeStores) ResetFailures(id int64) error {
	delete(f.aborts, id)
	return nil
}

func (f *fakeStores) FlushRecords() (int, error) {
	n := len(f.records)
	f.records = make(map[int64]CacheRecord)
	return n, nil
}

// fakeJobs records scheduled ids.
type fakeJobs struct {
	scheduled []int64
	pending   map[int64]bool
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{pending: make(map[int64]bool)}
}

func (f *fakeJobs) IsScheduled(id int64) bool { return f.pending[id] }

func (f *fakeJobs) ScheduleOnce(delay time.Duration, id int64) error {
	f.scheduled = append(f.scheduled, id)
	f.pending[id] = true
	return nil
}

func newTestService(stores *fakeStores, jobs *fakeJobs, now time.Time) *Service {
	return NewService(ServiceConfig{
		Records:     stores,
		Coordinates: stores,
		Directory:   stores,
		Aborts:      stores,
		Flusher:     stores,
		Jobs:        jobs,
		Now:         func() time.Time { return now },
	})
}

func TestWithTemperatureDedupAcrossBatch(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	svc := newTestService(stores, jobs, time.Unix(5000, 0))

	a := City{ID: 1, Name: "Kyiv", Country: "UA"}
	b := City{ID: 2, Name: "Lviv", Country: "UA"}

	enriched := svc.WithTemperature([]City{a, a, b})

	if len(enriched) != 3 {
		t.Fatalf("expected 3 results, got %d", len(enriched))
	}
	if len(jobs.scheduled) != 2 {
		t.Fatalf("expected 2 scheduled jobs (A deduplicated), got %d: %v", len(jobs.scheduled), jobs.scheduled)
	}
	if jobs.scheduled[0] != 1 || jobs.scheduled[1] != 2 {
		t.Fatalf("expected enqueue order preserved, got %v", jobs.scheduled)
	}
}

func TestWithTemperatureNoRecordReportsExpected(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	svc := newTestService(stores, jobs, time.Unix(5000, 0))

	enriched := svc.WithTemperature([]City{{ID: 7, Name: "Odesa", Country: "UA"}})

	if enriched[0].Temperature != nil {
		t.Fatalf("expected nil temperature, got %v", *enriched[0].Temperature)
	}
	if enriched[0].CacheStatus != StatusExpected {
		t.Fatalf("expected cache_status %s, got %s", StatusExpected, enriched[0].CacheStatus)
	}
	if len(jobs.scheduled) != 1 || jobs.scheduled[0] != 7 {
		t.Fatalf("expected city 7 scheduled, got %v", jobs.scheduled)
	}
}

func TestWithTemperatureExpiredRecordReportsExpected(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	stores.records[3] = CacheRecord{Temperature: f64(12), Timestamp: 1000, TTL: 3600, Status: StatusValid}
	svc := newTestService(stores, jobs, time.Unix(1000+3601, 0))

	enriched := svc.WithTemperature([]City{{ID: 3, Name: "Dnipro", Country: "UA"}})

	// The evaluator says expired, but the facade overrides to expected
	// because a refresh was just enqueued.
	if enriched[0].CacheStatus != StatusExpected {
		t.Fatalf("expected cache_status %s, got %s", StatusExpected, enriched[0].CacheStatus)
	}
	if enriched[0].Temperature == nil || *enriched[0].Temperature != 12 {
		t.Fatal("expected last known temperature to be served while refreshing")
	}
}

func TestWithTemperatureFreshValidNotEnqueued(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	stores.records[4] = CacheRecord{Temperature: f64(8), Timestamp: 5000, TTL: 3600, Status: StatusValid}
	svc := newTestService(stores, jobs, time.Unix(5001, 0))

	enriched := svc.WithTemperature([]City{{ID: 4, Name: "Kharkiv", Country: "UA"}})

	if enriched[0].CacheStatus != StatusValid {
		t.Fatalf("expected valid, got %s", enriched[0].CacheStatus)
	}
	if len(jobs.scheduled) != 0 {
		t.Fatalf("fresh city must not be scheduled, got %v", jobs.scheduled)
	}
}

func TestWithTemperatureCircuitBrokenCity(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	stores.records[5] = CacheRecord{Timestamp: 1000, TTL: 3600, Status: StatusAPIError}
	stores.aborts[5] = 3
	svc := newTestService(stores, jobs, time.Unix(9000, 0))

	enriched := svc.WithTemperature([]City{{ID: 5, Name: "Donetsk", Country: "UA"}})

	if enriched[0].CacheStatus != StatusAbort {
		t.Fatalf("expected %s, got %s", StatusAbort, enriched[0].CacheStatus)
	}
	if len(jobs.scheduled) != 0 {
		t.Fatalf("circuit-broken city must not be scheduled, got %v", jobs.scheduled)
	}
}

func TestWithTemperatureInvalidID(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	svc := newTestService(stores, jobs, time.Unix(5000, 0))

	enriched := svc.WithTemperature([]City{{ID: 0, Name: "Nowhere", Country: "XX"}})

	if enriched[0].CacheStatus != StatusUnavailable {
		t.Fatalf("expected %s for invalid id, got %s", StatusUnavailable, enriched[0].CacheStatus)
	}
	if len(jobs.scheduled) != 0 {
		t.Fatal("invalid id must never be scheduled")
	}
}

func TestCheckStatusReadOnly(t *testing.T) {
	stores := newFakeStores()
	jobs := newFakeJobs()
	stores.records[1] = CacheRecord{Temperature: f64(21.5), Timestamp: 5000, TTL: 3600, Status: StatusValid}
	svc := newTestService(stores, jobs, time.Unix(5001, 0))

	statuses, err := svc.CheckStatus([]int64{1, 2, -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(statuses) != 1 {
		t.Fatalf("expected only cities with records, got %d entries", len(statuses))
	}
	info := statuses[1]
	if info.Status != StatusValid || info.Temperature == nil || *info.Temperature != 21.5 {
		t.Fatalf("unexpected status info: %+v", info)
	}
	if len(jobs.scheduled) != 0 {
		t.Fatal("status poll must not schedule work")
	}
}
