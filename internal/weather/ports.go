package weather

import (
	"context"
	"time"
)

// RecordStore persists one CacheRecord per city. Record returns (nil, nil)
// when no record exists yet.
type RecordStore interface {
	Record(id int64) (*CacheRecord, error)
	PutRecord(id int64, rec CacheRecord) error
}

// CoordinateStore persists city coordinates. Coordinates returns (nil, nil)
// when none are set.
type CoordinateStore interface {
	Coordinates(id int64) (*Coordinates, error)
	PutCoordinates(id int64, c Coordinates) error
}

// CityDirectory is the registry of all tracked cities.
type CityDirectory interface {
	CityIDs() ([]int64, error)
	City(id int64) (*City, error)
	Cities() ([]City, error)
	SearchCities(term string) ([]City, error)
	SaveCity(c City) (int64, error)
	DeleteCity(id int64) error
}

// AbortStore tracks consecutive update failures per city. Entries carry
// their own expiry so a city that has been quiet for a while starts over.
type AbortStore interface {
	FailureCount(id int64, now time.Time) (int, error)
	IncrementFailure(id int64, now time.Time, ttl time.Duration) (int, error)
	ResetFailures(id int64) error
}

// CacheFlusher drops all stored weather records.
type CacheFlusher interface {
	FlushRecords() (int, error)
}

// FetchClient performs the upstream weather call for a coordinate pair and
// returns the temperature in Celsius. Failures are *FetchError values.
type FetchClient interface {
	Fetch(ctx context.Context, lat, lon float64) (float64, error)
}
