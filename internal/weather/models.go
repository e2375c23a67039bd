package weather

import (
	"time"
)

// Status is the closed set of cache states a city's weather can be in.
// Stored records only ever carry StatusValid, StatusNoCoordinates,
// StatusAPIError or StatusNoTemperature; the remaining values are derived
// by the evaluator and the read path for display.
type Status string

const (
	StatusValid         Status = "valid"
	StatusExpired       Status = "expired"
	StatusExpected      Status = "expected"
	StatusUnavailable   Status = "unavailable"
	StatusNoCoordinates Status = "no_coordinates"
	StatusAPIError      Status = "api_error"
	StatusNoTemperature Status = "no_temperature"
	StatusAbort         Status = "abort"
)

// City represents a tracked place. Coordinates are kept separately so a
// city can exist before its location is known.
type City struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// Coordinates is a lat/lon pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// CacheRecord is the persisted last-known weather result for one city.
// It is written as a single atomic replace by the updater and read
// everywhere else.
type CacheRecord struct {
	Temperature *float64 `json:"temperature_celsius"`
	Timestamp   int64    `json:"timestamp"`
	TTL         int64    `json:"ttl"`
	Status      Status   `json:"status"`
}

// ExpiresAt returns the unix time at which a valid record becomes stale.
func (r CacheRecord) ExpiresAt() int64 {
	return r.Timestamp + r.TTL
}

// EnrichedCity is a city plus its current temperature and cache state,
// as served to the UI.
type EnrichedCity struct {
	City
	Temperature *float64 `json:"temperature_celsius"`
	CacheStatus Status   `json:"cache_status"`
}

// StatusInfo is the per-city payload of the batch status poll.
type StatusInfo struct {
	Status      Status   `json:"status"`
	Temperature *float64 `json:"temperature"`
}

// Evaluation is the evaluator's verdict on one stored record.
type Evaluation struct {
	Temperature  *float64
	Status       Status
	NeedsRefresh bool
}

// Evaluate derives the cache state of a record at the given time.
//
// An absent record is unavailable and needs a refresh. A record whose
// stored status is anything but valid is always eligible for refresh
// regardless of age; only valid records are subject to the TTL check.
// The boundary now == timestamp+ttl counts as expired.
func Evaluate(rec *CacheRecord, now time.Time) Evaluation {
	if rec == nil {
		return Evaluation{Status: StatusUnavailable, NeedsRefresh: true}
	}
	if rec.Status != StatusValid {
		return Evaluation{
			Temperature:  rec.Temperature,
			Status:       rec.Status,
			NeedsRefresh: true,
		}
	}
	if now.Unix() >= rec.ExpiresAt() {
		return Evaluation{
			Temperature:  rec.Temperature,
			Status:       StatusExpired,
			NeedsRefresh: true,
		}
	}
	return Evaluation{
		Temperature:  rec.Temperature,
		Status:       StatusValid,
		NeedsRefresh: false,
	}
}
