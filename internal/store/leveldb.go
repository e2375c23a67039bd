// Package store persists all shared state in a local LevelDB database:
// the city directory, per-city coordinates, per-city weather cache records,
// per-city abort counters and the single shared budget window.
//
// Key layout (values are JSON):
//
//	city:<id>:meta     City
//	city:<id>:coords   Coordinates
//	city:<id>:weather  CacheRecord
//	city:<id>:abort    abort counter with expiry
//	city:seq           last assigned city id
//	weather:budget     budget window
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ostap7k/city-weather/internal/common"
	"github.com/ostap7k/city-weather/internal/limiter"
	"github.com/ostap7k/city-weather/internal/weather"
)

var (
	// ErrNotFound is returned when a city does not exist in the directory.
	ErrNotFound = errors.New("city not found")
)

const (
	cityPrefix   = "city:"
	metaSuffix   = ":meta"
	coordsSuffix = ":coords"
	recordSuffix = ":weather"
	abortSuffix  = ":abort"
	seqKey       = "city:seq"
	budgetKey    = "weather:budget"
)

func metaKey(id int64) []byte   { return []byte(fmt.Sprintf("city:%d%s", id, metaSuffix)) }
func coordsKey(id int64) []byte { return []byte(fmt.Sprintf("city:%d%s", id, coordsSuffix)) }
func recordKey(id int64) []byte { return []byte(fmt.Sprintf("city:%d%s", id, recordSuffix)) }
func abortKey(id int64) []byte  { return []byte(fmt.Sprintf("city:%d%s", id, abortSuffix)) }

// abortRecord is the persisted failure tally for one city.
type abortRecord struct {
	Count   int   `json:"count"`
	Expires int64 `json:"expires"`
}

// Store wraps a LevelDB handle. Counter-style read-modify-write cycles
// (id sequence, abort counters) are serialized by the mutex so concurrent
// job runs cannot lose updates.
type Store struct {
	db *leveldb.DB
	mu sync.Mutex
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getJSON(key []byte, v interface{}) (bool, error) {
	raw, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw, nil)
}

// SaveCity stores a city, assigning a new positive id when c.ID is zero.
func (s *Store) SaveCity(c weather.City) (int64, error) {
	if c.ID == 0 {
		id, err := s.nextID()
		if err != nil {
			return 0, err
		}
		c.ID = id
	}
	if c.ID <= 0 {
		return 0, fmt.Errorf("invalid city id %d", c.ID)
	}
	if err := s.putJSON(metaKey(c.ID), c); err != nil {
		return 0, err
	}
	return c.ID, nil
}

func (s *Store) nextID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last int64
	raw, err := s.db.Get([]byte(seqKey), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return 0, err
	}
	if err == nil {
		last, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt city sequence: %w", err)
		}
	}
	next := last + 1
	if err := s.db.Put([]byte(seqKey), []byte(strconv.FormatInt(next, 10)), nil); err != nil {
		return 0, err
	}
	return next, nil
}

// City returns the city with the given id, or ErrNotFound.
func (s *Store) City(id int64) (*weather.City, error) {
	var c weather.City
	ok, err := s.getJSON(metaKey(id), &c)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Cities returns all cities in the directory.
func (s *Store) Cities() ([]weather.City, error) {
	var out []weather.City
	err := s.eachCity(func(c weather.City) {
		out = append(out, c)
	})
	return out, err
}

// CityIDs returns the ids of all cities in the directory.
func (s *Store) CityIDs() ([]int64, error) {
	var out []int64
	err := s.eachCity(func(c weather.City) {
		out = append(out, c.ID)
	})
	return out, err
}

// SearchCities returns cities whose name or country contains term,
// case-insensitively.
func (s *Store) SearchCities(term string) ([]weather.City, error) {
	term = strings.TrimSpace(term)
	var out []weather.City
	err := s.eachCity(func(c weather.City) {
		if term == "" {
			return
		}
		if common.ContainsFold(c.Name, term) || common.ContainsFold(c.Country, term) {
			out = append(out, c)
		}
	})
	return out, err
}

func (s *Store) eachCity(fn func(weather.City)) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(cityPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if !strings.HasSuffix(string(iter.Key()), metaSuffix) {
			continue
		}
		var c weather.City
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		fn(c)
	}
	return iter.Error()
}

// DeleteCity removes a city together with its coordinates, cache record
// and abort counter. Deleting an unknown city returns ErrNotFound.
func (s *Store) DeleteCity(id int64) error {
	if _, err := s.City(id); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(metaKey(id))
	batch.Delete(coordsKey(id))
	batch.Delete(recordKey(id))
	batch.Delete(abortKey(id))
	return s.db.Write(batch, nil)
}

// Coordinates returns the stored coordinates for a city, or (nil, nil).
func (s *Store) Coordinates(id int64) (*weather.Coordinates, error) {
	var c weather.Coordinates
	ok, err := s.getJSON(coordsKey(id), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

// PutCoordinates stores coordinates for a city.
func (s *Store) PutCoordinates(id int64, c weather.Coordinates) error {
	return s.putJSON(coordsKey(id), c)
}

// Record returns the stored cache record for a city, or (nil, nil).
func (s *Store) Record(id int64) (*weather.CacheRecord, error) {
	var rec weather.CacheRecord
	ok, err := s.getJSON(recordKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// PutRecord replaces the cache record for a city.
func (s *Store) PutRecord(id int64, rec weather.CacheRecord) error {
	return s.putJSON(recordKey(id), rec)
}

// FlushRecords deletes every stored cache record and returns how many
// were removed.
func (s *Store) FlushRecords() (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(cityPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	deleted := 0
	for iter.Next() {
		if strings.HasSuffix(string(iter.Key()), recordSuffix) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			batch.Delete(key)
			deleted++
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if deleted > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return 0, err
		}
	}
	return deleted, nil
}

// BudgetWindow returns the shared budget window, or (nil, nil).
func (s *Store) BudgetWindow() (*limiter.Window, error) {
	var w limiter.Window
	ok, err := s.getJSON([]byte(budgetKey), &w)
	if err != nil || !ok {
		return nil, err
	}
	return &w, nil
}

// PutBudgetWindow replaces the shared budget window.
func (s *Store) PutBudgetWindow(w limiter.Window) error {
	return s.putJSON([]byte(budgetKey), w)
}

// FailureCount returns the current abort tally for a city; expired
// entries count as zero.
func (s *Store) FailureCount(id int64, now time.Time) (int, error) {
	var rec abortRecord
	ok, err := s.getJSON(abortKey(id), &rec)
	if err != nil || !ok {
		return 0, err
	}
	if now.Unix() >= rec.Expires {
		return 0, nil
	}
	return rec.Count, nil
}

// IncrementFailure bumps the abort tally for a city and refreshes its
// expiry, restarting from one when the previous entry has lapsed. Returns
// the new count.
func (s *Store) IncrementFailure(id int64, now time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec abortRecord
	ok, err := s.getJSON(abortKey(id), &rec)
	if err != nil {
		return 0, err
	}
	if !ok || now.Unix() >= rec.Expires {
		rec = abortRecord{}
	}
	rec.Count++
	rec.Expires = now.Add(ttl).Unix()
	if err := s.putJSON(abortKey(id), rec); err != nil {
		return 0, err
	}
	return rec.Count, nil
}

// ResetFailures clears the abort tally for a city.
func (s *Store) ResetFailures(id int64) error {
	return s.db.Delete(abortKey(id), nil)
}
