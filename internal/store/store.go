// Package store holds the bounded in-memory collection of accepted readings.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

// DefaultMaxRecords is the capacity used when none is configured
const DefaultMaxRecords = 10000

// Filter narrows a Get. Zero values mean "no constraint"; Start and End are
// inclusive and Limit keeps the most recent matches.
type Filter struct {
	SensorID string
	Start    time.Time
	End      time.Time
	Limit    int
}

// matches reports whether r satisfies every set constraint
func (f Filter) matches(r *models.Reading) bool {
	if f.SensorID != "" && r.SensorID != f.SensorID {
		return false
	}
	if !f.Start.IsZero() && r.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && r.Timestamp.After(f.End) {
		return false
	}
	return true
}

// DataStore is a capacity-bounded, arrival-ordered collection of readings.
// When full the oldest reading is evicted before the new one is appended.
type DataStore struct {
	capacity int
	readings []models.Reading
	mutex    sync.Mutex

	totalAccepted int64
	totalRejected int64
	totalEvicted  int64
}

// NewDataStore creates a new store; a non-positive capacity uses the default
func NewDataStore(capacity int) *DataStore {
	if capacity <= 0 {
		capacity = DefaultMaxRecords
	}

	return &DataStore{
		capacity: capacity,
		readings: make([]models.Reading, 0, min(capacity, 1024)),
	}
}

// Add validates the reading and appends it. On failure the returned error
// is a *validation.ValidationError and the store is unchanged.
func (ds *DataStore) Add(reading models.Reading) error {
	if err := validation.Check(reading); err != nil {
		ds.mutex.Lock()
		ds.totalRejected++
		ds.mutex.Unlock()
		return err
	}

	stored := *reading.Copy()
	stored.Timestamp = stored.Timestamp.UTC()

	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	if len(ds.readings) >= ds.capacity {
		ds.readings[0] = models.Reading{}
		ds.readings = ds.readings[1:] // Remove oldest
		ds.totalEvicted++
	}
	ds.readings = append(ds.readings, stored)
	ds.totalAccepted++

	return nil
}

// Get returns a copy of the readings matching the filter in arrival order
func (ds *DataStore) Get(f Filter) []models.Reading {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	result := make([]models.Reading, 0, len(ds.readings))
	for i := range ds.readings {
		if f.matches(&ds.readings[i]) {
			result = append(result, *ds.readings[i].Copy())
		}
	}

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}

// Latest returns the most recently added reading
func (ds *DataStore) Latest() (models.Reading, bool) {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	if len(ds.readings) == 0 {
		return models.Reading{}, false
	}
	return *ds.readings[len(ds.readings)-1].Copy(), true
}

// SensorIDs returns the distinct sensor ids currently held, sorted
func (ds *DataStore) SensorIDs() []string {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	seen := make(map[string]struct{})
	for i := range ds.readings {
		seen[ds.readings[i].SensorID] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes all readings atomically. Lifetime counters are kept.
func (ds *DataStore) Clear() {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	ds.readings = make([]models.Reading, 0, min(ds.capacity, 1024))
}

// Size returns the number of readings held
func (ds *DataStore) Size() int {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()
	return len(ds.readings)
}

// IsEmpty reports whether the store holds no readings
func (ds *DataStore) IsEmpty() bool {
	return ds.Size() == 0
}

// Capacity returns the configured maximum number of readings
func (ds *DataStore) Capacity() int {
	return ds.capacity
}

// Stats returns statistics about the store
func (ds *DataStore) Stats() Stats {
	ds.mutex.Lock()
	defer ds.mutex.Unlock()

	stats := Stats{
		CurrentRecords: len(ds.readings),
		MaxRecords:     ds.capacity,
		UsagePercent:   100 * float64(len(ds.readings)) / float64(ds.capacity),
		TotalAccepted:  ds.totalAccepted,
		TotalRejected:  ds.totalRejected,
		TotalEvicted:   ds.totalEvicted,
	}

	if n := len(ds.readings); n > 0 {
		// Arrival order is not timestamp order, so scan.
		oldest, newest := ds.readings[0].Timestamp, ds.readings[0].Timestamp
		for i := 1; i < n; i++ {
			ts := ds.readings[i].Timestamp
			if ts.Before(oldest) {
				oldest = ts
			}
			if ts.After(newest) {
				newest = ts
			}
		}
		stats.OldestReading = &oldest
		stats.NewestReading = &newest
	}

	return stats
}

// Stats contains statistics about the data store
type Stats struct {
	CurrentRecords int        `json:"current_records"`
	MaxRecords     int        `json:"max_records"`
	UsagePercent   float64    `json:"usage_percent"`
	TotalAccepted  int64      `json:"total_accepted"`
	TotalRejected  int64      `json:"total_rejected"`
	TotalEvicted   int64      `json:"total_evicted"`
	OldestReading  *time.Time `json:"oldest_reading,omitempty"`
	NewestReading  *time.Time `json:"newest_reading,omitempty"`
}
