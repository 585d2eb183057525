package store

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func reading(sensorID string, offset time.Duration, temp float64) models.Reading {
	return models.Reading{
		Timestamp:   base.Add(offset),
		SensorID:    sensorID,
		Temperature: temp,
		Weight:      50,
		Moisture:    45,
		Pressure:    101325,
	}
}

func TestDataStore_AddUpToCapacity(t *testing.T) {
	ds := NewDataStore(5)

	for i := 0; i < 5; i++ {
		if err := ds.Add(reading("s1", time.Duration(i)*time.Second, float64(i))); err != nil {
			t.Fatalf("Add(%d) failed: %v", i, err)
		}
		if ds.Size() != i+1 {
			t.Errorf("Size() = %d, want %d", ds.Size(), i+1)
		}
	}
}

func TestDataStore_EvictsOldest(t *testing.T) {
	ds := NewDataStore(3)

	for i := 0; i < 5; i++ {
		if err := ds.Add(reading("s1", time.Duration(i)*time.Second, float64(i))); err != nil {
			t.Fatalf("Add(%d) failed: %v", i, err)
		}
	}

	if ds.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", ds.Size())
	}

	got := ds.Get(Filter{})
	for i, r := range got {
		if want := float64(i + 2); r.Temperature != want {
			t.Errorf("reading %d Temperature = %v, want %v", i, r.Temperature, want)
		}
	}

	stats := ds.Stats()
	if stats.TotalEvicted != 2 {
		t.Errorf("TotalEvicted = %d, want 2", stats.TotalEvicted)
	}
	if stats.TotalAccepted != 5 {
		t.Errorf("TotalAccepted = %d, want 5", stats.TotalAccepted)
	}
}

func TestDataStore_RejectsInvalid(t *testing.T) {
	ds := NewDataStore(10)
	_ = ds.Add(reading("s1", 0, 20))
	before := ds.Get(Filter{})

	bad := reading("s1", time.Second, 150)
	bad.Pressure = 10

	err := ds.Add(bad)
	var verr *validation.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Add error = %v, want *validation.ValidationError", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2: %v", len(verr.Errors), verr.Errors)
	}
	joined := strings.Join(verr.Errors, "|")
	for _, field := range []string{"temperature", "pressure"} {
		if !strings.Contains(joined, field) {
			t.Errorf("errors %v do not name %s", verr.Errors, field)
		}
	}

	if after := ds.Get(Filter{}); !reflect.DeepEqual(before, after) {
		t.Errorf("store changed after rejected add: %v vs %v", before, after)
	}
	if ds.Stats().TotalRejected != 1 {
		t.Errorf("TotalRejected = %d, want 1", ds.Stats().TotalRejected)
	}
}

func TestDataStore_Get(t *testing.T) {
	ds := NewDataStore(100)
	for i := 0; i < 10; i++ {
		id := "s1"
		if i%2 == 1 {
			id = "s2"
		}
		_ = ds.Add(reading(id, time.Duration(i)*time.Minute, float64(i)))
	}

	tests := []struct {
		name   string
		filter Filter
		want   []float64
	}{
		{"no filter", Filter{}, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"sensor", Filter{SensorID: "s2"}, []float64{1, 3, 5, 7, 9}},
		{"inclusive range", Filter{Start: base.Add(2 * time.Minute), End: base.Add(4 * time.Minute)}, []float64{2, 3, 4}},
		{"start only", Filter{Start: base.Add(8 * time.Minute)}, []float64{8, 9}},
		{"limit keeps most recent", Filter{Limit: 3}, []float64{7, 8, 9}},
		{"limit after filter", Filter{SensorID: "s1", Limit: 2}, []float64{6, 8}},
		{"unknown sensor", Filter{SensorID: "nope"}, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ds.Get(tt.filter)
			temps := make([]float64, 0, len(got))
			for _, r := range got {
				temps = append(temps, r.Temperature)
			}
			if !reflect.DeepEqual(temps, tt.want) {
				t.Errorf("Get() temperatures = %v, want %v", temps, tt.want)
			}
		})
	}
}

func TestDataStore_GetIsRepeatable(t *testing.T) {
	ds := NewDataStore(10)
	for i := 0; i < 4; i++ {
		_ = ds.Add(reading("s1", time.Duration(i)*time.Second, float64(20+i)))
	}

	first := ds.Get(Filter{})
	second := ds.Get(Filter{})
	if !reflect.DeepEqual(first, second) {
		t.Errorf("consecutive Get() differ: %v vs %v", first, second)
	}

	first[0].Temperature = -1
	if ds.Get(Filter{})[0].Temperature == -1 {
		t.Error("mutating a snapshot changed the store")
	}
}

func TestDataStore_Clear(t *testing.T) {
	ds := NewDataStore(10)
	_ = ds.Add(reading("s1", 0, 20))

	ds.Clear()
	if !ds.IsEmpty() {
		t.Errorf("IsEmpty() = false after Clear, size %d", ds.Size())
	}
	if _, ok := ds.Latest(); ok {
		t.Error("Latest() found a reading after Clear")
	}
}

func TestDataStore_LatestAndSensorIDs(t *testing.T) {
	ds := NewDataStore(10)
	_ = ds.Add(reading("b", 0, 20))
	_ = ds.Add(reading("a", time.Second, 21))

	latest, ok := ds.Latest()
	if !ok || latest.SensorID != "a" {
		t.Errorf("Latest() = %v, %v, want sensor a", latest, ok)
	}
	if ids := ds.SensorIDs(); !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("SensorIDs() = %v, want [a b]", ids)
	}
}

func TestDataStore_Stats(t *testing.T) {
	ds := NewDataStore(4)
	_ = ds.Add(reading("s1", 10*time.Second, 20))
	_ = ds.Add(reading("s1", 0, 21))

	stats := ds.Stats()
	if stats.CurrentRecords != 2 || stats.MaxRecords != 4 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.UsagePercent != 50 {
		t.Errorf("UsagePercent = %v, want 50", stats.UsagePercent)
	}
	if stats.OldestReading == nil || !stats.OldestReading.Equal(base) {
		t.Errorf("OldestReading = %v, want %v", stats.OldestReading, base)
	}
	if stats.NewestReading == nil || !stats.NewestReading.Equal(base.Add(10*time.Second)) {
		t.Errorf("NewestReading = %v", stats.NewestReading)
	}

	empty := NewDataStore(0).Stats()
	if empty.MaxRecords != DefaultMaxRecords || empty.OldestReading != nil {
		t.Errorf("empty Stats() = %+v", empty)
	}
}

func TestDataStore_ConcurrentAccess(t *testing.T) {
	ds := NewDataStore(50)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = ds.Add(reading("s1", time.Duration(w*100+i)*time.Millisecond, 20))
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if n := len(ds.Get(Filter{})); n > 50 {
					t.Errorf("snapshot size %d exceeds capacity", n)
				}
			}
		}()
	}
	wg.Wait()

	if ds.Size() != 50 {
		t.Errorf("Size() = %d, want 50", ds.Size())
	}
}
