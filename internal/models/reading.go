package models

import (
	"fmt"
	"math"
	"time"
)

// Field identifies one of the four required measurements of a Reading.
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldWeight      Field = "weight"
	FieldMoisture    Field = "moisture"
	FieldPressure    Field = "pressure"
)

// Fields lists the numeric measurements in schema order.
var Fields = []Field{FieldTemperature, FieldWeight, FieldMoisture, FieldPressure}

// Range is an inclusive valid interval for a measurement.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the range. NaN is never contained.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Mid returns the midpoint of the range
func (r Range) Mid() float64 {
	return (r.Min + r.Max) / 2
}

// Documented ranges per field
var ranges = map[Field]Range{
	FieldTemperature: {Min: -50, Max: 100},
	FieldWeight:      {Min: 0, Max: 1000},
	FieldMoisture:    {Min: 0, Max: 100},
	FieldPressure:    {Min: 80000, Max: 120000},
}

// Units per field, used in insight text
var units = map[Field]string{
	FieldTemperature: "°C",
	FieldWeight:      "kg",
	FieldMoisture:    "%",
	FieldPressure:    "Pa",
}

// Range returns the documented valid range of the field.
func (f Field) Range() Range {
	return ranges[f]
}

// Unit returns the measurement unit of the field
func (f Field) Unit() string {
	return units[f]
}

// Reading is one timestamped measurement tuple from a sensor.
// A NaN measurement marks a missing cell; such readings only appear in
// externally supplied snapshots and are never admitted to the store.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	SensorID    string    `json:"sensor_id"`
	Temperature float64   `json:"temperature"`
	Weight      float64   `json:"weight"`
	Moisture    float64   `json:"moisture"`
	Pressure    float64   `json:"pressure"`

	Location       string   `json:"location,omitempty"`
	DeviceType     string   `json:"device_type,omitempty"`
	BatteryLevel   *float64 `json:"battery_level,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`
	ErrorCode      string   `json:"error_code,omitempty"`
}

// Value returns the measurement for field f.
func (r *Reading) Value(f Field) float64 {
	switch f {
	case FieldTemperature:
		return r.Temperature
	case FieldWeight:
		return r.Weight
	case FieldMoisture:
		return r.Moisture
	case FieldPressure:
		return r.Pressure
	}
	return math.NaN()
}

// SetValue sets the measurement for field f.
func (r *Reading) SetValue(f Field, v float64) {
	switch f {
	case FieldTemperature:
		r.Temperature = v
	case FieldWeight:
		r.Weight = v
	case FieldMoisture:
		r.Moisture = v
	case FieldPressure:
		r.Pressure = v
	}
}

// IsValid checks if every measurement is present and within its range
func (r *Reading) IsValid() bool {
	if r.SensorID == "" {
		return false
	}

	if r.Timestamp.IsZero() {
		return false
	}

	for _, f := range Fields {
		if !f.Range().Contains(r.Value(f)) {
			return false
		}
	}

	return true
}

// HasMissing reports whether any measurement is NaN.
func (r *Reading) HasMissing() bool {
	for _, f := range Fields {
		if math.IsNaN(r.Value(f)) {
			return true
		}
	}
	return false
}

// get the reading as a string
func (r *Reading) String() string {
	return fmt.Sprintf("SensorID: %s, Timestamp: %s, Temperature: %.1f°C, Weight: %.1fkg, Moisture: %.1f%%, Pressure: %.0fPa",
		r.SensorID,
		r.Timestamp.Format(time.RFC3339),
		r.Temperature,
		r.Weight,
		r.Moisture,
		r.Pressure)
}

// NewReading creates a new Reading with the current UTC timestamp
func NewReading(sensorID string, temperature, weight, moisture, pressure float64) *Reading {
	return &Reading{
		Timestamp:   time.Now().UTC(),
		SensorID:    sensorID,
		Temperature: temperature,
		Weight:      weight,
		Moisture:    moisture,
		Pressure:    pressure,
	}
}

// Copy returns a deep copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	if r.BatteryLevel != nil {
		v := *r.BatteryLevel
		c.BatteryLevel = &v
	}
	if r.SignalStrength != nil {
		v := *r.SignalStrength
		c.SignalStrength = &v
	}
	return &c
}

// Raw returns the producer field map for the reading, the shape accepted by
// ingestion. Missing measurements become nil so the map is JSON safe.
func (r *Reading) Raw() map[string]interface{} {
	m := map[string]interface{}{
		"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
		"sensor_id": r.SensorID,
	}
	for _, f := range Fields {
		v := r.Value(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			m[string(f)] = nil
			continue
		}
		m[string(f)] = v
	}

	if r.Location != "" {
		m["location"] = r.Location
	}
	if r.DeviceType != "" {
		m["device_type"] = r.DeviceType
	}
	if r.BatteryLevel != nil {
		m["battery_level"] = *r.BatteryLevel
	}
	if r.SignalStrength != nil {
		m["signal_strength"] = *r.SignalStrength
	}
	if r.ErrorCode != "" {
		m["error_code"] = r.ErrorCode
	}
	return m
}
