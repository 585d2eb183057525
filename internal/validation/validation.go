// Package validation checks candidate readings against the field schema.
//
// Every check runs on every call so one result names every violation.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// Result is the outcome of validating one candidate reading
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidationError carries the itemized violations of a rejected reading.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// Required keys of a raw candidate, in schema order
var requiredFields = []string{"timestamp", "temperature", "weight", "moisture", "pressure", "sensor_id"}

// Optional numeric metadata
var optionalNumeric = []string{"battery_level", "signal_strength"}

// Validate checks a raw candidate, typically decoded from JSON. Checks run
// in order: presence, numeric coercibility, range membership, timestamp.
func Validate(candidate map[string]interface{}) Result {
	var errs []string

	for _, key := range requiredFields {
		if _, ok := candidate[key]; !ok {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", key))
		}
	}

	values := make(map[models.Field]float64, len(models.Fields))
	for _, f := range models.Fields {
		raw, ok := candidate[string(f)]
		if !ok {
			continue
		}
		v, err := toFloat(string(f), raw)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		values[f] = v
	}

	for _, key := range optionalNumeric {
		raw, ok := candidate[key]
		if !ok || raw == nil {
			continue
		}
		if _, err := toFloat(key, raw); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if raw, ok := candidate["sensor_id"]; ok {
		if s, isStr := raw.(string); !isStr {
			errs = append(errs, "sensor_id must be a string")
		} else if strings.TrimSpace(s) == "" {
			errs = append(errs, "sensor_id must not be empty")
		}
	}

	for _, f := range models.Fields {
		v, ok := values[f]
		if !ok {
			continue
		}
		if msg := rangeError(f, v); msg != "" {
			errs = append(errs, msg)
		}
	}

	if raw, ok := candidate["timestamp"]; ok {
		if _, err := timestampOf(raw); err != nil {
			errs = append(errs, err.Error())
		}
	}

	return newResult(errs)
}

// ValidateReading applies the schema checks to an already typed reading.
func ValidateReading(r models.Reading) Result {
	var errs []string

	if r.Timestamp.IsZero() {
		errs = append(errs, "Missing required field: timestamp")
	}
	if strings.TrimSpace(r.SensorID) == "" {
		errs = append(errs, "Missing required field: sensor_id")
	}
	for _, f := range models.Fields {
		v := r.Value(f)
		if math.IsNaN(v) {
			errs = append(errs, fmt.Sprintf("Missing required field: %s", f))
			continue
		}
		if math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("%s value must be a finite number", f))
			continue
		}
		if msg := rangeError(f, v); msg != "" {
			errs = append(errs, msg)
		}
	}

	return newResult(errs)
}

// Check returns a *ValidationError when r violates the schema, nil otherwise.
func Check(r models.Reading) error {
	res := ValidateReading(r)
	if res.Valid {
		return nil
	}
	return &ValidationError{Errors: res.Errors}
}

// Parse validates a raw candidate and converts it into a Reading.
func Parse(candidate map[string]interface{}) (models.Reading, error) {
	res := Validate(candidate)
	if !res.Valid {
		return models.Reading{}, &ValidationError{Errors: res.Errors}
	}

	ts, _ := timestampOf(candidate["timestamp"])
	r := models.Reading{
		Timestamp: ts,
		SensorID:  candidate["sensor_id"].(string),
	}
	for _, f := range models.Fields {
		v, _ := toFloat(string(f), candidate[string(f)])
		r.SetValue(f, v)
	}

	r.Location = stringOf(candidate["location"])
	r.DeviceType = stringOf(candidate["device_type"])
	r.ErrorCode = stringOf(candidate["error_code"])
	if raw, ok := candidate["battery_level"]; ok && raw != nil {
		v, _ := toFloat("battery_level", raw)
		r.BatteryLevel = &v
	}
	if raw, ok := candidate["signal_strength"]; ok && raw != nil {
		v, _ := toFloat("signal_strength", raw)
		r.SignalStrength = &v
	}

	return r, nil
}

func newResult(errs []string) Result {
	if errs == nil {
		errs = []string{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func rangeError(f models.Field, v float64) string {
	rng := f.Range()
	if rng.Contains(v) {
		return ""
	}
	return fmt.Sprintf("%s value %v is outside valid range [%v, %v]", f, v, rng.Min, rng.Max)
}

// toFloat accepts real numbers only. Numeric-looking strings are rejected.
func toFloat(name string, raw interface{}) (float64, error) {
	var v float64
	switch n := raw.(type) {
	case nil:
		return 0, fmt.Errorf("%s value is null", name)
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int8:
		v = float64(n)
	case int16:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint8:
		v = float64(n)
	case uint16:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s value must be numeric", name)
		}
		v = f
	default:
		return 0, fmt.Errorf("%s value must be numeric", name)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s value must be a finite number", name)
	}
	return v, nil
}

func timestampOf(raw interface{}) (time.Time, error) {
	switch ts := raw.(type) {
	case time.Time:
		if ts.IsZero() {
			return time.Time{}, fmt.Errorf("Invalid timestamp format")
		}
		return ts.UTC(), nil
	case string:
		t, err := ParseTimestamp(ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("Invalid timestamp format")
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("timestamp must be a valid datetime")
	}
}

func stringOf(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
