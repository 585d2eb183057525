// Package export serializes snapshots to CSV or JSON and parses them back.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

// Format names an export encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat is returned for any format other than csv or json
var ErrUnsupportedFormat = errors.New("unsupported export format")

// TimestampLayout is ISO-8601 UTC with microsecond precision
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Header is the fixed CSV column order
var Header = []string{"timestamp", "temperature", "weight", "moisture", "pressure", "sensor_id"}

// ParseFormat maps a user supplied name to a Format
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the HTTP media type of the format
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Export writes snapshot to w in the given format
func Export(w io.Writer, snapshot []models.Reading, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, snapshot)
	case FormatJSON:
		return WriteJSON(w, snapshot)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// WriteCSV writes the header and one row per reading. Missing cells are
// written empty.
func WriteCSV(w io.Writer, snapshot []models.Reading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	row := make([]string, len(Header))
	for i := range snapshot {
		r := &snapshot[i]
		row[0] = r.Timestamp.UTC().Format(TimestampLayout)
		for j, f := range models.Fields {
			row[j+1] = formatFloat(r.Value(f))
		}
		row[5] = r.SensorID
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// ParseCSV reads rows written by WriteCSV. Columns are located by header
// name so extra columns are ignored.
func ParseCSV(r io.Reader) ([]models.Reading, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return []models.Reading{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range Header {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}

	readings := []models.Reading{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		cell := func(name string) string {
			idx := cols[name]
			if idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}

		var reading models.Reading
		reading.Timestamp, err = validation.ParseTimestamp(cell("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reading.SensorID = cell("sensor_id")
		for _, f := range models.Fields {
			v, err := parseFloat(cell(string(f)))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s: %w", line, f, err)
			}
			reading.SetValue(f, v)
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// jsonReading is the JSON shape of one exported reading. Pointers carry
// missing cells as null.
type jsonReading struct {
	Timestamp      string   `json:"timestamp"`
	SensorID       string   `json:"sensor_id"`
	Temperature    *float64 `json:"temperature"`
	Weight         *float64 `json:"weight"`
	Moisture       *float64 `json:"moisture"`
	Pressure       *float64 `json:"pressure"`
	Location       string   `json:"location,omitempty"`
	DeviceType     string   `json:"device_type,omitempty"`
	BatteryLevel   *float64 `json:"battery_level,omitempty"`
	SignalStrength *float64 `json:"signal_strength,omitempty"`
	ErrorCode      string   `json:"error_code,omitempty"`
}

// WriteJSON writes the snapshot as an indented JSON array
func WriteJSON(w io.Writer, snapshot []models.Reading) error {
	out := make([]jsonReading, len(snapshot))
	for i := range snapshot {
		r := &snapshot[i]
		out[i] = jsonReading{
			Timestamp:      r.Timestamp.UTC().Format(TimestampLayout),
			SensorID:       r.SensorID,
			Temperature:    optional(r.Temperature),
			Weight:         optional(r.Weight),
			Moisture:       optional(r.Moisture),
			Pressure:       optional(r.Pressure),
			Location:       r.Location,
			DeviceType:     r.DeviceType,
			BatteryLevel:   r.BatteryLevel,
			SignalStrength: r.SignalStrength,
			ErrorCode:      r.ErrorCode,
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// ParseJSON reads an array written by WriteJSON
func ParseJSON(r io.Reader) ([]models.Reading, error) {
	var in []jsonReading
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w", err)
	}

	readings := make([]models.Reading, len(in))
	for i, jr := range in {
		ts, err := validation.ParseTimestamp(jr.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		readings[i] = models.Reading{
			Timestamp:      ts,
			SensorID:       jr.SensorID,
			Temperature:    orNaN(jr.Temperature),
			Weight:         orNaN(jr.Weight),
			Moisture:       orNaN(jr.Moisture),
			Pressure:       orNaN(jr.Pressure),
			Location:       jr.Location,
			DeviceType:     jr.DeviceType,
			BatteryLevel:   jr.BatteryLevel,
			SignalStrength: jr.SignalStrength,
			ErrorCode:      jr.ErrorCode,
		}
	}
	return readings, nil
}

// Parse reads a snapshot in the given format
func Parse(r io.Reader, format Format) ([]models.Reading, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(r)
	case FormatJSON:
		return ParseJSON(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// Stamp returns a file name friendly UTC timestamp for export artifacts
func Stamp(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}
