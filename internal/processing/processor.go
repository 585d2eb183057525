// Package processing turns a snapshot of readings into a cleaned snapshot
// plus a quality report. Nothing here touches the store.
package processing

import (
	"math"
	"sort"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/stats"
)

// Stage names used in warnings
const (
	StageFill       = "missing_values"
	StageInvalid    = "invalid_removal"
	StageOutliers   = "outliers"
	StageSmoothing  = "smoothing"
	StageTemporal   = "temporal"
	StageAssessment = "assessment"
)

// Outlier is one flagged cell
type Outlier struct {
	Timestamp time.Time           `json:"timestamp"`
	SensorID  string              `json:"sensor_id"`
	Field     models.Field        `json:"field"`
	Value     float64             `json:"value"`
	Method    stats.OutlierMethod `json:"method"`
	Score     float64             `json:"score"`
	Removed   bool                `json:"removed"`
}

// Result is the output of Clean
type Result struct {
	Cleaned  []models.Reading `json:"cleaned"`
	Report   QualityReport    `json:"report"`
	Outliers []Outlier        `json:"outliers"`
}

type dedupKey struct {
	sensorID string
	ts       int64
}

func keyOf(r *models.Reading) dedupKey {
	return dedupKey{sensorID: r.SensorID, ts: r.Timestamp.UnixNano()}
}

// Clean runs the fixed stage order over a copy of snapshot: missing values,
// invalid removal, outliers, smoothing, temporal consistency. The quality
// dimensions of the report describe the input snapshot.
func Clean(snapshot []models.Reading, opts Options) Result {
	report := QualityReport{Gaps: []Gap{}, Warnings: []Warning{}}
	assess(&report, snapshot, opts.QualityWeights)
	if len(snapshot) == 0 {
		report.Warnings = append(report.Warnings, Warning{Stage: StageAssessment, Message: "empty snapshot"})
	}

	readings := make([]models.Reading, len(snapshot))
	for i := range snapshot {
		readings[i] = *snapshot[i].Copy()
	}

	if opts.FillMissing {
		report.FilledCells = fillMissing(readings, opts.Interpolate)
	}

	readings, report.InvalidRemoved = removeInvalid(readings)

	outliers := []Outlier{}
	if opts.DetectOutliers {
		readings, outliers, report.OutliersRemoved = handleOutliers(readings, opts)
		report.OutliersFlagged = len(outliers)
	}

	if opts.SmoothingWindow > 0 {
		if err := stats.CheckSavGol(len(readings), opts.SmoothingWindow, opts.SmoothingOrder); err != nil {
			report.Warnings = append(report.Warnings, Warning{Stage: StageSmoothing, Message: "skipped: " + err.Error()})
		} else {
			smooth(readings, opts.SmoothingWindow, opts.SmoothingOrder)
			report.Smoothed = true
		}
	}

	readings, report.Reordered, report.DuplicatesRemoved = temporalConsistency(readings)

	report.OutputCount = len(readings)
	report.Gaps = DetectGaps(readings, opts.ExpectedInterval)
	report.IntervalsReasonable = intervalsReasonable(readings)

	return Result{Cleaned: readings, Report: report, Outliers: outliers}
}

// fillMissing fills NaN cells per field in place and returns the count.
// Interpolation between valid neighbours runs first when enabled, then
// forward fill, then backward fill. A field with no value at all takes the
// midpoint of its range.
func fillMissing(readings []models.Reading, interpolate bool) int {
	filled := 0
	for _, f := range models.Fields {
		values := make([]float64, len(readings))
		missing := 0
		for i := range readings {
			values[i] = readings[i].Value(f)
			if math.IsNaN(values[i]) {
				missing++
			}
		}
		if missing == 0 {
			continue
		}

		if missing == len(values) {
			for i := range values {
				values[i] = f.Range().Mid()
			}
		} else {
			if interpolate {
				interpolateLinear(values)
			}
			forwardFill(values)
			backwardFill(values)
		}

		for i := range readings {
			readings[i].SetValue(f, values[i])
		}
		filled += missing
	}
	return filled
}

// interpolateLinear fills interior NaN runs by position. Leading and
// trailing runs are left for the fill passes.
func interpolateLinear(values []float64) {
	prev := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			step := (v - values[prev]) / float64(i-prev)
			for j := prev + 1; j < i; j++ {
				values[j] = values[prev] + step*float64(j-prev)
			}
		}
		prev = i
	}
}

func forwardFill(values []float64) {
	last := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = last
		} else {
			last = v
		}
	}
}

func backwardFill(values []float64) {
	next := math.NaN()
	for i := len(values) - 1; i >= 0; i-- {
		if math.IsNaN(values[i]) {
			values[i] = next
		} else {
			next = values[i]
		}
	}
}

// removeInvalid drops readings with a measurement out of range, a missing
// cell, an empty sensor id or a zero timestamp
func removeInvalid(readings []models.Reading) ([]models.Reading, int) {
	kept := readings[:0]
	removed := 0
	for i := range readings {
		if readings[i].IsValid() {
			kept = append(kept, readings[i])
		} else {
			removed++
		}
	}
	return kept, removed
}

// handleOutliers flags outliers per field and removes the flagged readings
// when configured. A reading flagged on several fields is removed once.
func handleOutliers(readings []models.Reading, opts Options) ([]models.Reading, []Outlier, int) {
	cfg := stats.OutlierConfig{
		Method:     opts.OutlierMethod,
		ZThreshold: opts.ZThreshold,
		IQRFactor:  opts.IQRMultiplier,
		MinSamples: opts.MinOutlierSamples,
	}
	if !cfg.Method.Valid() {
		cfg.Method = stats.MethodZScore
	}

	outliers := []Outlier{}
	flaggedRows := make([]bool, len(readings))

	for _, f := range models.Fields {
		values := make([]float64, len(readings))
		for i := range readings {
			values[i] = readings[i].Value(f)
		}
		flags, scores := stats.Outliers(values, cfg)
		for i, flagged := range flags {
			if !flagged {
				continue
			}
			flaggedRows[i] = true
			outliers = append(outliers, Outlier{
				Timestamp: readings[i].Timestamp,
				SensorID:  readings[i].SensorID,
				Field:     f,
				Value:     values[i],
				Method:    cfg.Method,
				Score:     scores[i],
				Removed:   opts.RemoveOutliers,
			})
		}
	}

	if !opts.RemoveOutliers {
		return readings, outliers, 0
	}

	kept := readings[:0]
	for i := range readings {
		if !flaggedRows[i] {
			kept = append(kept, readings[i])
		}
	}
	return kept, outliers, len(readings) - len(kept)
}

// smooth applies Savitzky-Golay per field in place. Smoothed values are
// clamped to the field range so cleaned readings stay valid.
func smooth(readings []models.Reading, window, order int) {
	for _, f := range models.Fields {
		values := make([]float64, len(readings))
		for i := range readings {
			values[i] = readings[i].Value(f)
		}
		out, err := stats.SavGol(values, window, order)
		if err != nil {
			continue
		}
		rng := f.Range()
		for i := range readings {
			readings[i].SetValue(f, math.Min(rng.Max, math.Max(rng.Min, out[i])))
		}
	}
}

// temporalConsistency stable-sorts by timestamp when needed and drops
// repeated (sensor, timestamp) pairs keeping the first occurrence
func temporalConsistency(readings []models.Reading) ([]models.Reading, bool, int) {
	reordered := false
	if !sort.SliceIsSorted(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	}) {
		sort.SliceStable(readings, func(i, j int) bool {
			return readings[i].Timestamp.Before(readings[j].Timestamp)
		})
		reordered = true
	}

	seen := make(map[dedupKey]struct{}, len(readings))
	kept := readings[:0]
	dups := 0
	for i := range readings {
		key := keyOf(&readings[i])
		if _, ok := seen[key]; ok {
			dups++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, readings[i])
	}
	return kept, reordered, dups
}
