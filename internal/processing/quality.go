package processing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// Warning records a stage that was skipped or degraded. Processing always
// continues past a warning.
type Warning struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Stage + ": " + w.Message
}

// Gap is a stretch between consecutive readings of one sensor that exceeds
// twice the expected interval
type Gap struct {
	SensorID        string    `json:"sensor_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
	Duration        string    `json:"duration"`
}

// QualityReport summarizes the input snapshot and what the pipeline did to it
type QualityReport struct {
	Completeness      float64                  `json:"completeness"`
	Consistency       float64                  `json:"consistency"`
	Temporal          float64                  `json:"temporal"`
	Overall           float64                  `json:"overall"`
	FieldCompleteness map[models.Field]float64 `json:"field_completeness"`

	InputCount        int  `json:"input_count"`
	OutputCount       int  `json:"output_count"`
	FilledCells       int  `json:"filled_cells"`
	InvalidRemoved    int  `json:"invalid_removed"`
	OutliersFlagged   int  `json:"outliers_flagged"`
	OutliersRemoved   int  `json:"outliers_removed"`
	DuplicatesRemoved int  `json:"duplicates_removed"`
	Reordered         bool `json:"reordered"`
	Smoothed          bool `json:"smoothed"`

	IntervalsReasonable bool      `json:"intervals_reasonable"`
	Gaps                []Gap     `json:"gaps"`
	Warnings            []Warning `json:"warnings"`
}

// Sanity window for consecutive intervals of one sensor
const (
	minReasonableInterval = 500 * time.Millisecond
	maxReasonableInterval = time.Hour
)

// assess fills the quality dimensions of report from the input snapshot
func assess(report *QualityReport, input []models.Reading, weights QualityWeights) {
	n := len(input)
	report.InputCount = n
	report.FieldCompleteness = make(map[models.Field]float64, len(models.Fields))
	if n == 0 {
		for _, f := range models.Fields {
			report.FieldCompleteness[f] = 0
		}
		return
	}

	var present, inRange int
	for _, f := range models.Fields {
		fieldPresent := 0
		for i := range input {
			v := input[i].Value(f)
			if !math.IsNaN(v) {
				fieldPresent++
			}
			if f.Range().Contains(v) {
				inRange++
			}
		}
		present += fieldPresent
		report.FieldCompleteness[f] = 100 * float64(fieldPresent) / float64(n)
	}

	total := float64(n * len(models.Fields))
	report.Completeness = 100 * float64(present) / total
	report.Consistency = 100 * float64(inRange) / total
	report.Temporal = 100 * (1 - float64(temporalIssues(input))/float64(n))
	report.Overall = weightedOverall(report, weights)
}

// temporalIssues counts readings that duplicate an earlier (sensor,
// timestamp) or arrive with a timestamp earlier than their predecessor.
func temporalIssues(input []models.Reading) int {
	seen := make(map[dedupKey]struct{}, len(input))
	issues := 0
	for i := range input {
		key := keyOf(&input[i])
		_, dup := seen[key]
		seen[key] = struct{}{}
		outOfOrder := i > 0 && input[i].Timestamp.Before(input[i-1].Timestamp)
		if dup || outOfOrder {
			issues++
		}
	}
	return issues
}

func weightedOverall(r *QualityReport, w QualityWeights) float64 {
	sum := w.Completeness + w.Consistency + w.Temporal
	if sum <= 0 {
		return (r.Completeness + r.Consistency + r.Temporal) / 3
	}
	return (w.Completeness*r.Completeness + w.Consistency*r.Consistency + w.Temporal*r.Temporal) / sum
}

// DetectGaps returns per-sensor gaps longer than twice expected, ordered by
// sensor then start time
func DetectGaps(readings []models.Reading, expected time.Duration) []Gap {
	bySensor := groupTimestamps(readings)

	ids := make([]string, 0, len(bySensor))
	for id := range bySensor {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	gaps := []Gap{}
	for _, id := range ids {
		ts := bySensor[id]
		for i := 1; i < len(ts); i++ {
			d := ts[i].Sub(ts[i-1])
			if d > 2*expected {
				gaps = append(gaps, Gap{
					SensorID:        id,
					Start:           ts[i-1],
					End:             ts[i],
					DurationSeconds: d.Seconds(),
					Duration:        FormatDuration(d),
				})
			}
		}
	}
	return gaps
}

// intervalsReasonable reports whether every consecutive interval of each
// sensor lies within the sanity window
func intervalsReasonable(readings []models.Reading) bool {
	for _, ts := range groupTimestamps(readings) {
		for i := 1; i < len(ts); i++ {
			d := ts[i].Sub(ts[i-1])
			if d < minReasonableInterval || d > maxReasonableInterval {
				return false
			}
		}
	}
	return true
}

func groupTimestamps(readings []models.Reading) map[string][]time.Time {
	bySensor := make(map[string][]time.Time)
	for i := range readings {
		bySensor[readings[i].SensorID] = append(bySensor[readings[i].SensorID], readings[i].Timestamp)
	}
	for _, ts := range bySensor {
		sort.Slice(ts, func(a, b int) bool { return ts[a].Before(ts[b]) })
	}
	return bySensor
}

// FormatDuration renders d in the largest fitting unit with one decimal
func FormatDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return fmt.Sprintf("%.1f seconds", s)
	case s < 3600:
		return fmt.Sprintf("%.1f minutes", s/60)
	case s < 86400:
		return fmt.Sprintf("%.1f hours", s/3600)
	default:
		return fmt.Sprintf("%.1f days", s/86400)
	}
}
