package processing

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/stats"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func reading(i int, temp float64) models.Reading {
	return models.Reading{
		Timestamp:   base.Add(time.Duration(i) * 2 * time.Second),
		SensorID:    "s1",
		Temperature: temp,
		Weight:      50,
		Moisture:    45,
		Pressure:    101325,
	}
}

// series of n readings with temperature alternating 18/22
func steadySeries(n int) []models.Reading {
	out := make([]models.Reading, n)
	for i := range out {
		temp := 18.0
		if i%2 == 1 {
			temp = 22
		}
		out[i] = reading(i, temp)
	}
	return out
}

func noOutlierOptions() Options {
	opts := DefaultOptions()
	opts.DetectOutliers = false
	return opts
}

func TestClean_FillMissing(t *testing.T) {
	tests := []struct {
		name        string
		temps       []float64
		interpolate bool
		want        []float64
	}{
		{"forward fill", []float64{20, math.NaN(), math.NaN(), 26}, false, []float64{20, 20, 20, 26}},
		{"backward fill leading gap", []float64{math.NaN(), 21, 22, 23}, false, []float64{21, 21, 22, 23}},
		{"interpolate interior", []float64{20, math.NaN(), math.NaN(), 26}, true, []float64{20, 22, 24, 26}},
		{"interpolate then fill trailing", []float64{20, math.NaN(), 22, math.NaN()}, true, []float64{20, 21, 22, 22}},
		{"all missing takes midpoint", []float64{math.NaN(), math.NaN()}, false, []float64{25, 25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := make([]models.Reading, len(tt.temps))
			for i, v := range tt.temps {
				snapshot[i] = reading(i, v)
			}
			opts := noOutlierOptions()
			opts.Interpolate = tt.interpolate

			res := Clean(snapshot, opts)
			if len(res.Cleaned) != len(tt.want) {
				t.Fatalf("len(Cleaned) = %d, want %d", len(res.Cleaned), len(tt.want))
			}
			for i, want := range tt.want {
				if got := res.Cleaned[i].Temperature; !almostEqual(got, want, 1e-9) {
					t.Errorf("Temperature[%d] = %v, want %v", i, got, want)
				}
			}
			if res.Report.FilledCells == 0 {
				t.Error("FilledCells = 0, want > 0")
			}
		})
	}
}

func TestClean_FillDisabledDropsIncomplete(t *testing.T) {
	snapshot := []models.Reading{reading(0, 20), reading(1, math.NaN()), reading(2, 21)}
	opts := noOutlierOptions()
	opts.FillMissing = false

	res := Clean(snapshot, opts)
	if len(res.Cleaned) != 2 {
		t.Errorf("len(Cleaned) = %d, want 2", len(res.Cleaned))
	}
	if res.Report.InvalidRemoved != 1 {
		t.Errorf("InvalidRemoved = %d, want 1", res.Report.InvalidRemoved)
	}
}

func TestClean_RemovesOutOfRange(t *testing.T) {
	snapshot := []models.Reading{reading(0, 20), reading(1, 150), reading(2, 21)}
	snapshot[2].SensorID = ""

	res := Clean(snapshot, noOutlierOptions())
	if len(res.Cleaned) != 1 {
		t.Fatalf("len(Cleaned) = %d, want 1", len(res.Cleaned))
	}
	if res.Report.InvalidRemoved != 2 {
		t.Errorf("InvalidRemoved = %d, want 2", res.Report.InvalidRemoved)
	}
}

func TestClean_Outliers(t *testing.T) {
	snapshot := append(steadySeries(30), reading(30, 40))

	t.Run("removed", func(t *testing.T) {
		opts := DefaultOptions()
		opts.RemoveOutliers = true

		res := Clean(snapshot, opts)
		if len(res.Outliers) != 1 {
			t.Fatalf("len(Outliers) = %d, want 1: %+v", len(res.Outliers), res.Outliers)
		}
		o := res.Outliers[0]
		if o.Value != 40 || o.Field != models.FieldTemperature || !o.Removed {
			t.Errorf("Outlier = %+v", o)
		}
		if len(res.Cleaned) != 30 {
			t.Errorf("len(Cleaned) = %d, want 30", len(res.Cleaned))
		}
		if res.Report.OutliersRemoved != 1 {
			t.Errorf("OutliersRemoved = %d, want 1", res.Report.OutliersRemoved)
		}
	})

	t.Run("retained and annotated", func(t *testing.T) {
		opts := DefaultOptions()
		opts.RemoveOutliers = false

		res := Clean(snapshot, opts)
		if len(res.Cleaned) != 31 {
			t.Errorf("len(Cleaned) = %d, want 31", len(res.Cleaned))
		}
		if len(res.Outliers) != 1 || res.Outliers[0].Removed {
			t.Errorf("Outliers = %+v", res.Outliers)
		}
		if res.Report.OutliersRemoved != 0 {
			t.Errorf("OutliersRemoved = %d, want 0", res.Report.OutliersRemoved)
		}
	})

	t.Run("iqr", func(t *testing.T) {
		opts := DefaultOptions()
		opts.OutlierMethod = stats.MethodIQR

		res := Clean(snapshot, opts)
		if len(res.Outliers) != 1 || res.Outliers[0].Method != stats.MethodIQR {
			t.Errorf("Outliers = %+v", res.Outliers)
		}
	})
}

func TestClean_Smoothing(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		opts := noOutlierOptions()
		opts.SmoothingWindow = 5
		opts.SmoothingOrder = 2

		res := Clean(steadySeries(20), opts)
		if !res.Report.Smoothed {
			t.Fatal("Smoothed = false, want true")
		}
		if len(res.Report.Warnings) != 0 {
			t.Errorf("Warnings = %v, want none", res.Report.Warnings)
		}
		for i := 2; i < 18; i++ {
			if v := res.Cleaned[i].Temperature; v < 18.5 || v > 21.5 {
				t.Errorf("Temperature[%d] = %v, want damped toward 20", i, v)
			}
		}
	})

	t.Run("window too large is skipped with warning", func(t *testing.T) {
		opts := noOutlierOptions()
		opts.SmoothingWindow = 11
		opts.SmoothingOrder = 2

		snapshot := steadySeries(6)
		res := Clean(snapshot, opts)
		if res.Report.Smoothed {
			t.Error("Smoothed = true, want false")
		}
		if len(res.Report.Warnings) != 1 || res.Report.Warnings[0].Stage != StageSmoothing {
			t.Fatalf("Warnings = %v, want one smoothing warning", res.Report.Warnings)
		}
		if !strings.Contains(res.Report.Warnings[0].Message, "exceeds") {
			t.Errorf("warning message = %q", res.Report.Warnings[0].Message)
		}
		for i := range snapshot {
			if res.Cleaned[i].Temperature != snapshot[i].Temperature {
				t.Errorf("Temperature[%d] changed to %v", i, res.Cleaned[i].Temperature)
			}
		}
	})

	t.Run("window below order plus two", func(t *testing.T) {
		opts := noOutlierOptions()
		opts.SmoothingWindow = 3
		opts.SmoothingOrder = 2

		res := Clean(steadySeries(10), opts)
		if res.Report.Smoothed || len(res.Report.Warnings) != 1 {
			t.Errorf("Smoothed = %v, Warnings = %v", res.Report.Smoothed, res.Report.Warnings)
		}
	})
}

func TestClean_TemporalConsistency(t *testing.T) {
	a := reading(0, 20)
	b := reading(1, 21)
	c := reading(2, 22)
	dup := b
	dup.Temperature = 30
	other := b
	other.SensorID = "s2"

	res := Clean([]models.Reading{c, a, b, dup, other}, noOutlierOptions())

	if !res.Report.Reordered {
		t.Error("Reordered = false, want true")
	}
	if res.Report.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, want 1", res.Report.DuplicatesRemoved)
	}
	if len(res.Cleaned) != 4 {
		t.Fatalf("len(Cleaned) = %d, want 4", len(res.Cleaned))
	}
	for i := 1; i < len(res.Cleaned); i++ {
		if res.Cleaned[i].Timestamp.Before(res.Cleaned[i-1].Timestamp) {
			t.Errorf("Cleaned not sorted at %d", i)
		}
	}
	// the first occurrence of (s1, t1) is kept
	for _, r := range res.Cleaned {
		if r.SensorID == "s1" && r.Timestamp.Equal(b.Timestamp) && r.Temperature != 21 {
			t.Errorf("kept duplicate with Temperature %v, want 21", r.Temperature)
		}
	}
}

func TestClean_DoesNotMutateInput(t *testing.T) {
	snapshot := []models.Reading{reading(1, math.NaN()), reading(0, 20)}

	_ = Clean(snapshot, noOutlierOptions())

	if !math.IsNaN(snapshot[0].Temperature) {
		t.Errorf("input Temperature = %v, want NaN", snapshot[0].Temperature)
	}
	if !snapshot[1].Timestamp.Equal(base) {
		t.Error("input order changed")
	}
}

func TestClean_QualityReport(t *testing.T) {
	snapshot := []models.Reading{
		reading(0, 20),
		reading(1, math.NaN()),
		reading(2, 150),
		reading(1, 21), // duplicate and out of order
	}
	snapshot[3].SensorID = "s1"

	res := Clean(snapshot, noOutlierOptions())
	r := res.Report

	// 16 cells, 1 missing
	if !almostEqual(r.Completeness, 100*15.0/16, 1e-9) {
		t.Errorf("Completeness = %v, want %v", r.Completeness, 100*15.0/16)
	}
	// missing cell and out-of-range cell are both inconsistent
	if !almostEqual(r.Consistency, 100*14.0/16, 1e-9) {
		t.Errorf("Consistency = %v, want %v", r.Consistency, 100*14.0/16)
	}
	if !almostEqual(r.Temporal, 75, 1e-9) {
		t.Errorf("Temporal = %v, want 75", r.Temporal)
	}
	wantOverall := (r.Completeness + r.Consistency + r.Temporal) / 3
	if !almostEqual(r.Overall, wantOverall, 1e-9) {
		t.Errorf("Overall = %v, want %v", r.Overall, wantOverall)
	}
	if !almostEqual(r.FieldCompleteness[models.FieldTemperature], 75, 1e-9) {
		t.Errorf("FieldCompleteness[temperature] = %v, want 75", r.FieldCompleteness[models.FieldTemperature])
	}
	if r.InputCount != 4 {
		t.Errorf("InputCount = %d, want 4", r.InputCount)
	}
}

func TestClean_QualityWeights(t *testing.T) {
	snapshot := []models.Reading{reading(0, 20), reading(0, 20)}
	opts := noOutlierOptions()
	opts.QualityWeights = QualityWeights{Completeness: 0, Consistency: 0, Temporal: 1}

	res := Clean(snapshot, opts)
	if !almostEqual(res.Report.Overall, 50, 1e-9) {
		t.Errorf("Overall = %v, want 50 (temporal only)", res.Report.Overall)
	}
}

func TestClean_Empty(t *testing.T) {
	res := Clean(nil, DefaultOptions())
	if len(res.Cleaned) != 0 {
		t.Errorf("len(Cleaned) = %d, want 0", len(res.Cleaned))
	}
	if res.Report.Overall != 0 {
		t.Errorf("Overall = %v, want 0", res.Report.Overall)
	}
	if len(res.Report.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", res.Report.Warnings)
	}
}

func TestDetectGaps(t *testing.T) {
	readings := []models.Reading{reading(0, 20), reading(1, 20), reading(10, 20)}

	gaps := DetectGaps(readings, 2*time.Second)
	if len(gaps) != 1 {
		t.Fatalf("len(gaps) = %d, want 1", len(gaps))
	}
	if gaps[0].DurationSeconds != 18 {
		t.Errorf("DurationSeconds = %v, want 18", gaps[0].DurationSeconds)
	}
	if gaps[0].Duration != "18.0 seconds" {
		t.Errorf("Duration = %q", gaps[0].Duration)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "30.0 seconds"},
		{90 * time.Second, "1.5 minutes"},
		{2 * time.Hour, "2.0 hours"},
		{36 * time.Hour, "1.5 days"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Errorf("DefaultOptions().Validate() = %v", err)
	}

	bad := DefaultOptions()
	bad.OutlierMethod = "mad"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown outlier method")
	}

	bad = DefaultOptions()
	bad.QualityWeights = QualityWeights{}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for all-zero quality weights")
	}
}
