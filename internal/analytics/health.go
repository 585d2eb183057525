package analytics

import (
	"math"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// Status is the bucket of a health score
type Status string

const (
	Excellent Status = "Excellent"
	Good      Status = "Good"
	Fair      Status = "Fair"
	Poor      Status = "Poor"
)

// HealthWeights weights the three health components
type HealthWeights struct {
	Availability float64 `yaml:"availability" json:"availability"`
	Variability  float64 `yaml:"variability" json:"variability"`
	Recency      float64 `yaml:"recency" json:"recency"`
}

// HealthThresholds are the lower score bounds of each bucket
type HealthThresholds struct {
	Excellent float64 `yaml:"excellent" json:"excellent"`
	Good      float64 `yaml:"good" json:"good"`
	Fair      float64 `yaml:"fair" json:"fair"`
}

// Bucket maps a score to its status
func (t HealthThresholds) Bucket(score float64) Status {
	switch {
	case score >= t.Excellent:
		return Excellent
	case score >= t.Good:
		return Good
	case score >= t.Fair:
		return Fair
	default:
		return Poor
	}
}

// HealthScore is the composite health of one sensor at a point in time
type HealthScore struct {
	SensorID      string    `json:"sensor_id"`
	Availability  float64   `json:"availability"`
	Variability   float64   `json:"variability"`
	Recency       float64   `json:"recency"`
	Score         float64   `json:"score"`
	Status        Status    `json:"status"`
	ReadingCount  int       `json:"reading_count"`
	ExpectedCount int       `json:"expected_count"`
	MeanCV        Value     `json:"mean_cv"`
	LastSeen      time.Time `json:"last_seen"`
}

// HealthConfig holds every health scoring parameter
type HealthConfig struct {
	ExpectedInterval  time.Duration    `yaml:"expected_interval" json:"expected_interval"`
	Window            time.Duration    `yaml:"window" json:"window"`
	CVCap             float64          `yaml:"cv_cap" json:"cv_cap"`
	RecencyHalfLife   time.Duration    `yaml:"recency_half_life" json:"recency_half_life"`
	AvailabilityFloor float64          `yaml:"availability_floor" json:"availability_floor"`
	Weights           HealthWeights    `yaml:"weights" json:"weights"`
	Thresholds        HealthThresholds `yaml:"thresholds" json:"thresholds"`
}

// Health scores each sensor in the snapshot as of now.
//
// The window is [now-Window, now], clipped to the earliest reading in the
// snapshot so a freshly started collection is not penalized for time it
// could not have observed. Availability is readings in window over
// floor(span/ExpectedInterval)+1, capped at 100. Variability is
// 100*(1-min(meanCV, CVCap)/CVCap) over the four fields. Recency halves
// every RecencyHalfLife since the sensor's last reading. A sensor whose
// availability is below AvailabilityFloor is Poor regardless of score.
func Health(snapshot []models.Reading, cfg HealthConfig, now time.Time) []HealthScore {
	groups := groupBySensor(snapshot)
	if len(groups) == 0 {
		return []HealthScore{}
	}

	start := now.Add(-cfg.Window)
	earliest := snapshot[0].Timestamp
	for i := range snapshot {
		if snapshot[i].Timestamp.Before(earliest) {
			earliest = snapshot[i].Timestamp
		}
	}
	if earliest.After(start) {
		start = earliest
	}

	expected := 1
	if span := now.Sub(start); span > 0 && cfg.ExpectedInterval > 0 {
		expected = int(span/cfg.ExpectedInterval) + 1
	}

	out := make([]HealthScore, 0, len(groups))
	for _, id := range sortedKeys(groups) {
		out = append(out, scoreSensor(id, groups[id], cfg, start, now, expected))
	}
	return out
}

func scoreSensor(id string, readings []models.Reading, cfg HealthConfig, start, now time.Time, expected int) HealthScore {
	hs := HealthScore{SensorID: id, ExpectedCount: expected}

	inWindow := make([]models.Reading, 0, len(readings))
	for i := range readings {
		ts := readings[i].Timestamp
		if ts.After(hs.LastSeen) {
			hs.LastSeen = ts
		}
		if !ts.Before(start) && !ts.After(now) {
			inWindow = append(inWindow, readings[i])
		}
	}
	hs.ReadingCount = len(inWindow)
	hs.Availability = math.Min(100, 100*float64(len(inWindow))/float64(expected))

	hs.MeanCV = meanCV(inWindow)
	hs.Variability = 100
	if cv, ok := hs.MeanCV.Float(); ok && cfg.CVCap > 0 {
		hs.Variability = 100 * (1 - math.Min(cv, cfg.CVCap)/cfg.CVCap)
	}

	age := now.Sub(hs.LastSeen)
	if age < 0 {
		age = 0
	}
	hs.Recency = 100
	if cfg.RecencyHalfLife > 0 {
		hs.Recency = 100 * math.Pow(0.5, age.Seconds()/cfg.RecencyHalfLife.Seconds())
	}

	w := cfg.Weights
	sum := w.Availability + w.Variability + w.Recency
	if sum <= 0 {
		w, sum = HealthWeights{1, 1, 1}, 3
	}
	hs.Score = (w.Availability*hs.Availability + w.Variability*hs.Variability + w.Recency*hs.Recency) / sum

	hs.Status = cfg.Thresholds.Bucket(hs.Score)
	if hs.Availability < cfg.AvailabilityFloor {
		hs.Status = Poor
	}
	return hs
}

// meanCV averages the defined coefficients of variation of the four fields
func meanCV(readings []models.Reading) Value {
	var sum float64
	var n int
	for _, fs := range Describe(readings) {
		if cv, ok := fs.CV.Float(); ok {
			sum += cv
			n++
		}
	}
	if n == 0 {
		return NA
	}
	return Some(sum / float64(n))
}
