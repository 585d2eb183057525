package analytics

import (
	"math"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	internalstats "github.com/afroash/sensor-pipeline/internal/stats"
)

// Anomaly is one flagged cell found at analysis time
type Anomaly struct {
	Timestamp time.Time                   `json:"timestamp"`
	SensorID  string                      `json:"sensor_id"`
	Field     models.Field                `json:"field"`
	Value     float64                     `json:"value"`
	Method    internalstats.OutlierMethod `json:"method"`
	Score     float64                     `json:"score"`
}

// DetectAnomalies applies the outlier rule per field without modifying the
// snapshot. Results are ordered by field then snapshot position.
func DetectAnomalies(snapshot []models.Reading, cfg internalstats.OutlierConfig) []Anomaly {
	out := []Anomaly{}
	for _, f := range models.Fields {
		idx := make([]int, 0, len(snapshot))
		values := make([]float64, 0, len(snapshot))
		for i := range snapshot {
			v := snapshot[i].Value(f)
			if math.IsNaN(v) {
				continue
			}
			idx = append(idx, i)
			values = append(values, v)
		}

		flags, scores := internalstats.Outliers(values, cfg)
		for k, flagged := range flags {
			if !flagged {
				continue
			}
			r := &snapshot[idx[k]]
			out = append(out, Anomaly{
				Timestamp: r.Timestamp,
				SensorID:  r.SensorID,
				Field:     f,
				Value:     values[k],
				Method:    cfg.Method,
				Score:     scores[k],
			})
		}
	}
	return out
}
