package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/afroash/sensor-pipeline/internal/models"
	internalstats "github.com/afroash/sensor-pipeline/internal/stats"
)

// FieldStats describes one measurement over a snapshot
type FieldStats struct {
	Count    int   `json:"count"`
	Mean     Value `json:"mean"`
	Std      Value `json:"std"`
	Min      Value `json:"min"`
	Max      Value `json:"max"`
	P25      Value `json:"p25"`
	P75      Value `json:"p75"`
	Skewness Value `json:"skewness"`
	Kurtosis Value `json:"kurtosis"`
	CV       Value `json:"cv"`
}

// Describe computes descriptive statistics per field over the snapshot.
// Missing cells are skipped.
func Describe(snapshot []models.Reading) map[models.Field]FieldStats {
	out := make(map[models.Field]FieldStats, len(models.Fields))
	for _, f := range models.Fields {
		out[f] = describeValues(fieldValues(snapshot, f))
	}
	return out
}

// DescribeBySensor groups the snapshot by sensor id and describes each group
func DescribeBySensor(snapshot []models.Reading) map[string]map[models.Field]FieldStats {
	out := make(map[string]map[models.Field]FieldStats)
	for id, group := range groupBySensor(snapshot) {
		out[id] = Describe(group)
	}
	return out
}

func describeValues(values []float64) FieldStats {
	fs := FieldStats{Count: len(values)}
	n := len(values)
	if n == 0 {
		return fs
	}

	sorted := internalstats.Sorted(values)
	fs.Min = Some(sorted[0])
	fs.Max = Some(sorted[n-1])
	fs.P25 = Some(internalstats.Quantile(sorted, 0.25))
	fs.P75 = Some(internalstats.Quantile(sorted, 0.75))
	fs.Mean = Some(stat.Mean(values, nil))

	if n < 2 {
		return fs
	}
	_, std := stat.MeanStdDev(values, nil)
	fs.Std = Some(std)

	mean := fs.Mean.Or(0)
	if mean != 0 {
		fs.CV = Some(100 * std / math.Abs(mean))
	}

	if std == 0 {
		return fs
	}
	if n >= 3 {
		fs.Skewness = Some(stat.Skew(values, nil))
	}
	if n >= 4 {
		fs.Kurtosis = Some(stat.ExKurtosis(values, nil))
	}
	return fs
}

// fieldValues returns the non-missing values of f in snapshot order
func fieldValues(snapshot []models.Reading, f models.Field) []float64 {
	values := make([]float64, 0, len(snapshot))
	for i := range snapshot {
		v := snapshot[i].Value(f)
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			values = append(values, v)
		}
	}
	return values
}

func groupBySensor(snapshot []models.Reading) map[string][]models.Reading {
	groups := make(map[string][]models.Reading)
	for i := range snapshot {
		groups[snapshot[i].SensorID] = append(groups[snapshot[i].SensorID], snapshot[i])
	}
	return groups
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
