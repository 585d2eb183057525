// Package stats holds the numeric kernels shared by cleaning and analytics.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// OutlierMethod selects the rule used to flag outliers
type OutlierMethod string

const (
	MethodZScore OutlierMethod = "zscore"
	MethodIQR    OutlierMethod = "iqr"
)

// Valid reports whether m names a known method
func (m OutlierMethod) Valid() bool {
	return m == MethodZScore || m == MethodIQR
}

// Quantile returns the q-th quantile of sorted using linear interpolation
// between closest ranks (h = (n-1)q). sorted must be ascending and non-empty.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Sorted returns an ascending copy of values
func Sorted(values []float64) []float64 {
	s := make([]float64, len(values))
	copy(s, values)
	sort.Float64s(s)
	return s
}

// IQRBounds returns the fences Q1-k*IQR and Q3+k*IQR
func IQRBounds(values []float64, k float64) (lower, upper float64) {
	s := Sorted(values)
	q1 := Quantile(s, 0.25)
	q3 := Quantile(s, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr
}

// ZScores returns |x-mean|/std for every value using the population
// standard deviation. A zero spread yields all zeros.
func ZScores(values []float64) []float64 {
	scores := make([]float64, len(values))
	if len(values) == 0 {
		return scores
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return scores
	}
	for i, v := range values {
		scores[i] = math.Abs(v-mean) / std
	}
	return scores
}

// OutlierConfig parameterizes Outliers
type OutlierConfig struct {
	Method     OutlierMethod
	ZThreshold float64
	IQRFactor  float64
	MinSamples int
}

// Outliers flags values per the configured rule. The returned score is the
// z-score for MethodZScore, and for MethodIQR the distance past the nearest
// fence in IQR units. Too few samples flag nothing.
func Outliers(values []float64, cfg OutlierConfig) (flags []bool, scores []float64) {
	flags = make([]bool, len(values))
	scores = make([]float64, len(values))
	if len(values) < max(cfg.MinSamples, 2) {
		return flags, scores
	}

	switch cfg.Method {
	case MethodIQR:
		lower, upper := IQRBounds(values, cfg.IQRFactor)
		iqr := (upper - lower) / (2*cfg.IQRFactor + 1)
		for i, v := range values {
			var dist float64
			switch {
			case v < lower:
				dist = lower - v
			case v > upper:
				dist = v - upper
			default:
				continue
			}
			flags[i] = true
			if iqr > 0 {
				scores[i] = dist / iqr
			}
		}
	default:
		z := ZScores(values)
		for i := range values {
			scores[i] = z[i]
			flags[i] = z[i] > cfg.ZThreshold
		}
	}

	return flags, scores
}

// TwoTailedP returns the two-tailed p-value of a Student t statistic
func TwoTailedP(t float64, df float64) float64 {
	if df <= 0 || math.IsNaN(t) {
		return math.NaN()
	}
	if math.IsInf(t, 0) {
		return 0
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

// PearsonP returns the two-tailed p-value for a Pearson coefficient r over
// n paired samples (t = r*sqrt((n-2)/(1-r^2)), n-2 degrees of freedom).
func PearsonP(r float64, n int) float64 {
	if n < 3 || math.IsNaN(r) {
		return math.NaN()
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	return TwoTailedP(t, df)
}
