package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/afroash/sensor-pipeline/internal/models"
	internalstats "github.com/afroash/sensor-pipeline/internal/stats"
)

// Direction of a fitted trend
type Direction string

const (
	Increasing Direction = "Increasing"
	Decreasing Direction = "Decreasing"
	Stable     Direction = "Stable"
)

// Confidence bucket derived from a p-value
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Trend is an ordinary least-squares fit of a field against elapsed seconds
type Trend struct {
	N          int        `json:"n"`
	Slope      Value      `json:"slope"`
	Intercept  Value      `json:"intercept"`
	RSquared   Value      `json:"r_squared"`
	StdErr     Value      `json:"std_err"`
	PValue     Value      `json:"p_value"`
	Direction  Direction  `json:"direction"`
	Confidence Confidence `json:"confidence"`
}

// ConfidenceFor buckets a p-value; an undefined p-value is Low
func ConfidenceFor(p Value) Confidence {
	pv, ok := p.Float()
	switch {
	case !ok:
		return ConfidenceLow
	case pv < 0.01:
		return ConfidenceHigh
	case pv < 0.05:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// FitTrend regresses y on x. stableSlope is the dead-band around zero: a
// slope whose magnitude does not exceed max(stableSlope, stderr) is Stable.
// Fewer than three points or no spread in x gives an undefined trend.
func FitTrend(x, y []float64, stableSlope float64) Trend {
	n := len(x)
	tr := Trend{N: n, Direction: Stable, Confidence: ConfidenceLow}
	if n < 3 || len(y) != n {
		return tr
	}
	if _, xStd := stat.MeanStdDev(x, nil); xStd == 0 {
		return tr
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	tr.Slope = Some(beta)
	tr.Intercept = Some(alpha)

	xMean := stat.Mean(x, nil)
	var sse, sxx float64
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		sse += r * r
		dx := x[i] - xMean
		sxx += dx * dx
	}
	df := float64(n - 2)
	stdErr := math.Sqrt(sse/df) / math.Sqrt(sxx)
	tr.StdErr = Some(stdErr)

	if _, yStd := stat.MeanStdDev(y, nil); yStd > 0 {
		tr.RSquared = Some(stat.RSquared(x, y, nil, alpha, beta))
	}

	switch {
	case stdErr > 0:
		tr.PValue = Some(internalstats.TwoTailedP(beta/stdErr, df))
	case beta != 0:
		// exact fit with nonzero slope
		tr.PValue = Some(0)
	}
	tr.Confidence = ConfidenceFor(tr.PValue)

	band := math.Max(stableSlope, stdErr)
	switch {
	case math.Abs(beta) <= band:
		tr.Direction = Stable
	case beta > 0:
		tr.Direction = Increasing
	default:
		tr.Direction = Decreasing
	}

	return tr
}

// Trends fits every field against seconds elapsed since the earliest
// timestamp in the snapshot
func Trends(snapshot []models.Reading, stableSlope float64) map[models.Field]Trend {
	out := make(map[models.Field]Trend, len(models.Fields))
	if len(snapshot) == 0 {
		for _, f := range models.Fields {
			out[f] = Trend{Direction: Stable, Confidence: ConfidenceLow}
		}
		return out
	}

	origin := snapshot[0].Timestamp
	for i := range snapshot {
		if snapshot[i].Timestamp.Before(origin) {
			origin = snapshot[i].Timestamp
		}
	}

	for _, f := range models.Fields {
		x := make([]float64, 0, len(snapshot))
		y := make([]float64, 0, len(snapshot))
		for i := range snapshot {
			v := snapshot[i].Value(f)
			if math.IsNaN(v) {
				continue
			}
			x = append(x, snapshot[i].Timestamp.Sub(origin).Seconds())
			y = append(y, v)
		}
		out[f] = FitTrend(x, y, stableSlope)
	}
	return out
}
