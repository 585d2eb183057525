package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/afroash/sensor-pipeline/internal/models"
	internalstats "github.com/afroash/sensor-pipeline/internal/stats"
)

// Strength bucket of a correlation coefficient
type Strength string

const (
	Weak     Strength = "Weak"
	Moderate Strength = "Moderate"
	Strong   Strength = "Strong"
)

// CorrelationDirection is the sign of a correlation
type CorrelationDirection string

const (
	Positive CorrelationDirection = "Positive"
	Negative CorrelationDirection = "Negative"
)

// Correlation describes the Pearson correlation of one field pair
type Correlation struct {
	FieldA      models.Field         `json:"field_a"`
	FieldB      models.Field         `json:"field_b"`
	N           int                  `json:"n"`
	Coefficient Value                `json:"coefficient"`
	PValue      Value                `json:"p_value"`
	Strength    Strength             `json:"strength,omitempty"`
	Direction   CorrelationDirection `json:"direction,omitempty"`
	Significant bool                 `json:"significant"`
}

// StrengthFor buckets |r|: below 0.3 Weak, up to 0.7 Moderate, above Strong
func StrengthFor(r float64) Strength {
	a := math.Abs(r)
	switch {
	case a < 0.3:
		return Weak
	case a <= 0.7:
		return Moderate
	default:
		return Strong
	}
}

// Correlate computes Pearson r of two equal-length series with its
// two-tailed p-value at n-2 degrees of freedom. Constant series or fewer
// than three pairs leave the coefficient undefined.
func Correlate(a, b []float64) Correlation {
	c := Correlation{N: len(a)}
	if len(a) != len(b) || len(a) < 3 {
		return c
	}
	if _, sa := stat.MeanStdDev(a, nil); sa == 0 {
		return c
	}
	if _, sb := stat.MeanStdDev(b, nil); sb == 0 {
		return c
	}

	r := stat.Correlation(a, b, nil)
	// rounding can push |r| just past 1
	r = math.Max(-1, math.Min(1, r))
	c.Coefficient = Some(r)
	c.PValue = Some(internalstats.PearsonP(r, len(a)))
	c.Strength = StrengthFor(r)
	c.Direction = Positive
	if r < 0 {
		c.Direction = Negative
	}
	if p, ok := c.PValue.Float(); ok {
		c.Significant = p < 0.05
	}
	return c
}

// Correlations computes every unordered field pair over rows where both
// cells are present
func Correlations(snapshot []models.Reading) []Correlation {
	out := make([]Correlation, 0, len(models.Fields)*(len(models.Fields)-1)/2)
	for i := 0; i < len(models.Fields); i++ {
		for j := i + 1; j < len(models.Fields); j++ {
			fa, fb := models.Fields[i], models.Fields[j]
			a := make([]float64, 0, len(snapshot))
			b := make([]float64, 0, len(snapshot))
			for k := range snapshot {
				va, vb := snapshot[k].Value(fa), snapshot[k].Value(fb)
				if math.IsNaN(va) || math.IsNaN(vb) {
					continue
				}
				a = append(a, va)
				b = append(b, vb)
			}
			c := Correlate(a, b)
			c.FieldA, c.FieldB = fa, fb
			out = append(out, c)
		}
	}
	return out
}
