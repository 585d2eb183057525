package analytics

import (
	"fmt"
	"strings"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// Rule turns an analysis result into zero or more insight messages
type Rule struct {
	Name  string
	Match func(res *Result, cfg Config) []string
}

// Fallback messages
const (
	MsgNoData     = "No data available for analysis"
	MsgNoPatterns = "Data analysis completed - no significant patterns detected yet"
)

// DefaultRules returns the built-in insight rules in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		{Name: "high-confidence-trend", Match: highConfidenceTrends},
		{Name: "notable-correlation", Match: notableCorrelations},
		{Name: "inverse-driver", Match: inverseDriver},
		{Name: "sensor-health", Match: sensorHealth},
		{Name: "high-variability", Match: highVariability},
		{Name: "anomaly-rate", Match: anomalyRate},
		{Name: "data-volume", Match: dataVolume},
	}
}

// GenerateInsights evaluates rules in order and concatenates their messages
func GenerateInsights(res *Result, cfg Config, rules []Rule) []string {
	if res.Count == 0 {
		return []string{MsgNoData}
	}

	insights := []string{}
	for _, rule := range rules {
		insights = append(insights, rule.Match(res, cfg)...)
	}
	if len(insights) == 0 {
		return []string{MsgNoPatterns}
	}
	return insights
}

func title(f models.Field) string {
	s := string(f)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func article(word string) string {
	if word != "" && strings.ContainsAny(strings.ToLower(word[:1]), "aeiou") {
		return "an"
	}
	return "a"
}

func highConfidenceTrends(res *Result, _ Config) []string {
	var out []string
	for _, f := range models.Fields {
		tr, ok := res.Trends[f]
		if !ok || tr.Confidence != ConfidenceHigh || tr.Direction == Stable {
			continue
		}
		dir := strings.ToLower(string(tr.Direction))
		out = append(out, fmt.Sprintf("%s shows %s %s trend with high confidence (%+.2f %s/h, R² = %.3f)",
			title(f), article(dir), dir, tr.Slope.Or(0)*3600, f.Unit(), tr.RSquared.Or(0)))
	}
	return out
}

func notableCorrelations(res *Result, _ Config) []string {
	var out []string
	for _, c := range res.Correlations {
		if !c.Significant || c.Strength == Weak || c.Strength == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s %s correlation detected between %s and %s (r = %.3f)",
			c.Strength, strings.ToLower(string(c.Direction)), c.FieldA, c.FieldB, c.Coefficient.Or(0)))
	}
	return out
}

// inverseDriver pairs a strong significant negative correlation with a
// significant decline in one of its fields
func inverseDriver(res *Result, _ Config) []string {
	var out []string
	for _, c := range res.Correlations {
		if !c.Significant || c.Strength != Strong || c.Direction != Negative {
			continue
		}
		for _, pair := range [][2]models.Field{{c.FieldA, c.FieldB}, {c.FieldB, c.FieldA}} {
			declining, other := pair[0], pair[1]
			tr, ok := res.Trends[declining]
			if !ok || tr.Direction != Decreasing || tr.Confidence == ConfidenceLow {
				continue
			}
			out = append(out, fmt.Sprintf(
				"Recommendation: %s is declining significantly while %s moves inversely (r = %.3f); investigate rising %s as the driver and consider corrective action",
				declining, other, c.Coefficient.Or(0), other))
		}
	}
	return out
}

func sensorHealth(res *Result, _ Config) []string {
	var out []string
	for _, h := range res.Health {
		switch h.Status {
		case Poor, Fair:
			out = append(out, fmt.Sprintf("Sensor %s health is %s (score: %.2f/100, availability %.1f%%)",
				h.SensorID, strings.ToLower(string(h.Status)), h.Score, h.Availability))
		case Excellent:
			out = append(out, fmt.Sprintf("Sensor %s is performing excellently (score: %.2f/100)", h.SensorID, h.Score))
		}
	}
	return out
}

func highVariability(res *Result, cfg Config) []string {
	var out []string
	for _, f := range models.Fields {
		cv, ok := res.Statistics[f].CV.Float()
		if !ok || cv <= cfg.HighVariabilityCV {
			continue
		}
		out = append(out, fmt.Sprintf("%s shows high variability (CV = %.1f%%) - consider checking sensor calibration", title(f), cv))
	}
	return out
}

func anomalyRate(res *Result, cfg Config) []string {
	rate := res.Performance.AnomalyRate
	if rate <= cfg.AnomalyRateAlert {
		return nil
	}
	return []string{fmt.Sprintf("Anomaly rate of %.2f%% exceeds %.2f%% - review flagged readings", rate, cfg.AnomalyRateAlert)}
}

func dataVolume(res *Result, cfg Config) []string {
	if res.Count > cfg.SufficientDataCount {
		return []string{"Sufficient data collected for reliable trend analysis and model building"}
	}
	return []string{"More data collection recommended for robust statistical analysis"}
}
