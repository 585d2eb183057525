// Package analytics computes statistics, trends, correlations, anomalies,
// sensor health and insights over a snapshot. Every function is a pure
// function of its snapshot, configuration and reference time.
package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
	internalstats "github.com/afroash/sensor-pipeline/internal/stats"
)

// Config enumerates every analytics option
type Config struct {
	OutlierMethod       internalstats.OutlierMethod `yaml:"outlier_method" json:"outlier_method"`
	ZThreshold          float64                     `yaml:"z_threshold" json:"z_threshold"`
	IQRMultiplier       float64                     `yaml:"iqr_multiplier" json:"iqr_multiplier"`
	MinOutlierSamples   int                         `yaml:"min_outlier_samples" json:"min_outlier_samples"`
	StableSlope         float64                     `yaml:"stable_slope" json:"stable_slope"`
	Health              HealthConfig                `yaml:"health" json:"health"`
	HighVariabilityCV   float64                     `yaml:"high_variability_cv" json:"high_variability_cv"`
	AnomalyRateAlert    float64                     `yaml:"anomaly_rate_alert" json:"anomaly_rate_alert"`
	SufficientDataCount int                         `yaml:"sufficient_data_count" json:"sufficient_data_count"`
}

// DefaultConfig returns the configuration used when nothing is configured
func DefaultConfig() Config {
	return Config{
		OutlierMethod:     internalstats.MethodZScore,
		ZThreshold:        3.0,
		IQRMultiplier:     1.5,
		MinOutlierSamples: 5,
		StableSlope:       1e-6,
		Health: HealthConfig{
			ExpectedInterval:  2 * time.Second,
			Window:            time.Hour,
			CVCap:             100,
			RecencyHalfLife:   5 * time.Minute,
			AvailabilityFloor: 50,
			Weights:           HealthWeights{Availability: 0.5, Variability: 0.25, Recency: 0.25},
			Thresholds:        HealthThresholds{Excellent: 90, Good: 75, Fair: 50},
		},
		HighVariabilityCV:   50,
		AnomalyRateAlert:    5,
		SufficientDataCount: 100,
	}
}

// Validate checks the configuration for unusable values
func (c Config) Validate() error {
	if !c.OutlierMethod.Valid() {
		return fmt.Errorf("outlier_method must be %q or %q, got %q", internalstats.MethodZScore, internalstats.MethodIQR, c.OutlierMethod)
	}
	if c.ZThreshold <= 0 || c.IQRMultiplier <= 0 {
		return fmt.Errorf("z_threshold and iqr_multiplier must be positive")
	}
	if c.StableSlope < 0 {
		return fmt.Errorf("stable_slope must not be negative")
	}
	h := c.Health
	if h.ExpectedInterval <= 0 || h.Window <= 0 {
		return fmt.Errorf("health expected_interval and window must be positive")
	}
	if h.CVCap <= 0 {
		return fmt.Errorf("health cv_cap must be positive")
	}
	if h.Weights.Availability < 0 || h.Weights.Variability < 0 || h.Weights.Recency < 0 {
		return fmt.Errorf("health weights must not be negative")
	}
	if h.Weights.Availability+h.Weights.Variability+h.Weights.Recency == 0 {
		return fmt.Errorf("at least one health weight must be positive")
	}
	t := h.Thresholds
	if !(t.Excellent >= t.Good && t.Good >= t.Fair) {
		return fmt.Errorf("health thresholds must satisfy excellent >= good >= fair")
	}
	return nil
}

func (c Config) outlierConfig() internalstats.OutlierConfig {
	return internalstats.OutlierConfig{
		Method:     c.OutlierMethod,
		ZThreshold: c.ZThreshold,
		IQRFactor:  c.IQRMultiplier,
		MinSamples: c.MinOutlierSamples,
	}
}

// Performance summarizes collection over the snapshot
type Performance struct {
	CollectionPeriod        string  `json:"collection_period"`
	CollectionPeriodSeconds float64 `json:"collection_period_seconds"`
	ReadingsPerHour         float64 `json:"readings_per_hour"`
	Completeness            float64 `json:"completeness"`
	AnomalyRate             float64 `json:"anomaly_rate"`
	OverallHealth           float64 `json:"overall_health"`
}

// Result bundles every analysis over one snapshot
type Result struct {
	GeneratedAt      time.Time                              `json:"generated_at"`
	Count            int                                    `json:"count"`
	Statistics       map[models.Field]FieldStats            `json:"statistics"`
	SensorStatistics map[string]map[models.Field]FieldStats `json:"sensor_statistics"`
	Trends           map[models.Field]Trend                 `json:"trends"`
	Correlations     []Correlation                          `json:"correlations"`
	Anomalies        []Anomaly                              `json:"anomalies"`
	Health           []HealthScore                          `json:"health"`
	Insights         []string                               `json:"insights"`
	Performance      Performance                            `json:"performance"`
}

// Engine runs the full analysis with a fixed configuration and rule set
type Engine struct {
	cfg   Config
	rules []Rule
}

// NewEngine creates an engine with the default insight rules
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, rules: DefaultRules()}
}

// WithRules returns a copy of the engine that evaluates rules instead
func (e *Engine) WithRules(rules []Rule) *Engine {
	return &Engine{cfg: e.cfg, rules: rules}
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Analyze computes every analysis over snapshot as of now
func (e *Engine) Analyze(snapshot []models.Reading, now time.Time) Result {
	return Analyze(snapshot, e.cfg, e.rules, now)
}

// Analyze computes every analysis over snapshot as of now
func Analyze(snapshot []models.Reading, cfg Config, rules []Rule, now time.Time) Result {
	res := Result{
		GeneratedAt:      now.UTC(),
		Count:            len(snapshot),
		Statistics:       Describe(snapshot),
		SensorStatistics: DescribeBySensor(snapshot),
		Trends:           Trends(snapshot, cfg.StableSlope),
		Correlations:     Correlations(snapshot),
		Anomalies:        DetectAnomalies(snapshot, cfg.outlierConfig()),
		Health:           Health(snapshot, cfg.Health, now),
	}
	res.Performance = performance(snapshot, res.Anomalies, res.Health)
	res.Insights = GenerateInsights(&res, cfg, rules)
	return res
}

func performance(snapshot []models.Reading, anomalies []Anomaly, health []HealthScore) Performance {
	var p Performance
	if len(snapshot) == 0 {
		return p
	}

	first, last := snapshot[0].Timestamp, snapshot[0].Timestamp
	present := 0
	for i := range snapshot {
		ts := snapshot[i].Timestamp
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
		for _, f := range models.Fields {
			if !math.IsNaN(snapshot[i].Value(f)) {
				present++
			}
		}
	}

	span := last.Sub(first)
	p.CollectionPeriod = span.String()
	p.CollectionPeriodSeconds = span.Seconds()
	p.ReadingsPerHour = float64(len(snapshot)) / math.Max(1, span.Hours())
	p.Completeness = 100 * float64(present) / float64(len(snapshot)*len(models.Fields))
	if present > 0 {
		p.AnomalyRate = 100 * float64(len(anomalies)) / float64(present)
	}

	if len(health) > 0 {
		var sum float64
		for _, h := range health {
			sum += h.Score
		}
		p.OverallHealth = sum / float64(len(health))
	}
	return p
}
