package processing

import (
	"fmt"
	"time"

	"github.com/afroash/sensor-pipeline/internal/stats"
)

// Options enumerates every cleaning option. Zero smoothing window disables
// smoothing.
type Options struct {
	FillMissing       bool                `yaml:"fill_missing" json:"fill_missing"`
	Interpolate       bool                `yaml:"interpolate" json:"interpolate"`
	DetectOutliers    bool                `yaml:"detect_outliers" json:"detect_outliers"`
	OutlierMethod     stats.OutlierMethod `yaml:"outlier_method" json:"outlier_method"`
	ZThreshold        float64             `yaml:"z_threshold" json:"z_threshold"`
	IQRMultiplier     float64             `yaml:"iqr_multiplier" json:"iqr_multiplier"`
	RemoveOutliers    bool                `yaml:"remove_outliers" json:"remove_outliers"`
	MinOutlierSamples int                 `yaml:"min_outlier_samples" json:"min_outlier_samples"`
	SmoothingWindow   int                 `yaml:"smoothing_window" json:"smoothing_window"`
	SmoothingOrder    int                 `yaml:"smoothing_order" json:"smoothing_order"`
	ExpectedInterval  time.Duration       `yaml:"expected_interval" json:"expected_interval"`
	QualityWeights    QualityWeights      `yaml:"quality_weights" json:"quality_weights"`
}

// QualityWeights weights the three quality dimensions in the overall score
type QualityWeights struct {
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Consistency  float64 `yaml:"consistency" json:"consistency"`
	Temporal     float64 `yaml:"temporal" json:"temporal"`
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		FillMissing:       true,
		Interpolate:       false,
		DetectOutliers:    true,
		OutlierMethod:     stats.MethodZScore,
		ZThreshold:        3.0,
		IQRMultiplier:     1.5,
		RemoveOutliers:    true,
		MinOutlierSamples: 5,
		SmoothingWindow:   0,
		SmoothingOrder:    2,
		ExpectedInterval:  2 * time.Second,
		QualityWeights:    QualityWeights{Completeness: 1, Consistency: 1, Temporal: 1},
	}
}

// Validate checks option values that would make the pipeline meaningless.
// Smoothing parameters are not checked here; an unusable window only skips
// that stage.
func (o Options) Validate() error {
	if !o.OutlierMethod.Valid() {
		return fmt.Errorf("outlier_method must be %q or %q, got %q", stats.MethodZScore, stats.MethodIQR, o.OutlierMethod)
	}
	if o.ZThreshold <= 0 {
		return fmt.Errorf("z_threshold must be positive")
	}
	if o.IQRMultiplier <= 0 {
		return fmt.Errorf("iqr_multiplier must be positive")
	}
	if o.MinOutlierSamples < 0 {
		return fmt.Errorf("min_outlier_samples must not be negative")
	}
	if o.SmoothingWindow < 0 || o.SmoothingOrder < 0 {
		return fmt.Errorf("smoothing window and order must not be negative")
	}
	if o.ExpectedInterval <= 0 {
		return fmt.Errorf("expected_interval must be positive")
	}
	w := o.QualityWeights
	if w.Completeness < 0 || w.Consistency < 0 || w.Temporal < 0 {
		return fmt.Errorf("quality weights must not be negative")
	}
	if w.Completeness+w.Consistency+w.Temporal == 0 {
		return fmt.Errorf("at least one quality weight must be positive")
	}
	return nil
}
