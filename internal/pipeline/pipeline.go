// Package pipeline wires validation, the data store, cleaning, analytics
// and export behind one explicitly constructed facade.
package pipeline

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/analytics"
	"github.com/afroash/sensor-pipeline/internal/export"
	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/processing"
	"github.com/afroash/sensor-pipeline/internal/store"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

// ReadingStore is the store contract the pipeline needs.
// store.DataStore implements this interface.
type ReadingStore interface {
	Add(reading models.Reading) error
	Get(f store.Filter) []models.Reading
	Latest() (models.Reading, bool)
	SensorIDs() []string
	Clear()
	Size() int
	IsEmpty() bool
	Stats() store.Stats
}

// Sink receives every reading accepted into the store. Write must not
// block; it returns false when the reading was dropped.
type Sink interface {
	Write(reading *models.Reading) bool
}

// Pipeline is the producer and consumer facing entry point
type Pipeline struct {
	store  ReadingStore
	logger zerolog.Logger

	mu     sync.RWMutex
	now    func() time.Time
	opts   processing.Options
	engine *analytics.Engine
	sinks  []Sink

	ingested     atomic.Int64
	rejected     atomic.Int64
	sinkDropped  atomic.Int64
	cleanRuns    atomic.Int64
	analyzeRuns  atomic.Int64
	lastAnalysis atomic.Int64
}

// New creates a pipeline over st
func New(st ReadingStore, opts processing.Options, cfg analytics.Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:  st,
		logger: logger,
		now:    time.Now,
		opts:   opts,
		engine: analytics.NewEngine(cfg),
	}
}

// AddSink registers a sink for accepted readings
func (p *Pipeline) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// SetClock replaces the reference clock used by Analyze
func (p *Pipeline) SetClock(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Ingest validates a raw candidate and adds it to the store. A rejected
// candidate yields a *validation.ValidationError naming every violation.
func (p *Pipeline) Ingest(raw map[string]interface{}) error {
	reading, err := validation.Parse(raw)
	if err != nil {
		p.rejected.Add(1)
		p.logger.Debug().Err(err).Msg("Rejected reading")
		return err
	}
	return p.IngestReading(reading)
}

// IngestReading adds an already typed reading to the store
func (p *Pipeline) IngestReading(reading models.Reading) error {
	if err := p.store.Add(reading); err != nil {
		p.rejected.Add(1)
		p.logger.Debug().Err(err).Str("sensor_id", reading.SensorID).Msg("Rejected reading")
		return err
	}
	p.ingested.Add(1)

	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()
	for _, s := range sinks {
		if !s.Write(reading.Copy()) {
			p.sinkDropped.Add(1)
		}
	}

	return nil
}

// Validate runs the standalone validation entry point
func (p *Pipeline) Validate(raw map[string]interface{}) validation.Result {
	return validation.Validate(raw)
}

// Query returns a snapshot matching f
func (p *Pipeline) Query(f store.Filter) []models.Reading {
	return p.store.Get(f)
}

// Clean runs the cleaning pipeline over snapshot with explicit options
func (p *Pipeline) Clean(snapshot []models.Reading, opts processing.Options) processing.Result {
	p.cleanRuns.Add(1)
	return processing.Clean(snapshot, opts)
}

// CleanQuery cleans the readings matching f with the current options
func (p *Pipeline) CleanQuery(f store.Filter) processing.Result {
	return p.Clean(p.Query(f), p.Options())
}

// Analyze runs every analysis over snapshot as of the pipeline clock
func (p *Pipeline) Analyze(snapshot []models.Reading) analytics.Result {
	p.mu.RLock()
	engine, clock := p.engine, p.now
	p.mu.RUnlock()

	now := clock()
	res := engine.Analyze(snapshot, now)
	p.analyzeRuns.Add(1)
	p.lastAnalysis.Store(now.Unix())
	return res
}

// AnalyzeQuery cleans the readings matching f and analyzes the cleaned
// snapshot
func (p *Pipeline) AnalyzeQuery(f store.Filter) (analytics.Result, processing.QualityReport) {
	cleaned := p.CleanQuery(f)
	return p.Analyze(cleaned.Cleaned), cleaned.Report
}

// Export writes snapshot to w in format
func (p *Pipeline) Export(w io.Writer, snapshot []models.Reading, format export.Format) error {
	return export.Export(w, snapshot, format)
}

// Options returns the current cleaning options
func (p *Pipeline) Options() processing.Options {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.opts
}

// SetOptions replaces the cleaning options used by CleanQuery
func (p *Pipeline) SetOptions(opts processing.Options) {
	p.mu.Lock()
	p.opts = opts
	p.mu.Unlock()
	p.logger.Info().
		Str("outlier_method", string(opts.OutlierMethod)).
		Bool("remove_outliers", opts.RemoveOutliers).
		Int("smoothing_window", opts.SmoothingWindow).
		Msg("Processing options updated")
}

// AnalyticsConfig returns the current analytics configuration
func (p *Pipeline) AnalyticsConfig() analytics.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.engine.Config()
}

// SetAnalyticsConfig replaces the analytics configuration
func (p *Pipeline) SetAnalyticsConfig(cfg analytics.Config) {
	p.mu.Lock()
	p.engine = analytics.NewEngine(cfg)
	p.mu.Unlock()
	p.logger.Info().Msg("Analytics configuration updated")
}

// Clear empties the store
func (p *Pipeline) Clear() {
	p.store.Clear()
	p.logger.Info().Msg("Data store cleared")
}

// SensorIDs lists the sensors currently held in the store
func (p *Pipeline) SensorIDs() []string {
	return p.store.SensorIDs()
}

// Latest returns the most recently ingested reading
func (p *Pipeline) Latest() (models.Reading, bool) {
	return p.store.Latest()
}

// Stats contains pipeline counters and the store statistics
type Stats struct {
	Store        store.Stats `json:"store"`
	Ingested     int64       `json:"ingested"`
	Rejected     int64       `json:"rejected"`
	SinkDropped  int64       `json:"sink_dropped"`
	CleanRuns    int64       `json:"clean_runs"`
	AnalyzeRuns  int64       `json:"analyze_runs"`
	LastAnalysis *time.Time  `json:"last_analysis,omitempty"`
}

// Stats returns the pipeline counters
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Store:       p.store.Stats(),
		Ingested:    p.ingested.Load(),
		Rejected:    p.rejected.Load(),
		SinkDropped: p.sinkDropped.Load(),
		CleanRuns:   p.cleanRuns.Load(),
		AnalyzeRuns: p.analyzeRuns.Load(),
	}
	if ts := p.lastAnalysis.Load(); ts > 0 {
		t := time.Unix(ts, 0).UTC()
		s.LastAnalysis = &t
	}
	return s
}
