package server

import (
	"io"
	"time"

	"github.com/afroash/sensor-pipeline/internal/analytics"
	"github.com/afroash/sensor-pipeline/internal/export"
	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/pipeline"
	"github.com/afroash/sensor-pipeline/internal/processing"
	"github.com/afroash/sensor-pipeline/internal/storage"
	"github.com/afroash/sensor-pipeline/internal/store"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

// ReadingPipeline is everything the handlers need from the core.
// pipeline.Pipeline implements this interface.
type ReadingPipeline interface {
	// Ingest validates a raw reading and stores it
	Ingest(raw map[string]interface{}) error

	// Validate checks a raw reading without storing it
	Validate(raw map[string]interface{}) validation.Result

	// Query returns the stored readings matching f, oldest first
	Query(f store.Filter) []models.Reading

	// Clean runs the cleaning pipeline over a snapshot
	Clean(snapshot []models.Reading, opts processing.Options) processing.Result

	// Analyze runs every analysis over a snapshot
	Analyze(snapshot []models.Reading) analytics.Result

	// Export writes a snapshot in the given format
	Export(w io.Writer, snapshot []models.Reading, format export.Format) error

	// Options returns the configured cleaning options
	Options() processing.Options

	Latest() (models.Reading, bool)
	SensorIDs() []string
	Stats() pipeline.Stats
	Clear()
}

// ArchiveReader is the read side of the SQLite archive.
// storage.SQLiteStore implements this interface.
type ArchiveReader interface {
	// QueryReadings returns archived readings, newest first
	QueryReadings(q storage.Query) ([]*models.Reading, error)

	// GetLatestReading returns the newest archived reading for a sensor,
	// or nil when there is none
	GetLatestReading(sensorID string) (*models.Reading, error)

	// GetDailyStats returns per day aggregates
	GetDailyStats(sensorID string, start, end time.Time) ([]storage.DailyStat, error)

	// GetStorageStats returns database statistics
	GetStorageStats() (*storage.StorageStats, error)

	// GetSensorIDs returns all archived sensor IDs
	GetSensorIDs() ([]string, error)
}

var (
	_ ReadingPipeline = (*pipeline.Pipeline)(nil)
	_ ArchiveReader   = (*storage.SQLiteStore)(nil)
)
