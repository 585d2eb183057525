package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// timeLayout sorts lexicographically, so range filters compare strings
const timeLayout = "2006-01-02 15:04:05.000000"

// SQLiteStore archives accepted readings in SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Query selects archived readings. Zero times are unbounded. Before and
// After page relative to a cursor; results are always newest first.
type Query struct {
	SensorID string
	Start    time.Time
	End      time.Time
	Before   time.Time
	After    time.Time
	Limit    int
}

// Aggregate holds the min, max and mean of one field over a day
type Aggregate struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// DailyStat represents aggregated statistics for a single day
type DailyStat struct {
	Date         time.Time                  `json:"date"`
	SensorID     string                     `json:"sensor_id"`
	Fields       map[models.Field]Aggregate `json:"fields"`
	ReadingCount int                        `json:"reading_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	TotalBatches   int64     `json:"total_batches"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	UniqueSensors  int       `json:"unique_sensors"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (or creates) the archive at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("Archive initialized")

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the archive schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL DEFAULT '',
		sensor_id TEXT NOT NULL,
		temperature REAL NOT NULL,
		weight REAL NOT NULL,
		moisture REAL NOT NULL,
		pressure REAL NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT '',
		battery_level REAL,
		signal_strength REAL,
		error_code TEXT NOT NULL DEFAULT '',
		recorded_at TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_readings_batch ON readings(batch_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Archive schema migrated")
	return nil
}

const insertSQL = `
	INSERT INTO readings (batch_id, sensor_id, temperature, weight, moisture, pressure,
		location, device_type, battery_level, signal_strength, error_code, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectColumns = `id, sensor_id, temperature, weight, moisture, pressure,
	location, device_type, battery_level, signal_strength, error_code, recorded_at`

func insertArgs(batchID string, r *models.Reading) []interface{} {
	return []interface{}{
		batchID,
		r.SensorID,
		r.Temperature,
		r.Weight,
		r.Moisture,
		r.Pressure,
		r.Location,
		r.DeviceType,
		nullable(r.BatteryLevel),
		nullable(r.SignalStrength),
		r.ErrorCode,
		formatTime(r.Timestamp),
	}
}

// InsertBatch archives readings in a single transaction tagged with batchID
func (s *SQLiteStore) InsertBatch(readings []*models.Reading, batchID string) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, reading := range readings {
		if _, err := stmt.Exec(insertArgs(batchID, reading)...); err != nil {
			return fmt.Errorf("failed to insert reading in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug().Str("batch_id", batchID).Int("count", len(readings)).Msg("Batch insert completed")
	return nil
}

// QueryReadings returns archived readings matching q, newest first
func (s *SQLiteStore) QueryReadings(q Query) ([]*models.Reading, error) {
	var where []string
	var args []interface{}

	if q.SensorID != "" {
		where = append(where, "sensor_id = ?")
		args = append(args, q.SensorID)
	}
	if !q.Start.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, formatTime(q.Start))
	}
	if !q.End.IsZero() {
		where = append(where, "recorded_at <= ?")
		args = append(args, formatTime(q.End))
	}
	if !q.Before.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, formatTime(q.Before))
	}
	if !q.After.IsZero() {
		where = append(where, "recorded_at > ?")
		args = append(args, formatTime(q.After))
	}

	query := "SELECT " + selectColumns + " FROM readings"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	// Paging forward takes the readings closest to the cursor
	order := "DESC"
	if !q.After.IsZero() {
		order = "ASC"
	}
	query += " ORDER BY recorded_at " + order + ", id " + order

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings, err := s.scanReadings(rows)
	if err != nil {
		return nil, err
	}

	if order == "ASC" {
		for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
			readings[i], readings[j] = readings[j], readings[i]
		}
	}
	return readings, nil
}

// GetLatestReading returns the most recent reading for a sensor, or nil
func (s *SQLiteStore) GetLatestReading(sensorID string) (*models.Reading, error) {
	row := s.db.QueryRow(
		"SELECT "+selectColumns+" FROM readings WHERE sensor_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1",
		sensorID,
	)
	reading, err := s.scanReading(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	return reading, nil
}

// GetDailyStats returns per day, per sensor aggregates of every field
func (s *SQLiteStore) GetDailyStats(sensorID string, start, end time.Time) ([]DailyStat, error) {
	cols := []string{"substr(recorded_at, 1, 10) AS day", "sensor_id"}
	for _, f := range models.Fields {
		cols = append(cols, fmt.Sprintf("MIN(%[1]s), MAX(%[1]s), AVG(%[1]s)", f))
	}
	cols = append(cols, "COUNT(*)")

	query := "SELECT " + strings.Join(cols, ", ") + " FROM readings WHERE recorded_at BETWEEN ? AND ?"
	args := []interface{}{formatTime(start), formatTime(end)}
	if sensorID != "" {
		query += " AND sensor_id = ?"
		args = append(args, sensorID)
	}
	query += " GROUP BY day, sensor_id ORDER BY day DESC, sensor_id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var day string
		stat := DailyStat{Fields: make(map[models.Field]Aggregate, len(models.Fields))}
		aggs := make([]Aggregate, len(models.Fields))

		dest := []interface{}{&day, &stat.SensorID}
		for i := range aggs {
			dest = append(dest, &aggs[i].Min, &aggs[i].Max, &aggs[i].Avg)
		}
		dest = append(dest, &stat.ReadingCount)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		for i, f := range models.Fields {
			stat.Fields[f] = aggs[i]
		}

		stat.Date, err = time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date: %w", err)
		}

		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// DeleteOlderThan removes readings recorded more than days ago
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM readings WHERE recorded_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old readings: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old readings")

	return deleted, nil
}

// GetStorageStats returns statistics about the archive
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRow(
		"SELECT COUNT(*), COUNT(DISTINCT NULLIF(batch_id, '')), COUNT(DISTINCT sensor_id) FROM readings",
	).Scan(&stats.TotalReadings, &stats.TotalBatches, &stats.UniqueSensors)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var oldest, newest string
	err = s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM readings").Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp range: %w", err)
	}
	stats.OldestReading, _ = parseTime(oldest)
	stats.NewestReading, _ = parseTime(newest)

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetSensorIDs returns every archived sensor id, sorted
func (s *SQLiteStore) GetSensorIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT sensor_id FROM readings ORDER BY sensor_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sensor ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return ids, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanReading(row scanner) (*models.Reading, error) {
	var r models.Reading
	var id int64
	var battery, signal sql.NullFloat64
	var recordedAt string

	err := row.Scan(&id, &r.SensorID, &r.Temperature, &r.Weight, &r.Moisture, &r.Pressure,
		&r.Location, &r.DeviceType, &battery, &signal, &r.ErrorCode, &recordedAt)
	if err != nil {
		return nil, err
	}

	if battery.Valid {
		r.BatteryLevel = &battery.Float64
	}
	if signal.Valid {
		r.SignalStrength = &signal.Float64
	}

	r.Timestamp, err = parseTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
	}

	return &r, nil
}

func (s *SQLiteStore) scanReadings(rows *sql.Rows) ([]*models.Reading, error) {
	var readings []*models.Reading

	for rows.Next() {
		r, err := s.scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime tries multiple formats to parse a stored timestamp
func parseTime(ts string) (time.Time, error) {
	formats := []string{
		timeLayout,
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}

func nullable(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
