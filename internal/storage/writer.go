package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// BatchInserter is the part of the archive the writer needs
type BatchInserter interface {
	InsertBatch(readings []*models.Reading, batchID string) error
}

// ArchiveWriter feeds accepted readings to the archive in batches so that
// ingestion never waits on SQLite
type ArchiveWriter struct {
	archive     BatchInserter
	logger      zerolog.Logger
	queue       chan *models.Reading
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu            sync.RWMutex
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	totalDropped  int64
	lastBatchID   string
	lastWriteTime time.Time
}

// WriterConfig holds configuration for the archive writer
type WriterConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	FlushPeriod time.Duration `yaml:"flush_period"`
	QueueSize   int           `yaml:"queue_size"`
}

// DefaultWriterConfig returns sensible defaults
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		QueueSize:   1000,
	}
}

// WriterStats contains statistics about the writer
type WriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastBatchID   string    `json:"last_batch_id,omitempty"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewArchiveWriter starts a writer over archive. Non-positive settings
// fall back to DefaultWriterConfig.
func NewArchiveWriter(archive BatchInserter, config WriterConfig, logger zerolog.Logger) *ArchiveWriter {
	def := DefaultWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = def.FlushPeriod
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}

	w := &ArchiveWriter{
		archive:     archive,
		logger:      logger,
		queue:       make(chan *models.Reading, config.QueueSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("queue_size", config.QueueSize).
		Msg("Archive writer started")

	return w
}

// Write queues a reading for the archive. It returns false when the queue
// is full and the reading was dropped.
func (w *ArchiveWriter) Write(reading *models.Reading) bool {
	select {
	case w.queue <- reading:
		return true
	default:
		w.mu.Lock()
		w.totalDropped++
		w.mu.Unlock()
		w.logger.Warn().Str("sensor_id", reading.SensorID).Msg("Archive queue full, dropping reading")
		return false
	}
}

func (w *ArchiveWriter) loop() {
	defer w.wg.Done()

	batch := make([]*models.Reading, 0, w.batchSize)
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case reading := <-w.queue:
			batch = append(batch, reading)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = make([]*models.Reading, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = make([]*models.Reading, 0, w.batchSize)
			}

		case <-w.stopChan:
		drain:
			for {
				select {
				case reading := <-w.queue:
					batch = append(batch, reading)
					if len(batch) >= w.batchSize {
						w.flush(batch)
						batch = make([]*models.Reading, 0, w.batchSize)
					}
				default:
					break drain
				}
			}
			w.flush(batch)
			w.logger.Info().Msg("Archive writer stopped")
			return
		}
	}
}

func (w *ArchiveWriter) flush(batch []*models.Reading) {
	if len(batch) == 0 {
		return
	}

	batchID := uuid.NewString()
	err := w.archive.InsertBatch(batch, batchID)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.totalErrors++
		w.logger.Error().Err(err).Str("batch_id", batchID).Int("batch_size", len(batch)).Msg("Failed to archive batch")
		return
	}
	w.totalWritten += int64(len(batch))
	w.totalBatches++
	w.lastBatchID = batchID
	w.lastWriteTime = time.Now()
}

// Stop flushes whatever is queued and stops the writer
func (w *ArchiveWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *ArchiveWriter) Stats() WriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return WriterStats{
		TotalWritten:  w.totalWritten,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		TotalDropped:  w.totalDropped,
		LastBatchID:   w.lastBatchID,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.queue),
	}
}
