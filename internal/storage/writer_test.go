package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// setupTestWriter creates a test archive and writer
func setupTestWriter(t *testing.T, config WriterConfig) (*SQLiteStore, *ArchiveWriter, func()) {
	t.Helper()

	store, closeStore := setupTestDB(t)
	writer := NewArchiveWriter(store, config, zerolog.Nop())

	return store, writer, func() {
		writer.Stop()
		closeStore()
	}
}

// failingArchive rejects every batch
type failingArchive struct {
	mu    sync.Mutex
	calls int
}

func (f *failingArchive) InsertBatch(readings []*models.Reading, batchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

// recordingArchive remembers the size of every batch it receives
type recordingArchive struct {
	mu    sync.Mutex
	sizes []int
}

func (r *recordingArchive) InsertBatch(readings []*models.Reading, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, len(readings))
	return nil
}

func TestNewArchiveWriter_Defaults(t *testing.T) {
	_, writer, cleanup := setupTestWriter(t, WriterConfig{})
	defer cleanup()

	if writer.batchSize != 100 || writer.flushPeriod != 5*time.Second || cap(writer.queue) != 1000 {
		t.Errorf("writer = batch %d, period %v, queue %d", writer.batchSize, writer.flushPeriod, cap(writer.queue))
	}
}

func TestArchiveWriter_BatchFlush(t *testing.T) {
	store, writer, cleanup := setupTestWriter(t, WriterConfig{
		BatchSize:   10,
		FlushPeriod: 5 * time.Second,
		QueueSize:   100,
	})
	defer cleanup()

	for i := 0; i < 10; i++ {
		writer.Write(createTestReading("SIM_001", float64(i), 50, time.Now().UTC()))
	}

	time.Sleep(100 * time.Millisecond)

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != 10 {
		t.Errorf("TotalReadings = %d, want 10", stats.TotalReadings)
	}
	if stats.TotalBatches != 1 {
		t.Errorf("TotalBatches = %d, want 1", stats.TotalBatches)
	}

	ws := writer.Stats()
	if ws.TotalWritten != 10 || ws.TotalBatches != 1 {
		t.Errorf("writer stats = %+v", ws)
	}
	if _, err := uuid.Parse(ws.LastBatchID); err != nil {
		t.Errorf("LastBatchID %q is not a uuid: %v", ws.LastBatchID, err)
	}
}

func TestArchiveWriter_PeriodicFlush(t *testing.T) {
	store, writer, cleanup := setupTestWriter(t, WriterConfig{
		BatchSize:   100,
		FlushPeriod: 50 * time.Millisecond,
		QueueSize:   100,
	})
	defer cleanup()

	for i := 0; i < 5; i++ {
		writer.Write(createTestReading("SIM_001", float64(i), 50, time.Now().UTC()))
	}

	time.Sleep(200 * time.Millisecond)

	stats, _ := store.GetStorageStats()
	if stats.TotalReadings != 5 {
		t.Errorf("TotalReadings = %d, want 5", stats.TotalReadings)
	}
}

func TestArchiveWriter_StopFlushesQueue(t *testing.T) {
	store, writer, cleanup := setupTestWriter(t, WriterConfig{
		BatchSize:   100,
		FlushPeriod: 10 * time.Second,
		QueueSize:   100,
	})

	for i := 0; i < 15; i++ {
		writer.Write(createTestReading("SIM_001", float64(i), 50, time.Now().UTC()))
	}

	writer.Stop()

	stats, _ := store.GetStorageStats()
	if stats.TotalReadings != 15 {
		t.Errorf("TotalReadings = %d, want 15 (remaining should be flushed on stop)", stats.TotalReadings)
	}

	// Stop is idempotent
	cleanup()
}

func TestArchiveWriter_QueueFull(t *testing.T) {
	_, writer, cleanup := setupTestWriter(t, WriterConfig{
		BatchSize:   1000,
		FlushPeriod: 10 * time.Second,
		QueueSize:   5,
	})
	defer cleanup()

	// The loop may already have taken some readings off the queue, so keep
	// writing until one is dropped
	dropped := false
	for i := 0; i < 2000 && !dropped; i++ {
		dropped = !writer.Write(createTestReading("SIM_001", 1, 1, time.Now().UTC()))
	}

	if !dropped {
		t.Fatal("Write should return false when the queue is full")
	}
	if writer.Stats().TotalDropped == 0 {
		t.Error("TotalDropped should count the dropped reading")
	}
}

func TestArchiveWriter_StopRespectsBatchSize(t *testing.T) {
	archive := &recordingArchive{}
	writer := NewArchiveWriter(archive, WriterConfig{BatchSize: 2, FlushPeriod: time.Hour, QueueSize: 20}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		writer.Write(createTestReading("SIM_001", float64(i), 1, time.Now().UTC()))
	}
	writer.Stop()

	archive.mu.Lock()
	defer archive.mu.Unlock()
	total := 0
	for _, n := range archive.sizes {
		if n > 2 {
			t.Errorf("batch of %d readings, want at most 2 (sizes %v)", n, archive.sizes)
		}
		total += n
	}
	if total != 10 {
		t.Errorf("archived %d readings, want 10 (sizes %v)", total, archive.sizes)
	}
	if writer.Stats().TotalWritten != 10 {
		t.Errorf("TotalWritten = %d, want 10", writer.Stats().TotalWritten)
	}
}

func TestArchiveWriter_InsertErrors(t *testing.T) {
	archive := &failingArchive{}
	writer := NewArchiveWriter(archive, WriterConfig{BatchSize: 2, FlushPeriod: time.Hour, QueueSize: 10}, zerolog.Nop())

	for i := 0; i < 4; i++ {
		writer.Write(createTestReading("SIM_001", 1, 1, time.Now().UTC()))
	}
	writer.Stop()

	stats := writer.Stats()
	if stats.TotalErrors != 2 {
		t.Errorf("TotalErrors = %d, want 2", stats.TotalErrors)
	}
	if stats.TotalWritten != 0 {
		t.Errorf("TotalWritten = %d, want 0", stats.TotalWritten)
	}
}

func TestArchiveWriter_ConcurrentWrites(t *testing.T) {
	store, writer, cleanup := setupTestWriter(t, WriterConfig{
		BatchSize:   50,
		FlushPeriod: 50 * time.Millisecond,
		QueueSize:   5000,
	})
	defer cleanup()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				writer.Write(createTestReading("SIM_001", float64(g*100+i), 45, time.Now().UTC()))
			}
		}(g)
	}
	wg.Wait()
	writer.Stop()

	stats, _ := store.GetStorageStats()
	if stats.TotalReadings != 1000 {
		t.Errorf("TotalReadings = %d, want 1000", stats.TotalReadings)
	}
}
