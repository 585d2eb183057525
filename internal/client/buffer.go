package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// ReadingBuffer holds readings on the producer side while the uplink is
// unavailable
type ReadingBuffer struct {
	readings   []*models.Reading
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64     `json:"total_pushed"`
	TotalDropped  int64     `json:"total_dropped"`
	TotalRequeued int64     `json:"total_requeued"`
	HighWaterMark int       `json:"high_water_mark"`
	LastPushTime  time.Time `json:"last_push_time"`
	LastDropTime  time.Time `json:"last_drop_time"`
}

// NewReadingBuffer creates a new reading buffer with given capacity
func NewReadingBuffer(capacity int, dropOldest bool) *ReadingBuffer {
	return &ReadingBuffer{
		readings:   make([]*models.Reading, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a reading to the buffer. It returns false when the buffer is
// full and runs in drop-newest mode.
func (rb *ReadingBuffer) Push(reading *models.Reading) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	if len(rb.readings) >= rb.capacity {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = time.Now()
		if !rb.dropOldest {
			return false
		}
		rb.readings[0] = nil
		rb.readings = rb.readings[1:]
	}
	rb.readings = append(rb.readings, reading)
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = time.Now()
	rb.stats.HighWaterMark = max(rb.stats.HighWaterMark, len(rb.readings))

	return true
}

// Requeue puts a batch that failed to send back at the front, oldest
// first. Readings that no longer fit are dropped from the batch tail.
func (rb *ReadingBuffer) Requeue(batch []*models.Reading) int {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	room := rb.capacity - len(rb.readings)
	n := min(room, len(batch))
	if n <= 0 {
		rb.stats.TotalDropped += int64(len(batch))
		return 0
	}

	merged := make([]*models.Reading, 0, rb.capacity)
	merged = append(merged, batch[:n]...)
	merged = append(merged, rb.readings...)
	rb.readings = merged

	rb.stats.TotalRequeued += int64(n)
	rb.stats.TotalDropped += int64(len(batch) - n)
	rb.stats.HighWaterMark = max(rb.stats.HighWaterMark, len(rb.readings))
	return n
}

// PopBatch removes and returns up to n readings, oldest first
func (rb *ReadingBuffer) PopBatch(n int) []*models.Reading {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	count := min(n, len(rb.readings))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Reading, count)
	copy(result, rb.readings[:count])
	rb.readings = rb.readings[count:]
	return result
}

// Peek returns up to n readings without removing them
func (rb *ReadingBuffer) Peek(n int) []*models.Reading {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	count := min(n, len(rb.readings))
	if count <= 0 {
		return nil
	}

	result := make([]*models.Reading, count)
	copy(result, rb.readings[:count])
	return result
}

// Size returns the current number of readings in the buffer
func (rb *ReadingBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings)
}

// IsFull returns true if buffer is at capacity
func (rb *ReadingBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings) >= rb.capacity
}

// IsEmpty returns true if buffer has no readings
func (rb *ReadingBuffer) IsEmpty() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.readings) == 0
}

// Clear removes all readings and resets the statistics
func (rb *ReadingBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	rb.readings = make([]*models.Reading, 0, rb.capacity)
	rb.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (rb *ReadingBuffer) Capacity() int {
	return rb.capacity
}

// Stats returns a copy of current buffer statistics
func (rb *ReadingBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

// String returns e.g. "Buffer[12/1000, dropped: 5, mode: drop-oldest]"
func (rb *ReadingBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}

	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(rb.readings),
		rb.capacity,
		rb.stats.TotalDropped,
		mode,
	)
}
