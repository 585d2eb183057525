package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// ForwarderConfig controls how buffered readings are flushed upstream
type ForwarderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// ForwarderStats counts delivery outcomes
type ForwarderStats struct {
	Sent       int64 `json:"sent"`
	Accepted   int64 `json:"accepted"`
	Rejected   int64 `json:"rejected"`
	SendErrors int64 `json:"send_errors"`
	Batches    int64 `json:"batches"`
}

// Forwarder buffers readings from a sensor and delivers them in batches
// whenever the uplink is connected. Batches that fail in transit go back
// into the buffer; readings the server rejected are logged and dropped.
type Forwarder struct {
	buffer *ReadingBuffer
	uplink Uplink
	cfg    ForwarderConfig
	logger zerolog.Logger

	mu    sync.Mutex
	stats ForwarderStats
}

// NewForwarder creates a forwarder draining buffer into uplink
func NewForwarder(buffer *ReadingBuffer, uplink Uplink, cfg ForwarderConfig, logger zerolog.Logger) *Forwarder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	return &Forwarder{
		buffer: buffer,
		uplink: uplink,
		cfg:    cfg,
		logger: logger,
	}
}

// Run pushes incoming readings into the buffer and flushes on every tick.
// On shutdown it makes one last attempt to deliver what is buffered.
func (f *Forwarder) Run(ctx context.Context, readings <-chan *models.Reading) error {
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.drain()
			return ctx.Err()
		case r, ok := <-readings:
			if !ok {
				f.drain()
				return nil
			}
			if !f.buffer.Push(r) {
				f.logger.Warn().Str("buffer", f.buffer.String()).Msg("Buffer full, reading dropped")
			}
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.Flush(ctx)
}

// Flush sends batches until the buffer is empty, the uplink is down or a
// send fails. It returns the number of readings the server accepted.
func (f *Forwarder) Flush(ctx context.Context) int {
	accepted := 0
	for !f.buffer.IsEmpty() && f.uplink.IsConnected() {
		batch := f.buffer.PopBatch(f.cfg.BatchSize)
		result, err := f.uplink.SendBatch(ctx, batch)
		if err != nil {
			kept := f.buffer.Requeue(batch)
			f.record(func(s *ForwarderStats) { s.SendErrors++ })
			f.logger.Warn().Err(err).Int("requeued", kept).Int("lost", len(batch)-kept).Msg("Batch send failed")
			return accepted
		}

		accepted += result.Accepted
		f.record(func(s *ForwarderStats) {
			s.Batches++
			s.Sent += int64(len(batch))
			s.Accepted += int64(result.Accepted)
			s.Rejected += int64(result.Rejected)
		})
		if result.Rejected > 0 {
			f.logger.Warn().Int("rejected", result.Rejected).Strs("errors", result.Errors).Msg("Server rejected readings")
		}
		if ctx.Err() != nil {
			break
		}
	}
	return accepted
}

func (f *Forwarder) record(update func(*ForwarderStats)) {
	f.mu.Lock()
	update(&f.stats)
	f.mu.Unlock()
}

// Stats returns a copy of the delivery counters
func (f *Forwarder) Stats() ForwarderStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
