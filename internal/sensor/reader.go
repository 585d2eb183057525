package sensor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// Reader orchestrates periodic sensor readings
type Reader struct {
	source     Source
	sensorInfo *models.SensorInfo
	interval   time.Duration
	logger     zerolog.Logger
	readings   chan *models.Reading
}

// NewReader creates a new sensor reader
func NewReader(source Source, info *models.SensorInfo, interval time.Duration, logger zerolog.Logger) *Reader {
	return &Reader{
		source:     source,
		sensorInfo: info,
		interval:   interval,
		logger:     logger,
		readings:   make(chan *models.Reading, 10),
	}
}

// Start reads every interval until ctx is cancelled
func (r *Reader) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.readAndPublish(ctx)
		}
	}
}

// ReadOnce performs a single reading stamped with the sensor metadata
func (r *Reader) ReadOnce() (*models.Reading, error) {
	reading, err := r.source.Read()
	if err != nil {
		return nil, err
	}
	r.sensorInfo.Stamp(reading)
	return reading, nil
}

func (r *Reader) readAndPublish(ctx context.Context) {
	reading, err := r.ReadOnce()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to read from sensor")
		return
	}
	if reading.ErrorCode != "" {
		r.logger.Warn().Str("error_code", reading.ErrorCode).Msg("Sensor reported a fault")
	}

	select {
	case r.readings <- reading:
		r.logger.Debug().Msgf("Read from sensor: %s", reading.String())
	case <-ctx.Done():
	}
}

// Readings returns the channel where readings are published
func (r *Reader) Readings() <-chan *models.Reading {
	return r.readings
}

// Close releases the source
func (r *Reader) Close() error {
	return r.source.Close()
}
