package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pruner deletes archived readings older than a number of days
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleaner periodically prunes the archive
type RetentionCleaner struct {
	archive       Pruner
	logger        zerolog.Logger
	retentionDays int
	period        time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	mu              sync.RWMutex
	totalDeleted    int64
	totalRuns       int64
	totalErrors     int64
	lastRun         time.Time
	lastDeleteCount int64
}

// RetentionConfig holds configuration for the cleaner
type RetentionConfig struct {
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// DefaultRetentionConfig keeps 30 days and prunes hourly
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays: 30,
		CleanupPeriod: time.Hour,
	}
}

// RetentionStats contains statistics about the cleaner
type RetentionStats struct {
	TotalDeleted    int64     `json:"total_deleted"`
	TotalRuns       int64     `json:"total_runs"`
	TotalErrors     int64     `json:"total_errors"`
	LastRun         time.Time `json:"last_run,omitempty"`
	LastDeleteCount int64     `json:"last_delete_count"`
	RetentionDays   int       `json:"retention_days"`
}

// NewRetentionCleaner starts a cleaner that prunes once immediately and
// then every CleanupPeriod
func NewRetentionCleaner(archive Pruner, config RetentionConfig, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		// time.NewTicker panics on a non-positive period
		logger.Warn().
			Dur("provided_period", period).
			Dur("default_period", time.Hour).
			Msg("Invalid cleanup period, using default")
		period = time.Hour
	}

	c := &RetentionCleaner{
		archive:       archive,
		logger:        logger,
		retentionDays: config.RetentionDays,
		period:        period,
		stopChan:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.loop()

	logger.Info().
		Int("retention_days", config.RetentionDays).
		Dur("cleanup_period", period).
		Msg("Retention cleaner started")

	return c
}

func (c *RetentionCleaner) loop() {
	defer c.wg.Done()

	c.RunNow()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunNow()
		case <-c.stopChan:
			c.logger.Info().Msg("Retention cleaner stopped")
			return
		}
	}
}

// RunNow prunes the archive immediately
func (c *RetentionCleaner) RunNow() {
	deleted, err := c.archive.DeleteOlderThan(c.retentionDays)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRuns++
	c.lastRun = time.Now()

	if err != nil {
		c.totalErrors++
		c.logger.Error().Err(err).Msg("Retention cleanup failed")
		return
	}
	c.totalDeleted += deleted
	c.lastDeleteCount = deleted
	c.logger.Debug().
		Int64("deleted", deleted).
		Int("retention_days", c.retentionDays).
		Msg("Retention cleanup completed")
}

// Stop stops the cleaner; it is safe to call more than once
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

// Stats returns current cleaner statistics
func (c *RetentionCleaner) Stats() RetentionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return RetentionStats{
		TotalDeleted:    c.totalDeleted,
		TotalRuns:       c.totalRuns,
		TotalErrors:     c.totalErrors,
		LastRun:         c.lastRun,
		LastDeleteCount: c.lastDeleteCount,
		RetentionDays:   c.retentionDays,
	}
}
