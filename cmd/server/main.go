package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/config"
	"github.com/afroash/sensor-pipeline/internal/logging"
	"github.com/afroash/sensor-pipeline/internal/pipeline"
	"github.com/afroash/sensor-pipeline/internal/server"
	"github.com/afroash/sensor-pipeline/internal/storage"
	"github.com/afroash/sensor-pipeline/internal/store"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	watch := flag.Bool("watch", true, "reload processing and analytics settings when the config file changes")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Int("max_records", cfg.Store.MaxRecords).
		Msg("Starting sensor pipeline server")

	ds := store.NewDataStore(cfg.Store.MaxRecords)
	p := pipeline.New(ds, cfg.Processing, cfg.Analytics, logger)

	var sqliteStore *storage.SQLiteStore
	var archiveWriter *storage.ArchiveWriter
	var retentionCleaner *storage.RetentionCleaner

	if cfg.Archive.Enabled {
		sqliteStore, archiveWriter, retentionCleaner, err = openArchive(cfg.Archive, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Archive.DBPath).Msg("Failed to open archive")
		}
		p.AddSink(archiveWriter)
	}

	metrics := server.NewMetrics()
	ws := server.NewHandler(p, metrics, logger, cfg.Server.AllowedOrigins...)

	var api *server.APIHandler
	routerConfig := server.RouterConfig{Version: version, AllowedOrigins: cfg.Server.AllowedOrigins}
	if sqliteStore != nil {
		api = server.NewAPIHandlerWithArchive(p, sqliteStore, metrics, logger)
		routerConfig.WriterStats = archiveWriter.Stats
	} else {
		api = server.NewAPIHandler(p, metrics, logger)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRouter(api, ws, metrics, routerConfig),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *watch {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.AppConfig) {
				p.SetOptions(next.Processing)
				p.SetAnalyticsConfig(next.Analytics)
				logger.Info().Msg("Processing and analytics settings reloaded")
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Config watcher stopped")
			}
		}()
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	// writer drains after the server so no accepted reading misses the archive
	if archiveWriter != nil {
		archiveWriter.Stop()
		logger.Info().Interface("stats", archiveWriter.Stats()).Msg("ArchiveWriter stopped")
	}
	if retentionCleaner != nil {
		retentionCleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if sqliteStore != nil {
		sqliteStore.Close()
		logger.Info().Msg("SQLiteStore closed")
	}

	logger.Info().Msg("Server stopped")
}

// openArchive creates the database, its async writer and the retention
// cleaner
func openArchive(cfg config.ArchiveSettings, logger zerolog.Logger) (*storage.SQLiteStore, *storage.ArchiveWriter, *storage.RetentionCleaner, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	writer := storage.NewArchiveWriter(sqliteStore, cfg.Writer, logger)
	cleaner := storage.NewRetentionCleaner(sqliteStore, cfg.Retention, logger)
	logger.Info().
		Int("retention_days", cfg.Retention.RetentionDays).
		Dur("cleanup_period", cfg.Retention.CleanupPeriod).
		Msg("RetentionCleaner started")

	return sqliteStore, writer, cleaner, nil
}
