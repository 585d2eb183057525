package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/sensor-pipeline/internal/client"
	"github.com/afroash/sensor-pipeline/internal/config"
	"github.com/afroash/sensor-pipeline/internal/logging"
	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/sensor"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/simulator.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadSimulatorConfig(*configPath)
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

	logger.Info().Str("version", version).Str("config", cfg.String()).Msg("Starting sensor simulator")

	info := models.NewSensorInfo(cfg.Sensor.ID, cfg.Sensor.Location, cfg.Sensor.DeviceType, version)
	reader := sensor.NewReader(sensor.NewSimulator(cfg.Sensor.Simulation), info, cfg.Sensor.ReadInterval, logger)
	defer reader.Close()

	buffer := client.NewReadingBuffer(cfg.Buffer.Size, cfg.Buffer.DropOldest)
	uplink := newUplink(cfg, info, buffer, logger)
	defer uplink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, reader, buffer, uplink, logger); err != nil {
		logger.Error().Err(err).Msg("Simulator failed")
		os.Exit(1)
	}
	logger.Info().Msg("Simulator stopped")
}

// newUplink builds the configured transport
func newUplink(cfg *config.SimulatorConfig, info *models.SensorInfo, buffer *client.ReadingBuffer, logger zerolog.Logger) client.Uplink {
	if cfg.Uplink.Transport == config.TransportREST {
		return client.NewRESTUplink(client.RESTConfig{
			BaseURL:        cfg.Uplink.URL,
			AuthToken:      cfg.Uplink.AuthToken,
			Timeout:        cfg.Uplink.ReplyTimeout,
			RetryCount:     cfg.Uplink.RetryCount,
			HealthInterval: cfg.Uplink.HealthInterval,
		}, logger)
	}

	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  cfg.Uplink.URL,
		AuthToken:            cfg.Uplink.AuthToken,
		ReconnectInterval:    cfg.Uplink.ReconnectInterval,
		MaxReconnectInterval: cfg.Uplink.MaxReconnectInterval,
		PingInterval:         cfg.Uplink.PingInterval,
		ReplyTimeout:         cfg.Uplink.ReplyTimeout,
	}, info, logger)
	conn.SetBufferGauge(buffer.Size)
	return conn
}

// run drives the reader, the uplink and the forwarder until ctx is
// cancelled. uplink may be nil to only collect into the buffer.
func run(ctx context.Context, cfg *config.SimulatorConfig, reader *sensor.Reader, buffer *client.ReadingBuffer, uplink client.Uplink, logger zerolog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reader.Start(ctx)
	})

	if uplink == nil {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case reading := <-reader.Readings():
					if !buffer.Push(reading) {
						logger.Warn().Msg("Buffer full, reading dropped")
					}
				}
			}
		})
	} else {
		forwarder := client.NewForwarder(buffer, uplink, client.ForwarderConfig{
			BatchSize:     cfg.Uplink.BatchSize,
			FlushInterval: cfg.Uplink.FlushInterval,
		}, logger)

		g.Go(func() error {
			return uplink.Run(ctx)
		})
		g.Go(func() error {
			err := forwarder.Run(ctx, reader.Readings())
			logger.Info().Interface("stats", forwarder.Stats()).Str("buffer", buffer.String()).Msg("Forwarder stopped")
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
