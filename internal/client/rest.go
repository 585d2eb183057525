package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// RESTConfig holds configuration for the REST uplink
type RESTConfig struct {
	BaseURL        string
	AuthToken      string
	Timeout        time.Duration
	RetryCount     int
	HealthInterval time.Duration
}

// ingestResponse is the body of POST /api/readings for both 201 and 422
type ingestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// RESTUplink posts batches to the server's REST API. Connectivity is
// tracked by polling the health endpoint.
type RESTUplink struct {
	client         *resty.Client
	healthInterval time.Duration
	connected      atomic.Bool
	logger         zerolog.Logger
}

// NewRESTUplink creates a REST uplink for the server at config.BaseURL
func NewRESTUplink(config RESTConfig, logger zerolog.Logger) *RESTUplink {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetHeader("Content-Type", "application/json")
	if config.AuthToken != "" {
		client.SetAuthToken(config.AuthToken)
	}

	return &RESTUplink{
		client:         client,
		healthInterval: config.HealthInterval,
		logger:         logger,
	}
}

// Run polls /health until ctx is done
func (u *RESTUplink) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.healthInterval)
	defer ticker.Stop()

	for {
		u.checkHealth(ctx)
		select {
		case <-ctx.Done():
			u.connected.Store(false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (u *RESTUplink) checkHealth(ctx context.Context) {
	resp, err := u.client.R().SetContext(ctx).Get("/health")
	up := err == nil && resp.StatusCode() == http.StatusOK

	if was := u.connected.Swap(up); was != up {
		event := u.logger.Info()
		if !up {
			event = u.logger.Warn().Err(err)
		}
		event.Bool("connected", up).Msg("Server availability changed")
	}
}

// IsConnected reports the result of the last health check
func (u *RESTUplink) IsConnected() bool {
	return u.connected.Load()
}

// SendBatch posts readings to /api/readings
func (u *RESTUplink) SendBatch(ctx context.Context, readings []*models.Reading) (SendResult, error) {
	if len(readings) == 0 {
		return SendResult{}, nil
	}

	resp, err := u.client.R().
		SetContext(ctx).
		SetBody(rawBatch(readings)).
		Post("/api/readings")
	if err != nil {
		u.connected.Store(false)
		return SendResult{}, fmt.Errorf("post readings: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusCreated, http.StatusUnprocessableEntity:
	default:
		return SendResult{}, fmt.Errorf("post readings: unexpected status %d", resp.StatusCode())
	}

	var body ingestResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return SendResult{}, fmt.Errorf("decode ingest response: %w", err)
	}

	u.logger.Debug().Int("accepted", body.Accepted).Int("rejected", body.Rejected).Msg("Batch posted")
	return SendResult{Accepted: body.Accepted, Rejected: body.Rejected, Errors: body.Errors}, nil
}

// Close marks the uplink as down
func (u *RESTUplink) Close() error {
	u.connected.Store(false)
	return nil
}
