package client

import (
	"context"
	"errors"

	"github.com/afroash/sensor-pipeline/internal/models"
)

// ErrNotConnected is returned when sending while the uplink is down
var ErrNotConnected = errors.New("not connected")

// SendResult reports how the server judged a batch. Rejected readings are
// final; only a send error means the batch should be retried.
type SendResult struct {
	Accepted int
	Rejected int
	Errors   []string
}

// Uplink delivers readings to the ingestion server. Connection and
// RESTUplink implement it.
type Uplink interface {
	// Run maintains the link until ctx is cancelled
	Run(ctx context.Context) error
	IsConnected() bool
	SendBatch(ctx context.Context, readings []*models.Reading) (SendResult, error)
	Close() error
}

var (
	_ Uplink = (*Connection)(nil)
	_ Uplink = (*RESTUplink)(nil)
)

func rawBatch(readings []*models.Reading) []map[string]interface{} {
	raws := make([]map[string]interface{}, len(readings))
	for i, r := range readings {
		raws[i] = r.Raw()
	}
	return raws
}
