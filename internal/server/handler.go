package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/sensor-pipeline/internal/models"
	"github.com/afroash/sensor-pipeline/internal/validation"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Handler manages WebSocket connections from producers. Every message gets
// exactly one reply: an ack, or an error naming what was wrong with it.
type Handler struct {
	upgrader       websocket.Upgrader
	pipeline       ReadingPipeline
	logger         zerolog.Logger
	activeSensors  map[string]*SensorConnection
	allowedOrigins []string
	mutex          sync.RWMutex
	metrics        *Metrics
}

// SensorConnection represents an active producer connection
type SensorConnection struct {
	SensorID    string    `json:"sensor_id"`
	RemoteAddr  string    `json:"remote_addr"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
	BufferSize  int       `json:"buffer_size"`
}

// NewHandler creates a new WebSocket handler. With no allowed origins only
// same-origin and non-browser clients may connect; "*" allows any origin.
func NewHandler(p ReadingPipeline, metrics *Metrics, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		pipeline:       p,
		logger:         logger,
		activeSensors:  make(map[string]*SensorConnection),
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin or a non-browser client
	if origin == "" {
		return true
	}

	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// handleConnection manages a single WebSocket connection
func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.activeSensors[connKey] = &SensorConnection{
		SensorID:    connKey, // replaced by the ID in the first heartbeat
		RemoteAddr:  connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()
	h.metrics.connectionOpened()

	defer conn.Close()
	defer h.removeSensor(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.updateSensorLastSeen(connKey)

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(conn, errorReply(models.ErrCodeBadPayload, "message is not a valid JSON envelope", nil))
			continue
		}
		h.reply(conn, h.handleMessage(connKey, &msg))
	}
}

// handleMessage processes a single message and returns its reply
func (h *Handler) handleMessage(connKey string, msg *models.Message) *models.Message {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")
	h.metrics.messageReceived(msg.Type)

	switch msg.Type {
	case models.MessageTypeReading:
		return h.handleReading(msg)
	case models.MessageTypeBatch:
		return h.handleBatch(msg)
	case models.MessageTypeHeartbeat:
		return h.handleHeartbeat(connKey, msg)
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		return errorReply(models.ErrCodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type), nil)
	}
}

// handleReading ingests a single raw reading
func (h *Handler) handleReading(msg *models.Message) *models.Message {
	var raw map[string]interface{}
	if err := msg.UnmarshalPayload(&raw); err != nil || raw == nil {
		h.logger.Warn().Err(err).Msg("Failed to unmarshal reading")
		return errorReply(models.ErrCodeBadPayload, "reading payload must be a JSON object", nil)
	}

	if err := h.pipeline.Ingest(raw); err != nil {
		h.metrics.recordIngest(transportWebSocket, 0, 1)
		h.logger.Warn().Err(err).Msg("Reading rejected")
		return errorReply(models.ErrCodeValidation, "reading rejected", validationErrors(err))
	}

	h.metrics.recordIngest(transportWebSocket, 1, 0)
	return ackReply(1, 0, nil)
}

// handleBatch ingests every reading of a batch on its own. The batch is
// acked when at least one reading was accepted; rejected readings are
// listed by index.
func (h *Handler) handleBatch(msg *models.Message) *models.Message {
	var batch models.BatchMessage
	if err := msg.UnmarshalPayload(&batch); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to unmarshal batch")
		return errorReply(models.ErrCodeBadPayload, "batch payload must hold a readings array", nil)
	}

	accepted, rejected, errs := ingestAll(h.pipeline, batch.Readings)
	h.metrics.recordIngest(transportWebSocket, accepted, rejected)
	h.logger.Info().Int("accepted", accepted).Int("rejected", rejected).Msg("Batch ingested")

	if accepted == 0 && rejected > 0 {
		return errorReply(models.ErrCodeValidation, "every reading in the batch was rejected", errs)
	}
	return ackReply(accepted, rejected, errs)
}

// handleHeartbeat records the producer's identity and backlog
func (h *Handler) handleHeartbeat(connKey string, msg *models.Message) *models.Message {
	var heartbeat models.HeartbeatMessage
	if err := msg.UnmarshalPayload(&heartbeat); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to unmarshal heartbeat")
		return errorReply(models.ErrCodeBadPayload, "invalid heartbeat payload", nil)
	}

	h.mutex.Lock()
	if sensor, ok := h.activeSensors[connKey]; ok {
		if heartbeat.SensorID != "" {
			sensor.SensorID = heartbeat.SensorID
		}
		sensor.BufferSize = heartbeat.BufferSize
	}
	h.mutex.Unlock()

	h.logger.Debug().Str("sensor_id", heartbeat.SensorID).Int64("uptime", heartbeat.Uptime).Int("buffer_size", heartbeat.BufferSize).Msg("Heartbeat received")
	return ackReply(0, 0, nil)
}

// reply writes msg with the write deadline
func (h *Handler) reply(conn *websocket.Conn, msg *models.Message) {
	if msg == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Failed to send reply")
	}
}

// updateSensorLastSeen updates the last seen timestamp for a sensor
func (h *Handler) updateSensorLastSeen(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if sensor, exists := h.activeSensors[connKey]; exists {
		sensor.LastSeen = time.Now()
	}
}

// removeSensor removes a sensor from the active sensors map
func (h *Handler) removeSensor(connKey string) {
	h.mutex.Lock()
	sensorID := connKey
	if sensor, exists := h.activeSensors[connKey]; exists {
		sensorID = sensor.SensorID
	}
	delete(h.activeSensors, connKey)
	h.mutex.Unlock()

	h.metrics.connectionClosed()
	h.logger.Info().Str("sensor_id", sensorID).Msg("Sensor disconnected")
}

// GetActiveSensors returns a list of currently connected sensors
func (h *Handler) GetActiveSensors() []SensorConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	sensors := make([]SensorConnection, 0, len(h.activeSensors))
	for _, sensor := range h.activeSensors {
		sensors = append(sensors, *sensor)
	}
	return sensors
}

// ingestAll ingests raws in order and returns the counts and the itemized
// errors of rejected entries, prefixed with their index
func ingestAll(p ReadingPipeline, raws []map[string]interface{}) (accepted, rejected int, errs []string) {
	for i, raw := range raws {
		if raw == nil {
			rejected++
			errs = append(errs, fmt.Sprintf("reading %d: not an object", i))
			continue
		}
		if err := p.Ingest(raw); err != nil {
			rejected++
			for _, e := range validationErrors(err) {
				errs = append(errs, fmt.Sprintf("reading %d: %s", i, e))
			}
			continue
		}
		accepted++
	}
	return accepted, rejected, errs
}

// validationErrors returns the itemized violations of err
func validationErrors(err error) []string {
	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		return verr.Errors
	}
	return []string{err.Error()}
}

func ackReply(accepted, rejected int, errs []string) *models.Message {
	msg, _ := models.NewMessage(models.MessageTypeAck, models.AckMessage{
		Status:   "ok",
		Accepted: accepted,
		Rejected: rejected,
		Errors:   errs,
	})
	return msg
}

func errorReply(code, message string, errs []string) *models.Message {
	msg, _ := models.NewMessage(models.MessageTypeError, models.ErrorMessage{
		Code:    code,
		Message: message,
		Errors:  errs,
	})
	return msg
}
