package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeReading   MessageType = "reading"
	MessageTypeBatch     MessageType = "batch"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
)

// Message is the envelope for all WebSocket communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now().UTC(),
	}, nil
}

// BatchMessage is the payload for MessageTypeBatch. Readings stay raw so
// each one is validated on its own and reported individually.
type BatchMessage struct {
	Readings []map[string]interface{} `json:"readings"`
	Count    int                      `json:"count"`
}

// HeartbeatMessage is the payload for MessageTypeHeartbeat
type HeartbeatMessage struct {
	SensorID   string `json:"sensor_id"`
	Uptime     int64  `json:"uptime"`
	BufferSize int    `json:"buffer_size"`
}

// AckMessage is the payload for MessageTypeAck. For batches Errors lists
// the rejected readings by index.
type AckMessage struct {
	Status   string   `json:"status"`
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// ErrorMessage is the payload for MessageTypeError. Errors carries the
// itemized validation failures when Code is "validation_failed".
type ErrorMessage struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// Error codes sent back to producers
const (
	ErrCodeValidation  = "validation_failed"
	ErrCodeBadPayload  = "invalid_payload"
	ErrCodeUnknownType = "unknown_type"
)

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	err := json.Unmarshal(m.Payload, v)
	if err != nil {
		return err
	}
	return nil
}
