// internal/models/message_test.go
package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MessageTypeReading, validReading())
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeReading {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeReading)
	}

	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	if len(msg.Payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestMessage_UnmarshalPayload(t *testing.T) {
	original := validReading()

	msg, err := NewMessage(MessageTypeReading, original)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded Reading
	err = msg.UnmarshalPayload(&decoded)
	if err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.SensorID != original.SensorID {
		t.Errorf("SensorID mismatch")
	}
	if decoded.Moisture != original.Moisture {
		t.Errorf("Moisture mismatch")
	}
}

func TestBatchMessage(t *testing.T) {
	batch := BatchMessage{
		Readings: []map[string]interface{}{
			{"sensor_id": "sensor-01", "temperature": 22.5},
			{"sensor_id": "sensor-01", "temperature": "hot"},
		},
		Count: 2,
	}

	msg, err := NewMessage(MessageTypeBatch, batch)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded BatchMessage
	err = msg.UnmarshalPayload(&decoded)
	if err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.Count != 2 {
		t.Errorf("Count = %d, want 2", decoded.Count)
	}
	if len(decoded.Readings) != 2 {
		t.Fatalf("len(Readings) = %d, want 2", len(decoded.Readings))
	}
	if decoded.Readings[1]["temperature"] != "hot" {
		t.Errorf("raw value not preserved: %v", decoded.Readings[1]["temperature"])
	}
}

func TestErrorMessage_CarriesValidationErrors(t *testing.T) {
	msg, err := NewMessage(MessageTypeError, ErrorMessage{
		Code:    ErrCodeValidation,
		Message: "reading rejected",
		Errors:  []string{"Missing required field: weight"},
	})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	var payload ErrorMessage
	if err := decoded.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if payload.Code != ErrCodeValidation {
		t.Errorf("Code = %v, want %v", payload.Code, ErrCodeValidation)
	}
	if len(payload.Errors) != 1 {
		t.Errorf("len(Errors) = %d, want 1", len(payload.Errors))
	}
}

func TestMessage_DecodeProducerFrame(t *testing.T) {
	frame := `{
		"type": "batch",
		"timestamp": "2024-01-01T12:00:00Z",
		"payload": {
			"count": 2,
			"readings": [
				{"timestamp": "2024-01-01T11:59:58Z", "sensor_id": "SIM_001", "temperature": 22.5, "weight": 50, "moisture": 45, "pressure": 101325},
				{"timestamp": "2024-01-01T12:00:00Z", "sensor_id": "SIM_001", "temperature": null, "weight": 50, "moisture": 45, "pressure": 101325}
			]
		}
	}`

	var msg Message
	if err := json.Unmarshal([]byte(frame), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.Type != MessageTypeBatch {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeBatch)
	}
	if !msg.Timestamp.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("Timestamp = %v", msg.Timestamp)
	}

	var batch BatchMessage
	if err := msg.UnmarshalPayload(&batch); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if batch.Count != 2 || len(batch.Readings) != 2 {
		t.Fatalf("batch = %d readings (count %d), want 2", len(batch.Readings), batch.Count)
	}
	// null stays visible so validation can report the missing field
	if v, ok := batch.Readings[1]["temperature"]; !ok || v != nil {
		t.Errorf("temperature = %v (present %v), want explicit null", v, ok)
	}
}
