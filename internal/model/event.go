// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventConnecting        EventType = "CONNECTING"
	EventConnected         EventType = "CONNECTED"
	EventDisconnected      EventType = "DISCONNECTED"
	EventConnectionError   EventType = "CONNECTION_ERROR"
	EventIOError           EventType = "IO_ERROR"
	EventFramingOverflow   EventType = "FRAMING_OVERFLOW"
	EventHistoryCleared    EventType = "HISTORY_CLEARED"
	EventChannelDiscovered EventType = "CHANNEL_DISCOVERED"
)

// AcquisitionEvent represents a status change of the acquisition pipeline
type AcquisitionEvent struct {
	ID        uuid.UUID   `json:"id"`
	EventType EventType   `json:"event_type"`
	SessionID *uuid.UUID  `json:"session_id,omitempty"`
	Status    Status      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Severity  string      `json:"severity"` // INFO, WARNING, ERROR
}

// NewAcquisitionEvent builds an event stamped with a fresh ID and time
func NewAcquisitionEvent(eventType EventType, severity string, status Status, data interface{}) AcquisitionEvent {
	return AcquisitionEvent{
		ID:        uuid.New(),
		EventType: eventType,
		SessionID: status.SessionID,
		Status:    status,
		Data:      data,
		Timestamp: time.Now(),
		Severity:  severity,
	}
}
