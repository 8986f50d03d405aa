package websocket

import (
	"time"

	"github.com/KevinKickass/dbscada/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeTelemetry MessageType = "telemetry"
	MessageTypeWelcome   MessageType = "welcome"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// TelemetryData is one committed row.
type TelemetryData struct {
	Table     types.TableID  `json:"table"`
	Device    string         `json:"device"`
	Timestamp time.Time      `json:"captured_at"`
	Values    map[string]any `json:"values"`
}

type WelcomeData struct {
	RunID string `json:"run_id"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewTelemetryMessage(rec types.TelemetryRecord) Message {
	return NewMessage(MessageTypeTelemetry, TelemetryData{
		Table:     rec.Table,
		Device:    rec.Device,
		Timestamp: rec.Timestamp,
		Values:    rec.Values(),
	})
}
