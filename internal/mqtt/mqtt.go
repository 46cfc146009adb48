// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/dcf77-sensor/internal/logic"
)

// Topic is the MQTT topic for decoded frames.
const Topic = "dcf77/receiver/frames"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "dcf77/receiver/system"

// Publisher publishes decoder output to MQTT.
type Publisher interface {
	// PublishFrame sends a completed frame to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishFrame(event logic.FrameEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, calibrated, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "CALIBRATED", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload for a frame.
type Payload struct {
	Frame FramePayload `json:"frame"`
}

// FramePayload contains the frame details. Bits holds only the bits
// collected in this minute, oldest first.
type FramePayload struct {
	Timestamp string `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	Bits      string `json:"bits"`
	Count     int    `json:"count"`
	Valid     bool   `json:"valid"`
	Complete  bool   `json:"complete"`
}

// FormatPayload creates the JSON payload for a frame event.
func FormatPayload(event logic.FrameEvent) ([]byte, error) {
	payload := Payload{
		Frame: FramePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Sequence:  event.Sequence,
			Bits:      event.Frame.String(),
			Count:     event.Frame.Count,
			Valid:     event.Frame.Valid,
			Complete:  event.Frame.Count == logic.FrameBits,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ClientID returns a broker client ID unique to this process.
func ClientID() string {
	return "dcf77-sensor-" + uuid.NewString()[:8]
}
