package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Calibrated    bool         `json:"calibrated"`
	CalibratedAt  string       `json:"calibrated_at,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Pulse         PulseJSON    `json:"pulse"`
	LastFrame     *FrameJSON   `json:"last_frame,omitempty"`
	Counts        CountsJSON   `json:"counts"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PulseJSON is the momentary pulse snapshot for display.
type PulseJSON struct {
	Level         bool   `json:"level"`
	LevelFiltered int    `json:"level_filtered"`
	LastWidthMs   uint32 `json:"last_width_ms"`
	BitIndex      int    `json:"bit_index"`
	BitValue      int8   `json:"bit_value"`
	AvgShortMs    uint16 `json:"avg_short_ms"`
	AvgLongMs     uint16 `json:"avg_long_ms"`
	ShortPulseMs  uint16 `json:"short_pulse_ms"`
	LongPulseMs   uint16 `json:"long_pulse_ms"`
	FrameDetected bool   `json:"frame_detected"`
}

// FrameJSON is the last delivered frame.
type FrameJSON struct {
	Timestamp string `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
	Bits      string `json:"bits"`
	Count     int    `json:"count"`
	Valid     bool   `json:"valid"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of decoder counters.
type CountsJSON struct {
	Edges           uint64 `json:"edges"`
	MinuteMarkers   uint64 `json:"minute_markers"`
	Bits            uint64 `json:"bits"`
	AmbiguousPulses uint64 `json:"ambiguous_pulses"`
	OverflowDrops   uint64 `json:"overflow_drops"`
	Frames          uint64 `json:"frames"`
	GPIOErrors      uint64 `json:"gpio_errors"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollUs            int64  `json:"poll_us"`
	Chip              string `json:"chip"`
	Pin               int    `json:"pin"`
	HeartbeatMs       int64  `json:"heartbeat_ms"`
	Broker            string `json:"broker"`
	HTTPAddr          string `json:"http_addr"`
	TolerancePercent  uint8  `json:"tolerance_percent"`
	CalibrationPulses uint8  `json:"calibration_pulses"`
}

func buildInner(snap Snapshot) StatusInner {
	d := snap.Diagnostics
	inner := StatusInner{
		State:         snap.State.String(),
		Calibrated:    d.Calibrated,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Pulse: PulseJSON{
			Level:         d.Level,
			LevelFiltered: d.LevelFiltered,
			LastWidthMs:   d.LastWidthMs,
			BitIndex:      d.BitIndex,
			BitValue:      d.BitValue,
			AvgShortMs:    d.AvgShort,
			AvgLongMs:     d.AvgLong,
			ShortPulseMs:  d.ShortPulse,
			LongPulseMs:   d.LongPulse,
			FrameDetected: d.FrameDetected,
		},
		Counts: CountsJSON{
			Edges:           snap.Stats.Edges,
			MinuteMarkers:   snap.Stats.MinuteMarkers,
			Bits:            snap.Stats.Bits,
			AmbiguousPulses: snap.Stats.AmbiguousPulses,
			OverflowDrops:   snap.Stats.OverflowDrops,
			Frames:          snap.Stats.Frames,
			GPIOErrors:      snap.GPIOErrors,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			PollUs:            snap.Config.PollUs,
			Chip:              snap.Config.Chip,
			Pin:               snap.Config.Pin,
			HeartbeatMs:       snap.Config.HeartbeatMs,
			Broker:            snap.Config.Broker,
			HTTPAddr:          snap.Config.HTTPAddr,
			TolerancePercent:  snap.Config.TolerancePercent,
			CalibrationPulses: snap.Config.CalibrationPulses,
		},
	}
	if !snap.CalibratedAt.IsZero() {
		inner.CalibratedAt = snap.CalibratedAt.UTC().Format(time.RFC3339)
	}
	if f := snap.LastFrame; f != nil {
		inner.LastFrame = &FrameJSON{
			Timestamp: f.Timestamp.UTC().Format(time.RFC3339),
			Sequence:  f.Sequence,
			Bits:      f.Frame.String(),
			Count:     f.Frame.Count,
			Valid:     f.Frame.Valid,
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatCompactJSON returns the web status without indentation, for streaming.
func FormatCompactJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
