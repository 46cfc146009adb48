// Package logic contains the pure DCF77 decoding logic.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// The input level and the microsecond clock are always injected.
package logic

import (
	"errors"
	"time"
)

const (
	// FrameBits is the number of second slots in one DCF77 minute.
	FrameBits = 60

	// MinuteMarkerMs is the pulse width above which an edge gap is a minute marker.
	MinuteMarkerMs = 1500

	// SplitThresholdMs buckets calibration samples into short and long classes.
	SplitThresholdMs = 150

	// Ambiguous is the bit value of a pulse that fits neither tolerance band.
	Ambiguous int8 = -1
)

// Line reads the current level of the receiver output.
type Line interface {
	Level() bool
}

// LineFunc adapts a plain function to a Line.
type LineFunc func() bool

// Level calls f.
func (f LineFunc) Level() bool { return f() }

// Clock returns a monotonic microsecond timestamp. It may wrap; only
// differences between consecutive readings are used.
type Clock func() uint64

// State is the outer decoder state.
type State int

const (
	StateUninitialized State = iota
	StateCalibrating
	StateCalibrated
)

func (s State) String() string {
	switch s {
	case StateCalibrating:
		return "CALIBRATING"
	case StateCalibrated:
		return "CALIBRATED"
	default:
		return "UNINITIALIZED"
	}
}

// Settings are the decoder constants, overridable at construction.
type Settings struct {
	PulseTolerancePercent uint8
	CalibrationPulses     uint8
	InitialShortPulse     uint16 // ms
	InitialLongPulse      uint16 // ms
}

// DefaultSettings returns the stock receiver tuning.
func DefaultSettings() Settings {
	return Settings{
		PulseTolerancePercent: 20,
		CalibrationPulses:     10,
		InitialShortPulse:     80,
		InitialLongPulse:      100,
	}
}

// Validate reports settings the decoder cannot run with.
func (s Settings) Validate() error {
	if s.PulseTolerancePercent > 100 {
		return errors.New("pulse tolerance must be at most 100 percent")
	}
	if s.CalibrationPulses == 0 {
		return errors.New("calibration pulses must be at least 1")
	}
	if s.InitialShortPulse == 0 || s.InitialLongPulse == 0 {
		return errors.New("initial pulse widths must be non-zero")
	}
	return nil
}

// Frame is one minute of classified bits in arrival order.
// Only Bits[:Count] belong to the minute; later slots hold stale values
// from earlier frames.
type Frame struct {
	Bits  [FrameBits]uint8
	Count int
	Valid bool
}

// String renders the trusted bits as a string of '0' and '1'.
func (f Frame) String() string {
	n := f.Count
	if n > FrameBits {
		n = FrameBits
	}
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = '0' + f.Bits[i]
	}
	return string(b)
}

// Diagnostics is a read-only snapshot of the decoder for display.
type Diagnostics struct {
	AvgShort      uint16 // EMA of short-class calibration pulses (ms)
	AvgLong       uint16 // EMA of long-class calibration pulses (ms)
	FrameDetected bool   // a minute marker was recognised in the last sample

	Level         bool
	LevelFiltered int // EMA of the raw level scaled to 0..32
	EdgeReported  bool
	LastWidthMs   uint32
	BitIndex      int
	BitValue      int8
	ShortPulse    uint16
	LongPulse     uint16
	Calibrated    bool
}

// Stats counts decoder events since Begin.
type Stats struct {
	Edges             uint64
	MinuteMarkers     uint64
	CalibrationPulses uint64
	Bits              uint64
	AmbiguousPulses   uint64
	OverflowDrops     uint64
	Frames            uint64
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Stats     Stats
}

// FrameEvent is a completed frame to be published.
type FrameEvent struct {
	Timestamp time.Time
	Sequence  uint64
	Frame     Frame
}
