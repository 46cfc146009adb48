// Package status provides a thread-safe status tracker for the dcf77-sensor daemon.
// It is written by the run loop and read by HTTP, websocket and metrics handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/dcf77-sensor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollUs            int64
	Chip              string
	Pin               int
	HeartbeatMs       int64
	Broker            string
	HTTPAddr          string
	TolerancePercent  uint8
	CalibrationPulses uint8
}

// Snapshot is a point-in-time view of daemon state.
// It is a value copy and stays valid after the lock is released.
type Snapshot struct {
	State         logic.State
	Diagnostics   logic.Diagnostics
	Stats         logic.Stats
	GPIOErrors    uint64
	CalibratedAt  time.Time
	LastFrame     *logic.FrameEvent
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update sets the decoder state, diagnostics and counters.
// Called from runLoop on every status refresh.
func (t *Tracker) Update(state logic.State, diag logic.Diagnostics, stats logic.Stats, gpioErrors uint64) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Diagnostics = diag
	t.snap.Stats = stats
	t.snap.GPIOErrors = gpioErrors
	t.mu.Unlock()
}

// SetCalibrated records when calibration completed.
func (t *Tracker) SetCalibrated(at time.Time) {
	t.mu.Lock()
	t.snap.CalibratedAt = at
	t.mu.Unlock()
}

// SetFrame records the most recently delivered frame.
func (t *Tracker) SetFrame(event logic.FrameEvent) {
	t.mu.Lock()
	t.snap.LastFrame = &event
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
